package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/metrics"
	"github.com/mealbridge/notification/internal/retry"
)

// Transport hands a dispatch-ready message to the external push boundary.
// The APNs/FCM/web-push specifics live behind the gateway, not here.
type Transport interface {
	Send(ctx context.Context, msg domain.PushMessage) error
}

// Gateway is the HTTP client for the push gateway service. Errors are
// pre-classified for the retry machine: 4xx responses are non-retryable,
// network failures and 5xx responses are transient.
type Gateway struct {
	url    string
	apiKey string
	client *http.Client
}

// NewGateway builds a gateway client with a bounded per-call timeout.
func NewGateway(url, apiKey string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts one message to the gateway.
func (g *Gateway) Send(ctx context.Context, msg domain.PushMessage) error {
	start := time.Now()
	defer func() { metrics.RecordSendDuration(time.Since(start)) }()

	body, err := json.Marshal(msg)
	if err != nil {
		return retry.NewNonRetryableError(fmt.Errorf("marshal push message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return retry.NewNonRetryableError(fmt.Errorf("build gateway request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are transient.
		return retry.NewRetryableError(fmt.Errorf("gateway request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	if resp.StatusCode >= 500 {
		return retry.NewRetryableError(cause)
	}
	return retry.NewNonRetryableError(cause)
}
