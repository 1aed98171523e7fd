package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/retry"
)

func gatewayFor(t *testing.T, status int) *Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return NewGateway(srv.URL, "secret", 2*time.Second)
}

func TestGatewaySendOK(t *testing.T) {
	g := gatewayFor(t, http.StatusOK)
	err := g.Send(context.Background(), domain.PushMessage{
		RecipientID: "alice",
		DeviceToken: "tok-1",
		Platform:    domain.PlatformIOS,
		Title:       "hello",
	})
	assert.NoError(t, err)
}

func TestGatewaySendServerErrorIsRetryable(t *testing.T) {
	g := gatewayFor(t, http.StatusServiceUnavailable)
	err := g.Send(context.Background(), domain.PushMessage{DeviceToken: "tok-1"})
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}

func TestGatewaySendClientErrorIsPermanent(t *testing.T) {
	g := gatewayFor(t, http.StatusBadRequest)
	err := g.Send(context.Background(), domain.PushMessage{DeviceToken: "tok-1"})
	require.Error(t, err)
	assert.Equal(t, retry.ClassPermanent, retry.Classify(err))
}

func TestGatewaySendNetworkErrorIsRetryable(t *testing.T) {
	// Closed port: connection refused.
	g := NewGateway("http://127.0.0.1:1", "secret", time.Second)
	err := g.Send(context.Background(), domain.PushMessage{DeviceToken: "tok-1"})
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}
