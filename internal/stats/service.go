// Package stats builds the delivery report served by the observability
// endpoint: status totals, retry backlog, per-platform breakdown and the most
// frequent delivery errors over a trailing window.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/mealbridge/notification/internal/domain"
)

const (
	DefaultWindowHours = 24
	topErrorLimit      = 10
)

// Report is the aggregated delivery report for one trailing window.
type Report struct {
	WindowHours    int                     `json:"window_hours"`
	GeneratedAt    time.Time               `json:"generated_at"`
	Statuses       map[domain.Status]int64 `json:"statuses"`
	Total          int64                   `json:"total"`
	SuccessRate    float64                 `json:"success_rate"`
	PendingRetries int64                   `json:"pending_retries"`
	Platforms      []domain.PlatformStats  `json:"platforms"`
	TopErrors      []domain.ErrorCount     `json:"top_errors"`
}

// Service answers delivery-report queries. Read-only.
type Service struct {
	repo domain.StatsRepository
	now  func() time.Time
}

func NewService(repo domain.StatsRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// DeliveryReport aggregates delivery outcomes over the trailing window.
func (s *Service) DeliveryReport(ctx context.Context, windowHours int) (*Report, error) {
	if windowHours <= 0 {
		windowHours = DefaultWindowHours
	}
	now := s.now()
	since := now.Add(-time.Duration(windowHours) * time.Hour)

	statuses, err := s.repo.StatusCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	pendingRetries, err := s.repo.PendingRetryCount(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("pending retry count: %w", err)
	}
	platforms, err := s.repo.PlatformBreakdown(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("platform breakdown: %w", err)
	}
	topErrors, err := s.repo.TopErrors(ctx, since, topErrorLimit)
	if err != nil {
		return nil, fmt.Errorf("top errors: %w", err)
	}

	var total int64
	for _, n := range statuses {
		total += n
	}

	return &Report{
		WindowHours:    windowHours,
		GeneratedAt:    now,
		Statuses:       statuses,
		Total:          total,
		SuccessRate:    successRate(statuses),
		PendingRetries: pendingRetries,
		Platforms:      platforms,
		TopErrors:      topErrors,
	}, nil
}

// successRate is delivered over concluded: sent and consolidated against
// everything that reached a terminal state. Entries still in flight do not
// count either way.
func successRate(statuses map[domain.Status]int64) float64 {
	delivered := statuses[domain.StatusSent] + statuses[domain.StatusConsolidated]
	concluded := delivered + statuses[domain.StatusDropped] + statuses[domain.StatusPermanentlyFailed]
	if concluded == 0 {
		return 0
	}
	return float64(delivered) / float64(concluded)
}
