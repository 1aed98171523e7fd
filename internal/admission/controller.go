// Package admission implements the entry point of the delivery pipeline:
// policy lookup, rate admission, quiet-hours deferral, and queue insertion.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/metrics"
)

// Admission rejections. No state is persisted for a rejected request.
var (
	ErrRateLimited  = errors.New("rate limit reached for recipient and type")
	ErrOptedOut     = errors.New("recipient opted out of this notification type")
	ErrInvalidInput = errors.New("recipient id and title are required")
)

// EnqueueInput is one notification request from a business-logic collaborator.
type EnqueueInput struct {
	RecipientID string                  `json:"recipient_id"`
	Type        domain.NotificationType `json:"type"`
	Title       string                  `json:"title"`
	Body        string                  `json:"body,omitempty"`
	Payload     map[string]any          `json:"payload,omitempty"`
	// Priority overrides the policy's base priority when set.
	Priority *int `json:"priority,omitempty"`
	// ConsolidationKey overrides the derived type:recipient:bucket key.
	ConsolidationKey string `json:"consolidation_key,omitempty"`
}

// EnqueueResult reports the admitted entry's resolved schedule.
type EnqueueResult struct {
	QueueID         uuid.UUID `json:"queue_id"`
	ScheduledFor    time.Time `json:"scheduled_for"`
	Priority        int       `json:"priority"`
	WillConsolidate bool      `json:"will_consolidate"`
}

// Controller is the admission controller.
type Controller struct {
	queue    domain.QueueRepository
	policies domain.PolicyStore
	devices  domain.DeviceStore
	now      func() time.Time
}

// NewController wires an admission controller over the storage ports.
func NewController(queue domain.QueueRepository, policies domain.PolicyStore, devices domain.DeviceStore) *Controller {
	return &Controller{queue: queue, policies: policies, devices: devices, now: time.Now}
}

// Enqueue admits one notification request. It resolves the delivery policy,
// enforces the per-type hourly cap, applies quiet-hours deferral, and inserts
// a pending queue entry. The rate check is a best-effort count over the entry
// table; concurrent bursts may overshoot the cap slightly.
func (c *Controller) Enqueue(ctx context.Context, in EnqueueInput) (*EnqueueResult, error) {
	if in.RecipientID == "" || in.Title == "" {
		return nil, ErrInvalidInput
	}

	now := c.now()

	cfg, err := c.policies.Get(ctx, in.Type)
	if err != nil {
		return nil, fmt.Errorf("load policy for %s: %w", in.Type, err)
	}

	prefs, err := c.devices.Preferences(ctx, in.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("load preferences for %s: %w", in.RecipientID, err)
	}
	if prefs.TypeDisabled(in.Type) {
		metrics.RecordAdmission(in.Type, "opted_out")
		return nil, ErrOptedOut
	}

	priority := cfg.BasePriority
	if priority == 0 {
		priority = domain.DefaultPriority
	}
	if in.Priority != nil {
		priority = *in.Priority
	}
	priority = domain.ClampPriority(priority)

	key := in.ConsolidationKey
	if key == "" {
		key = domain.ConsolidationKey(in.Type, in.RecipientID, now, cfg.ConsolidationWindowMinutes)
	}

	if cfg.MaxPerHour != nil {
		count, err := c.queue.CountRecent(ctx, in.RecipientID, in.Type, now.Add(-time.Hour))
		if err != nil {
			return nil, fmt.Errorf("rate admission count: %w", err)
		}
		if count >= int64(*cfg.MaxPerHour) {
			metrics.RecordAdmission(in.Type, "rate_limited")
			log.Debug().
				Str("recipient", in.RecipientID).
				Str("type", string(in.Type)).
				Int64("count", count).
				Int("max_per_hour", *cfg.MaxPerHour).
				Msg("admission rejected: rate limited")
			return nil, ErrRateLimited
		}
	}

	scheduledFor := now
	if !cfg.BypassQuietHours {
		if w := prefs.QuietWindow(); w.Contains(now) {
			scheduledFor = w.NextEnd(now)
		}
	}

	entry := &domain.QueueEntry{
		ID:               uuid.New(),
		RecipientID:      in.RecipientID,
		Type:             in.Type,
		ConsolidationKey: key,
		Title:            in.Title,
		Body:             in.Body,
		Payload:          in.Payload,
		Priority:         priority,
		Status:           domain.StatusPending,
		ScheduledFor:     scheduledFor,
		MaxAttempts:      domain.DefaultMaxAttempts,
		CreatedAt:        now,
	}
	if err := c.queue.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert queue entry: %w", err)
	}

	metrics.RecordAdmission(in.Type, "queued")
	log.Debug().
		Str("id", entry.ID.String()).
		Str("recipient", in.RecipientID).
		Str("type", string(in.Type)).
		Int("priority", priority).
		Time("scheduled_for", scheduledFor).
		Msg("notification queued")

	return &EnqueueResult{
		QueueID:         entry.ID,
		ScheduledFor:    scheduledFor,
		Priority:        priority,
		WillConsolidate: !cfg.BypassConsolidation,
	}, nil
}
