// Package retry tracks delivery attempts per queue entry: exponential-backoff
// re-scheduling on transient failure, permanent failure with dead-letter
// archival on non-retryable errors or exhausted attempts, and the exclusive
// claiming contract for re-dispatch.
package retry

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

// Machine applies dispatch outcomes to queue entries.
type Machine struct {
	queue   domain.QueueRepository
	devices domain.DeviceStore
	now     func() time.Time
}

// NewMachine wires a retry state machine over the storage ports.
func NewMachine(queue domain.QueueRepository, devices domain.DeviceStore) *Machine {
	return &Machine{queue: queue, devices: devices, now: time.Now}
}

// ReportSuccess finalizes a successful dispatch. Reporting on an entry that
// already reached a terminal state is a no-op, making outcome reporting
// idempotent.
func (m *Machine) ReportSuccess(ctx context.Context, id uuid.UUID) error {
	if err := m.queue.MarkSent(ctx, id, m.now()); err != nil {
		if errors.Is(err, domain.ErrNotClaimable) {
			log.Debug().Str("id", id.String()).Msg("success reported on terminal entry, ignoring")
			return nil
		}
		return fmt.Errorf("mark sent: %w", err)
	}
	metrics.RecordDispatch("sent")
	return nil
}

// ReportFailure records a failed dispatch attempt. Transient failures move the
// entry to failed with next_retry_at = now + 5m*3^(attempts-1); non-retryable
// errors, an explicit permanent flag, or exhausted attempts move it to
// permanently_failed and snapshot it into the dead-letter archive. Invalid
// token errors also deactivate the recipient's device registrations.
func (m *Machine) ReportFailure(ctx context.Context, id uuid.UUID, cause error, permanent bool) error {
	if cause == nil {
		cause = errors.New("unspecified dispatch failure")
	}
	now := m.now()

	entry, err := m.queue.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	if entry.Status.Terminal() {
		log.Debug().Str("id", id.String()).Msg("failure reported on terminal entry, ignoring")
		return nil
	}

	class := Classify(cause)
	rec := domain.ErrorRecord{Error: cause.Error(), Attempt: entry.Attempts, Timestamp: now}

	if permanent || class != ClassTransient || entry.Attempts >= entry.MaxAttempts {
		if err := m.queue.MarkPermanentlyFailed(ctx, id, rec, now); err != nil {
			if errors.Is(err, domain.ErrNotClaimable) {
				return nil
			}
			return fmt.Errorf("mark permanently failed: %w", err)
		}
		metrics.RecordDispatch("permanently_failed")
		log.Warn().
			Str("id", id.String()).
			Str("recipient", entry.RecipientID).
			Int("attempts", entry.Attempts).
			Str("error", cause.Error()).
			Msg("entry permanently failed and archived")

		if class == ClassInvalidToken {
			n, derr := m.devices.DeactivateForRecipient(ctx, entry.RecipientID)
			if derr != nil {
				log.Error().Err(derr).Str("recipient", entry.RecipientID).Msg("device deactivation failed")
			} else if n > 0 {
				log.Info().Str("recipient", entry.RecipientID).Int64("tokens", n).Msg("deactivated invalid device tokens")
			}
		}
		return nil
	}

	nextRetry := now.Add(domain.RetryBackoff(entry.Attempts))
	if err := m.queue.MarkFailed(ctx, id, rec, nextRetry); err != nil {
		if errors.Is(err, domain.ErrNotClaimable) {
			return nil
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	metrics.RecordDispatch("failed")
	log.Info().
		Str("id", id.String()).
		Int("attempt", entry.Attempts).
		Time("next_retry_at", nextRetry).
		Msg("transient failure, retry scheduled")
	return nil
}

// ClaimedItem is one retry candidate exclusively claimed for re-dispatch.
type ClaimedItem struct {
	ID          uuid.UUID               `json:"id"`
	RecipientID string                  `json:"recipient_id"`
	Type        domain.NotificationType `json:"type"`
	DeviceToken string                  `json:"device_token"`
	Platform    domain.Platform         `json:"platform"`
	Title       string                  `json:"title"`
	Body        string                  `json:"body"`
	Payload     map[string]any          `json:"payload,omitempty"`
	Attempts    int                     `json:"attempts"`
	LastError   string                  `json:"last_error,omitempty"`
}

// PushMessage converts the claimed item into a transport-boundary message.
func (i ClaimedItem) PushMessage() domain.PushMessage {
	return domain.PushMessage{
		EntryIDs:    []uuid.UUID{i.ID},
		RecipientID: i.RecipientID,
		DeviceToken: i.DeviceToken,
		Platform:    i.Platform,
		Title:       i.Title,
		Body:        i.Body,
		Payload:     i.Payload,
		Count:       1,
	}
}

// ClaimRetryBatch atomically claims up to limit due retry candidates and
// returns them with their device target resolved. Each returned entry is now
// processing and owned by the caller; entries whose recipient has no active
// device are failed permanently instead of returned.
func (m *Machine) ClaimRetryBatch(ctx context.Context, limit int) ([]ClaimedItem, error) {
	entries, err := m.queue.ClaimDueRetries(ctx, m.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}

	items := make([]ClaimedItem, 0, len(entries))
	for _, e := range entries {
		device, err := m.devices.ActiveForRecipient(ctx, e.RecipientID)
		if err != nil {
			if errors.Is(err, domain.ErrNoActiveDevice) {
				// Nothing to deliver to; terminal without further attempts.
				_ = m.ReportFailure(ctx, e.ID, domain.ErrNoActiveDevice, true)
				continue
			}
			return nil, fmt.Errorf("resolve device for %s: %w", e.RecipientID, err)
		}
		items = append(items, ClaimedItem{
			ID:          e.ID,
			RecipientID: e.RecipientID,
			Type:        e.Type,
			DeviceToken: device.Token,
			Platform:    device.Platform,
			Title:       e.Title,
			Body:        e.Body,
			Payload:     e.Payload,
			Attempts:    e.Attempts,
			LastError:   e.LastError,
		})
	}
	return items, nil
}

// Sender delivers one message to the push gateway.
type Sender interface {
	Send(ctx context.Context, msg domain.PushMessage) error
}

// Sweeper periodically claims due retries and re-dispatches them in-process
// through the gateway transport.
type Sweeper struct {
	machine *Machine
	sender  Sender
	limit   int
}

// NewSweeper builds a retry sweep job claiming up to limit entries per run.
func NewSweeper(machine *Machine, sender Sender, limit int) *Sweeper {
	return &Sweeper{machine: machine, sender: sender, limit: limit}
}

// Run performs one sweep. Safe to invoke concurrently from multiple workers:
// claiming is exclusive, so peers simply see fewer candidates.
func (s *Sweeper) Run(ctx context.Context) (attempted, delivered int, err error) {
	items, err := s.machine.ClaimRetryBatch(ctx, s.limit)
	if err != nil {
		return 0, 0, err
	}
	for _, item := range items {
		attempted++
		if sendErr := s.sender.Send(ctx, item.PushMessage()); sendErr != nil {
			if rerr := s.machine.ReportFailure(ctx, item.ID, sendErr, false); rerr != nil {
				log.Error().Err(rerr).Str("id", item.ID.String()).Msg("failed to record retry outcome")
			}
			continue
		}
		if rerr := s.machine.ReportSuccess(ctx, item.ID); rerr != nil {
			log.Error().Err(rerr).Str("id", item.ID.String()).Msg("failed to record retry success")
			continue
		}
		delivered++
	}
	if attempted > 0 {
		log.Info().Int("attempted", attempted).Int("delivered", delivered).Msg("retry sweep completed")
	}
	return attempted, delivered, nil
}
