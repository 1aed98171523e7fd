package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Storage errors shared by all repository implementations.
var (
	ErrEntryNotFound = errors.New("queue entry not found")
	// ErrNotClaimable is returned when a conditional state transition matched
	// no row: the entry is terminal, or another worker already owns it.
	ErrNotClaimable   = errors.New("queue entry not in a claimable state")
	ErrNoActiveDevice = errors.New("no active device token for recipient")
)

// QueueRepository is the port for the live notification queue. Every state
// transition that matters for correctness is a conditional update: it either
// wins atomically or reports ErrNotClaimable / returns fewer ids, never blocks.
type QueueRepository interface {
	Insert(ctx context.Context, e *QueueEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*QueueEntry, error)

	// CountRecent counts pending and sent entries for (recipient, type)
	// created at or after since. Used by rate admission.
	CountRecent(ctx context.Context, recipientID string, t NotificationType, since time.Time) (int64, error)

	// DuePending fetches pending entries with scheduled_for <= now, ordered by
	// priority descending then scheduled_for ascending.
	DuePending(ctx context.Context, now time.Time, limit int) ([]*QueueEntry, error)

	// ClaimPending transitions the given pending entries to processing,
	// stamping last_attempt_at and incrementing attempts. Returns the ids
	// actually won; entries claimed by a peer are silently absent.
	ClaimPending(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error)

	// ClaimDueRetries atomically claims up to limit failed entries with
	// attempts < max_attempts and next_retry_at <= now, transitioning them to
	// processing with attempts incremented and last_attempt_at stamped.
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*QueueEntry, error)

	// Defer pushes scheduled_for on still-pending entries (quiet-hours re-check).
	Defer(ctx context.Context, ids []uuid.UUID, until time.Time) (int64, error)

	// MarkSent finalizes a successful dispatch: status sent, processed_at
	// stamped, next_retry_at cleared. Only pending/processing entries match.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkConsolidated finalizes digest members: status consolidated with the
	// group size recorded. Only processing entries match.
	MarkConsolidated(ctx context.Context, ids []uuid.UUID, count int, at time.Time) error

	// MarkDropped finalizes entries whose recipient opted out after admission.
	MarkDropped(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// MarkFailed records a transient failure: status failed, error appended to
	// history, next_retry_at scheduled. Only pending/processing entries match.
	MarkFailed(ctx context.Context, id uuid.UUID, rec ErrorRecord, nextRetryAt time.Time) error

	// MarkPermanentlyFailed records terminal failure and, in the same
	// transaction, snapshots the entry into the dead-letter archive.
	MarkPermanentlyFailed(ctx context.Context, id uuid.UUID, rec ErrorRecord, at time.Time) error

	// Retention cleanup.
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeletePermanentlyFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByStatus returns current queue depth per status (gauge refresh).
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// ArchiveRepository is the port for the dead-letter archive. Append-only;
// read by observability tooling, never by the live pipeline.
type ArchiveRepository interface {
	Insert(ctx context.Context, d DeadLetterEntry) error
	List(ctx context.Context, limit int) ([]DeadLetterEntry, error)
}

// PolicySnapshot is an immutable view of every stored policy, taken at the
// start of a processing cycle.
type PolicySnapshot map[NotificationType]PriorityConfig

// For returns the policy for t, falling back to the safe default.
func (s PolicySnapshot) For(t NotificationType) PriorityConfig {
	if cfg, ok := s[t]; ok {
		return cfg
	}
	return DefaultPolicy(t)
}

// PolicyStore is the port for per-type delivery policies.
type PolicyStore interface {
	// Get returns the policy for t, falling back to DefaultPolicy when no row
	// exists. A missing policy is never an error.
	Get(ctx context.Context, t NotificationType) (PriorityConfig, error)
	Snapshot(ctx context.Context) (PolicySnapshot, error)
	Upsert(ctx context.Context, cfg PriorityConfig) error
}

// DeviceStore is the port for device tokens and recipient preferences.
type DeviceStore interface {
	Upsert(ctx context.Context, d DeviceToken) error
	// ActiveForRecipient returns the most recently registered active token,
	// or ErrNoActiveDevice.
	ActiveForRecipient(ctx context.Context, recipientID string) (*DeviceToken, error)
	Deactivate(ctx context.Context, token string) error
	DeactivateForRecipient(ctx context.Context, recipientID string) (int64, error)

	// Preferences returns nil (not an error) when the recipient has none.
	Preferences(ctx context.Context, recipientID string) (*Preferences, error)
	UpsertPreferences(ctx context.Context, p Preferences) error
}

// PlatformStats is one row of the per-platform delivery breakdown.
// LatencyByAttempts holds the average end-to-end latency of deliveries that
// needed exactly that many attempts.
type PlatformStats struct {
	Platform          Platform        `json:"platform"`
	Delivered         int64           `json:"delivered"`
	AvgAttempts       float64         `json:"avg_attempts"`
	AvgLatencySecs    float64         `json:"avg_latency_seconds"`
	LatencyByAttempts map[int]float64 `json:"latency_by_attempts"`
}

// ErrorCount is one row of the top-errors report.
type ErrorCount struct {
	Error string `json:"error"`
	Count int64  `json:"count"`
}

// StatsRepository is the read-only port behind the observability report.
type StatsRepository interface {
	StatusCounts(ctx context.Context, since time.Time) (map[Status]int64, error)
	PendingRetryCount(ctx context.Context, now time.Time) (int64, error)
	PlatformBreakdown(ctx context.Context, since time.Time) ([]PlatformStats, error)
	TopErrors(ctx context.Context, since time.Time, limit int) ([]ErrorCount, error)
}
