// Package postgres holds the PostgreSQL implementations of the storage ports.
// State transitions on the queue are conditional updates: a transition either
// matches its expected current status atomically or reports that the row was
// not claimable, so concurrent workers never double-deliver.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealbridge/notification/internal/domain"
)

const queueColumns = `id, recipient_id, type, consolidation_key, title, body, payload,
	priority, status, scheduled_for, attempts, max_attempts, last_error,
	last_attempt_at, next_retry_at, error_history, consolidated_count,
	consolidated_ids, created_at, processed_at`

// QueueRepository is the PostgreSQL implementation of domain.QueueRepository.
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository creates a queue repository on the given pool.
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

// Insert stores a newly admitted entry.
func (r *QueueRepository) Insert(ctx context.Context, e *domain.QueueEntry) error {
	payloadJSON, _ := json.Marshal(e.Payload)
	historyJSON, _ := json.Marshal(e.ErrorHistory)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_queue (
			id, recipient_id, type, consolidation_key, title, body, payload,
			priority, status, scheduled_for, attempts, max_attempts,
			error_history, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.RecipientID, string(e.Type), e.ConsolidationKey, e.Title, e.Body,
		payloadJSON, e.Priority, string(e.Status), e.ScheduledFor, e.Attempts,
		e.MaxAttempts, historyJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

// GetByID fetches a single queue entry.
func (r *QueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+queueColumns+` FROM notification_queue WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEntryNotFound
	}
	return e, err
}

// CountRecent counts pending and sent entries for (recipient, type) since the
// given time. Used by the rate cap; entries that ended in a failure or were
// folded into a digest do not consume the recipient's budget.
func (r *QueueRepository) CountRecent(ctx context.Context, recipientID string, t domain.NotificationType, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_queue
		WHERE recipient_id = $1 AND type = $2 AND created_at >= $3
		  AND status IN ('pending', 'sent')
	`, recipientID, string(t), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent entries: %w", err)
	}
	return count, nil
}

// DuePending fetches pending entries whose schedule has arrived, highest
// priority first.
func (r *QueueRepository) DuePending(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM notification_queue
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY priority DESC, scheduled_for ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due pending: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ClaimPending moves pending entries to processing, stamping the attempt.
// Only the ids actually won come back; rows another worker already claimed
// are silently absent.
func (r *QueueRepository) ClaimPending(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $2
		WHERE id = ANY($1) AND status = 'pending'
		RETURNING id
	`, ids, at)
	if err != nil {
		return nil, fmt.Errorf("claim pending entries: %w", err)
	}
	defer rows.Close()

	var won []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed id: %w", err)
		}
		won = append(won, id)
	}
	return won, rows.Err()
}

// ClaimDueRetries atomically claims up to limit failed entries whose retry is
// due and whose attempt budget is not exhausted. The status guard on the
// UPDATE itself makes the claim exclusive under concurrent workers, and
// SKIP LOCKED keeps a worker from stalling on rows a peer is claiming.
func (r *QueueRepository) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notification_queue
		SET status = 'processing', attempts = attempts + 1, last_attempt_at = $1
		WHERE status = 'failed' AND id IN (
			SELECT id FROM notification_queue
			WHERE status = 'failed' AND attempts < max_attempts AND next_retry_at <= $1
			ORDER BY next_retry_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns+`
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Defer pushes the schedule of still-pending entries to a later time.
func (r *QueueRepository) Defer(ctx context.Context, ids []uuid.UUID, until time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_queue SET scheduled_for = $2
		WHERE id = ANY($1) AND status = 'pending'
	`, ids, until)
	if err != nil {
		return 0, fmt.Errorf("defer entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSent finalizes a successful dispatch.
func (r *QueueRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'sent', processed_at = $2, next_retry_at = NULL
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotClaimable
	}
	return nil
}

// MarkConsolidated finalizes digest members with the group size recorded.
func (r *QueueRepository) MarkConsolidated(ctx context.Context, ids []uuid.UUID, count int, at time.Time) error {
	idsJSON, _ := json.Marshal(ids)
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'consolidated', consolidated_count = $2, consolidated_ids = $3,
			processed_at = $4, next_retry_at = NULL
		WHERE id = ANY($1) AND status = 'processing'
	`, ids, count, idsJSON, at)
	if err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

// MarkDropped finalizes entries whose recipient opted out after admission.
func (r *QueueRepository) MarkDropped(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'dropped', processed_at = $2, next_retry_at = NULL
		WHERE id = ANY($1) AND status IN ('pending', 'processing')
	`, ids, at)
	if err != nil {
		return fmt.Errorf("mark dropped: %w", err)
	}
	return nil
}

// MarkFailed records a transient failure and schedules the retry.
func (r *QueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, rec domain.ErrorRecord, nextRetryAt time.Time) error {
	recJSON, _ := json.Marshal([]domain.ErrorRecord{rec})
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'failed', last_error = $2, next_retry_at = $3,
			error_history = COALESCE(error_history, '[]'::jsonb) || $4::jsonb
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, rec.Error, nextRetryAt, recJSON)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotClaimable
	}
	return nil
}

// MarkPermanentlyFailed records terminal failure and snapshots the entry into
// the dead-letter archive in the same transaction.
func (r *QueueRepository) MarkPermanentlyFailed(ctx context.Context, id uuid.UUID, rec domain.ErrorRecord, at time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin permanent failure tx: %w", err)
	}
	defer tx.Rollback(ctx)

	recJSON, _ := json.Marshal([]domain.ErrorRecord{rec})
	row := tx.QueryRow(ctx, `
		UPDATE notification_queue
		SET status = 'permanently_failed', last_error = $2, next_retry_at = NULL,
			processed_at = $3,
			error_history = COALESCE(error_history, '[]'::jsonb) || $4::jsonb
		WHERE id = $1 AND status IN ('pending', 'processing', 'failed')
		RETURNING `+queueColumns+`
	`, id, rec.Error, at, recJSON)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Terminal already, or claimed by a peer. The archive row was written
		// by whoever won.
		var exists bool
		if qerr := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM notification_queue WHERE id = $1)`, id,
		).Scan(&exists); qerr != nil {
			return fmt.Errorf("check entry existence: %w", qerr)
		}
		if !exists {
			return domain.ErrEntryNotFound
		}
		return domain.ErrNotClaimable
	}
	if err != nil {
		return err
	}

	d := domain.Snapshot(e, at)
	historyJSON, _ := json.Marshal(d.ErrorHistory)
	payloadJSON, _ := json.Marshal(d.Payload)
	_, err = tx.Exec(ctx, `
		INSERT INTO dead_letters (
			id, original_id, recipient_id, type, title, body, payload,
			attempts, error_history, original_created_at, archived_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, d.ID, d.OriginalID, d.RecipientID, string(d.Type), d.Title, d.Body,
		payloadJSON, d.Attempts, historyJSON, d.OriginalCreated, d.ArchivedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteSentBefore removes delivered entries past retention.
func (r *QueueRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_queue
		WHERE status = 'sent' AND processed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete sent entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeletePermanentlyFailedBefore removes exhausted entries past retention. The
// archive snapshot survives.
func (r *QueueRepository) DeletePermanentlyFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_queue
		WHERE status = 'permanently_failed' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete permanently failed entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns current queue depth per status.
func (r *QueueRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	var typ, status string
	var payloadJSON, historyJSON, idsJSON []byte
	var lastError *string

	err := row.Scan(
		&e.ID, &e.RecipientID, &typ, &e.ConsolidationKey, &e.Title, &e.Body,
		&payloadJSON, &e.Priority, &status, &e.ScheduledFor, &e.Attempts,
		&e.MaxAttempts, &lastError, &e.LastAttemptAt, &e.NextRetryAt,
		&historyJSON, &e.ConsolidatedCount, &idsJSON, &e.CreatedAt, &e.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan queue entry: %w", err)
	}

	e.Type = domain.NotificationType(typ)
	e.Status = domain.Status(status)
	if lastError != nil {
		e.LastError = *lastError
	}
	if len(payloadJSON) > 0 {
		_ = json.Unmarshal(payloadJSON, &e.Payload)
	}
	if len(historyJSON) > 0 {
		_ = json.Unmarshal(historyJSON, &e.ErrorHistory)
	}
	if len(idsJSON) > 0 {
		_ = json.Unmarshal(idsJSON, &e.ConsolidatedIDs)
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*domain.QueueEntry, error) {
	var out []*domain.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
