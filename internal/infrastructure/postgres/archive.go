package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealbridge/notification/internal/domain"
)

// ArchiveRepository is the PostgreSQL implementation of the dead-letter
// archive. Rows are written by MarkPermanentlyFailed inside the queue's
// transaction; this type serves inserts made outside that path and reads.
type ArchiveRepository struct {
	pool *pgxpool.Pool
}

func NewArchiveRepository(pool *pgxpool.Pool) *ArchiveRepository {
	return &ArchiveRepository{pool: pool}
}

// Insert appends a dead-letter snapshot.
func (r *ArchiveRepository) Insert(ctx context.Context, d domain.DeadLetterEntry) error {
	historyJSON, _ := json.Marshal(d.ErrorHistory)
	payloadJSON, _ := json.Marshal(d.Payload)
	_, err := r.pool.Exec(ctx, `
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
	return nil
}

// List returns the most recently archived entries.
func (r *ArchiveRepository) List(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, original_id, recipient_id, type, title, body, payload,
			attempts, error_history, original_created_at, archived_at
		FROM dead_letters
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetterEntry
	for rows.Next() {
		var d domain.DeadLetterEntry
		var typ string
		var payloadJSON, historyJSON []byte
		err := rows.Scan(&d.ID, &d.OriginalID, &d.RecipientID, &typ, &d.Title,
			&d.Body, &payloadJSON, &d.Attempts, &historyJSON, &d.OriginalCreated,
			&d.ArchivedAt)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.Type = domain.NotificationType(typ)
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &d.Payload)
		}
		if len(historyJSON) > 0 {
			_ = json.Unmarshal(historyJSON, &d.ErrorHistory)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
