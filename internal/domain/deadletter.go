package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetterEntry is an append-only snapshot of a queue entry taken at the
// moment it became permanently failed. Never mutated after insertion.
type DeadLetterEntry struct {
	ID              uuid.UUID        `json:"id"`
	OriginalID      uuid.UUID        `json:"original_id"`
	RecipientID     string           `json:"recipient_id"`
	Type            NotificationType `json:"type"`
	Title           string           `json:"title"`
	Body            string           `json:"body"`
	Payload         map[string]any   `json:"payload,omitempty"`
	Attempts        int              `json:"attempts"`
	ErrorHistory    []ErrorRecord    `json:"error_history"`
	OriginalCreated time.Time        `json:"original_created_at"`
	ArchivedAt      time.Time        `json:"archived_at"`
}

// Snapshot builds the archive record for an entry entering permanent failure.
func Snapshot(e *QueueEntry, at time.Time) DeadLetterEntry {
	history := make([]ErrorRecord, len(e.ErrorHistory))
	copy(history, e.ErrorHistory)
	return DeadLetterEntry{
		ID:              uuid.New(),
		OriginalID:      e.ID,
		RecipientID:     e.RecipientID,
		Type:            e.Type,
		Title:           e.Title,
		Body:            e.Body,
		Payload:         e.Payload,
		Attempts:        e.Attempts,
		ErrorHistory:    history,
		OriginalCreated: e.CreatedAt,
		ArchivedAt:      at,
	}
}
