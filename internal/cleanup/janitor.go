// Package cleanup prunes delivered and exhausted queue entries past their
// retention window. The dead-letter archive is never touched.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mealbridge/notification/internal/domain"
)

// DefaultRetentionDays is applied when a run is requested without an
// explicit retention.
const DefaultRetentionDays = 7

// Result reports how many rows one cleanup run removed.
type Result struct {
	DeletedSent              int64 `json:"deleted_sent"`
	DeletedPermanentlyFailed int64 `json:"deleted_permanently_failed"`
}

// Janitor deletes terminal queue entries past retention. Permanently failed
// rows are kept twice as long as sent ones so operators can still correlate
// them with their archive snapshots.
type Janitor struct {
	queue domain.QueueRepository
	now   func() time.Time
}

func NewJanitor(queue domain.QueueRepository) *Janitor {
	return &Janitor{queue: queue, now: time.Now}
}

// Run executes one cleanup pass with the given retention in days.
func (j *Janitor) Run(ctx context.Context, retentionDays int) (Result, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	now := j.now()
	var res Result

	sentCutoff := now.AddDate(0, 0, -retentionDays)
	deleted, err := j.queue.DeleteSentBefore(ctx, sentCutoff)
	if err != nil {
		return res, fmt.Errorf("delete sent entries: %w", err)
	}
	res.DeletedSent = deleted

	failedCutoff := now.AddDate(0, 0, -2*retentionDays)
	deleted, err = j.queue.DeletePermanentlyFailedBefore(ctx, failedCutoff)
	if err != nil {
		return res, fmt.Errorf("delete permanently failed entries: %w", err)
	}
	res.DeletedPermanentlyFailed = deleted

	log.Info().
		Int("retention_days", retentionDays).
		Int64("deleted_sent", res.DeletedSent).
		Int64("deleted_permanently_failed", res.DeletedPermanentlyFailed).
		Msg("cleanup run completed")
	return res, nil
}
