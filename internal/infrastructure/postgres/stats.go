package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealbridge/notification/internal/domain"
)

// StatsRepository is the PostgreSQL implementation of the read-only
// observability queries.
type StatsRepository struct {
	pool *pgxpool.Pool
}

func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

// StatusCounts returns entry counts per status for the trailing window.
func (r *StatsRepository) StatusCounts(ctx context.Context, since time.Time) (map[domain.Status]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM notification_queue
		WHERE created_at >= $1
		GROUP BY status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
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

// PendingRetryCount counts failed entries waiting on a future retry.
func (r *StatsRepository) PendingRetryCount(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_queue
		WHERE status = 'failed' AND attempts < max_attempts AND next_retry_at > $1
	`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending retry count: %w", err)
	}
	return n, nil
}

// PlatformBreakdown aggregates delivered entries by the recipient's active
// device platform, with latency further bucketed by how many attempts the
// delivery needed.
func (r *StatsRepository) PlatformBreakdown(ctx context.Context, since time.Time) ([]domain.PlatformStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT d.platform,
			q.attempts,
			COUNT(*),
			AVG(EXTRACT(EPOCH FROM (q.processed_at - q.created_at)))::float8
		FROM notification_queue q
		JOIN LATERAL (
			SELECT platform FROM device_tokens
			WHERE recipient_id = q.recipient_id AND is_active = TRUE
			ORDER BY created_at DESC
			LIMIT 1
		) d ON TRUE
		WHERE q.status = 'sent' AND q.created_at >= $1 AND q.processed_at IS NOT NULL
		GROUP BY d.platform, q.attempts
		ORDER BY d.platform, q.attempts
	`, since)
	if err != nil {
		return nil, fmt.Errorf("platform breakdown: %w", err)
	}
	defer rows.Close()

	var out []domain.PlatformStats
	index := make(map[domain.Platform]int)
	for rows.Next() {
		var platform string
		var attempts int
		var n int64
		var latency float64
		if err := rows.Scan(&platform, &attempts, &n, &latency); err != nil {
			return nil, fmt.Errorf("scan platform stats: %w", err)
		}
		p := domain.Platform(platform)
		i, ok := index[p]
		if !ok {
			i = len(out)
			index[p] = i
			out = append(out, domain.PlatformStats{
				Platform:          p,
				LatencyByAttempts: make(map[int]float64),
			})
		}
		s := &out[i]
		// Fold the per-attempt bucket into the platform totals.
		s.AvgAttempts = (s.AvgAttempts*float64(s.Delivered) + float64(attempts)*float64(n)) / float64(s.Delivered+n)
		s.AvgLatencySecs = (s.AvgLatencySecs*float64(s.Delivered) + latency*float64(n)) / float64(s.Delivered+n)
		s.Delivered += n
		s.LatencyByAttempts[attempts] = latency
	}
	return out, rows.Err()
}

// TopErrors returns the most frequent delivery errors in the window.
func (r *StatsRepository) TopErrors(ctx context.Context, since time.Time, limit int) ([]domain.ErrorCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT last_error, COUNT(*) FROM notification_queue
		WHERE created_at >= $1 AND last_error IS NOT NULL
			AND status IN ('failed', 'permanently_failed')
		GROUP BY last_error
		ORDER BY COUNT(*) DESC, last_error ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top errors: %w", err)
	}
	defer rows.Close()

	var out []domain.ErrorCount
	for rows.Next() {
		var c domain.ErrorCount
		if err := rows.Scan(&c.Error, &c.Count); err != nil {
			return nil, fmt.Errorf("scan error count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
