package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mealbridge/notification/internal/domain"
)

const policyColumns = `type, base_priority, bypass_consolidation, bypass_quiet_hours,
	max_per_hour, consolidation_window_minutes, ttl_seconds`

// PolicyStore is the PostgreSQL implementation of domain.PolicyStore.
type PolicyStore struct {
	pool *pgxpool.Pool
}

func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// Get returns the stored policy for t, or the safe default when no row exists.
func (s *PolicyStore) Get(ctx context.Context, t domain.NotificationType) (domain.PriorityConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM notification_policies WHERE type = $1`, string(t))
	cfg, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultPolicy(t), nil
	}
	if err != nil {
		return domain.PriorityConfig{}, err
	}
	return cfg, nil
}

// Snapshot loads every stored policy at once.
func (s *PolicyStore) Snapshot(ctx context.Context) (domain.PolicySnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM notification_policies`)
	if err != nil {
		return nil, fmt.Errorf("load policies: %w", err)
	}
	defer rows.Close()

	snap := make(domain.PolicySnapshot)
	for rows.Next() {
		cfg, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		snap[cfg.Type] = cfg
	}
	return snap, rows.Err()
}

// Upsert stores or replaces the policy for its type.
func (s *PolicyStore) Upsert(ctx context.Context, cfg domain.PriorityConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_policies (
			type, base_priority, bypass_consolidation, bypass_quiet_hours,
			max_per_hour, consolidation_window_minutes, ttl_seconds
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (type) DO UPDATE SET
			base_priority = EXCLUDED.base_priority,
			bypass_consolidation = EXCLUDED.bypass_consolidation,
			bypass_quiet_hours = EXCLUDED.bypass_quiet_hours,
			max_per_hour = EXCLUDED.max_per_hour,
			consolidation_window_minutes = EXCLUDED.consolidation_window_minutes,
			ttl_seconds = EXCLUDED.ttl_seconds
	`, string(cfg.Type), cfg.BasePriority, cfg.BypassConsolidation,
		cfg.BypassQuietHours, cfg.MaxPerHour, cfg.ConsolidationWindowMinutes,
		cfg.TTLSeconds)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

func scanPolicy(row scannable) (domain.PriorityConfig, error) {
	var cfg domain.PriorityConfig
	var typ string
	err := row.Scan(&typ, &cfg.BasePriority, &cfg.BypassConsolidation,
		&cfg.BypassQuietHours, &cfg.MaxPerHour, &cfg.ConsolidationWindowMinutes,
		&cfg.TTLSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cfg, err
		}
		return cfg, fmt.Errorf("scan policy: %w", err)
	}
	cfg.Type = domain.NotificationType(typ)
	return cfg, nil
}
