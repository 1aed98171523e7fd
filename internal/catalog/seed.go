package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mealbridge/notification/internal/domain"
)

// SeedPolicies inserts a policy row for every cataloged type that has none
// yet, using the catalog's default priority. Existing rows are left alone so
// operator tuning survives restarts.
func SeedPolicies(ctx context.Context, store domain.PolicyStore) error {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load existing policies: %w", err)
	}

	seeded := 0
	for t, d := range definitions {
		if _, exists := snap[t]; exists {
			continue
		}
		cfg := domain.DefaultPolicy(t)
		cfg.BasePriority = d.DefaultPriority
		if err := store.Upsert(ctx, cfg); err != nil {
			return fmt.Errorf("seed policy for %s: %w", t, err)
		}
		seeded++
	}
	if seeded > 0 {
		log.Info().Int("seeded", seeded).Msg("default notification policies seeded")
	}
	return nil
}
