package catalog

import (
	"context"
	"testing"

	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/testutil"
)

func TestSeedPolicies(t *testing.T) {
	mem := testutil.NewMemory()
	ctx := context.Background()

	// A pre-existing row must survive seeding.
	custom := domain.DefaultPolicy(domain.TypeNewMessage)
	custom.BasePriority = 10
	custom.BypassConsolidation = true
	if err := mem.Upsert(ctx, custom); err != nil {
		t.Fatal(err)
	}

	if err := SeedPolicies(ctx, mem); err != nil {
		t.Fatal(err)
	}

	snap, err := mem.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != len(domain.KnownTypes) {
		t.Fatalf("expected %d policies, got %d", len(domain.KnownTypes), len(snap))
	}

	got := snap[domain.TypeNewMessage]
	if got.BasePriority != 10 || !got.BypassConsolidation {
		t.Fatalf("existing policy was overwritten: %+v", got)
	}

	if snap[domain.TypePostLiked].BasePriority != 3 {
		t.Fatalf("seeded priority mismatch: %+v", snap[domain.TypePostLiked])
	}

	// Idempotent.
	if err := SeedPolicies(ctx, mem); err != nil {
		t.Fatal(err)
	}
}
