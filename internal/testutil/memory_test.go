package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealbridge/notification/internal/domain"
)

// Exclusive-claim contract: under N concurrent claim attempts on the same
// entry, exactly one wins; the rest observe a no-op.
func TestClaimPending_Exclusive(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	id := uuid.New()
	require.NoError(t, mem.Insert(ctx, &domain.QueueEntry{
		ID:          id,
		RecipientID: "u1",
		Type:        domain.TypeNewMessage,
		Status:      domain.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now(),
	}))

	const workers = 32
	var wg sync.WaitGroup
	wins := make(chan uuid.UUID, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := mem.ClaimPending(ctx, []uuid.UUID{id}, time.Now())
			if err != nil {
				t.Error(err)
				return
			}
			for _, w := range won {
				wins <- w
			}
		}()
	}
	wg.Wait()
	close(wins)

	var total int
	for range wins {
		total++
	}
	assert.Equal(t, 1, total, "exactly one worker wins the claim")

	e, err := mem.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, e.Status)
	assert.Equal(t, 1, e.Attempts, "losing claims must not bump attempts")
}

func TestClaimDueRetries_Exclusive(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Now()
	retryAt := now.Add(-time.Minute)

	const entries = 10
	for i := 0; i < entries; i++ {
		at := retryAt
		require.NoError(t, mem.Insert(ctx, &domain.QueueEntry{
			ID:          uuid.New(),
			RecipientID: "u1",
			Type:        domain.TypeNewMessage,
			Status:      domain.StatusFailed,
			Attempts:    1,
			MaxAttempts: 3,
			NextRetryAt: &at,
			CreatedAt:   now.Add(-time.Hour),
		}))
	}

	const workers = 8
	var wg sync.WaitGroup
	claimed := make(chan uuid.UUID, entries*workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := mem.ClaimDueRetries(ctx, now, entries)
			if err != nil {
				t.Error(err)
				return
			}
			for _, e := range got {
				claimed <- e.ID
			}
		}()
	}
	wg.Wait()
	close(claimed)

	seen := make(map[uuid.UUID]int)
	for id := range claimed {
		seen[id]++
	}
	assert.Len(t, seen, entries, "every due entry claimed")
	for id, n := range seen {
		assert.Equal(t, 1, n, "entry %s claimed more than once", id)
	}
}

func TestClaimDueRetries_SkipsExhaustedAndFuture(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	exhausted := &domain.QueueEntry{
		ID: uuid.New(), Status: domain.StatusFailed,
		Attempts: 3, MaxAttempts: 3, NextRetryAt: &past, CreatedAt: now,
	}
	notDue := &domain.QueueEntry{
		ID: uuid.New(), Status: domain.StatusFailed,
		Attempts: 1, MaxAttempts: 3, NextRetryAt: &future, CreatedAt: now,
	}
	inFlight := &domain.QueueEntry{
		ID: uuid.New(), Status: domain.StatusProcessing,
		Attempts: 2, MaxAttempts: 3, NextRetryAt: &past, CreatedAt: now,
	}
	due := &domain.QueueEntry{
		ID: uuid.New(), Status: domain.StatusFailed,
		Attempts: 1, MaxAttempts: 3, NextRetryAt: &past, CreatedAt: now,
	}
	for _, e := range []*domain.QueueEntry{exhausted, notDue, inFlight, due} {
		require.NoError(t, mem.Insert(ctx, e))
	}

	got, err := mem.ClaimDueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
	assert.Equal(t, 2, got[0].Attempts, "winning claim bumps attempts exactly once")

	// A second sweep finds nothing: once claimed, the entry is in flight and
	// must never be handed out again.
	again, err := mem.ClaimDueRetries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	flight, err := mem.GetByID(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, flight.Attempts, "rows held by a peer keep their attempt count")
}
