package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/testutil"
)

func seed(t *testing.T, mem *testutil.Memory, status domain.Status, age time.Duration, now time.Time) uuid.UUID {
	t.Helper()
	created := now.Add(-age)
	e := &domain.QueueEntry{
		ID:          uuid.New(),
		RecipientID: "alice",
		Type:        domain.TypeSystem,
		Status:      status,
		CreatedAt:   created,
	}
	if status == domain.StatusSent {
		e.ProcessedAt = &created
	}
	require.NoError(t, mem.Insert(context.Background(), e))
	return e.ID
}

func TestJanitorRun(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	day := 24 * time.Hour
	oldSent := seed(t, mem, domain.StatusSent, 40*day, now)
	freshSent := seed(t, mem, domain.StatusSent, 10*day, now)
	oldFailed := seed(t, mem, domain.StatusPermanentlyFailed, 70*day, now)
	// Past sent retention but inside the doubled permanent-failure window.
	midFailed := seed(t, mem, domain.StatusPermanentlyFailed, 40*day, now)
	pending := seed(t, mem, domain.StatusPending, 90*day, now)

	j := NewJanitor(mem)
	j.now = func() time.Time { return now }

	res, err := j.Run(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedSent)
	assert.Equal(t, int64(1), res.DeletedPermanentlyFailed)

	_, err = mem.GetByID(context.Background(), oldSent)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	_, err = mem.GetByID(context.Background(), oldFailed)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)

	for _, id := range []uuid.UUID{freshSent, midFailed, pending} {
		_, err := mem.GetByID(context.Background(), id)
		assert.NoError(t, err)
	}
}

func TestJanitorDefaultsRetention(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	day := 24 * time.Hour
	staleSent := seed(t, mem, domain.StatusSent, 10*day, now)
	freshSent := seed(t, mem, domain.StatusSent, 5*day, now)
	// 10 days is past the default but inside the doubled 14-day failure window.
	keptFailed := seed(t, mem, domain.StatusPermanentlyFailed, 10*day, now)

	j := NewJanitor(mem)
	j.now = func() time.Time { return now }

	res, err := j.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedSent, "default retention is %d days", DefaultRetentionDays)
	assert.Equal(t, int64(0), res.DeletedPermanentlyFailed)

	_, err = mem.GetByID(context.Background(), staleSent)
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	for _, id := range []uuid.UUID{freshSent, keptFailed} {
		_, err := mem.GetByID(context.Background(), id)
		assert.NoError(t, err)
	}
}
