package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/retry"
	"github.com/mealbridge/notification/internal/testutil"
)

type transportFunc func(ctx context.Context, msg domain.PushMessage) error

func (f transportFunc) Send(ctx context.Context, msg domain.PushMessage) error { return f(ctx, msg) }

type capture struct {
	sent []domain.PushMessage
	fail error
}

func (c *capture) Send(_ context.Context, msg domain.PushMessage) error {
	c.sent = append(c.sent, msg)
	return c.fail
}

func newTestEngine(t *testing.T, mem *testutil.Memory, transport Transport, now time.Time) *Engine {
	t.Helper()
	machine := retry.NewMachine(mem, testutil.Devices{Memory: mem})
	e := NewEngine(mem, mem, testutil.Devices{Memory: mem}, transport, machine)
	e.now = func() time.Time { return now }
	return e
}

func registerDevice(t *testing.T, mem *testutil.Memory, recipient, token string) {
	t.Helper()
	err := mem.UpsertDevice(context.Background(), domain.DeviceToken{
		Token:       token,
		RecipientID: recipient,
		Platform:    domain.PlatformIOS,
		IsActive:    true,
	})
	require.NoError(t, err)
}

func queued(t *testing.T, mem *testutil.Memory, recipient string, typ domain.NotificationType, key string, priority int, scheduled time.Time) uuid.UUID {
	t.Helper()
	e := &domain.QueueEntry{
		ID:               uuid.New(),
		RecipientID:      recipient,
		Type:             typ,
		ConsolidationKey: key,
		Title:            "title",
		Body:             "body",
		Priority:         priority,
		Status:           domain.StatusPending,
		ScheduledFor:     scheduled,
		MaxAttempts:      domain.DefaultMaxAttempts,
		CreatedAt:        scheduled,
	}
	require.NoError(t, mem.Insert(context.Background(), e))
	return e.ID
}

func TestProcessCycle_ConsolidatesGroupIntoDigest(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		ids = append(ids, queued(t, mem, "alice", domain.TypePostLiked, "post_liked:alice:100", 3, now.Add(-time.Minute)))
	}

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, res.Consolidated)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 0, res.Skipped)

	require.Len(t, tr.sent, 1)
	msg := tr.sent[0]
	assert.True(t, msg.Digest)
	assert.Equal(t, 4, msg.Count)
	assert.Equal(t, "tok-1", msg.DeviceToken)
	assert.Len(t, msg.EntryIDs, 4)
	assert.Equal(t, 4, msg.Payload["count"])

	for _, id := range ids {
		e, err := mem.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusConsolidated, e.Status)
		assert.Equal(t, 4, e.ConsolidatedCount)
	}
}

func TestProcessCycle_BypassConsolidationSendsIndividually(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")

	require.NoError(t, mem.Upsert(context.Background(), domain.PriorityConfig{
		Type:                domain.TypeNewMessage,
		BasePriority:        8,
		BypassConsolidation: true,
	}))

	for i := 0; i < 3; i++ {
		queued(t, mem, "alice", domain.TypeNewMessage, "new_message:alice:100", 8, now.Add(-time.Minute))
	}

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Consolidated)
	assert.Equal(t, 3, res.Sent)
	require.Len(t, tr.sent, 3)
	for _, msg := range tr.sent {
		assert.False(t, msg.Digest)
		assert.Equal(t, 1, msg.Count)
	}
}

func TestProcessCycle_SingleEntryIsNotADigest(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")
	id := queued(t, mem, "alice", domain.TypeNewListing, "new_listing:alice:100", 5, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Sent)
	require.Len(t, tr.sent, 1)
	assert.False(t, tr.sent[0].Digest)

	e, err := mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, e.Status)
	assert.Equal(t, 1, e.Attempts)
}

func TestProcessCycle_HigherPriorityGroupFirst(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")
	registerDevice(t, mem, "bob", "tok-2")

	queued(t, mem, "bob", domain.TypePostLiked, "post_liked:bob:100", 3, now.Add(-2*time.Minute))
	queued(t, mem, "alice", domain.TypeNewMessage, "new_message:alice:100", 8, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	_, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	require.Len(t, tr.sent, 2)
	assert.Equal(t, "alice", tr.sent[0].RecipientID)
	assert.Equal(t, "bob", tr.sent[1].RecipientID)
}

func TestProcessCycle_BudgetBoundsWorkUnits(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")
	registerDevice(t, mem, "bob", "tok-2")

	// Higher-priority group of 3 fills a budget of 3; bob's group must wait
	// for the next cycle.
	for i := 0; i < 3; i++ {
		queued(t, mem, "alice", domain.TypeNewMessage, "new_message:alice:100", 8, now.Add(-time.Minute))
	}
	queued(t, mem, "bob", domain.TypePostLiked, "post_liked:bob:100", 3, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	for _, msg := range tr.sent {
		assert.Equal(t, "alice", msg.RecipientID)
	}

	// Next cycle picks up the remainder.
	res, err = eng.ProcessCycle(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestProcessCycle_RequeuesIntoQuietHours(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")
	require.NoError(t, mem.UpsertPreferences(context.Background(), domain.Preferences{
		RecipientID: "alice",
		QuietStart:  "22:00",
		QuietEnd:    "08:00",
	}))

	id := queued(t, mem, "alice", domain.TypePostLiked, "post_liked:alice:100", 3, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, tr.sent)

	e, err := mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.Status)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), e.ScheduledFor.UTC())
}

func TestProcessCycle_QuietHoursBypassForUrgentType(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")
	require.NoError(t, mem.UpsertPreferences(context.Background(), domain.Preferences{
		RecipientID: "alice",
		QuietStart:  "22:00",
		QuietEnd:    "08:00",
	}))
	require.NoError(t, mem.Upsert(context.Background(), domain.PriorityConfig{
		Type:             domain.TypeSystem,
		BasePriority:     7,
		BypassQuietHours: true,
	}))

	queued(t, mem, "alice", domain.TypeSystem, "system:alice:100", 7, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestProcessCycle_DropsOptedOutEntries(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")
	require.NoError(t, mem.UpsertPreferences(context.Background(), domain.Preferences{
		RecipientID:   "alice",
		DisabledTypes: []domain.NotificationType{domain.TypeForumReply},
	}))

	id := queued(t, mem, "alice", domain.TypeForumReply, "forum_reply:alice:100", 4, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Processed)
	assert.Empty(t, tr.sent)

	e, err := mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDropped, e.Status)
}

func TestProcessCycle_NoDeviceFailsPermanently(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id := queued(t, mem, "ghost", domain.TypeNewListing, "new_listing:ghost:100", 5, now.Add(-time.Minute))

	tr := &capture{}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Sent)
	assert.Empty(t, tr.sent)

	e, err := mem.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPermanentlyFailed, e.Status)

	letters, err := mem.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].OriginalID)
}

func TestProcessCycle_DigestFailureSchedulesMemberRetries(t *testing.T) {
	mem := testutil.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	registerDevice(t, mem, "alice", "tok-1")

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		ids = append(ids, queued(t, mem, "alice", domain.TypePostLiked, "post_liked:alice:100", 3, now.Add(-time.Minute)))
	}

	tr := &capture{fail: retry.NewRetryableError(errors.New("gateway returned 503"))}
	eng := newTestEngine(t, mem, tr, now)

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 0, res.Consolidated)
	assert.Equal(t, 2, res.Processed)

	for _, id := range ids {
		e, err := mem.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, e.Status)
		require.NotNil(t, e.NextRetryAt)
		require.Len(t, e.ErrorHistory, 1)
	}
}

func TestProcessCycle_EmptyQueueIsANoOp(t *testing.T) {
	mem := testutil.NewMemory()
	sends := 0
	eng := newTestEngine(t, mem, transportFunc(func(context.Context, domain.PushMessage) error {
		sends++
		return nil
	}), time.Now())

	res, err := eng.ProcessCycle(context.Background(), 50)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, sends)
}
