// Package testutil provides an in-memory implementation of the storage ports
// for unit tests. State transitions mirror the conditional-update semantics of
// the postgres repositories: a transition either wins atomically under the
// store lock or reports ErrNotClaimable.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mealbridge/notification/internal/domain"
)

// Memory implements QueueRepository, ArchiveRepository, PolicyStore,
// DeviceStore and StatsRepository backed by maps.
type Memory struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]*domain.QueueEntry
	archive  []domain.DeadLetterEntry
	policies map[domain.NotificationType]domain.PriorityConfig
	devices  map[string]domain.DeviceToken
	prefs    map[string]domain.Preferences
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[uuid.UUID]*domain.QueueEntry),
		policies: make(map[domain.NotificationType]domain.PriorityConfig),
		devices:  make(map[string]domain.DeviceToken),
		prefs:    make(map[string]domain.Preferences),
	}
}

func copyEntry(e *domain.QueueEntry) *domain.QueueEntry {
	c := *e
	c.ErrorHistory = append([]domain.ErrorRecord(nil), e.ErrorHistory...)
	c.ConsolidatedIDs = append([]uuid.UUID(nil), e.ConsolidatedIDs...)
	return &c
}

// ── QueueRepository ─────────────────────────────────────────────────────────

func (m *Memory) Insert(_ context.Context, e *domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = copyEntry(e)
	return nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return copyEntry(e), nil
}

func (m *Memory) CountRecent(_ context.Context, recipientID string, t domain.NotificationType, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.RecipientID == recipientID && e.Type == t &&
			!e.CreatedAt.Before(since) &&
			(e.Status == domain.StatusPending || e.Status == domain.StatusSent) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) DuePending(_ context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.QueueEntry
	for _, e := range m.entries {
		if e.Status == domain.StatusPending && !e.ScheduledFor.After(now) {
			due = append(due, copyEntry(e))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ClaimPending(_ context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var won []uuid.UUID
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok || e.Status != domain.StatusPending {
			continue
		}
		e.Status = domain.StatusProcessing
		e.Attempts++
		t := at
		e.LastAttemptAt = &t
		won = append(won, id)
	}
	return won, nil
}

func (m *Memory) ClaimDueRetries(_ context.Context, now time.Time, limit int) ([]*domain.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*domain.QueueEntry
	for _, e := range m.entries {
		if e.Status == domain.StatusFailed && e.Attempts < e.MaxAttempts &&
			e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]*domain.QueueEntry, 0, len(due))
	for _, e := range due {
		e.Status = domain.StatusProcessing
		e.Attempts++
		t := now
		e.LastAttemptAt = &t
		claimed = append(claimed, copyEntry(e))
	}
	return claimed, nil
}

func (m *Memory) Defer(_ context.Context, ids []uuid.UUID, until time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if e, ok := m.entries[id]; ok && e.Status == domain.StatusPending {
			e.ScheduledFor = until
			n++
		}
	}
	return n, nil
}

func (m *Memory) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if e.Status != domain.StatusPending && e.Status != domain.StatusProcessing {
		return domain.ErrNotClaimable
	}
	e.Status = domain.StatusSent
	t := at
	e.ProcessedAt = &t
	e.NextRetryAt = nil
	return nil
}

func (m *Memory) MarkConsolidated(_ context.Context, ids []uuid.UUID, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok || e.Status != domain.StatusProcessing {
			continue
		}
		e.Status = domain.StatusConsolidated
		e.ConsolidatedCount = count
		t := at
		e.ProcessedAt = &t
		e.NextRetryAt = nil
	}
	return nil
}

func (m *Memory) MarkDropped(_ context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.entries[id]
		if !ok || (e.Status != domain.StatusPending && e.Status != domain.StatusProcessing) {
			continue
		}
		e.Status = domain.StatusDropped
		t := at
		e.ProcessedAt = &t
		e.NextRetryAt = nil
	}
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID, rec domain.ErrorRecord, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if e.Status != domain.StatusPending && e.Status != domain.StatusProcessing {
		return domain.ErrNotClaimable
	}
	e.Status = domain.StatusFailed
	e.LastError = rec.Error
	e.ErrorHistory = append(e.ErrorHistory, rec)
	t := nextRetryAt
	e.NextRetryAt = &t
	return nil
}

func (m *Memory) MarkPermanentlyFailed(_ context.Context, id uuid.UUID, rec domain.ErrorRecord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrEntryNotFound
	}
	switch e.Status {
	case domain.StatusPending, domain.StatusProcessing, domain.StatusFailed:
	default:
		return domain.ErrNotClaimable
	}
	e.Status = domain.StatusPermanentlyFailed
	e.LastError = rec.Error
	e.ErrorHistory = append(e.ErrorHistory, rec)
	e.NextRetryAt = nil
	t := at
	e.ProcessedAt = &t
	m.archive = append(m.archive, domain.Snapshot(e, at))
	return nil
}

func (m *Memory) DeleteSentBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.Status == domain.StatusSent && e.ProcessedAt != nil && e.ProcessedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) DeletePermanentlyFailedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.Status == domain.StatusPermanentlyFailed && e.CreatedAt.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Status]int64)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// ── ArchiveRepository ───────────────────────────────────────────────────────

func (m *Memory) ArchiveInsert(_ context.Context, d domain.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archive = append(m.archive, d)
	return nil
}

func (m *Memory) List(_ context.Context, limit int) ([]domain.DeadLetterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.DeadLetterEntry(nil), m.archive...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Archive adapts Memory to domain.ArchiveRepository.
type Archive struct{ *Memory }

func (a Archive) Insert(ctx context.Context, d domain.DeadLetterEntry) error {
	return a.ArchiveInsert(ctx, d)
}

// ── PolicyStore ─────────────────────────────────────────────────────────────

func (m *Memory) Get(_ context.Context, t domain.NotificationType) (domain.PriorityConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.policies[t]; ok {
		return cfg, nil
	}
	return domain.DefaultPolicy(t), nil
}

func (m *Memory) Snapshot(_ context.Context) (domain.PolicySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(domain.PolicySnapshot, len(m.policies))
	for k, v := range m.policies {
		snap[k] = v
	}
	return snap, nil
}

func (m *Memory) Upsert(_ context.Context, cfg domain.PriorityConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[cfg.Type] = cfg
	return nil
}

// ── DeviceStore ─────────────────────────────────────────────────────────────

func (m *Memory) UpsertDevice(_ context.Context, d domain.DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = time.Now()
	m.devices[d.Token] = d
	return nil
}

func (m *Memory) ActiveForRecipient(_ context.Context, recipientID string) (*domain.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.DeviceToken
	for _, d := range m.devices {
		if d.RecipientID != recipientID || !d.IsActive {
			continue
		}
		d := d
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = &d
		}
	}
	if latest == nil {
		return nil, domain.ErrNoActiveDevice
	}
	return latest, nil
}

func (m *Memory) Deactivate(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[token]
	if !ok {
		return nil
	}
	d.IsActive = false
	m.devices[token] = d
	return nil
}

func (m *Memory) DeactivateForRecipient(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, d := range m.devices {
		if d.RecipientID == recipientID && d.IsActive {
			d.IsActive = false
			m.devices[token] = d
			n++
		}
	}
	return n, nil
}

func (m *Memory) Preferences(_ context.Context, recipientID string) (*domain.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[recipientID]; ok {
		p := p
		return &p, nil
	}
	return nil, nil
}

func (m *Memory) UpsertPreferences(_ context.Context, p domain.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.RecipientID] = p
	return nil
}

// Devices adapts Memory to domain.DeviceStore (Upsert name collides with the
// policy store on the shared struct).
type Devices struct{ *Memory }

func (d Devices) Upsert(ctx context.Context, t domain.DeviceToken) error {
	return d.UpsertDevice(ctx, t)
}

// ── StatsRepository ─────────────────────────────────────────────────────────

func (m *Memory) StatusCounts(_ context.Context, since time.Time) (map[domain.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.Status]int64)
	for _, e := range m.entries {
		if !e.CreatedAt.Before(since) {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (m *Memory) PendingRetryCount(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.Status == domain.StatusFailed && e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) PlatformBreakdown(ctx context.Context, since time.Time) ([]domain.PlatformStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type bucket struct {
		count   int64
		latency float64
	}
	type agg struct {
		delivered int64
		attempts  int64
		latency   float64
		byAttempt map[int]*bucket
	}
	byPlatform := make(map[domain.Platform]*agg)
	for _, e := range m.entries {
		if e.Status != domain.StatusSent || e.CreatedAt.Before(since) || e.ProcessedAt == nil {
			continue
		}
		platform := domain.PlatformIOS
		for _, d := range m.devices {
			if d.RecipientID == e.RecipientID && d.IsActive {
				platform = d.Platform
				break
			}
		}
		a := byPlatform[platform]
		if a == nil {
			a = &agg{byAttempt: make(map[int]*bucket)}
			byPlatform[platform] = a
		}
		secs := e.ProcessedAt.Sub(e.CreatedAt).Seconds()
		a.delivered++
		a.attempts += int64(e.Attempts)
		a.latency += secs
		b := a.byAttempt[e.Attempts]
		if b == nil {
			b = &bucket{}
			a.byAttempt[e.Attempts] = b
		}
		b.count++
		b.latency += secs
	}
	out := make([]domain.PlatformStats, 0, len(byPlatform))
	for p, a := range byPlatform {
		byAttempts := make(map[int]float64, len(a.byAttempt))
		for n, b := range a.byAttempt {
			byAttempts[n] = b.latency / float64(b.count)
		}
		out = append(out, domain.PlatformStats{
			Platform:          p,
			Delivered:         a.delivered,
			AvgAttempts:       float64(a.attempts) / float64(a.delivered),
			AvgLatencySecs:    a.latency / float64(a.delivered),
			LatencyByAttempts: byAttempts,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *Memory) TopErrors(_ context.Context, since time.Time, limit int) ([]domain.ErrorCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range m.entries {
		if e.CreatedAt.Before(since) || e.LastError == "" {
			continue
		}
		if e.Status == domain.StatusFailed || e.Status == domain.StatusPermanentlyFailed {
			counts[e.LastError]++
		}
	}
	out := make([]domain.ErrorCount, 0, len(counts))
	for msg, n := range counts {
		out = append(out, domain.ErrorCount{Error: msg, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
