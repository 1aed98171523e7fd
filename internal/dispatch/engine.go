// Package dispatch implements the consolidation and dispatch engine: the
// periodic job that groups due pending entries, folds same-kind notifications
// into digests, and hands dispatch-ready messages to the transport boundary.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mealbridge/notification/internal/catalog"
	"github.com/mealbridge/notification/internal/domain"
	"github.com/mealbridge/notification/internal/metrics"
)

const defaultBatchSize = 100

// OutcomeReporter receives per-entry dispatch outcomes. Implemented by the
// retry state machine, which owns every failure transition.
type OutcomeReporter interface {
	ReportSuccess(ctx context.Context, id uuid.UUID) error
	ReportFailure(ctx context.Context, id uuid.UUID, cause error, permanent bool) error
}

// CycleResult summarizes one dispatch cycle.
type CycleResult struct {
	// Processed counts work units: individual notifications, with a
	// consolidated group counting as its member count.
	Processed int `json:"processed"`
	// Consolidated counts entries folded into digests.
	Consolidated int `json:"consolidated"`
	// Sent counts successful transport calls (a digest is one).
	Sent int `json:"sent"`
	// Skipped counts entries deferred or lost to a concurrent worker.
	Skipped int `json:"skipped"`
}

// Engine is the consolidation and dispatch engine. Safe to run concurrently
// from multiple workers: member claiming is exclusive, so peers skip entries
// they lose rather than blocking.
type Engine struct {
	queue     domain.QueueRepository
	policies  domain.PolicyStore
	devices   domain.DeviceStore
	transport Transport
	reporter  OutcomeReporter
	now       func() time.Time
}

// NewEngine wires a dispatch engine.
func NewEngine(queue domain.QueueRepository, policies domain.PolicyStore, devices domain.DeviceStore, transport Transport, reporter OutcomeReporter) *Engine {
	return &Engine{
		queue:     queue,
		policies:  policies,
		devices:   devices,
		transport: transport,
		reporter:  reporter,
		now:       time.Now,
	}
}

type groupKey struct {
	recipient string
	key       string
	typ       domain.NotificationType
}

type group struct {
	groupKey
	members     []*domain.QueueEntry
	maxPriority int
	earliest    time.Time
}

// ProcessCycle runs one dispatch cycle with the given work-unit budget.
// Policy configuration is snapshotted once at the start and held stable for
// the whole cycle.
func (e *Engine) ProcessCycle(ctx context.Context, batchSize int) (CycleResult, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	now := e.now()
	var res CycleResult

	entries, err := e.queue.DuePending(ctx, now, batchSize)
	if err != nil {
		return res, fmt.Errorf("fetch due pending: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	policies, err := e.policies.Snapshot(ctx)
	if err != nil {
		return res, fmt.Errorf("snapshot policies: %w", err)
	}

	groups := buildGroups(entries)
	prefsCache := make(map[string]*domain.Preferences)

	for _, g := range groups {
		// The budget bounds transport calls per cycle in work units, where a
		// consolidated group costs its member count.
		if res.Processed >= batchSize {
			break
		}

		cfg := policies.For(g.typ)
		prefs, ok := prefsCache[g.recipient]
		if !ok {
			prefs, err = e.devices.Preferences(ctx, g.recipient)
			if err != nil {
				return res, fmt.Errorf("load preferences for %s: %w", g.recipient, err)
			}
			prefsCache[g.recipient] = prefs
		}

		ids := memberIDs(g.members)

		// Recipient opted out after admission: terminal drop.
		if prefs.TypeDisabled(g.typ) {
			claimed, err := e.queue.ClaimPending(ctx, ids, now)
			if err != nil {
				return res, fmt.Errorf("claim for drop: %w", err)
			}
			if err := e.queue.MarkDropped(ctx, claimed, now); err != nil {
				return res, fmt.Errorf("mark dropped: %w", err)
			}
			for range claimed {
				metrics.RecordDispatch("dropped")
			}
			res.Processed += len(claimed)
			continue
		}

		// Quiet hours may have changed since admission: push the whole group
		// to the next window end and leave it pending.
		if !cfg.BypassQuietHours {
			if w := prefs.QuietWindow(); w.Contains(now) {
				deferred, err := e.queue.Defer(ctx, ids, w.NextEnd(now))
				if err != nil {
					return res, fmt.Errorf("defer group: %w", err)
				}
				res.Skipped += int(deferred)
				for i := int64(0); i < deferred; i++ {
					metrics.RecordDispatch("deferred")
				}
				continue
			}
		}

		claimedIDs, err := e.queue.ClaimPending(ctx, ids, now)
		if err != nil {
			return res, fmt.Errorf("claim group: %w", err)
		}
		res.Skipped += len(ids) - len(claimedIDs)
		if len(claimedIDs) == 0 {
			continue
		}
		members := filterMembers(g.members, claimedIDs)

		device, err := e.devices.ActiveForRecipient(ctx, g.recipient)
		if err != nil {
			// No push target: every member fails permanently.
			for _, m := range members {
				if rerr := e.reporter.ReportFailure(ctx, m.ID, err, true); rerr != nil {
					log.Error().Err(rerr).Str("id", m.ID.String()).Msg("failed to record missing-device outcome")
				}
			}
			res.Processed += len(members)
			continue
		}

		if len(members) == 1 || cfg.BypassConsolidation {
			res.add(e.dispatchIndividually(ctx, members, device))
		} else {
			res.add(e.dispatchDigest(ctx, g, members, device, now))
		}
	}

	log.Info().
		Int("processed", res.Processed).
		Int("consolidated", res.Consolidated).
		Int("sent", res.Sent).
		Int("skipped", res.Skipped).
		Msg("dispatch cycle completed")
	return res, nil
}

func (r *CycleResult) add(other CycleResult) {
	r.Processed += other.Processed
	r.Consolidated += other.Consolidated
	r.Sent += other.Sent
	r.Skipped += other.Skipped
}

// dispatchIndividually sends each claimed member as its own transport call.
func (e *Engine) dispatchIndividually(ctx context.Context, members []*domain.QueueEntry, device *domain.DeviceToken) CycleResult {
	var res CycleResult
	for _, m := range members {
		msg := domain.PushMessage{
			EntryIDs:    []uuid.UUID{m.ID},
			RecipientID: m.RecipientID,
			DeviceToken: device.Token,
			Platform:    device.Platform,
			Title:       m.Title,
			Body:        m.Body,
			Payload:     m.Payload,
			Count:       1,
		}
		res.Processed++
		if err := e.transport.Send(ctx, msg); err != nil {
			if rerr := e.reporter.ReportFailure(ctx, m.ID, err, false); rerr != nil {
				log.Error().Err(rerr).Str("id", m.ID.String()).Msg("failed to record dispatch failure")
			}
			continue
		}
		if rerr := e.reporter.ReportSuccess(ctx, m.ID); rerr != nil {
			log.Error().Err(rerr).Str("id", m.ID.String()).Msg("failed to record dispatch success")
			continue
		}
		res.Sent++
	}
	return res
}

// dispatchDigest sends one count-summarized message for the whole group. The
// digest is a transport-boundary message only, never a new queue entry.
func (e *Engine) dispatchDigest(ctx context.Context, g group, members []*domain.QueueEntry, device *domain.DeviceToken, now time.Time) CycleResult {
	var res CycleResult
	res.Processed = len(members)

	items := make([]map[string]any, 0, len(members))
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
		items = append(items, map[string]any{
			"id":      m.ID.String(),
			"title":   m.Title,
			"payload": m.Payload,
		})
	}

	msg := domain.PushMessage{
		EntryIDs:    ids,
		RecipientID: g.recipient,
		DeviceToken: device.Token,
		Platform:    device.Platform,
		Title:       catalog.DigestTitle(g.typ, len(members)),
		Body:        catalog.DigestBody,
		Payload: map[string]any{
			"type":  string(g.typ),
			"count": len(members),
			"items": items,
		},
		Digest: true,
		Count:  len(members),
	}

	if err := e.transport.Send(ctx, msg); err != nil {
		for _, m := range members {
			if rerr := e.reporter.ReportFailure(ctx, m.ID, err, false); rerr != nil {
				log.Error().Err(rerr).Str("id", m.ID.String()).Msg("failed to record digest failure")
			}
		}
		return res
	}

	if err := e.queue.MarkConsolidated(ctx, ids, len(members), now); err != nil {
		log.Error().Err(err).Msg("failed to mark digest members consolidated")
		return res
	}
	for range members {
		metrics.RecordDispatch("consolidated")
	}
	res.Consolidated = len(members)
	res.Sent = 1
	return res
}

// buildGroups partitions due entries by (recipient, consolidation key, type)
// and orders groups by descending max priority, then ascending earliest
// schedule time.
func buildGroups(entries []*domain.QueueEntry) []group {
	byKey := make(map[groupKey]*group)
	order := make([]groupKey, 0)
	for _, e := range entries {
		k := groupKey{recipient: e.RecipientID, key: e.ConsolidationKey, typ: e.Type}
		g, ok := byKey[k]
		if !ok {
			g = &group{groupKey: k, maxPriority: e.Priority, earliest: e.ScheduledFor}
			byKey[k] = g
			order = append(order, k)
		}
		g.members = append(g.members, e)
		if e.Priority > g.maxPriority {
			g.maxPriority = e.Priority
		}
		if e.ScheduledFor.Before(g.earliest) {
			g.earliest = e.ScheduledFor
		}
	}

	groups := make([]group, 0, len(byKey))
	for _, k := range order {
		groups = append(groups, *byKey[k])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].maxPriority != groups[j].maxPriority {
			return groups[i].maxPriority > groups[j].maxPriority
		}
		return groups[i].earliest.Before(groups[j].earliest)
	})
	return groups
}

func memberIDs(members []*domain.QueueEntry) []uuid.UUID {
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

func filterMembers(members []*domain.QueueEntry, claimed []uuid.UUID) []*domain.QueueEntry {
	won := make(map[uuid.UUID]struct{}, len(claimed))
	for _, id := range claimed {
		won[id] = struct{}{}
	}
	out := make([]*domain.QueueEntry, 0, len(claimed))
	for _, m := range members {
		if _, ok := won[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}
