package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"go.uber.org/zap"
)

// pending is every batched journal entry of one event, in sequence order.
type pending struct {
	id      calendar.EventID
	entries []journal.Entry
	// snapshot is the freshest local state, or the last journaled projection
	// when the event is gone from the store.
	snapshot calendar.LocalEvent
	inStore  bool
	action   journal.Action
}

func (p pending) keys() []string {
	keys := make([]string, 0, len(p.entries))
	for _, entry := range p.entries {
		keys = append(keys, entry.IdempotencyKey)
	}
	return keys
}

// push drains one journal batch recorded before the run started. enabled is
// the number of adapters in the run; entries drop only when every one of
// them confirmed, so a provider skipped for authorization keeps its entries.
func (o *Orchestrator) push(ctx context.Context, adapters []provider.Adapter, enabled int, highWater int64, window calendar.Window, status *Status, logger *zap.Logger) error {
	if highWater <= 0 {
		return nil
	}
	entries, err := o.journal.PeekBatch(ctx, o.batchSize(), highWater)
	if err != nil {
		logger.Error("journal peek failed", zap.Error(err))
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	status.Batch = len(entries)
	if len(adapters) == 0 {
		status.Retained = len(entries)
		return nil
	}

	index, err := o.loadIndex(ctx)
	if err != nil {
		logger.Warn("push skipped: local store unreadable", zap.Error(err))
		status.Retained = len(entries)
		return nil
	}
	batch := coalesce(entries, index)

	var dropKeys []string
	var candidates []pending
	for _, item := range batch {
		if item.action != journal.ActionDelete && !item.hasAnyBinding() && !window.Overlaps(item.snapshot.Start, item.snapshot.End) {
			status.Skipped++
			dropKeys = append(dropKeys, item.keys()...)
			o.trace(diagnostics.Entry{Phase: diagnostics.PhaseDrop, RunID: status.RunID, EventID: item.id.String(),
				Message: "outside sync window; not pushed"})
			continue
		}
		candidates = append(candidates, item)
	}

	confirmed := make(map[calendar.EventID]int, len(candidates))
	for _, adapter := range adapters {
		report := status.report(adapter.ID().String())
		accepted := o.pushTo(ctx, adapter, candidates, status.RunID, report, logger)
		for id := range accepted {
			confirmed[id]++
		}
	}

	for _, item := range candidates {
		if len(adapters) == enabled && confirmed[item.id] == enabled {
			dropKeys = append(dropKeys, item.keys()...)
			for _, key := range item.keys() {
				o.trace(diagnostics.Entry{Phase: diagnostics.PhaseDrop, RunID: status.RunID, EventID: item.id.String(),
					IdempotencyKey: key, Message: "confirmed by every adapter"})
			}
			continue
		}
		status.Retained += len(item.entries)
	}
	if err := o.journal.Drop(ctx, dropKeys); err != nil {
		logger.Error("journal drop failed", zap.Error(err))
		return err
	}
	status.Dropped = len(dropKeys)
	return nil
}

// pushTo submits intents to one adapter and returns the ids it confirmed.
// Results are matched to intents by local id, never by position.
func (o *Orchestrator) pushTo(ctx context.Context, adapter provider.Adapter, items []pending, runID string, report *ProviderReport, logger *zap.Logger) map[calendar.EventID]struct{} {
	id := adapter.ID()
	logger = logger.With(zap.String(fieldProvider, id.String()))
	accepted := make(map[calendar.EventID]struct{}, len(items))
	if len(items) == 0 {
		return accepted
	}

	intents := make([]provider.PushIntent, 0, len(items))
	byID := make(map[calendar.EventID]pending, len(items))
	for _, item := range items {
		intent := provider.PushIntent{Action: item.action, Event: item.snapshot.Clone()}
		if binding, ok := item.snapshot.Binding(id); ok {
			intent.Binding = &binding
			if intent.Action == journal.ActionCreate {
				intent.Action = journal.ActionUpdate
			}
		} else if intent.Action == journal.ActionUpdate {
			intent.Action = journal.ActionCreate
		}
		intents = append(intents, intent)
		byID[item.id] = item
		o.trace(diagnostics.Entry{Phase: diagnostics.PhasePush, Provider: id.String(), RunID: runID,
			EventID: item.id.String(), Message: string(intent.Action)})
	}
	report.Pushed = len(intents)

	results, err := adapter.Push(ctx, intents)
	if err != nil {
		failure := provider.NewFailure(err)
		report.PushFailure = failure
		logger.Warn("push failed",
			zap.String("kind", string(failure.Kind)),
			zap.String("user_message", failure.Message),
			zap.Error(err))
	}

	for _, result := range results {
		item, known := byID[result.LocalID]
		if !known {
			logger.Warn("ignoring push result for unknown event", zap.String(fieldEventID, result.LocalID.String()))
			continue
		}
		if !result.Success {
			report.Failed++
			failure := provider.NewFailure(result.Err)
			if failure == nil {
				failure = provider.NewFailure(fmt.Errorf("%w: no reason given", provider.ErrRejected))
			}
			logger.Warn("push rejected",
				zap.String(fieldEventID, result.LocalID.String()),
				zap.String("kind", string(failure.Kind)),
				zap.String("user_message", failure.Message),
				zap.Error(result.Err))
			o.trace(diagnostics.Entry{Phase: diagnostics.PhasePush, Provider: id.String(), RunID: runID,
				EventID: result.LocalID.String(), Message: "rejected: " + failure.Detail})
			continue
		}
		if result.Binding != nil && item.action != journal.ActionDelete && item.inStore {
			if err := o.rebind(ctx, item, *result.Binding, runID); err != nil {
				logger.Error("rebind failed; entry kept for retry",
					zap.String(fieldEventID, item.id.String()),
					zap.Error(err))
				continue
			}
		}
		accepted[item.id] = struct{}{}
		report.Confirmed++
	}
	return accepted
}

func (o *Orchestrator) rebind(ctx context.Context, item pending, binding calendar.RemoteBinding, runID string) error {
	before, _ := item.snapshot.Binding(binding.Provider)
	err := o.bridge.Rebind(ctx, item.id, binding)
	if errors.Is(err, store.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	o.trace(diagnostics.Entry{Phase: diagnostics.PhaseRebind, Provider: binding.Provider.String(), RunID: runID,
		EventID: item.id.String(), Before: before.ExternalID + " " + before.ETag, After: binding.ExternalID + " " + binding.ETag})
	return nil
}

func (o *Orchestrator) batchSize() int {
	if o.settings.BatchSize > 0 {
		return o.settings.BatchSize
	}
	return 50
}

// coalesce folds the batch into one item per event, keeping first-seen order.
// The latest action wins; the snapshot comes from the store when the event
// still exists and from the journaled projection otherwise.
func coalesce(entries []journal.Entry, index localIndex) []pending {
	order := make([]calendar.EventID, 0, len(entries))
	grouped := make(map[calendar.EventID]*pending, len(entries))
	for _, entry := range entries {
		id := calendar.EventID(entry.EventID)
		item, seen := grouped[id]
		if !seen {
			item = &pending{id: id}
			grouped[id] = item
			order = append(order, id)
		}
		item.entries = append(item.entries, entry)
		item.action = entry.Action
	}

	batch := make([]pending, 0, len(order))
	for _, id := range order {
		item := grouped[id]
		if event, ok := index.events[id]; ok {
			item.snapshot = event
			item.inStore = true
		} else {
			item.snapshot = lastKnown(id, item.entries)
		}
		batch = append(batch, *item)
	}
	return batch
}

func lastKnown(id calendar.EventID, entries []journal.Entry) calendar.LocalEvent {
	for index := len(entries) - 1; index >= 0; index-- {
		if projection, ok := entries[index].LastKnown(); ok {
			return projection.ToEvent(id)
		}
	}
	return calendar.LocalEvent{ID: id}
}

func (p pending) hasAnyBinding() bool {
	return len(p.snapshot.Bindings) > 0
}
