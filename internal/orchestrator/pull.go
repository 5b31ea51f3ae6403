package orchestrator

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"go.uber.org/zap"
)

type bindingKey struct {
	provider   calendar.ProviderID
	calendarID string
	externalID string
}

// localIndex resolves remote identifiers to local events.
type localIndex struct {
	events    map[calendar.EventID]calendar.LocalEvent
	byBinding map[bindingKey]calendar.EventID
}

func (o *Orchestrator) loadIndex(ctx context.Context) (localIndex, error) {
	events, err := o.bridge.RangeQuery(ctx, calendar.Window{})
	if err != nil {
		return localIndex{}, err
	}
	index := localIndex{
		events:    make(map[calendar.EventID]calendar.LocalEvent, len(events)),
		byBinding: make(map[bindingKey]calendar.EventID, len(events)),
	}
	for _, event := range events {
		index.events[event.ID] = event
		for _, binding := range event.Bindings {
			index.byBinding[bindingKey{binding.Provider, binding.CalendarID, binding.ExternalID}] = event.ID
		}
	}
	return index, nil
}

// resolve returns the local id a delta applies to, or "" when none is known.
func (index localIndex) resolve(delta provider.RemoteDelta) calendar.EventID {
	if delta.LocalID != "" {
		event, exists := index.events[delta.LocalID]
		if !exists {
			return delta.LocalID
		}
		binding, bound := event.Binding(delta.Provider)
		if !bound || binding.ExternalID == delta.ExternalID {
			return delta.LocalID
		}
	}
	return index.byBinding[bindingKey{delta.Provider, delta.CalendarID, delta.ExternalID}]
}

// pull runs the pull phase for one adapter and returns the failure kind, if any.
func (o *Orchestrator) pull(ctx context.Context, adapter provider.Adapter, window calendar.Window, runID string, report *ProviderReport, logger *zap.Logger) provider.FailureKind {
	id := adapter.ID()
	logger = logger.With(zap.String(fieldProvider, id.String()))
	now := o.clock().UTC()

	state, err := o.tokens.Load(ctx, id)
	if err != nil {
		return o.pullFailed(report, logger, runID, fmt.Errorf("load token: %w", err))
	}
	result, err := adapter.Pull(ctx, provider.PullRequest{SinceToken: state.Token(), Window: window})
	if err != nil {
		kind := o.pullFailed(report, logger, runID, err)
		if kind == provider.FailureCursorInvalid {
			if clearErr := o.tokens.Clear(ctx, id, now); clearErr != nil {
				logger.Error("clearing cursor failed", zap.Error(clearErr))
			} else {
				report.TokenCleared = true
			}
		}
		return kind
	}
	report.Pulled = len(result.Deltas)
	o.trace(diagnostics.Entry{Phase: diagnostics.PhasePull, Provider: id.String(), RunID: runID,
		Message: fmt.Sprintf("pulled %d deltas", len(result.Deltas))})

	if len(result.Deltas) > 0 {
		if err := o.apply(ctx, result.Deltas, runID, report); err != nil {
			return o.pullFailed(report, logger, runID, fmt.Errorf("apply deltas: %w", err))
		}
	}
	if err := o.tokens.Advance(ctx, id, result.Token, now); err != nil {
		return o.pullFailed(report, logger, runID, fmt.Errorf("persist token: %w", err))
	}
	logger.Debug("pull applied",
		zap.Int("pulled", report.Pulled),
		zap.Int("merged", report.Merged),
		zap.Int("deleted", report.Deleted))
	return provider.FailureNone
}

// apply merges upserts and applies resolved deletes. Remote deletes for items
// that never reached the local store are ignored.
func (o *Orchestrator) apply(ctx context.Context, deltas []provider.RemoteDelta, runID string, report *ProviderReport) error {
	index, err := o.loadIndex(ctx)
	if err != nil {
		return err
	}
	deleted, err := o.pendingDeletes(ctx, deltas, index)
	if err != nil {
		return err
	}
	var patches []calendar.EventPatch
	var deletes []calendar.EventID
	for _, delta := range deltas {
		localID := index.resolve(delta)
		switch delta.Kind {
		case provider.DeltaUpsert:
			if delta.Patch == nil {
				continue
			}
			if localID == "" {
				localID = provider.DeriveLocalID(delta.Provider, delta.CalendarID, delta.ExternalID)
			}
			if deleted[localID] {
				o.trace(diagnostics.Entry{Phase: diagnostics.PhaseMerge, Provider: delta.Provider.String(), RunID: runID,
					EventID: localID.String(), Message: "skipped " + delta.ExternalID + ": pending local delete"})
				continue
			}
			patch := *delta.Patch
			patch.ID = localID
			if patch.Binding == nil {
				binding := delta.Binding
				patch.Binding = &binding
			}
			patches = append(patches, patch)
			index.byBinding[bindingKey{delta.Provider, delta.CalendarID, delta.ExternalID}] = localID
			o.trace(diagnostics.Entry{Phase: diagnostics.PhaseMerge, Provider: delta.Provider.String(), RunID: runID,
				EventID: localID.String(), Message: "upsert " + delta.ExternalID})
		case provider.DeltaDelete:
			if localID == "" {
				continue
			}
			if _, exists := index.events[localID]; !exists {
				continue
			}
			deletes = append(deletes, localID)
			o.trace(diagnostics.Entry{Phase: diagnostics.PhaseMerge, Provider: delta.Provider.String(), RunID: runID,
				EventID: localID.String(), Message: "delete " + delta.ExternalID})
		}
	}
	if err := o.bridge.Merge(ctx, patches); err != nil {
		return err
	}
	report.Merged = len(patches)
	if err := o.bridge.Delete(ctx, deletes); err != nil {
		return err
	}
	report.Deleted = len(deletes)
	return nil
}

// pendingDeletes reports which upsert targets are gone locally with a delete
// still queued. Merging those would resurrect the event before the delete
// reaches the provider.
func (o *Orchestrator) pendingDeletes(ctx context.Context, deltas []provider.RemoteDelta, index localIndex) (map[calendar.EventID]bool, error) {
	var missing []string
	for _, delta := range deltas {
		if delta.Kind != provider.DeltaUpsert || delta.Patch == nil {
			continue
		}
		localID := index.resolve(delta)
		if localID == "" {
			localID = provider.DeriveLocalID(delta.Provider, delta.CalendarID, delta.ExternalID)
		}
		if _, exists := index.events[localID]; !exists {
			missing = append(missing, localID.String())
		}
	}
	deleted := make(map[calendar.EventID]bool)
	if len(missing) == 0 {
		return deleted, nil
	}
	latest, err := o.journal.Latest(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, entry := range latest {
		if entry.Action == journal.ActionDelete {
			deleted[calendar.EventID(id)] = true
		}
	}
	return deleted, nil
}

func (o *Orchestrator) pullFailed(report *ProviderReport, logger *zap.Logger, runID string, err error) provider.FailureKind {
	failure := provider.NewFailure(err)
	report.PullFailure = failure
	logger.Warn("pull failed",
		zap.String("kind", string(failure.Kind)),
		zap.String("user_message", failure.Message),
		zap.Error(err))
	o.trace(diagnostics.Entry{Phase: diagnostics.PhasePull, Provider: report.Provider, RunID: runID, Message: failure.Detail})
	return failure.Kind
}
