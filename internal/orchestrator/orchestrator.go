// Package orchestrator drives synchronization runs: a pull phase for every
// enabled adapter followed by one push phase over a bounded journal batch.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/config"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	fieldRunID    = "run_id"
	fieldProvider = "provider"
	fieldEventID  = "event_id"
)

var errMissingDependency = errors.New("orchestrator: store, journal and token store are required")

// Ledger is the journal surface a run needs.
type Ledger interface {
	HighWater(ctx context.Context) (int64, error)
	PeekBatch(ctx context.Context, max int, upTo int64) ([]journal.Entry, error)
	Drop(ctx context.Context, keys []string) error
	Latest(ctx context.Context, eventIDs []string) (map[string]journal.Entry, error)
}

// TokenStore persists per-provider cursors.
type TokenStore interface {
	Load(ctx context.Context, id calendar.ProviderID) (provider.TokenState, error)
	Advance(ctx context.Context, id calendar.ProviderID, token string, at time.Time) error
	Clear(ctx context.Context, id calendar.ProviderID, at time.Time) error
}

// Config describes the dependencies of an Orchestrator.
type Config struct {
	Sync        config.SyncConfig
	Adapters    []provider.Adapter
	Store       store.Bridge
	Journal     Ledger
	Tokens      TokenStore
	Diagnostics diagnostics.Recorder
	Clock       func() time.Time
	RunIDs      func() string
	Logger      *zap.Logger
}

// Orchestrator runs at most one synchronization pass at a time.
type Orchestrator struct {
	settings    config.SyncConfig
	adapters    []provider.Adapter
	bridge      store.Bridge
	journal     Ledger
	tokens      TokenStore
	diagnostics diagnostics.Recorder
	clock       func() time.Time
	runIDs      func() string
	logger      *zap.Logger

	running atomic.Bool
	enabled atomic.Bool

	statusMu   sync.RWMutex
	lastStatus Status
}

// New constructs an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Journal == nil || cfg.Tokens == nil {
		return nil, errMissingDependency
	}
	orchestrator := &Orchestrator{
		settings:    cfg.Sync,
		adapters:    append([]provider.Adapter(nil), cfg.Adapters...),
		bridge:      cfg.Store,
		journal:     cfg.Journal,
		tokens:      cfg.Tokens,
		diagnostics: cfg.Diagnostics,
		clock:       cfg.Clock,
		runIDs:      cfg.RunIDs,
		logger:      cfg.Logger,
	}
	if orchestrator.diagnostics == nil {
		orchestrator.diagnostics = discardTrace{}
	}
	if orchestrator.clock == nil {
		orchestrator.clock = time.Now
	}
	if orchestrator.runIDs == nil {
		orchestrator.runIDs = newRunID
	}
	if orchestrator.logger == nil {
		orchestrator.logger = zap.NewNop()
	}
	orchestrator.enabled.Store(cfg.Sync.Enabled)
	return orchestrator, nil
}

// SetEnabled flips the global enabled flag at runtime.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.enabled.Store(enabled)
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastStatus returns the status of the most recent run that was not rejected as already running.
func (o *Orchestrator) LastStatus() Status {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.lastStatus
}

// Run executes one synchronization pass. Overlapping calls return
// StateAlreadyRunning without touching any adapter. Only journal storage
// failures are returned as errors; provider failures are reported in the status.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (Status, error) {
	startedAt := o.clock().UTC()
	if !o.enabled.Load() {
		return o.finish(Status{Trigger: trigger, State: StateDisabled, StartedAt: startedAt}), nil
	}
	if !o.running.CompareAndSwap(false, true) {
		return Status{Trigger: trigger, State: StateAlreadyRunning, StartedAt: startedAt}, nil
	}
	defer o.running.Store(false)

	status := Status{RunID: o.runIDs(), Trigger: trigger, StartedAt: startedAt}
	logger := o.logger.With(zap.String(fieldRunID, status.RunID), zap.String("trigger", string(trigger)))

	adapters := o.enabledAdapters()
	if len(adapters) == 0 {
		status.State = StateNothingToDo
		logger.Debug("no enabled adapters")
		return o.finish(status), nil
	}

	highWater, err := o.journal.HighWater(ctx)
	if err != nil {
		logger.Error("journal high-water read failed", zap.Error(err))
		return o.finish(status), err
	}
	window := calendar.NewSyncWindow(startedAt, o.settings.StabilityMargin, o.settings.WindowWeeks)
	o.trace(diagnostics.Entry{Phase: diagnostics.PhaseRun, RunID: status.RunID, Message: "run started: " + string(trigger)})

	var pushable []provider.Adapter
	for _, adapter := range adapters {
		report := status.report(adapter.ID().String())
		if kind := o.pull(ctx, adapter, window, status.RunID, report, logger); kind == provider.FailureUnauthorized {
			continue
		}
		pushable = append(pushable, adapter)
	}

	if err := o.push(ctx, pushable, len(adapters), highWater, window, &status, logger); err != nil {
		return o.finish(status), err
	}

	status.State = StateCompleted
	status = o.finish(status)
	logger.Info("sync run completed",
		zap.Int("batch", status.Batch),
		zap.Int("dropped", status.Dropped),
		zap.Int("retained", status.Retained),
		zap.Duration("elapsed", status.FinishedAt.Sub(status.StartedAt)))
	o.trace(diagnostics.Entry{Phase: diagnostics.PhaseRun, RunID: status.RunID, Message: "run completed"})
	return status, nil
}

func (o *Orchestrator) enabledAdapters() []provider.Adapter {
	enabled := make([]provider.Adapter, 0, len(o.adapters))
	for _, adapter := range o.adapters {
		if o.settings.ProviderEnabled(adapter.ID().String()) {
			enabled = append(enabled, adapter)
		}
	}
	return enabled
}

func (o *Orchestrator) finish(status Status) Status {
	status.FinishedAt = o.clock().UTC()
	o.statusMu.Lock()
	o.lastStatus = status
	o.statusMu.Unlock()
	return status
}

func (o *Orchestrator) trace(entry diagnostics.Entry) {
	o.diagnostics.Record(entry)
}

type discardTrace struct{}

func (discardTrace) Record(diagnostics.Entry) {}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
