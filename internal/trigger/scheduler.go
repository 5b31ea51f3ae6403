// Package trigger funnels the timer, visibility and manual triggers into the
// orchestrator's single entry point.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/hearth/internal/orchestrator"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs a sync every five minutes.
const DefaultSchedule = "@every 5m"

var (
	errMissingRunner = errors.New("trigger: runner is required")
	// ErrStarted indicates Start was called twice.
	ErrStarted = errors.New("trigger: scheduler already started")
)

// Runner is satisfied by *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Status, error)
}

// Config describes a Scheduler.
type Config struct {
	Runner   Runner
	Schedule string
	Logger   *zap.Logger
}

// Scheduler owns the cron timer and exposes the on-demand triggers.
type Scheduler struct {
	runner   Runner
	schedule string
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler validates the schedule and constructs a Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errMissingRunner
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("trigger: invalid schedule %q: %w", schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: cfg.Runner, schedule: schedule, logger: logger}, nil
}

// Start registers the timer job. Timer runs use ctx and stop with it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrStarted
	}
	engine := cron.New(
		cron.WithLogger(cronLogger{logger: s.logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{logger: s.logger.Sugar()})),
	)
	if _, err := engine.AddFunc(s.schedule, func() { s.fire(ctx, orchestrator.TriggerTimer) }); err != nil {
		return fmt.Errorf("trigger: register schedule: %w", err)
	}
	s.cron = engine
	engine.Start()
	s.logger.Info("sync timer started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the timer and waits for a timer run in progress to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	engine := s.cron
	s.cron = nil
	s.mu.Unlock()
	if engine == nil {
		return
	}
	<-engine.Stop().Done()
	s.logger.Info("sync timer stopped")
}

// Visible reports that the user came back to the app.
func (s *Scheduler) Visible(ctx context.Context) (orchestrator.Status, error) {
	return s.fire(ctx, orchestrator.TriggerVisible)
}

// Manual is the "sync now" request.
func (s *Scheduler) Manual(ctx context.Context) (orchestrator.Status, error) {
	return s.fire(ctx, orchestrator.TriggerManual)
}

func (s *Scheduler) fire(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.Status, error) {
	status, err := s.runner.Run(ctx, trigger)
	if err != nil {
		s.logger.Error("sync run failed", zap.String("trigger", string(trigger)), zap.Error(err))
		return status, err
	}
	if status.State == orchestrator.StateAlreadyRunning {
		s.logger.Debug("sync trigger dropped; run in progress", zap.String("trigger", string(trigger)))
	}
	return status, nil
}

// cronLogger routes robfig/cron's logging into zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
