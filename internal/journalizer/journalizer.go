// Package journalizer turns local store changes into journal entries by
// diffing the store against its own persisted shadow.
package journalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opTick        = "journalizer.tick"
	reasonRead    = "read_failed"
	reasonShadow  = "shadow_failed"
	reasonRecord  = "record_failed"
	queryEventIDs = "event_id IN ?"

	shadowBatchSize = 200
)

var errMissingDependency = errors.New("journalizer: store, journal and database are required")

// Source is the slice of the store bridge the journalizer reads.
type Source interface {
	RangeQuery(ctx context.Context, window calendar.Window) ([]calendar.LocalEvent, error)
}

// Recorder appends journal entries.
type Recorder interface {
	Record(ctx context.Context, request journal.RecordRequest) (journal.Entry, error)
}

// Config describes the dependencies of a Journalizer.
type Config struct {
	Source      Source
	Journal     Recorder
	Database    *gorm.DB
	Diagnostics diagnostics.Recorder
	Logger      *zap.Logger
}

// TickResult counts what one tick recorded.
type TickResult struct {
	Created      int
	Updated      int
	Deleted      int
	BindingsOnly int
}

// Changed reports whether the tick journaled anything.
func (result TickResult) Changed() bool {
	return result.Created+result.Updated+result.Deleted > 0
}

// Journalizer is the only translator from store state to intended remote mutations.
type Journalizer struct {
	mu          sync.Mutex
	source      Source
	journal     Recorder
	db          *gorm.DB
	diagnostics diagnostics.Recorder
	logger      *zap.Logger
}

// New constructs a Journalizer.
func New(cfg Config) (*Journalizer, error) {
	if cfg.Source == nil || cfg.Journal == nil || cfg.Database == nil {
		return nil, errMissingDependency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journalizer{
		source:      cfg.Source,
		journal:     cfg.Journal,
		db:          cfg.Database,
		diagnostics: cfg.Diagnostics,
		logger:      logger,
	}, nil
}

// Tick diffs the full store against the shadow and journals net changes.
// Changes touching only the binding list update the shadow without being journaled.
// Shadow rows are advanced only for events whose entry was recorded, so a failed
// tick is retried by the next one.
func (j *Journalizer) Tick(ctx context.Context) (TickResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var result TickResult
	events, err := j.source.RangeQuery(ctx, calendar.Window{})
	if err != nil {
		j.logError(reasonRead, err)
		return result, fmt.Errorf("%s.%s: %w", opTick, reasonRead, err)
	}
	var shadowRows []ShadowRecord
	if err := j.db.WithContext(ctx).Find(&shadowRows).Error; err != nil {
		j.logError(reasonShadow, err)
		return result, fmt.Errorf("%s.%s: %w", opTick, reasonShadow, err)
	}
	shadow := make(map[string]calendar.EventProjection, len(shadowRows))
	for _, row := range shadowRows {
		shadow[row.EventID] = row.Projection
	}

	var upserts []ShadowRecord
	var removals []string
	var recordErr error

	present := make(map[string]struct{}, len(events))
	for _, event := range events {
		id := event.ID.String()
		present[id] = struct{}{}
		current := event.Projection()
		previous, known := shadow[id]
		switch {
		case !known:
			if recordErr = j.record(ctx, journal.ActionCreate, event.ID, nil, &current); recordErr != nil {
				break
			}
			result.Created++
		case previous.Equal(current):
			continue
		case previous.EqualIgnoringBindings(current):
			result.BindingsOnly++
		default:
			if recordErr = j.record(ctx, journal.ActionUpdate, event.ID, &previous, &current); recordErr != nil {
				break
			}
			result.Updated++
		}
		if recordErr != nil {
			break
		}
		upserts = append(upserts, ShadowRecord{EventID: id, Projection: current})
	}
	if recordErr == nil {
		for id, previous := range shadow {
			if _, ok := present[id]; ok {
				continue
			}
			before := previous
			if recordErr = j.record(ctx, journal.ActionDelete, calendar.EventID(id), &before, nil); recordErr != nil {
				break
			}
			result.Deleted++
			removals = append(removals, id)
		}
	}

	if err := j.saveShadow(ctx, upserts, removals); err != nil {
		j.logError(reasonShadow, err)
		return result, fmt.Errorf("%s.%s: %w", opTick, reasonShadow, err)
	}
	if recordErr != nil {
		j.logError(reasonRecord, recordErr)
		return result, fmt.Errorf("%s.%s: %w", opTick, reasonRecord, recordErr)
	}
	if result.Changed() {
		j.logger.Info("journalized local changes",
			zap.Int("created", result.Created),
			zap.Int("updated", result.Updated),
			zap.Int("deleted", result.Deleted))
	}
	return result, nil
}

// Run ticks once immediately and again for every change signal until ctx is done.
func (j *Journalizer) Run(ctx context.Context, signals <-chan store.ChangeSignal) error {
	if _, err := j.Tick(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("journalizer tick failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case signal, ok := <-signals:
			if !ok {
				return nil
			}
			if _, err := j.Tick(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("journalizer tick failed",
					zap.String("origin", string(signal.Origin)),
					zap.Error(err))
			}
		}
	}
}

func (j *Journalizer) record(ctx context.Context, action journal.Action, id calendar.EventID, before, after *calendar.EventProjection) error {
	entry, err := j.journal.Record(ctx, journal.RecordRequest{Action: action, EventID: id, Before: before, After: after})
	if err != nil {
		return err
	}
	if j.diagnostics != nil {
		j.diagnostics.Record(diagnostics.Entry{
			Phase:          diagnostics.PhaseJournalize,
			EventID:        id.String(),
			IdempotencyKey: entry.IdempotencyKey,
			Message:        string(action),
			Before:         renderProjection(before),
			After:          renderProjection(after),
		})
	}
	return nil
}

func (j *Journalizer) saveShadow(ctx context.Context, upserts []ShadowRecord, removals []string) error {
	if len(upserts) == 0 && len(removals) == 0 {
		return nil
	}
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(removals) > 0 {
			if err := tx.Where(queryEventIDs, removals).Delete(&ShadowRecord{}).Error; err != nil {
				return err
			}
		}
		if len(upserts) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(&upserts, shadowBatchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *Journalizer) logError(reason string, err error) {
	j.logger.Error("journalizer error",
		zap.String("operation", opTick),
		zap.String("reason", reason),
		zap.Error(err))
}

func renderProjection(projection *calendar.EventProjection) string {
	if projection == nil {
		return ""
	}
	encoded, err := json.Marshal(projection)
	if err != nil {
		return ""
	}
	return string(encoded)
}
