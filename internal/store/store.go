// Package store owns the local event store and exposes the narrow bridge the
// synchronization engine needs from it.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEventNotFound indicates that no event exists for the identifier.
	ErrEventNotFound = errors.New("store: event not found")

	errMissingDatabase = errors.New("store: database handle is required")
)

const (
	queryEventID     = "event_id = ?"
	queryEventIDIn   = "event_id IN ?"
	queryOverlap     = "start_ms <= ? AND end_ms >= ?"
	orderStartThenID = "start_ms ASC, event_id ASC"
)

// Bridge is the entire surface the orchestrator and journalizer use.
type Bridge interface {
	// RangeQuery returns events overlapping the window; a zero window returns every event.
	RangeQuery(ctx context.Context, window calendar.Window) ([]calendar.LocalEvent, error)
	// Merge applies keyed partial upserts.
	Merge(ctx context.Context, patches []calendar.EventPatch) error
	// Delete removes events by id; unknown ids are ignored.
	Delete(ctx context.Context, ids []calendar.EventID) error
	// Rebind attaches or replaces one provider binding on one event.
	Rebind(ctx context.Context, id calendar.EventID, binding calendar.RemoteBinding) error
}

// Config describes the dependencies of a SQLStore.
type Config struct {
	Database *gorm.DB
	Notifier *Notifier
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLStore keeps LocalEvents in the calendar_events table.
type SQLStore struct {
	db       *gorm.DB
	notifier *Notifier
	clock    func() time.Time
	logger   *zap.Logger
}

var _ Bridge = (*SQLStore)(nil)

// NewSQLStore constructs a SQLStore.
func NewSQLStore(cfg Config) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: cfg.Database, notifier: cfg.Notifier, clock: clock, logger: logger}, nil
}

// RangeQuery implements Bridge.
func (s *SQLStore) RangeQuery(ctx context.Context, window calendar.Window) ([]calendar.LocalEvent, error) {
	query := s.db.WithContext(ctx).Order(orderStartThenID)
	if !window.IsZero() {
		endMillis := int64(math.MaxInt64)
		if !window.End.IsZero() {
			endMillis = window.End.UnixMilli()
		}
		startMillis := int64(math.MinInt64)
		if !window.Start.IsZero() {
			startMillis = window.Start.UnixMilli()
		}
		query = query.Where(queryOverlap, endMillis, startMillis)
	}
	var records []EventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("store: range query: %w", err)
	}
	events := make([]calendar.LocalEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toEvent())
	}
	return events, nil
}

// Get returns one event.
func (s *SQLStore) Get(ctx context.Context, id calendar.EventID) (calendar.LocalEvent, error) {
	record, err := s.load(s.db.WithContext(ctx), id)
	if err != nil {
		return calendar.LocalEvent{}, err
	}
	return record.toEvent(), nil
}

// Merge implements Bridge. Incoming fields override stored ones; absent fields are kept.
func (s *SQLStore) Merge(ctx context.Context, patches []calendar.EventPatch) error {
	if len(patches) == 0 {
		return nil
	}
	now := s.clock().UTC()
	ids := make([]calendar.EventID, 0, len(patches))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, patch := range patches {
			existing := calendar.LocalEvent{ID: patch.ID}
			record, err := s.load(tx, patch.ID)
			if err == nil {
				existing = record.toEvent()
			} else if !errors.Is(err, ErrEventNotFound) {
				return err
			}
			merged := patch.Apply(existing)
			merged.UpdatedAt = now
			if err := merged.Validate(); err != nil {
				return fmt.Errorf("store: merge %s: %w", patch.ID, err)
			}
			updated := recordFromEvent(merged)
			if err := tx.Save(&updated).Error; err != nil {
				return fmt.Errorf("store: merge %s: %w", patch.ID, err)
			}
			ids = append(ids, patch.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(OriginSync, ids)
	return nil
}

// Delete implements Bridge.
func (s *SQLStore) Delete(ctx context.Context, ids []calendar.EventID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	if err := s.db.WithContext(ctx).Where(queryEventIDIn, raw).Delete(&EventRecord{}).Error; err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	s.publish(OriginSync, ids)
	return nil
}

// Rebind implements Bridge.
func (s *SQLStore) Rebind(ctx context.Context, id calendar.EventID, binding calendar.RemoteBinding) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.load(tx, id)
		if err != nil {
			return err
		}
		event := record.toEvent()
		event.SetBinding(binding)
		updated := recordFromEvent(event)
		return tx.Save(&updated).Error
	})
	if err != nil {
		return fmt.Errorf("store: rebind %s: %w", id, err)
	}
	s.publish(OriginSync, []calendar.EventID{id})
	return nil
}

// Save stores a user edit. Bindings are owned by the sync engine, so the
// stored bindings always win over whatever the caller passed in.
func (s *SQLStore) Save(ctx context.Context, event calendar.LocalEvent) (calendar.LocalEvent, error) {
	var saved calendar.LocalEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := event.Clone()
		candidate.Bindings = nil
		record, err := s.load(tx, event.ID)
		if err == nil {
			candidate.Bindings = record.toEvent().Bindings
		} else if !errors.Is(err, ErrEventNotFound) {
			return err
		}
		candidate.Start = candidate.Start.UTC()
		candidate.End = candidate.End.UTC()
		candidate.UpdatedAt = s.clock().UTC()
		if err := candidate.Validate(); err != nil {
			return err
		}
		updated := recordFromEvent(candidate)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		saved = updated.toEvent()
		return nil
	})
	if err != nil {
		return calendar.LocalEvent{}, fmt.Errorf("store: save %s: %w", event.ID, err)
	}
	s.publish(OriginLocal, []calendar.EventID{event.ID})
	return saved, nil
}

// Remove deletes a user event.
func (s *SQLStore) Remove(ctx context.Context, id calendar.EventID) error {
	result := s.db.WithContext(ctx).Where(queryEventID, id.String()).Delete(&EventRecord{})
	if result.Error != nil {
		return fmt.Errorf("store: remove %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrEventNotFound
	}
	s.publish(OriginLocal, []calendar.EventID{id})
	return nil
}

func (s *SQLStore) load(tx *gorm.DB, id calendar.EventID) (EventRecord, error) {
	var record EventRecord
	result := tx.Where(queryEventID, id.String()).Limit(1).Find(&record)
	if result.Error != nil {
		return EventRecord{}, result.Error
	}
	if result.RowsAffected == 0 {
		return EventRecord{}, ErrEventNotFound
	}
	return record, nil
}

func (s *SQLStore) publish(origin Origin, ids []calendar.EventID) {
	s.logger.Debug("local store changed", zap.String("origin", string(origin)), zap.Int("events", len(ids)))
	s.notifier.Publish(ChangeSignal{Origin: origin, EventIDs: ids, Timestamp: s.clock().UTC()})
}
