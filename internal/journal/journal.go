// Package journal implements the append-only, idempotent ledger of local
// mutations awaiting remote application.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingSequencer = errors.New("sequencer is required")
	noOpLogger          = zap.NewNop()
)

const (
	opJournalNew   = "journal.new"
	opRecord       = "journal.record"
	opPeekBatch    = "journal.peek_batch"
	opHighWater    = "journal.high_water"
	opDrop         = "journal.drop"
	opPurge        = "journal.purge"
	opList         = "journal.list"
	opLatest       = "journal.latest"
	fieldEventID   = "event_id"
	fieldKey       = "idempotency_key"
	querySequence  = "sequence <= ?"
	queryKey       = "idempotency_key = ?"
	queryKeyIn     = "idempotency_key IN ?"
	queryEventIn   = "event_id IN ?"
	orderSequence  = "sequence ASC"
	reasonMissing  = "missing_database"
	reasonInvalid  = "invalid_request"
	reasonInsert   = "insert_failed"
	reasonLookup   = "lookup_failed"
	reasonQuery    = "query_failed"
	reasonDelete   = "delete_failed"
	reasonSequence = "sequence_failed"
)

// ServiceError carries a stable "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Config describes the dependencies of a Journal.
type Config struct {
	Database  *gorm.DB
	Sequencer *clock.Sequencer
	Logger    *zap.Logger
}

// Journal persists JournalEntries in the sync_journal table.
type Journal struct {
	db        *gorm.DB
	sequencer *clock.Sequencer
	logger    *zap.Logger
}

// New constructs a Journal and raises the sequencer above the highest stored sequence.
func New(ctx context.Context, cfg Config) (*Journal, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opJournalNew, reasonMissing, errMissingDatabase)
	}
	if cfg.Sequencer == nil {
		return nil, newServiceError(opJournalNew, reasonSequence, errMissingSequencer)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	journal := &Journal{db: cfg.Database, sequencer: cfg.Sequencer, logger: logger}
	highWater, err := journal.HighWater(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Sequencer.Observe(highWater)
	return journal, nil
}

// Record appends a mutation. Recording an entry whose idempotency key already
// exists is a no-op that returns the stored entry unchanged.
func (j *Journal) Record(ctx context.Context, request RecordRequest) (Entry, error) {
	if _, err := ParseAction(string(request.Action)); err != nil {
		return Entry{}, newServiceError(opRecord, reasonInvalid, err)
	}
	if _, err := calendar.NewEventID(request.EventID.String()); err != nil {
		return Entry{}, newServiceError(opRecord, reasonInvalid, err)
	}

	sequence := request.Sequence
	if sequence <= 0 {
		sequence = j.sequencer.Next()
	} else {
		j.sequencer.Observe(sequence)
	}

	entry := Entry{
		IdempotencyKey:   clock.IdempotencyKey(request.EventID.String(), sequence),
		Sequence:         sequence,
		RecordedAtMillis: j.sequencer.Now().UnixMilli(),
		Action:           request.Action,
		EventID:          request.EventID.String(),
		Before:           request.Before,
		After:            request.After,
	}

	createResult := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if createResult.Error != nil {
		j.logError(opRecord, reasonInsert, createResult.Error, zap.String(fieldEventID, entry.EventID))
		return Entry{}, newServiceError(opRecord, reasonInsert, createResult.Error)
	}
	if createResult.RowsAffected == 0 {
		var existing Entry
		if err := j.db.WithContext(ctx).Where(queryKey, entry.IdempotencyKey).Take(&existing).Error; err != nil {
			j.logError(opRecord, reasonLookup, err, zap.String(fieldKey, entry.IdempotencyKey))
			return Entry{}, newServiceError(opRecord, reasonLookup, err)
		}
		return existing, nil
	}

	j.logger.Debug("journal entry recorded",
		zap.String(fieldEventID, entry.EventID),
		zap.String("action", string(entry.Action)),
		zap.Int64("sequence", entry.Sequence))
	return entry, nil
}

// PeekBatch returns up to max entries in earliest-recorded-first order without
// removing them. Entries with a sequence above upTo are excluded; upTo <= 0
// disables the bound.
func (j *Journal) PeekBatch(ctx context.Context, max int, upTo int64) ([]Entry, error) {
	if max <= 0 {
		return nil, nil
	}
	query := j.db.WithContext(ctx).Order(orderSequence).Limit(max)
	if upTo > 0 {
		query = query.Where(querySequence, upTo)
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		j.logError(opPeekBatch, reasonQuery, err)
		return nil, newServiceError(opPeekBatch, reasonQuery, err)
	}
	return entries, nil
}

// HighWater returns the highest recorded sequence, or zero for an empty journal.
func (j *Journal) HighWater(ctx context.Context) (int64, error) {
	var highWater sql.NullInt64
	row := j.db.WithContext(ctx).Model(&Entry{}).Select("MAX(sequence)").Row()
	if err := row.Scan(&highWater); err != nil {
		j.logError(opHighWater, reasonQuery, err)
		return 0, newServiceError(opHighWater, reasonQuery, err)
	}
	if !highWater.Valid {
		return 0, nil
	}
	return highWater.Int64, nil
}

// Drop removes the entries identified by their idempotency keys.
func (j *Journal) Drop(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := j.db.WithContext(ctx).Where(queryKeyIn, keys).Delete(&Entry{}).Error; err != nil {
		j.logError(opDrop, reasonDelete, err, zap.Int("count", len(keys)))
		return newServiceError(opDrop, reasonDelete, err)
	}
	return nil
}

// Purge removes every entry.
func (j *Journal) Purge(ctx context.Context) error {
	if err := j.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Entry{}).Error; err != nil {
		j.logError(opPurge, reasonDelete, err)
		return newServiceError(opPurge, reasonDelete, err)
	}
	j.logger.Info("journal purged")
	return nil
}

// Latest returns the most recent pending entry for each of the given events.
// Events without pending entries are absent from the result.
func (j *Journal) Latest(ctx context.Context, eventIDs []string) (map[string]Entry, error) {
	latest := make(map[string]Entry, len(eventIDs))
	if len(eventIDs) == 0 {
		return latest, nil
	}
	var entries []Entry
	if err := j.db.WithContext(ctx).Where(queryEventIn, eventIDs).Order(orderSequence).Find(&entries).Error; err != nil {
		j.logError(opLatest, reasonQuery, err, zap.Int("count", len(eventIDs)))
		return nil, newServiceError(opLatest, reasonQuery, err)
	}
	for _, entry := range entries {
		latest[entry.EventID] = entry
	}
	return latest, nil
}

// List returns every entry in sequence order.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := j.db.WithContext(ctx).Order(orderSequence).Find(&entries).Error; err != nil {
		j.logError(opList, reasonQuery, err)
		return nil, newServiceError(opList, reasonQuery, err)
	}
	return entries, nil
}

func (j *Journal) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	j.logger.Error("journal error", attrs...)
}
