package journal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
)

// Action enumerates recorded local mutations.
type Action string

const (
	// ActionCreate records a newly created local event.
	ActionCreate Action = "create"
	// ActionUpdate records a changed local event.
	ActionUpdate Action = "update"
	// ActionDelete records a removed local event.
	ActionDelete Action = "delete"
)

// ErrInvalidAction indicates that an action tag is not one of create/update/delete.
var ErrInvalidAction = errors.New("journal: invalid action")

// ParseAction validates raw input and returns an Action.
func ParseAction(rawInput string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(rawInput))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionUpdate:
		return ActionUpdate, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, rawInput)
	}
}

// Entry is one recorded local mutation awaiting remote application.
type Entry struct {
	IdempotencyKey   string                    `gorm:"column:idempotency_key;primaryKey;size:64;not null"`
	Sequence         int64                     `gorm:"column:sequence;not null;index:idx_sync_journal_sequence"`
	RecordedAtMillis int64                     `gorm:"column:recorded_at_ms;not null"`
	Action           Action                    `gorm:"column:action;size:16;not null"`
	EventID          string                    `gorm:"column:event_id;size:190;not null;index:idx_sync_journal_event"`
	Before           *calendar.EventProjection `gorm:"column:before_json;type:text;serializer:json"`
	After            *calendar.EventProjection `gorm:"column:after_json;type:text;serializer:json"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "sync_journal"
}

// RecordedAt exposes the recording timestamp.
func (entry Entry) RecordedAt() time.Time {
	return time.UnixMilli(entry.RecordedAtMillis).UTC()
}

// LastKnown returns the freshest journaled projection, preferring After.
func (entry Entry) LastKnown() (calendar.EventProjection, bool) {
	if entry.After != nil {
		return *entry.After, true
	}
	if entry.Before != nil {
		return *entry.Before, true
	}
	return calendar.EventProjection{}, false
}

// RecordRequest describes a mutation to append.
type RecordRequest struct {
	Action  Action
	EventID calendar.EventID
	// Sequence is drawn from the journal's sequencer when zero.
	Sequence int64
	Before   *calendar.EventProjection
	After    *calendar.EventProjection
}
