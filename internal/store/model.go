package store

import (
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
)

// EventRecord is the persisted form of a LocalEvent.
type EventRecord struct {
	EventID         string                   `gorm:"column:event_id;primaryKey;size:190;not null"`
	Title           string                   `gorm:"column:title;type:text;not null;default:''"`
	StartMillis     int64                    `gorm:"column:start_ms;not null;index:idx_calendar_events_range,priority:1"`
	EndMillis       int64                    `gorm:"column:end_ms;not null;index:idx_calendar_events_range,priority:2"`
	AllDay          bool                     `gorm:"column:all_day;not null;default:false"`
	Location        string                   `gorm:"column:location;type:text;not null;default:''"`
	Notes           string                   `gorm:"column:notes;type:text;not null;default:''"`
	Attendees       []string                 `gorm:"column:attendees_json;type:text;serializer:json"`
	Tags            []string                 `gorm:"column:tags_json;type:text;serializer:json"`
	Colour          string                   `gorm:"column:colour;size:32;not null;default:''"`
	Recurrence      string                   `gorm:"column:recurrence;type:text;not null;default:''"`
	Bindings        []calendar.RemoteBinding `gorm:"column:bindings_json;type:text;serializer:json"`
	UpdatedAtMillis int64                    `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EventRecord) TableName() string {
	return "calendar_events"
}

func recordFromEvent(event calendar.LocalEvent) EventRecord {
	return EventRecord{
		EventID:         event.ID.String(),
		Title:           event.Title,
		StartMillis:     event.Start.UnixMilli(),
		EndMillis:       event.End.UnixMilli(),
		AllDay:          event.AllDay,
		Location:        event.Location,
		Notes:           event.Notes,
		Attendees:       event.Attendees,
		Tags:            event.Tags,
		Colour:          event.Colour,
		Recurrence:      event.Recurrence,
		Bindings:        event.Bindings,
		UpdatedAtMillis: event.UpdatedAt.UnixMilli(),
	}
}

func (record EventRecord) toEvent() calendar.LocalEvent {
	return calendar.LocalEvent{
		ID:         calendar.EventID(record.EventID),
		Title:      record.Title,
		Start:      time.UnixMilli(record.StartMillis).UTC(),
		End:        time.UnixMilli(record.EndMillis).UTC(),
		AllDay:     record.AllDay,
		Location:   record.Location,
		Notes:      record.Notes,
		Attendees:  record.Attendees,
		Tags:       record.Tags,
		Colour:     record.Colour,
		Recurrence: record.Recurrence,
		Bindings:   record.Bindings,
		UpdatedAt:  time.UnixMilli(record.UpdatedAtMillis).UTC(),
	}
}
