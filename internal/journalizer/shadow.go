package journalizer

import "github.com/MarcoPoloResearchLab/hearth/internal/calendar"

// ShadowRecord is the last projection the journalizer saw for one event.
type ShadowRecord struct {
	EventID    string                   `gorm:"column:event_id;primaryKey;size:190;not null"`
	Projection calendar.EventProjection `gorm:"column:projection_json;type:text;serializer:json;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ShadowRecord) TableName() string {
	return "journal_shadow"
}
