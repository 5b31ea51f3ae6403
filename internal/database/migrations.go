package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClearBlankSyncTokens    = "2026-10-01_clear_blank_sync_tokens"
	migrationRepairInvertedEventSpan = "2026-10-01_repair_inverted_event_span"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClearBlankSyncTokens, apply: clearBlankSyncTokens},
		{name: migrationRepairInvertedEventSpan, apply: repairInvertedEventSpan},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// A blank cursor would be sent to the provider as-is; NULL forces a window fetch.
func clearBlankSyncTokens(db *gorm.DB) error {
	return db.Model(&provider.TokenState{}).
		Where("since_token = ''").
		Update("since_token", nil).Error
}

// The journalizer picks the repaired rows up as updates on its next tick.
func repairInvertedEventSpan(db *gorm.DB) error {
	return db.Model(&store.EventRecord{}).
		Where("end_ms < start_ms").
		Update("end_ms", gorm.Expr("start_ms")).Error
}
