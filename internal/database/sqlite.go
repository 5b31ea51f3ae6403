package database

import (
	"errors"

	"github.com/MarcoPoloResearchLab/hearth/internal/auth"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/journalizer"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingPath = errors.New("database path is required")

// Models lists every table the engine owns.
func Models() []interface{} {
	return []interface{}{
		&store.EventRecord{},
		&journal.Entry{},
		&journalizer.ShadowRecord{},
		&provider.TokenState{},
		&auth.CredentialRecord{},
		&migrationRecord{},
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, errMissingPath
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
