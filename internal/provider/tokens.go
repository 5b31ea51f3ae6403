package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const queryProvider = "provider = ?"

var errMissingTokenDatabase = errors.New("provider: token store requires a database handle")

// TokenState is the persisted pull cursor of one provider. A nil SinceToken
// forces the next pull to use a window query.
type TokenState struct {
	Provider        string  `gorm:"column:provider;primaryKey;size:32;not null"`
	SinceToken      *string `gorm:"column:since_token;type:text"`
	LastRunAtMillis int64   `gorm:"column:last_run_at_ms;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (TokenState) TableName() string {
	return "sync_tokens"
}

// Token returns the since-token, or "" when a full resync is required.
func (state TokenState) Token() string {
	if state.SinceToken == nil {
		return ""
	}
	return *state.SinceToken
}

// LastRunAt exposes the time of the last pull attempt.
func (state TokenState) LastRunAt() time.Time {
	if state.LastRunAtMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(state.LastRunAtMillis).UTC()
}

// TokenStore persists TokenState rows.
type TokenStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(db *gorm.DB, logger *zap.Logger) (*TokenStore, error) {
	if db == nil {
		return nil, errMissingTokenDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenStore{db: db, logger: logger}, nil
}

// Load returns the stored state, or an empty state for an unknown provider.
func (s *TokenStore) Load(ctx context.Context, provider calendar.ProviderID) (TokenState, error) {
	var state TokenState
	result := s.db.WithContext(ctx).Where(queryProvider, provider.String()).Limit(1).Find(&state)
	if result.Error != nil {
		return TokenState{}, fmt.Errorf("provider: load token for %s: %w", provider, result.Error)
	}
	if result.RowsAffected == 0 {
		return TokenState{Provider: provider.String()}, nil
	}
	return state, nil
}

// Advance stores a new token after a pull. An empty token keeps the prior one.
func (s *TokenStore) Advance(ctx context.Context, provider calendar.ProviderID, token string, at time.Time) error {
	current, err := s.Load(ctx, provider)
	if err != nil {
		return err
	}
	if token != "" {
		current.SinceToken = &token
	}
	current.LastRunAtMillis = at.UnixMilli()
	return s.save(ctx, current)
}

// Clear sets the token to null so the next pull falls back to a window query.
func (s *TokenStore) Clear(ctx context.Context, provider calendar.ProviderID, at time.Time) error {
	s.logger.Info("clearing provider cursor", zap.String("provider", provider.String()))
	return s.save(ctx, TokenState{Provider: provider.String(), SinceToken: nil, LastRunAtMillis: at.UnixMilli()})
}

// List returns every stored state.
func (s *TokenStore) List(ctx context.Context) ([]TokenState, error) {
	var states []TokenState
	if err := s.db.WithContext(ctx).Order("provider ASC").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("provider: list tokens: %w", err)
	}
	return states, nil
}

func (s *TokenStore) save(ctx context.Context, state TokenState) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"since_token", "last_run_at_ms"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("provider: save token for %s: %w", state.Provider, err)
	}
	return nil
}
