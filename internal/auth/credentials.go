package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	expiryDelta      = 60 * time.Second
	queryAccount     = "provider = ? AND account = ?"
	reasonNotFound   = "not_configured"
	reasonExpired    = "token_expired"
	reasonNetwork    = "network_error"
	opCredentialLoad = "credentials.load"
)

var (
	// ErrCredentialsNotFound indicates that no token was imported for the account.
	ErrCredentialsNotFound = errors.New("auth: credentials not configured")
	// ErrRefreshUnavailable indicates that the stored token cannot be refreshed.
	ErrRefreshUnavailable = errors.New("auth: refresh token unavailable")

	errMissingCredentialDatabase = errors.New("auth: credential store requires a database handle")
	errMissingOAuthConfig        = errors.New("auth: oauth configuration is required")
	errMissingAccount            = errors.New("auth: account is required")
)

// CredentialError carries a stable "<operation>.<reason>" code.
type CredentialError struct {
	code string
	err  error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *CredentialError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *CredentialError) Code() string {
	return e.code
}

// CredentialRecord persists the OAuth token of one provider account.
type CredentialRecord struct {
	Provider        string        `gorm:"column:provider;primaryKey;size:32;not null"`
	Account         string        `gorm:"column:account;primaryKey;size:190;not null"`
	Token           *oauth2.Token `gorm:"column:token_json;type:text;serializer:json;not null"`
	UpdatedAtMillis int64         `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CredentialRecord) TableName() string {
	return "provider_credentials"
}

// NewGoogleOAuthConfig returns the OAuth client configuration for Google Calendar.
func NewGoogleOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendarapi.CalendarEventsScope},
	}
}

// OAuthCredentialsConfig describes one stored account.
type OAuthCredentialsConfig struct {
	Database *gorm.DB
	Provider string
	Account  string
	OAuth    *oauth2.Config
	Clock    func() time.Time
	Logger   *zap.Logger
}

// OAuthCredentials hands out access tokens for one account and refreshes
// them through the OAuth token endpoint.
type OAuthCredentials struct {
	mu       sync.Mutex
	db       *gorm.DB
	provider string
	account  string
	oauth    *oauth2.Config
	clock    func() time.Time
	logger   *zap.Logger
}

// NewOAuthCredentials validates cfg and constructs OAuthCredentials.
func NewOAuthCredentials(cfg OAuthCredentialsConfig) (*OAuthCredentials, error) {
	if cfg.Database == nil {
		return nil, errMissingCredentialDatabase
	}
	if cfg.OAuth == nil {
		return nil, errMissingOAuthConfig
	}
	account := strings.TrimSpace(cfg.Account)
	if account == "" {
		return nil, errMissingAccount
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthCredentials{
		db:       cfg.Database,
		provider: strings.ToLower(strings.TrimSpace(cfg.Provider)),
		account:  account,
		oauth:    cfg.OAuth,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Token returns a usable access token, refreshing it when it is about to expire.
func (c *OAuthCredentials) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if c.usable(token) {
		return token, nil
	}
	return c.refreshLocked(ctx, token)
}

// Refresh forces a token refresh.
func (c *OAuthCredentials) Refresh(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return c.refreshLocked(ctx, token)
}

// Import stores a token obtained out of band, replacing any previous one.
func (c *OAuthCredentials) Import(ctx context.Context, token *oauth2.Token) error {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return fmt.Errorf("auth: import: %w", ErrRefreshUnavailable)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(ctx, token)
}

func (c *OAuthCredentials) refreshLocked(ctx context.Context, current *oauth2.Token) (*oauth2.Token, error) {
	if current.RefreshToken == "" {
		return nil, &CredentialError{code: opCredentialLoad + "." + reasonExpired, err: ErrRefreshUnavailable}
	}
	source := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken})
	refreshed, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		reason := reasonNetwork
		if errors.As(err, &retrieveErr) {
			reason = reasonExpired
		}
		c.logger.Warn("credential refresh failed",
			zap.String("provider", c.provider),
			zap.String("account", c.account),
			zap.String("reason", reason),
			zap.Error(err))
		return nil, &CredentialError{code: "credentials.refresh." + reason, err: err}
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	if err := c.save(ctx, refreshed); err != nil {
		return nil, err
	}
	c.logger.Debug("credential refreshed", zap.String("provider", c.provider), zap.String("account", c.account))
	return refreshed, nil
}

func (c *OAuthCredentials) usable(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return c.clock().Add(expiryDelta).Before(token.Expiry)
}

func (c *OAuthCredentials) load(ctx context.Context) (*oauth2.Token, error) {
	var record CredentialRecord
	result := c.db.WithContext(ctx).Where(queryAccount, c.provider, c.account).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, &CredentialError{code: opCredentialLoad + ".query_failed", err: result.Error}
	}
	if result.RowsAffected == 0 || record.Token == nil {
		return nil, &CredentialError{code: opCredentialLoad + "." + reasonNotFound, err: ErrCredentialsNotFound}
	}
	return record.Token, nil
}

func (c *OAuthCredentials) save(ctx context.Context, token *oauth2.Token) error {
	record := CredentialRecord{
		Provider:        c.provider,
		Account:         c.account,
		Token:           token,
		UpdatedAtMillis: c.clock().UTC().UnixMilli(),
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_json", "updated_at_ms"}),
	}).Create(&record).Error
	if err != nil {
		return &CredentialError{code: "credentials.save.insert_failed", err: err}
	}
	return nil
}
