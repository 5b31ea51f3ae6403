package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "HEARTH"
	defaultHTTPAddress      = "127.0.0.1:8787"
	defaultDatabasePath     = "hearth.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultAPIIssuer        = "hearth"
	defaultAPIAudience      = "hearth-control"
	defaultAPICookieName    = "hearth_session"
	defaultAPITokenTTL      = 12 * time.Hour
	defaultWindowWeeks      = 8
	defaultStabilityMargin  = 24 * time.Hour
	defaultBatchSize        = 50
	defaultSchedule         = "@every 5m"
	defaultTraceCapacity    = 500
	defaultGoogleMaxRetries = 5
	defaultAllDayTimezone   = "UTC"

	// ProviderGoogle keys the Google section inside SyncConfig.Providers.
	ProviderGoogle = "google"
)

// AppConfig captures runtime configuration for every hearth command.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string
	API          APIConfig
	Sync         SyncConfig
	Diagnostics  DiagnosticsConfig
	Google       GoogleConfig
}

// APIConfig configures control-API bearer tokens.
type APIConfig struct {
	SigningSecret string
	Issuer        string
	Audience      string
	CookieName    string
	TokenTTL      time.Duration
	// AllowedOrigins restricts CORS; empty allows any origin.
	AllowedOrigins []string
}

// SyncConfig is the read-only input of the sync engine.
type SyncConfig struct {
	Enabled         bool
	WindowWeeks     int
	StabilityMargin time.Duration
	BatchSize       int
	Schedule        string
	Providers       map[string]ProviderConfig
}

// ProviderConfig is the per-provider part of SyncConfig.
type ProviderConfig struct {
	Enabled   bool
	Account   string
	Calendars []string
}

// ProviderEnabled reports whether the named provider is switched on.
func (c SyncConfig) ProviderEnabled(name string) bool {
	providerConfig, ok := c.Providers[name]
	return ok && providerConfig.Enabled
}

// DiagnosticsConfig configures the trace ring buffer.
type DiagnosticsConfig struct {
	Trace    bool
	Capacity int
}

// GoogleConfig holds the Google Calendar adapter settings.
type GoogleConfig struct {
	Enabled        bool
	Account        string
	Calendars      []string
	ClientID       string
	ClientSecret   string
	Endpoint       string
	AllDayTimezone string
	MaxRetries     int
}

// AllDayLocation resolves AllDayTimezone.
func (c GoogleConfig) AllDayLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.AllDayTimezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("api.issuer", defaultAPIIssuer)
	configViper.SetDefault("api.audience", defaultAPIAudience)
	configViper.SetDefault("api.cookie_name", defaultAPICookieName)
	configViper.SetDefault("api.token_ttl", defaultAPITokenTTL)
	configViper.SetDefault("sync.enabled", true)
	configViper.SetDefault("sync.window_weeks", defaultWindowWeeks)
	configViper.SetDefault("sync.stability_margin", defaultStabilityMargin)
	configViper.SetDefault("sync.batch_size", defaultBatchSize)
	configViper.SetDefault("sync.schedule", defaultSchedule)
	configViper.SetDefault("diagnostics.trace", false)
	configViper.SetDefault("diagnostics.capacity", defaultTraceCapacity)
	configViper.SetDefault("providers.google.enabled", false)
	configViper.SetDefault("providers.google.all_day_timezone", defaultAllDayTimezone)
	configViper.SetDefault("providers.google.max_retries", defaultGoogleMaxRetries)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	google := GoogleConfig{
		Enabled:        configViper.GetBool("providers.google.enabled"),
		Account:        strings.TrimSpace(configViper.GetString("providers.google.account")),
		Calendars:      splitList(configViper.GetStringSlice("providers.google.calendars")),
		ClientID:       configViper.GetString("providers.google.client_id"),
		ClientSecret:   configViper.GetString("providers.google.client_secret"),
		Endpoint:       configViper.GetString("providers.google.endpoint"),
		AllDayTimezone: configViper.GetString("providers.google.all_day_timezone"),
		MaxRetries:     configViper.GetInt("providers.google.max_retries"),
	}
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),
		API: APIConfig{
			SigningSecret:  configViper.GetString("api.signing_secret"),
			Issuer:         configViper.GetString("api.issuer"),
			Audience:       configViper.GetString("api.audience"),
			CookieName:     configViper.GetString("api.cookie_name"),
			TokenTTL:       configViper.GetDuration("api.token_ttl"),
			AllowedOrigins: splitList(configViper.GetStringSlice("api.allowed_origins")),
		},
		Sync: SyncConfig{
			Enabled:         configViper.GetBool("sync.enabled"),
			WindowWeeks:     configViper.GetInt("sync.window_weeks"),
			StabilityMargin: configViper.GetDuration("sync.stability_margin"),
			BatchSize:       configViper.GetInt("sync.batch_size"),
			Schedule:        strings.TrimSpace(configViper.GetString("sync.schedule")),
			Providers: map[string]ProviderConfig{
				ProviderGoogle: {Enabled: google.Enabled, Account: google.Account, Calendars: google.Calendars},
			},
		},
		Diagnostics: DiagnosticsConfig{
			Trace:    configViper.GetBool("diagnostics.trace"),
			Capacity: configViper.GetInt("diagnostics.capacity"),
		},
		Google: google,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// ValidateAPI checks the settings the control API needs.
func (c AppConfig) ValidateAPI() error {
	if strings.TrimSpace(c.API.SigningSecret) == "" {
		return fmt.Errorf("api.signing_secret is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.API.TokenTTL <= 0 {
		return fmt.Errorf("api.token_ttl must be positive")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sync.WindowWeeks <= 0 {
		return fmt.Errorf("sync.window_weeks must be positive")
	}
	if c.Sync.StabilityMargin < 0 {
		return fmt.Errorf("sync.stability_margin must not be negative")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Diagnostics.Capacity <= 0 {
		return fmt.Errorf("diagnostics.capacity must be positive")
	}
	if c.Google.Enabled {
		if c.Google.Account == "" {
			return fmt.Errorf("providers.google.account is required when google is enabled")
		}
		if len(c.Google.Calendars) == 0 {
			return fmt.Errorf("providers.google.calendars is required when google is enabled")
		}
		if _, err := c.Google.AllDayLocation(); err != nil {
			return fmt.Errorf("providers.google.all_day_timezone: %w", err)
		}
	}
	return nil
}

// splitList accepts both list values and comma-separated env strings.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
