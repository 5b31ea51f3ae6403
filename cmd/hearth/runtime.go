package main

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/hearth/internal/auth"
	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/clock"
	"github.com/MarcoPoloResearchLab/hearth/internal/config"
	"github.com/MarcoPoloResearchLab/hearth/internal/database"
	"github.com/MarcoPoloResearchLab/hearth/internal/diagnostics"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/journalizer"
	"github.com/MarcoPoloResearchLab/hearth/internal/logging"
	"github.com/MarcoPoloResearchLab/hearth/internal/orchestrator"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider/google"
	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingGoogleClient = errors.New("providers.google.client_id and client_secret are required when google is enabled")

// runtime holds the engine components shared by every command.
type runtime struct {
	config       config.AppConfig
	logger       *zap.Logger
	db           *gorm.DB
	notifier     *store.Notifier
	store        *store.SQLStore
	journal      *journal.Journal
	journalizer  *journalizer.Journalizer
	tokens       *provider.TokenStore
	ring         *diagnostics.Ring
	orchestrator *orchestrator.Orchestrator
}

// openRuntime loads configuration, opens the database and assembles the engine.
// The returned close function flushes the logger and closes the database.
func openRuntime(ctx context.Context) (*runtime, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	closeAll := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = logger.Sync()
	}

	rt := &runtime{config: appConfig, logger: logger, db: db, notifier: store.NewNotifier()}
	if err := rt.assemble(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	return rt, closeAll, nil
}

func (rt *runtime) assemble(ctx context.Context) error {
	eventStore, err := store.NewSQLStore(store.Config{
		Database: rt.db,
		Notifier: rt.notifier,
		Logger:   rt.logger.Named("store"),
	})
	if err != nil {
		return err
	}
	rt.store = eventStore

	ledger, err := journal.New(ctx, journal.Config{
		Database:  rt.db,
		Sequencer: clock.NewSequencer(nil, 0),
		Logger:    rt.logger.Named("journal"),
	})
	if err != nil {
		return err
	}
	rt.journal = ledger

	rt.ring = diagnostics.NewRing(rt.config.Diagnostics.Capacity, rt.config.Diagnostics.Trace)

	watcher, err := journalizer.New(journalizer.Config{
		Source:      eventStore,
		Journal:     ledger,
		Database:    rt.db,
		Diagnostics: rt.ring,
		Logger:      rt.logger.Named("journalizer"),
	})
	if err != nil {
		return err
	}
	rt.journalizer = watcher

	tokens, err := provider.NewTokenStore(rt.db, rt.logger.Named("tokens"))
	if err != nil {
		return err
	}
	rt.tokens = tokens

	adapters, err := rt.adapters()
	if err != nil {
		return err
	}
	engine, err := orchestrator.New(orchestrator.Config{
		Sync:        rt.config.Sync,
		Adapters:    adapters,
		Store:       eventStore,
		Journal:     ledger,
		Tokens:      tokens,
		Diagnostics: rt.ring,
		Logger:      rt.logger.Named("orchestrator"),
	})
	if err != nil {
		return err
	}
	rt.orchestrator = engine
	return nil
}

func (rt *runtime) adapters() ([]provider.Adapter, error) {
	var adapters []provider.Adapter
	googleConfig := rt.config.Google
	if !googleConfig.Enabled {
		return adapters, nil
	}
	if googleConfig.ClientID == "" || googleConfig.ClientSecret == "" {
		return nil, errMissingGoogleClient
	}
	credentials, err := rt.googleCredentials()
	if err != nil {
		return nil, err
	}
	location, err := googleConfig.AllDayLocation()
	if err != nil {
		return nil, err
	}
	adapter, err := google.New(google.Config{
		Account:        googleConfig.Account,
		Calendars:      googleConfig.Calendars,
		Credentials:    credentials,
		Endpoint:       googleConfig.Endpoint,
		AllDayLocation: location,
		MaxRetries:     googleConfig.MaxRetries,
		Logger:         rt.logger.Named("google"),
	})
	if err != nil {
		return nil, err
	}
	return append(adapters, adapter), nil
}

func (rt *runtime) googleCredentials() (*auth.OAuthCredentials, error) {
	return auth.NewOAuthCredentials(auth.OAuthCredentialsConfig{
		Database: rt.db,
		Provider: calendar.ProviderGoogle.String(),
		Account:  rt.config.Google.Account,
		OAuth:    auth.NewGoogleOAuthConfig(rt.config.Google.ClientID, rt.config.Google.ClientSecret),
		Logger:   rt.logger.Named("credentials"),
	})
}
