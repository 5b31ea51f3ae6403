package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/auth"
	"github.com/MarcoPoloResearchLab/hearth/internal/server"
	"github.com/MarcoPoloResearchLab/hearth/internal/trigger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync timer, the journalizer and the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	rt, closeRuntime, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer closeRuntime()
	if err := rt.config.ValidateAPI(); err != nil {
		return err
	}
	logger := rt.logger

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(rt.config.API.SigningSecret),
		Issuer:        rt.config.API.Issuer,
		Audience:      rt.config.API.Audience,
		CookieName:    rt.config.API.CookieName,
	})
	if err != nil {
		return err
	}

	scheduler, err := trigger.NewScheduler(trigger.Config{
		Runner:   rt.orchestrator,
		Schedule: rt.config.Sync.Schedule,
		Logger:   logger.Named("trigger"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Validator:      validator,
		Sync:           scheduler,
		Status:         rt.orchestrator,
		Diagnostics:    rt.ring,
		Events:         rt.store,
		Changes:        rt.notifier,
		AllowedOrigins: rt.config.API.AllowedOrigins,
		Logger:         logger.Named("server"),
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signals, unsubscribe := rt.notifier.Subscribe(signalCtx)
	defer unsubscribe()
	journalizerDone := make(chan error, 1)
	go func() {
		journalizerDone <- rt.journalizer.Run(signalCtx, signals)
	}()

	if err := scheduler.Start(signalCtx); err != nil {
		return err
	}
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    rt.config.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-journalizerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("journalizer stopped", zap.Error(err))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			return shutdownErr
		}
		return err
	case err := <-errCh:
		return err
	}
}
