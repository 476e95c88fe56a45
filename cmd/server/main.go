package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/medrelay/internal/app"
	"github.com/lukasbauer/medrelay/internal/httpapi"
	"github.com/lukasbauer/medrelay/internal/logging"
)

func main() {
	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		logging.Init(logging.Config{})
		logger := logging.WithComponent("main")
		logger.Fatal().Err(err).Msg("load config")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := logging.WithComponent("main")

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Error().Err(err).Msg("sentry init failed")
		} else {
			logger.Info().Msg("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	a, err := app.New(cfg, logging.WithComponent("relay"))
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatal().Err(err).Msg("init app")
	}

	sessions := httpapi.NewSessionRegistry()
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(sessions),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()

	// Stop admitting sessions, give live ones DRAIN_TIMEOUT to finish, then close the rest.
	sessions.StartDraining()
	logger.Info().Int64("active", sessions.ActiveCount()).Dur("timeout", cfg.DrainTimeout).Msg("draining sessions")

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	if !sessions.Wait(drainCtx) {
		n := sessions.CloseAll()
		logger.Warn().Int("closed", n).Msg("drain timeout, closing remaining sessions")
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		sessions.Wait(closeCtx)
		cancelClose()
	}
	cancelDrain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = a.Close()
}
