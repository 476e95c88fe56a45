package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/medrelay/internal/eventlog"
	"github.com/lukasbauer/medrelay/internal/httpapi"
	"github.com/lukasbauer/medrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type App struct {
	cfg      Config
	logger   zerolog.Logger
	db       *pgxpool.Pool
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.DefaultMetrics,
	}

	// The event log is optional; without a database the relay runs stateless.
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.db = db
		// Migrations are applied externally (migrations/*.sql); no runner at startup.
	} else {
		logger.Info().Msg("app: DATABASE_URL not set, session event log disabled")
	}
	a.eventLog = eventlog.New(a.db, logger)

	if cfg.OpenAIAPIKey == "" {
		logger.Warn().Msg("app: OPENAI_API_KEY not set, transcription sessions will fail")
	}

	return a, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		Realtime:     a.cfg.Realtime(),
		Instructions: a.cfg.TranscribeInstructions,
		ReadLimit:    a.cfg.ClientReadLimit,
		WriteTimeout: a.cfg.ClientWriteTimeout,
		Gatherer:     prometheus.DefaultGatherer,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.metrics, a.eventLog, sessions)
}

func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), eventlog.DefaultWriteTimeout)
	defer cancel()
	if !a.eventLog.Wait(ctx) {
		a.logger.Warn().Msg("app: event log writes still pending at shutdown")
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
