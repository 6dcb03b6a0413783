package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"

	"github.com/ces0491/isrc-meta-data-finder/internal/aggregator"
	"github.com/ces0491/isrc-meta-data-finder/internal/batch"
	"github.com/ces0491/isrc-meta-data-finder/internal/cache"
	"github.com/ces0491/isrc-meta-data-finder/internal/config"
	"github.com/ces0491/isrc-meta-data-finder/internal/database"
	"github.com/ces0491/isrc-meta-data-finder/internal/engine"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
	"github.com/ces0491/isrc-meta-data-finder/internal/registry"
	"github.com/ces0491/isrc-meta-data-finder/internal/telemetry"
)

// app is everything one CLI invocation needs, built from the loaded config.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *database.DB
	registry *registry.Registry
	service  *engine.Service

	telemetry  *telemetry.Provider
	metricsOut io.Writer
}

// newApp builds the service graph. When metricsOut is set, Close writes the
// counters collected during the command there.
func newApp(ctx context.Context, cfg config.Config, logOut, metricsOut io.Writer, progress func(batch.Progress)) (*app, error) {
	logger := logging.NewWithWriter(logOut, cfg.LogLevel, cfg.LogFormat)

	provider := telemetry.NewProvider()
	otel.SetMeterProvider(provider.MeterProvider())
	metrics, err := telemetry.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, telemetry: provider, metricsOut: metricsOut}
	a.registry = registry.New(cfg, &http.Client{}, logger)

	agg := aggregator.New(a.registry,
		aggregator.WithLogger(logger),
		aggregator.WithMetrics(metrics),
		aggregator.WithDeadlines(cfg.Aggregation.QuickDeadline, cfg.Aggregation.ComprehensiveDeadline),
	)
	store := cache.New(cfg.Cache.TTL, cache.WithLogger(logger), cache.WithMetrics(metrics))

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithBatchOptions(
			batch.WithWorkers(cfg.Batch.Workers),
			batch.WithDeadline(cfg.Batch.Deadline),
			batch.WithProgress(progress),
		),
	}
	if cfg.Database.Path != "" {
		db, err := database.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.db = db
		opts = append(opts, engine.WithRepository(db), engine.WithHistory(db))
	}
	a.service = engine.New(agg, store, opts...)
	return a, nil
}

func (a *app) Close() error {
	ctx := context.Background()
	var errs []error
	if a.metricsOut != nil {
		samples, err := a.telemetry.Snapshot(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			renderMetrics(a.metricsOut, samples)
		}
	}
	errs = append(errs, a.telemetry.Shutdown(ctx))
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
