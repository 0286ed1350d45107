package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tickvault/tickvault/internal/backfill"
	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/metrics"
	"github.com/tickvault/tickvault/internal/storage"
	"github.com/tickvault/tickvault/internal/symbols"
	"github.com/tickvault/tickvault/internal/version"
)

const shutdownGrace = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/capture.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting capture",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"data_dir", cfg.Data.Dir,
		"captures", len(cfg.Captures),
	)

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		logger.Error("data directory unusable", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("capture failed", "error", err)
		os.Exit(1)
	}

	logger.Info("capture stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Venue stacks: one REST client, rate limiter, and fetcher pool per
	// venue, shared by all of that venue's symbol pipelines.
	venues := make(map[string]*venueStack)
	for name, vcfg := range cfg.Venues {
		venues[name] = newVenueStack(name, vcfg, cfg, logger)
	}

	// Validate configured symbols against the venue rules before any
	// capture task starts. A partial startup would leave symbols
	// uncaptured invisibly.
	for name, venue := range venues {
		probeCtx, probeCancel := context.WithTimeout(ctx, time.Minute)
		serverTime, usedWeight, err := venue.client.ServerTime(probeCtx)
		if err != nil {
			probeCancel()
			return fmt.Errorf("venue %s unreachable: %w", name, err)
		}
		logger.Info("venue reachable",
			"venue", name,
			"server_time", serverTime,
			"clock_skew", time.Since(serverTime),
			"used_weight", usedWeight,
		)

		registry := symbols.NewRegistry(logger)
		if err := registry.Load(probeCtx, venue.client); err != nil {
			probeCancel()
			return fmt.Errorf("load exchange rules for %s: %w", name, err)
		}
		probeCancel()

		var configured []string
		for _, capture := range cfg.Captures {
			if capture.Venue == name {
				configured = append(configured, capture.Symbol)
			}
		}
		if err := registry.Validate(configured); err != nil {
			return fmt.Errorf("symbol validation for %s: %w", name, err)
		}
		logger.Info("symbols validated", "venue", name, "configured", len(configured), "known", registry.Len())
	}

	// Optional PostgreSQL mirror, shared across symbols.
	var mirror *storage.Mirror
	if cfg.Mirror.Enabled() {
		pool, err := storage.Connect(ctx, cfg.Mirror.Postgres)
		if err != nil {
			return fmt.Errorf("connect mirror: %w", err)
		}
		mirror = storage.NewMirror(pool, logger)
		defer mirror.Close()
		if err := mirror.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("mirror schema: %w", err)
		}
		logger.Info("mirror connected", "host", cfg.Mirror.Postgres.Host)
	}

	store := storage.NewWatermarkStore(cfg.Data.Dir)

	// Build every symbol pipeline before starting any of them, so a
	// configuration or recovery failure aborts the whole process.
	var pipelines []*symbolPipeline
	for _, capture := range cfg.Captures {
		venue, ok := venues[capture.Venue]
		if !ok {
			return fmt.Errorf("capture %s references unknown venue %s", capture.Symbol, capture.Venue)
		}
		p, err := newSymbolPipeline(cfg, capture.Symbol, venue, store, logger)
		if err != nil {
			return err
		}
		if mirror != nil {
			p.writer.AttachMirror(mirror)
		}
		pipelines = append(pipelines, p)
	}

	// Fetchers last: they need the full target map.
	for name, venue := range venues {
		venue.fetcher = backfill.NewFetcher(backfill.FetcherConfig{
			Workers:         cfg.Backfill.Workers,
			MaxRetries:      cfg.Backfill.MaxRetries,
			RetryBackoff:    cfg.Backfill.RetryBackoff,
			StalledInterval: cfg.Backfill.StalledInterval,
		}, name, venue.history, venue.limiter, venue.targets, logger)
		if err := venue.fetcher.Start(ctx); err != nil {
			return fmt.Errorf("start fetcher for %s: %w", name, err)
		}
	}

	var metricsServer *http.Server
	if cfg.Metrics.Port > 0 {
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		metricsServer = metrics.Serve(addr, cfg.Metrics.Path)
		logger.Info("metrics endpoint up", "addr", addr, "path", cfg.Metrics.Path)
	}

	started := 0
	for _, p := range pipelines {
		if err := p.start(ctx); err != nil {
			logger.Error("pipeline failed to start", "symbol", p.symbol, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no pipeline started")
	}

	logger.Info("capture running", "instance_id", cfg.Instance.ID, "pipelines", started)
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	// In-flight backfill pages finish or are cut off at the deadline;
	// partial pages are discarded, never partially merged.
	for name, venue := range venues {
		if err := venue.fetcher.Stop(shutdownCtx); err != nil {
			logger.Warn("fetcher stop", "venue", name, "error", err)
		}
	}

	var firstErr error
	for _, p := range pipelines {
		if err := p.stop(shutdownCtx); err != nil {
			logger.Error("pipeline stop", "symbol", p.symbol, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	return firstErr
}
