package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tickvault/tickvault/internal/auth"
	"github.com/tickvault/tickvault/internal/backfill"
	"github.com/tickvault/tickvault/internal/config"
	"github.com/tickvault/tickvault/internal/event"
	"github.com/tickvault/tickvault/internal/feed"
	"github.com/tickvault/tickvault/internal/gap"
	"github.com/tickvault/tickvault/internal/queue"
	"github.com/tickvault/tickvault/internal/reconcile"
	"github.com/tickvault/tickvault/internal/storage"
)

// venueStack holds the per-venue collaborators shared by all of that
// venue's symbol pipelines.
type venueStack struct {
	name    string
	client  *backfill.Client
	limiter *rate.Limiter
	history *backfill.BinanceSource
	feed    *feed.BinanceSource
	fetcher *backfill.Fetcher
	targets map[string]backfill.Target
}

func newVenueStack(name string, vcfg config.VenueConfig, cfg *config.Config, logger *slog.Logger) *venueStack {
	opts := []backfill.ClientOption{
		backfill.WithLogger(logger),
		backfill.WithRetries(cfg.Backfill.MaxRetries, cfg.Backfill.RetryBackoff),
	}
	if vcfg.Timeout > 0 {
		opts = append(opts, backfill.WithTimeout(vcfg.Timeout))
	}
	if vcfg.APIKey != "" {
		if creds, err := auth.NewCredentials(vcfg.APIKey, vcfg.APISecret); err == nil {
			opts = append(opts, backfill.WithCredentials(creds))
		}
	}
	client := backfill.NewClient(vcfg.RestURL, opts...)

	history := backfill.NewBinanceSource(client, cfg.Backfill.PageSize)

	feedCfg := feed.DefaultClientConfig()
	feedCfg.URL = vcfg.WSURL
	if cfg.Feed.HandshakeTimeout > 0 {
		feedCfg.HandshakeTimeout = cfg.Feed.HandshakeTimeout
	}
	if cfg.Feed.HeartbeatInterval > 0 {
		feedCfg.HeartbeatInterval = cfg.Feed.HeartbeatInterval
	}
	if cfg.Feed.PingTimeout > 0 {
		feedCfg.PingTimeout = cfg.Feed.PingTimeout
	}
	if cfg.Feed.WriteTimeout > 0 {
		feedCfg.WriteTimeout = cfg.Feed.WriteTimeout
	}
	if cfg.Feed.BufferSize > 0 {
		feedCfg.BufferSize = cfg.Feed.BufferSize
	}

	return &venueStack{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(vcfg.RateLimitPerSec), vcfg.RateLimitBurst),
		history: history,
		feed:    feed.NewBinanceSource(feedCfg, history, logger),
		targets: make(map[string]backfill.Target),
	}
}

// symbolPipeline wires one (symbol, venue) capture end to end:
// ingestor -> gap detector -> reconciler -> partition writer, with the
// shared backfill fetcher filling detected gaps.
type symbolPipeline struct {
	symbol string
	venue  *venueStack
	logger *slog.Logger

	liveBuf     *queue.Buffer[event.MarketEvent]
	backfillBuf *queue.Buffer[event.MarketEvent]
	writerBuf   *queue.Buffer[event.MarketEvent]

	detector   *gap.Detector
	ingestor   *feed.Ingestor
	reconciler *reconcile.Reconciler
	writer     *storage.PartitionWriter
	store      *storage.WatermarkStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newSymbolPipeline recovers the symbol's watermark and builds every
// stage seeded from it.
func newSymbolPipeline(cfg *config.Config, symbol string, venue *venueStack, store *storage.WatermarkStore, logger *slog.Logger) (*symbolPipeline, error) {
	wm, found, err := store.Recover(symbol, venue.name)
	if err != nil {
		return nil, fmt.Errorf("recover watermark for %s: %w", symbol, err)
	}

	p := &symbolPipeline{
		symbol:      symbol,
		venue:       venue,
		logger:      logger.With("symbol", symbol, "venue", venue.name),
		liveBuf:     queue.New[event.MarketEvent](1024),
		backfillBuf: queue.New[event.MarketEvent](1024),
		writerBuf:   queue.New[event.MarketEvent](4096),
		store:       store,
	}

	p.detector = gap.NewDetector(symbol, venue.name, logger)

	p.ingestor = feed.NewIngestor(feed.IngestorConfig{
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
	}, symbol, venue.feed, p.liveBuf, logger)

	p.reconciler = reconcile.NewReconciler(reconcile.Config{
		MaxHeld:     cfg.Reconciler.MaxHeld,
		HoldTimeout: cfg.Reconciler.HoldTimeout,
	}, symbol, venue.name, p.detector, p.writerBuf, logger)

	// Seed only a genuine resume point. On a fresh start the first
	// live sequence becomes the baseline; seeding zero would flag the
	// whole venue history below it as missing.
	if found {
		p.detector.Seed(wm.LastFlushed, wm.OpenGaps)
		p.reconciler.Seed(wm.LastFlushed)
	}

	p.writer = storage.NewPartitionWriter(storage.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
	}, symbol, venue.name, cfg.Data.Dir, wm.LastFlushed, p.writerBuf, p.detector, store, logger)

	venue.targets[symbol] = backfill.Target{
		Events:   p.backfillBuf,
		Detector: p.detector,
	}

	p.logger.Info("pipeline prepared",
		"resumed", found,
		"last_flushed", wm.LastFlushed,
		"open_gaps", len(wm.OpenGaps),
	)
	return p, nil
}

func (p *symbolPipeline) start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.writer.Start(p.ctx); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}
	if err := p.reconciler.Start(p.ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	if err := p.ingestor.Start(p.ctx); err != nil {
		return fmt.Errorf("start ingestor: %w", err)
	}

	p.wg.Add(3)
	go p.routeLive()
	go p.routeBackfill()
	go p.watchFatal()

	return nil
}

// stop tears the pipeline down back to front so nothing is lost:
// sources first, then the reconciler, then the writer's final flush,
// then one last watermark carrying the final open-gap set.
func (p *symbolPipeline) stop(ctx context.Context) error {
	p.ingestor.Stop(ctx)
	p.liveBuf.Close()
	p.backfillBuf.Close()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.reconciler.Stop(ctx)
	p.writerBuf.Close()

	if err := p.writer.Stop(ctx); err != nil {
		return err
	}

	// A fresh start that never flushed has no resume point; writing a
	// zero watermark would make the next start treat sequence zero as
	// the baseline.
	last := p.writer.LastFlushed()
	if last > 0 {
		wm := storage.Watermark{
			Symbol:      p.symbol,
			Venue:       p.venue.name,
			LastFlushed: last,
			OpenGaps:    p.detector.OpenGaps(),
		}
		if err := p.store.Persist(wm); err != nil {
			return fmt.Errorf("persist final watermark: %w", err)
		}
	}

	p.logger.Info("pipeline stopped", "last_flushed", last, "open_gaps", len(p.detector.OpenGaps()))
	return nil
}

// routeLive feeds ingested events through the gap detector into the
// reconciler, dispatching any newly opened gap to the backfill fetcher.
func (p *symbolPipeline) routeLive() {
	defer p.wg.Done()

	for {
		ev, ok := p.popOrDone(p.liveBuf)
		if !ok {
			return
		}
		if g, opened := p.detector.Observe(ev.Sequence); opened {
			p.venue.fetcher.Enqueue(g)
		}
		p.reconciler.SubmitLive(ev)
	}
}

// routeBackfill feeds recovered events into the reconciler.
func (p *symbolPipeline) routeBackfill() {
	defer p.wg.Done()

	for {
		ev, ok := p.popOrDone(p.backfillBuf)
		if !ok {
			return
		}
		p.reconciler.SubmitBackfill(ev)
	}
}

// watchFatal halts this symbol's pipeline on a storage failure without
// touching any other symbol.
func (p *symbolPipeline) watchFatal() {
	defer p.wg.Done()

	select {
	case <-p.ctx.Done():
	case err := <-p.writer.Fatal():
		p.logger.Error("halting pipeline on storage failure", "error", err)
		p.ingestor.Stop(p.ctx)
		p.cancel()
	}
}

// popOrDone pops with periodic shutdown checks so routers exit even
// when their buffer never closes.
func (p *symbolPipeline) popOrDone(buf *queue.Buffer[event.MarketEvent]) (event.MarketEvent, bool) {
	for {
		if ev, ok := buf.TryPop(); ok {
			return ev, true
		}
		select {
		case <-p.ctx.Done():
			// Drain what is already buffered before giving up.
			if ev, ok := buf.TryPop(); ok {
				return ev, true
			}
			return event.MarketEvent{}, false
		case <-time.After(5 * time.Millisecond):
		}
	}
}
