package backfill

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tickvault/tickvault/internal/event"
	"github.com/tickvault/tickvault/internal/gap"
	"github.com/tickvault/tickvault/internal/metrics"
	"github.com/tickvault/tickvault/internal/queue"
)

// Target is the per-symbol destination for backfilled events and gap
// state updates.
type Target struct {
	Events   *queue.Buffer[event.MarketEvent] // Reconciler's backfill input
	Detector *gap.Detector
}

// FetcherConfig holds fetcher tuning.
type FetcherConfig struct {
	Workers         int           // Concurrent gap fills
	MaxRetries      int           // Per-page retry budget
	RetryBackoff    time.Duration // Base backoff between page retries
	StalledInterval time.Duration // Cadence for re-queueing stalled gaps
}

// Fetcher fills gaps for all symbols of one venue. Requests share the
// venue rate limiter; limiter waits are FIFO, so no symbol starves
// another.
type Fetcher struct {
	cfg     FetcherConfig
	venue   string
	source  Source
	limiter *rate.Limiter
	targets map[string]Target // keyed by symbol
	logger  *slog.Logger

	gaps chan gap.Gap

	// In-flight dedup so a coalesced gap is not filled twice at once.
	inflightMu sync.Mutex
	inflight   map[[2]int64]string // (from,to) → symbol

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFetcher creates a backfill fetcher for one venue.
func NewFetcher(cfg FetcherConfig, venue string, source Source, limiter *rate.Limiter, targets map[string]Target, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StalledInterval <= 0 {
		cfg.StalledInterval = time.Minute
	}
	return &Fetcher{
		cfg:      cfg,
		venue:    venue,
		source:   source,
		limiter:  limiter,
		targets:  targets,
		logger:   logger.With("venue", venue),
		gaps:     make(chan gap.Gap, 1024),
		inflight: make(map[[2]int64]string),
	}
}

// Start launches the worker pool and the stalled-gap cadence.
func (f *Fetcher) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	for i := 0; i < f.cfg.Workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}

	f.wg.Add(1)
	go f.stalledLoop()

	f.logger.Info("backfill fetcher started",
		"workers", f.cfg.Workers,
		"rate_limit", f.limiter.Limit(),
	)
	return nil
}

// Stop shuts down workers. In-flight pages finish or are cancelled at
// the deadline of ctx, whichever is first.
func (f *Fetcher) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("backfill fetcher stopped")
		return nil
	case <-ctx.Done():
		f.logger.Warn("backfill fetcher stop timed out")
		return ctx.Err()
	}
}

// Enqueue submits a gap for filling. Safe from any goroutine.
func (f *Fetcher) Enqueue(g gap.Gap) {
	select {
	case f.gaps <- g:
	default:
		// Queue full: the stalled cadence will pick the gap up again,
		// its range is already recorded in the detector.
		f.logger.Warn("backfill queue full, deferring gap", "gap", g.String())
	}
}

// worker consumes gaps and fills them page by page.
func (f *Fetcher) worker() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case g := <-f.gaps:
			if !f.begin(g) {
				continue
			}
			f.fill(g)
			f.end(g)
		}
	}
}

func (f *Fetcher) begin(g gap.Gap) bool {
	f.inflightMu.Lock()
	defer f.inflightMu.Unlock()
	key := [2]int64{g.From, g.To}
	if _, busy := f.inflight[key]; busy {
		return false
	}
	f.inflight[key] = g.Symbol
	return true
}

func (f *Fetcher) end(g gap.Gap) {
	f.inflightMu.Lock()
	defer f.inflightMu.Unlock()
	delete(f.inflight, [2]int64{g.From, g.To})
}

// fill retrieves pages for one gap until the range is covered, the
// source runs dry, or retries are exhausted.
func (f *Fetcher) fill(g gap.Gap) {
	target, ok := f.targets[g.Symbol]
	if !ok {
		f.logger.Error("no target for symbol", "symbol", g.Symbol)
		return
	}

	logger := f.logger.With("symbol", g.Symbol, "from", g.From, "to", g.To)
	cur := g.From

	for cur <= g.To {
		page, err := f.fetchPage(g.Symbol, cur, g.To)
		if err != nil {
			if f.ctx.Err() != nil {
				// Shutdown: discard the partial range, never merge a
				// partially retrieved page.
				return
			}
			logger.Warn("backfill retries exhausted, gap stalled", "error", err)
			target.Detector.MarkStalled(g.From, g.To)
			return
		}

		if len(page.Events) == 0 {
			// Nothing left in [cur, g.To] at the source. HasMore only
			// says data exists beyond the range; retention has pruned
			// the range itself either way, so retrying the same page
			// can never make progress.
			target.Detector.MarkIrreparable(cur, g.To)
			metrics.GapsIrreparable.WithLabelValues(g.Symbol, g.Venue).Inc()
			logger.Warn("source cannot produce range", "remaining_from", cur, "has_more", page.HasMore)
			return
		}

		for _, ev := range page.Events {
			target.Events.Push(ev)
		}
		cur = page.Events[len(page.Events)-1].Sequence + 1

		if cur <= g.To && !page.HasMore {
			target.Detector.MarkIrreparable(cur, g.To)
			metrics.GapsIrreparable.WithLabelValues(g.Symbol, g.Venue).Inc()
			logger.Warn("source exhausted mid-range", "remaining_from", cur)
			return
		}
	}

	logger.Info("gap range fetched", "events", g.Len())
}

// fetchPage performs one rate-limited, retried page request.
func (f *Fetcher) fetchPage(symbol string, from, to int64) (Page, error) {
	var lastErr error
	backoff := f.cfg.RetryBackoff

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-f.ctx.Done():
				return Page{}, f.ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		waitStart := time.Now()
		if err := f.limiter.Wait(f.ctx); err != nil {
			return Page{}, err
		}
		metrics.BackfillThrottle.WithLabelValues(f.venue).Observe(time.Since(waitStart).Seconds())

		page, err := f.source.FetchRange(f.ctx, symbol, from, to)
		if err == nil {
			metrics.BackfillPages.WithLabelValues(f.venue).Inc()
			return page, nil
		}
		lastErr = err

		if apiErr, ok := err.(*APIError); ok && !apiErr.IsRetryable() {
			return Page{}, err
		}
		if f.ctx.Err() != nil {
			return Page{}, err
		}
	}

	return Page{}, lastErr
}

// stalledLoop re-enqueues stalled gaps on a slower cadence.
func (f *Fetcher) stalledLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			for _, target := range f.targets {
				for _, g := range target.Detector.OpenGaps() {
					if g.State != gap.StateStalled {
						continue
					}
					f.logger.Info("retrying stalled gap", "gap", g.String())
					f.Enqueue(g)
				}
			}
		}
	}
}
