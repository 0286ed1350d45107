package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tickvault/tickvault/internal/event"
	"github.com/tickvault/tickvault/internal/gap"
	"github.com/tickvault/tickvault/internal/metrics"
	"github.com/tickvault/tickvault/internal/queue"
)

// Config tunes the holding buffer.
type Config struct {
	// MaxHeld bounds how many out-of-order events may be held before
	// the buffer is force-released.
	MaxHeld int

	// HoldTimeout bounds how long the buffer may go without emitting
	// anything before it is force-released. Progress resets the clock,
	// so an in-flight backfill that is still delivering keeps its held
	// successors alive.
	HoldTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxHeld:     10000,
		HoldTimeout: 3 * time.Second,
	}
}

type heldEvent struct {
	ev   event.MarketEvent
	live bool
}

// Reconciler merges live and backfilled events for one (symbol, venue)
// into a strictly increasing sequence stream. SubmitLive and
// SubmitBackfill may be called from different goroutines; all emission
// happens under the reconciler's lock, so output order is total.
type Reconciler struct {
	cfg      Config
	symbol   string
	venue    string
	detector *gap.Detector
	out      *queue.Buffer[event.MarketEvent]
	logger   *slog.Logger

	mu          sync.Mutex
	next        int64 // lowest unemitted sequence, 0 = not yet baselined
	held        map[int64]heldEvent
	lastAdvance time.Time // when next last moved forward

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler creates a reconciler for one (symbol, venue).
func NewReconciler(cfg Config, symbol, venue string, detector *gap.Detector, out *queue.Buffer[event.MarketEvent], logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxHeld <= 0 {
		cfg.MaxHeld = DefaultConfig().MaxHeld
	}
	if cfg.HoldTimeout <= 0 {
		cfg.HoldTimeout = DefaultConfig().HoldTimeout
	}
	return &Reconciler{
		cfg:         cfg,
		symbol:      symbol,
		venue:       venue,
		detector:    detector,
		out:         out,
		logger:      logger.With("symbol", symbol, "venue", venue),
		held:        make(map[int64]heldEvent),
		lastAdvance: time.Now(),
	}
}

// Seed sets the resume point from the persisted watermark. Must be
// called before the first Submit.
func (r *Reconciler) Seed(lastFlushed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = lastFlushed + 1
	r.lastAdvance = time.Now()
}

// Start launches the hold-timeout sweeper.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.sweep()

	r.logger.Info("reconciler started", "max_held", r.cfg.MaxHeld, "hold_timeout", r.cfg.HoldTimeout)
	return nil
}

// Stop halts the sweeper. Held out-of-order events are not emitted:
// they are below the watermark and will be recovered through backfill
// on the next start.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitLive feeds one event from the stream ingestor.
func (r *Reconciler) SubmitLive(ev event.MarketEvent) {
	r.submit(ev, true)
}

// SubmitBackfill feeds one event recovered by the backfill fetcher.
func (r *Reconciler) SubmitBackfill(ev event.MarketEvent) {
	r.submit(ev, false)
}

// Pending returns the number of held out-of-order events.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

func (r *Reconciler) submit(ev event.MarketEvent, live bool) {
	source := "backfill"
	if live {
		source = "live"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next == 0 {
		// Fresh start with no watermark: the first event is the baseline.
		r.next = ev.Sequence
		r.lastAdvance = time.Now()
	}

	switch {
	case ev.Sequence < r.next:
		metrics.EventsDeduped.WithLabelValues(r.symbol, r.venue, source).Inc()
		return

	case ev.Sequence == r.next:
		run := []event.MarketEvent{ev}
		r.next++
		for {
			h, ok := r.held[r.next]
			if !ok {
				break
			}
			delete(r.held, r.next)
			run = append(run, h.ev)
			r.next++
		}
		r.lastAdvance = time.Now()
		r.emit(run)

	default:
		if cur, ok := r.held[ev.Sequence]; ok {
			// Equal sequences are one event; the live copy wins.
			if live && !cur.live {
				r.held[ev.Sequence] = heldEvent{ev: ev, live: true}
				metrics.EventsDeduped.WithLabelValues(r.symbol, r.venue, "backfill").Inc()
			} else {
				metrics.EventsDeduped.WithLabelValues(r.symbol, r.venue, source).Inc()
			}
			return
		}
		r.held[ev.Sequence] = heldEvent{ev: ev, live: live}
		if len(r.held) > r.cfg.MaxHeld {
			r.release("holding buffer full")
		}
	}
}

// emit pushes a consecutive run to the writer and confirms coverage to
// the detector. Lock must be held.
func (r *Reconciler) emit(run []event.MarketEvent) {
	for _, ev := range run {
		r.out.Push(ev)
	}
	metrics.EventsEmitted.WithLabelValues(r.symbol, r.venue).Add(float64(len(run)))
	r.detector.CloseRange(run[0].Sequence, run[len(run)-1].Sequence)
}

// release emits everything held, in order, recording the skipped
// ranges as gaps. This is the controlled-loss path: memory stays
// bounded, and the loss is visible in the open-gap set instead of
// being silent. Lock must be held.
func (r *Reconciler) release(reason string) {
	if len(r.held) == 0 {
		return
	}

	seqs := make([]int64, 0, len(r.held))
	for s := range r.held {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var run []event.MarketEvent
	flushRun := func() {
		if len(run) > 0 {
			r.emit(run)
			run = nil
		}
	}

	for _, s := range seqs {
		if s > r.next {
			flushRun()
			g, _ := r.detector.ReportMissing(r.next, s-1)
			r.logger.Warn("releasing holding buffer with loss",
				"reason", reason, "missing_from", g.From, "missing_to", g.To)
		}
		h := r.held[s]
		delete(r.held, s)
		run = append(run, h.ev)
		r.next = s + 1
	}
	flushRun()
	r.lastAdvance = time.Now()
}

// sweep force-releases the holding buffer when nothing has been emitted
// for HoldTimeout while events sit held. Any progress resets the clock:
// a gap below the buffer that backfill is actively filling never
// triggers a release, only a gap going nowhere does.
func (r *Reconciler) sweep() {
	defer r.wg.Done()

	interval := r.cfg.HoldTimeout / 4
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			if len(r.held) > 0 && time.Since(r.lastAdvance) >= r.cfg.HoldTimeout {
				r.release("hold timeout")
			}
			r.mu.Unlock()
		}
	}
}
