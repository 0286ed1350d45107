package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tickvault/tickvault/internal/event"
	"github.com/tickvault/tickvault/internal/metrics"
	"github.com/tickvault/tickvault/internal/queue"
)

// Ingestor maintains exactly one logical subscription for a
// (symbol, venue) pair and emits canonical events in arrival order.
// Duplicates (sequence at or below the cursor) are dropped here;
// forward jumps are emitted immediately without blocking, and the gap
// detector downstream records the missing range.
type Ingestor struct {
	cfg    IngestorConfig
	symbol string
	source Source
	out    *queue.Buffer[event.MarketEvent]
	logger *slog.Logger

	// cursor is owned by the run goroutine. Guarded only for Cursor()
	// snapshots from stat collectors.
	mu     sync.Mutex
	cursor Cursor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// statsReporter is implemented by streams backed by a websocket
// client; other Stream implementations just log less on disconnect.
type statsReporter interface {
	Stats() ClientStats
}

// NewIngestor creates an ingestor for one symbol on one venue.
func NewIngestor(cfg IngestorConfig, symbol string, source Source, out *queue.Buffer[event.MarketEvent], logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultIngestorConfig().ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = DefaultIngestorConfig().ReconnectMaxDelay
	}
	return &Ingestor{
		cfg:    cfg,
		symbol: symbol,
		source: source,
		out:    out,
		logger: logger.With("symbol", symbol, "venue", source.Venue()),
		cursor: Cursor{State: StateConnecting},
	}
}

// Start launches the connection state machine.
func (in *Ingestor) Start(ctx context.Context) error {
	in.ctx, in.cancel = context.WithCancel(ctx)

	in.wg.Add(1)
	go in.run()

	in.logger.Info("ingestor started")
	return nil
}

// Stop closes the subscription gracefully.
func (in *Ingestor) Stop(ctx context.Context) error {
	if in.cancel != nil {
		in.cancel()
	}

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		in.logger.Info("ingestor stopped")
		return nil
	case <-ctx.Done():
		in.logger.Warn("ingestor stop timed out")
		return ctx.Err()
	}
}

// Cursor returns a snapshot of the stream cursor.
func (in *Ingestor) Cursor() Cursor {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cursor
}

func (in *Ingestor) setState(s ConnState) {
	in.mu.Lock()
	in.cursor.State = s
	in.mu.Unlock()
}

// run drives the connection state machine until shutdown.
func (in *Ingestor) run() {
	defer in.wg.Done()
	defer in.setState(StateClosed)

	for {
		if in.ctx.Err() != nil {
			return
		}

		in.setState(StateConnecting)
		stream, err := in.source.Connect(in.ctx, in.symbol)
		if err != nil {
			if in.ctx.Err() != nil {
				return
			}
			in.logger.Warn("connect failed", "error", err)
			if !in.backoff() {
				return
			}
			continue
		}

		in.rebaseline(stream)
		in.mu.Lock()
		in.cursor.Attempt = 0
		in.cursor.State = StateLive
		in.mu.Unlock()

		err = in.consume(stream)
		stream.Close()
		if in.ctx.Err() != nil {
			return
		}

		ended := []any{"error", err}
		if sr, ok := stream.(statsReporter); ok {
			stats := sr.Stats()
			ended = append(ended, "received", stats.Received, "dropped", stats.Dropped, "last_seen", stats.LastSeenAt)
		}
		in.logger.Warn("stream ended, reconnecting", ended...)
		metrics.Reconnects.WithLabelValues(in.symbol, in.source.Venue()).Inc()
		if !in.backoff() {
			return
		}
	}
}

// rebaseline applies the connect snapshot. On a fresh start the cursor
// adopts the snapshot sequence; after a reconnect the cursor is kept so
// the missed range surfaces as a gap instead of being silently skipped.
func (in *Ingestor) rebaseline(stream Stream) {
	base, ok := stream.Baseline()
	if !ok {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cursor.LastSeen == 0 {
		in.cursor.LastSeen = base
		in.logger.Info("cursor baselined from snapshot", "sequence", base)
	}
}

// consume processes one live stream until it errors or shutdown.
func (in *Ingestor) consume(stream Stream) error {
	for {
		select {
		case <-in.ctx.Done():
			return in.ctx.Err()

		case err := <-stream.Errors():
			return err

		case raw, ok := <-stream.Messages():
			if !ok {
				return errors.New("message channel closed")
			}

			ev, err := in.source.Parse(in.symbol, raw)
			if err != nil {
				if errors.Is(err, ErrSkipMessage) {
					continue
				}
				// Protocol error: resubscribe with a fresh snapshot.
				in.logger.Warn("protocol error, resubscribing", "error", err)
				return err
			}

			if !in.accept(ev) {
				continue
			}
			in.out.Push(ev)
			metrics.EventsIngested.WithLabelValues(in.symbol, in.source.Venue()).Inc()
		}
	}
}

// accept applies the cursor sequence rules. Returns false for dropped
// duplicates.
func (in *Ingestor) accept(ev event.MarketEvent) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	last := in.cursor.LastSeen
	switch {
	case last > 0 && ev.Sequence <= last:
		if last-ev.Sequence > resetTolerance {
			// Venue-side resync: numbering restarted far below the
			// cursor. Rebaseline rather than black-holing the feed.
			in.logger.Warn("sequence reset detected, rebaselining",
				"cursor", last, "sequence", ev.Sequence)
			in.cursor.LastSeen = ev.Sequence
			return true
		}
		metrics.EventsDeduped.WithLabelValues(in.symbol, in.source.Venue(), "live").Inc()
		return false

	default:
		// In-order or a forward jump: emit immediately, never block on
		// the missing range. The detector owns gap bookkeeping.
		in.cursor.LastSeen = ev.Sequence
		return true
	}
}

// backoff sleeps the jittered exponential delay for the next attempt.
// Returns false when shutdown interrupted the wait.
func (in *Ingestor) backoff() bool {
	in.mu.Lock()
	in.cursor.State = StateBackingOff
	in.cursor.Attempt++
	attempt := in.cursor.Attempt
	in.mu.Unlock()

	wait := in.cfg.ReconnectBaseDelay << (attempt - 1)
	if wait > in.cfg.ReconnectMaxDelay || wait <= 0 {
		wait = in.cfg.ReconnectMaxDelay
	}
	// Jitter: wait * (0.5 to 1.5), avoids thundering-herd reconnects
	// across many symbols.
	wait = wait/2 + time.Duration(rand.Int64N(int64(wait)))

	select {
	case <-in.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
