package gap

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tickvault/tickvault/internal/metrics"
)

// Detector watches the live sequence stream for one (symbol, venue) and
// maintains the set of open gaps. Mutating calls arrive from the
// pipeline goroutine (Observe), the reconciler (CloseRange, ReportMissing)
// and the backfill fetcher (MarkStalled, MarkIrreparable), so all state
// is guarded by a mutex.
type Detector struct {
	symbol string
	venue  string
	logger *slog.Logger

	mu       sync.Mutex
	lastSeen int64 // highest live sequence observed, 0 = none yet
	baseline int64 // watermark.LastFlushed at startup, 0 = fresh start
	gaps     []Gap // sorted by From; open/stalled coalesced, irreparable terminal
}

// NewDetector creates a detector for one (symbol, venue).
func NewDetector(symbol, venue string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		symbol: symbol,
		venue:  venue,
		logger: logger.With("symbol", symbol, "venue", venue),
	}
}

// Seed primes the detector from the persisted watermark: the last
// durably flushed sequence and any gaps still open at shutdown.
// Must be called before the first Observe.
func (d *Detector) Seed(lastFlushed int64, open []Gap) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.baseline = lastFlushed
	for _, g := range open {
		g.Symbol, g.Venue = d.symbol, d.venue
		if g.State == "" {
			g.State = StateOpen
		}
		d.gaps = append(d.gaps, g)
	}
	sort.Slice(d.gaps, func(i, j int) bool { return d.gaps[i].From < d.gaps[j].From })
}

// Observe feeds one live sequence number. It returns a newly opened
// (coalesced) gap and true when the sequence advanced by more than one,
// or when the first live sequence after restart exceeds the watermark
// baseline.
func (d *Detector) Observe(seq int64) (Gap, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.lastSeen == 0:
		prev := d.baseline
		d.lastSeen = seq
		if prev > 0 && seq > prev+1 {
			return d.open(prev+1, seq-1), true
		}
		return Gap{}, false

	case seq <= d.lastSeen:
		// Duplicate or replay; the ingestor normally drops these.
		return Gap{}, false

	case seq == d.lastSeen+1:
		d.lastSeen = seq
		return Gap{}, false

	default:
		from, to := d.lastSeen+1, seq-1
		d.lastSeen = seq
		return d.open(from, to), true
	}
}

// ReportMissing records a range the reconciler gave up waiting for.
// Returns the coalesced gap and true if the range was not already open.
func (d *Detector) ReportMissing(from, to int64) (Gap, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, g := range d.gaps {
		if g.From <= from && to <= g.To && g.State != StateClosed {
			return g, false
		}
	}
	return d.open(from, to), true
}

// CloseRange marks [from, to] as covered. Gaps partially covered are
// trimmed; fully covered gaps are removed.
func (d *Detector) CloseRange(from, to int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.gaps[:0]
	for _, g := range d.gaps {
		if g.To < from || g.From > to {
			out = append(out, g)
			continue
		}
		remnant := false
		if g.From < from {
			left := g
			left.To = from - 1
			out = append(out, left)
			remnant = true
		}
		if g.To > to {
			right := g
			right.From = to + 1
			out = append(out, right)
			remnant = true
		}
		if !remnant {
			metrics.GapsClosed.WithLabelValues(d.symbol, d.venue).Inc()
			d.logger.Info("gap closed", "from", g.From, "to", g.To)
		}
	}
	d.gaps = out
}

// MarkStalled flags the gap containing [from, to] as stalled.
func (d *Detector) MarkStalled(from, to int64) {
	d.setState(from, to, StateStalled)
}

// MarkIrreparable flags the gap containing [from, to] as irreparable.
// Irreparable gaps stay in the open set for watermark visibility but
// are never retried.
func (d *Detector) MarkIrreparable(from, to int64) {
	d.setState(from, to, StateIrreparable)
	d.logger.Warn("gap marked irreparable", "from", from, "to", to)
}

func (d *Detector) setState(from, to int64, state State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, g := range d.gaps {
		if g.From <= from && to <= g.To {
			d.gaps[i].State = state
			return
		}
	}
}

// OpenGaps returns a copy of all gaps not yet closed, for watermark
// persistence and operator visibility.
func (d *Detector) OpenGaps() []Gap {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Gap, len(d.gaps))
	copy(out, d.gaps)
	return out
}

// LastSeen returns the highest live sequence observed.
func (d *Detector) LastSeen() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// open inserts [from, to], coalescing with overlapping or adjacent
// open/stalled gaps. Irreparable gaps never merge. Lock must be held.
func (d *Detector) open(from, to int64) Gap {
	next := Gap{Symbol: d.symbol, Venue: d.venue, From: from, To: to, State: StateOpen}

	out := d.gaps[:0]
	for _, g := range d.gaps {
		if g.State != StateIrreparable && g.overlapsOrAdjacent(next) {
			if g.From < next.From {
				next.From = g.From
			}
			if g.To > next.To {
				next.To = g.To
			}
		} else {
			out = append(out, g)
		}
	}

	i := 0
	for i < len(out) && out[i].From < next.From {
		i++
	}
	out = append(out, Gap{})
	copy(out[i+1:], out[i:])
	out[i] = next
	d.gaps = out

	metrics.GapsOpened.WithLabelValues(d.symbol, d.venue).Inc()
	d.logger.Info("gap opened", "from", next.From, "to", next.To, "missing", next.Len())
	return next
}
