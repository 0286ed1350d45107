package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tickvault/tickvault/internal/event"
	"github.com/tickvault/tickvault/internal/gap"
	"github.com/tickvault/tickvault/internal/metrics"
	"github.com/tickvault/tickvault/internal/queue"
)

// WriterConfig tunes the partition writer.
type WriterConfig struct {
	BatchSize     int           // Flush when the buffer holds this many rows
	FlushInterval time.Duration // Flush at least this often
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     5000,
		FlushInterval: 5 * time.Second,
	}
}

// PartitionWriter consumes the reconciler's ordered stream for one
// symbol and persists it as date-partitioned parquet files. Rows
// arrive already ordered and deduplicated; the writer only batches
// and makes them durable.
//
// A storage failure is fatal for the symbol: the writer stops
// consuming and reports the error on Fatal(). It never drops a
// buffered batch silently.
type PartitionWriter struct {
	cfg      WriterConfig
	symbol   string
	venue    string
	dir      string
	input    *queue.Buffer[event.MarketEvent]
	detector *gap.Detector
	store    *WatermarkStore
	logger   *slog.Logger

	batchMu sync.Mutex
	batch   []Row

	mirror      *Mirror
	lastFlushed int64
	fatal       chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPartitionWriter creates a writer for one symbol. lastFlushed is
// the recovered watermark sequence; flushes advance from there.
func NewPartitionWriter(cfg WriterConfig, symbol, venue, dir string, lastFlushed int64, input *queue.Buffer[event.MarketEvent], detector *gap.Detector, store *WatermarkStore, logger *slog.Logger) *PartitionWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &PartitionWriter{
		cfg:         cfg,
		symbol:      symbol,
		venue:       venue,
		dir:         dir,
		input:       input,
		detector:    detector,
		store:       store,
		logger:      logger.With("symbol", symbol, "venue", venue),
		batch:       make([]Row, 0, cfg.BatchSize),
		lastFlushed: lastFlushed,
		fatal:       make(chan error, 1),
	}
}

// AttachMirror adds the optional PostgreSQL sink. Must be called
// before Start.
func (w *PartitionWriter) AttachMirror(m *Mirror) {
	w.mirror = m
}

// Fatal reports an unrecoverable storage failure. The channel receives
// at most one error; the symbol's pipeline must halt on it.
func (w *PartitionWriter) Fatal() <-chan error {
	return w.fatal
}

// Start begins consuming and flushing.
func (w *PartitionWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("partition writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the goroutines and flushes whatever is buffered,
// regardless of thresholds.
func (w *PartitionWriter) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("partition writer stop timed out")
	}

	if err := w.flush(); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	w.logger.Info("partition writer stopped", "last_flushed", w.lastFlushed)
	return nil
}

// LastFlushed returns the highest durably flushed sequence.
func (w *PartitionWriter) LastFlushed() int64 {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.lastFlushed
}

func (w *PartitionWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			ev, ok := w.input.TryPop()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			if err := w.append(ev); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *PartitionWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.flush(); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

// append buffers one row. A batch never spans a UTC day, so date
// partitions stay self-contained; crossing midnight forces a flush of
// the old day first.
func (w *PartitionWriter) append(ev event.MarketEvent) error {
	row := ToRow(ev)

	w.batchMu.Lock()
	dayCrossed := len(w.batch) > 0 && partitionDate(w.batch[0]) != partitionDate(row)
	w.batchMu.Unlock()

	if dayCrossed {
		if err := w.flush(); err != nil {
			return err
		}
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	full := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if full {
		return w.flush()
	}
	return nil
}

// flush makes the current batch durable: parquet to a temporary name,
// fsync, rename into place, then watermark. The watermark write
// strictly follows the rename.
func (w *PartitionWriter) flush() error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]Row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	first := batch[0].Sequence
	last := batch[len(batch)-1].Sequence

	if err := w.writePartition(batch); err != nil {
		return fmt.Errorf("flush %s [%d,%d]: %w", w.symbol, first, last, err)
	}

	wm := Watermark{
		Symbol:      w.symbol,
		Venue:       w.venue,
		LastFlushed: last,
		OpenGaps:    w.detector.OpenGaps(),
	}
	if err := w.store.Persist(wm); err != nil {
		return fmt.Errorf("persist watermark: %w", err)
	}

	w.batchMu.Lock()
	w.lastFlushed = last
	w.batchMu.Unlock()

	if w.mirror != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			conflicts, err := w.mirror.Insert(context.Background(), batch)
			if err != nil {
				w.logger.Warn("mirror insert failed", "error", err, "rows", len(batch))
				return
			}
			if conflicts > 0 {
				w.logger.Debug("mirror replayed rows", "conflicts", conflicts)
			}
		}()
	}

	metrics.FlushRows.WithLabelValues(w.symbol).Observe(float64(len(batch)))
	metrics.FlushDuration.WithLabelValues(w.symbol).Observe(time.Since(start).Seconds())
	metrics.WatermarkSequence.WithLabelValues(w.symbol, w.venue).Set(float64(last))

	w.logger.Debug("flushed partition",
		"rows", len(batch),
		"first", first,
		"last", last,
		"duration", time.Since(start),
	)
	return nil
}

// writePartition writes one parquet file atomically.
func (w *PartitionWriter) writePartition(batch []Row) error {
	dir := filepath.Join(w.dir, w.symbol, partitionDate(batch[0]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	name := fmt.Sprintf("events-%d-%d.parquet", batch[0].Sequence, batch[len(batch)-1].Sequence)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	pw := parquet.NewGenericWriter[Row](f)
	if _, err := pw.Write(batch); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename partition: %w", err)
	}
	return syncDir(dir)
}

// fail reports a fatal storage error once and shuts the writer down.
func (w *PartitionWriter) fail(err error) {
	w.logger.Error("storage failure, halting symbol pipeline", "error", err)
	select {
	case w.fatal <- err:
	default:
	}
	w.cancel()
}

// partitionDate is the UTC date of a row's event time.
func partitionDate(r Row) string {
	return time.UnixMicro(r.EventTime).UTC().Format("2006-01-02")
}
