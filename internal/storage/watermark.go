package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tickvault/tickvault/internal/gap"
)

const watermarkFile = "watermark.json"

// Watermark is the durable resume point for one symbol: the highest
// sequence flushed to a partition file plus the gaps still open at the
// time of the flush. It is the sole authority for what has been
// written; partition filenames are only a consistency fallback.
type Watermark struct {
	Symbol      string    `json:"symbol"`
	Venue       string    `json:"venue"`
	LastFlushed int64     `json:"last_flushed_sequence"`
	OpenGaps    []gap.Gap `json:"open_gaps"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WatermarkStore reads and writes per-symbol watermark sidecars under
// the data directory.
type WatermarkStore struct {
	dir string
}

// NewWatermarkStore creates a store rooted at the data directory.
func NewWatermarkStore(dir string) *WatermarkStore {
	return &WatermarkStore{dir: dir}
}

func (s *WatermarkStore) path(symbol string) string {
	return filepath.Join(s.dir, symbol, watermarkFile)
}

// Load reads the persisted watermark for symbol. A missing file is a
// fresh start, reported by found=false.
func (s *WatermarkStore) Load(symbol string) (wm Watermark, found bool, err error) {
	data, err := os.ReadFile(s.path(symbol))
	if errors.Is(err, fs.ErrNotExist) {
		return Watermark{Symbol: symbol}, false, nil
	}
	if err != nil {
		return Watermark{}, false, fmt.Errorf("read watermark: %w", err)
	}
	if err := json.Unmarshal(data, &wm); err != nil {
		return Watermark{}, false, fmt.Errorf("decode watermark %s: %w", s.path(symbol), err)
	}
	return wm, true, nil
}

// Persist writes the watermark atomically: temporary file, fsync,
// rename over the previous record.
func (s *WatermarkStore) Persist(wm Watermark) error {
	wm.UpdatedAt = time.Now().UTC()

	dir := filepath.Join(s.dir, wm.Symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create symbol dir: %w", err)
	}

	data, err := json.MarshalIndent(wm, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}

	tmp := s.path(wm.Symbol) + ".tmp"
	if err := writeAndSync(tmp, data); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(wm.Symbol)); err != nil {
		return fmt.Errorf("rename watermark: %w", err)
	}
	return syncDir(dir)
}

// Recover loads the watermark and reconciles it against the partition
// files on disk. A crash between a partition rename and the watermark
// write leaves files whose upper sequence exceeds the record; those
// files are rescanned so the watermark advances past them and the
// open-gap set reflects what the lost flush actually covered. Restart
// then neither reprocesses nor loses that flush.
//
// found is false only when there is neither a watermark nor any
// partition file: a true fresh start, where the first observed live
// sequence becomes the baseline instead of zero.
func (s *WatermarkStore) Recover(symbol, venue string) (wm Watermark, found bool, err error) {
	wm, found, err = s.Load(symbol)
	if err != nil {
		return Watermark{}, false, err
	}
	wm.Symbol, wm.Venue = symbol, venue

	unrecorded, err := partitionsAfter(filepath.Join(s.dir, symbol), wm.LastFlushed)
	if err != nil {
		return Watermark{}, false, err
	}
	if len(unrecorded) == 0 {
		return wm, found, nil
	}

	baselined := found
	for _, path := range unrecorded {
		rows, err := ReadPartition(path)
		if err != nil {
			return Watermark{}, false, fmt.Errorf("rescan partition %s: %w", path, err)
		}
		for _, run := range sequenceRuns(rows) {
			if !baselined {
				// Partition files without a watermark: the earliest
				// flushed row is the baseline, not sequence zero.
				wm.LastFlushed = run[0] - 1
				baselined = true
			}
			if run[1] <= wm.LastFlushed {
				continue
			}
			from := run[0]
			if from <= wm.LastFlushed {
				from = wm.LastFlushed + 1
			}
			wm.OpenGaps = closeGapRange(wm.OpenGaps, from, run[1])
			if from > wm.LastFlushed+1 {
				// A hole the lost flush skipped over; keep it visible.
				wm.OpenGaps = addGap(wm.OpenGaps, gap.Gap{
					Symbol: symbol, Venue: venue,
					From: wm.LastFlushed + 1, To: from - 1,
					State: gap.StateOpen,
				})
			}
			wm.LastFlushed = run[1]
		}
	}

	if err := s.Persist(wm); err != nil {
		return Watermark{}, false, err
	}
	return wm, true, nil
}

// partitionsAfter returns partition files whose upper sequence exceeds
// lastFlushed, in ascending sequence order. The range is encoded in
// the filename, so only files ahead of the watermark are opened.
func partitionsAfter(symbolDir string, lastFlushed int64) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(symbolDir, "*", "events-*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("scan partitions: %w", err)
	}

	type part struct {
		path  string
		first int64
	}
	var ahead []part
	for _, m := range matches {
		first, last, ok := parsePartitionName(filepath.Base(m))
		if !ok || last <= lastFlushed {
			continue
		}
		ahead = append(ahead, part{path: m, first: first})
	}
	sort.Slice(ahead, func(i, j int) bool { return ahead[i].first < ahead[j].first })

	paths := make([]string, len(ahead))
	for i, p := range ahead {
		paths[i] = p.path
	}
	return paths, nil
}

// parsePartitionName extracts the sequence range from
// "events-<first>-<last>.parquet".
func parsePartitionName(name string) (first, last int64, ok bool) {
	n, err := fmt.Sscanf(name, "events-%d-%d.parquet", &first, &last)
	return first, last, err == nil && n == 2
}

// ReadPartition loads all rows from one partition file.
func ReadPartition(path string) ([]Row, error) {
	return parquet.ReadFile[Row](path)
}

// sequenceRuns collapses sorted rows into contiguous [from, to] runs.
func sequenceRuns(rows []Row) [][2]int64 {
	var runs [][2]int64
	for _, r := range rows {
		n := len(runs)
		if n > 0 && r.Sequence == runs[n-1][1]+1 {
			runs[n-1][1] = r.Sequence
			continue
		}
		runs = append(runs, [2]int64{r.Sequence, r.Sequence})
	}
	return runs
}

// closeGapRange trims [from, to] out of the gap set, splitting gaps
// it lands inside.
func closeGapRange(gaps []gap.Gap, from, to int64) []gap.Gap {
	out := gaps[:0]
	for _, g := range gaps {
		if g.To < from || g.From > to {
			out = append(out, g)
			continue
		}
		if g.From < from {
			left := g
			left.To = from - 1
			out = append(out, left)
		}
		if g.To > to {
			right := g
			right.From = to + 1
			out = append(out, right)
		}
	}
	return out
}

// addGap inserts a gap unless the range is already covered.
func addGap(gaps []gap.Gap, g gap.Gap) []gap.Gap {
	for _, have := range gaps {
		if have.From <= g.From && g.To <= have.To {
			return gaps
		}
	}
	gaps = append(gaps, g)
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].From < gaps[j].From })
	return gaps
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir %s: %w", dir, err)
	}
	return nil
}
