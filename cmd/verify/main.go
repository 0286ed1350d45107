// Command verify scans a capture data directory offline and checks the
// persisted invariants: per symbol the stored sequence is strictly
// increasing with no duplicates, every hole matches a recorded open
// gap, and the watermark agrees with the files on disk.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tickvault/tickvault/internal/gap"
	"github.com/tickvault/tickvault/internal/storage"
)

func main() {
	dataDir := flag.String("data", "data", "capture data directory")
	symbol := flag.String("symbol", "", "verify a single symbol (default: all)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	syms, err := listSymbols(*dataDir, *symbol)
	if err != nil {
		logger.Error("scan data directory", "error", err)
		os.Exit(1)
	}
	if len(syms) == 0 {
		logger.Error("no symbols found", "data", *dataDir)
		os.Exit(1)
	}

	store := storage.NewWatermarkStore(*dataDir)

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures int
	)
	g.SetLimit(4)
	for _, s := range syms {
		g.Go(func() error {
			if err := verifySymbol(*dataDir, s, store, logger); err != nil {
				logger.Error("verification failed", "symbol", s, "error", err)
				mu.Lock()
				failures++
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if failures > 0 {
		os.Exit(1)
	}
	logger.Info("all symbols verified", "symbols", len(syms))
}

func listSymbols(dataDir, only string) ([]string, error) {
	if only != "" {
		return []string{only}, nil
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}
	var syms []string
	for _, e := range entries {
		if e.IsDir() {
			syms = append(syms, e.Name())
		}
	}
	sort.Strings(syms)
	return syms, nil
}

func verifySymbol(dataDir, symbol string, store *storage.WatermarkStore, logger *slog.Logger) error {
	paths, err := filepath.Glob(filepath.Join(dataDir, symbol, "*", "events-*.parquet"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no partitions")
	}

	// All sequences across all partitions, in file order after sorting
	// files by their encoded range.
	seqs, rows, err := collectSequences(paths)
	if err != nil {
		return err
	}

	var dups, disorder int
	var holes []gap.Gap
	for i := 1; i < len(seqs); i++ {
		switch {
		case seqs[i] == seqs[i-1]:
			dups++
		case seqs[i] < seqs[i-1]:
			disorder++
		case seqs[i] > seqs[i-1]+1:
			holes = append(holes, gap.Gap{
				Symbol: symbol,
				From:   seqs[i-1] + 1,
				To:     seqs[i] - 1,
			})
		}
	}

	wm, found, err := store.Load(symbol)
	if err != nil {
		return err
	}

	var unrecorded []gap.Gap
	for _, h := range holes {
		if !covered(h, wm.OpenGaps) {
			unrecorded = append(unrecorded, h)
		}
	}

	logger.Info("symbol scanned",
		"symbol", symbol,
		"partitions", len(paths),
		"rows", rows,
		"first", seqs[0],
		"last", seqs[len(seqs)-1],
		"holes", len(holes),
		"open_gaps", len(wm.OpenGaps),
	)

	switch {
	case dups > 0:
		return fmt.Errorf("%d duplicate sequences", dups)
	case disorder > 0:
		return fmt.Errorf("%d out-of-order rows", disorder)
	case len(unrecorded) > 0:
		return fmt.Errorf("%d holes missing from the watermark open-gap list, first %s", len(unrecorded), unrecorded[0])
	case !found:
		return fmt.Errorf("partitions exist but no watermark")
	case wm.LastFlushed < seqs[len(seqs)-1]:
		return fmt.Errorf("watermark %d behind files (%d); run recovery", wm.LastFlushed, seqs[len(seqs)-1])
	}
	return nil
}

// collectSequences reads every partition, ordered by the first
// sequence encoded in the filename.
func collectSequences(paths []string) ([]int64, int, error) {
	type part struct {
		path  string
		first int64
	}
	parts := make([]part, 0, len(paths))
	for _, p := range paths {
		var first, last int64
		if _, err := fmt.Sscanf(filepath.Base(p), "events-%d-%d.parquet", &first, &last); err != nil {
			return nil, 0, fmt.Errorf("unexpected partition name %s", filepath.Base(p))
		}
		parts = append(parts, part{path: p, first: first})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].first < parts[j].first })

	var seqs []int64
	rows := 0
	for _, p := range parts {
		rs, err := storage.ReadPartition(p.path)
		if err != nil {
			return nil, 0, fmt.Errorf("read %s: %w", p.path, err)
		}
		rows += len(rs)
		for _, r := range rs {
			seqs = append(seqs, r.Sequence)
		}
	}
	return seqs, rows, nil
}

func covered(h gap.Gap, open []gap.Gap) bool {
	for _, g := range open {
		if g.From <= h.From && h.To <= g.To {
			return true
		}
	}
	return false
}
