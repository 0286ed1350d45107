package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/tickvault/tickvault/internal/gap"
)

// writeTestPartition crafts a partition file directly, bypassing the
// writer, to simulate a flush that happened before a crash.
func writeTestPartition(t *testing.T, dir, symbol, date string, seqs ...int64) {
	t.Helper()

	rows := make([]Row, 0, len(seqs))
	for _, s := range seqs {
		rows = append(rows, Row{
			Symbol:      symbol,
			Venue:       "binance",
			Sequence:    s,
			EventTime:   time.Now().UnixMicro(),
			CaptureTime: time.Now().UnixMicro(),
			Kind:        "trade",
			Price:       100,
			Size:        1,
			Side:        "buy",
		})
	}

	partDir := filepath.Join(dir, symbol, date)
	require.NoError(t, os.MkdirAll(partDir, 0o755))

	name := filepath.Join(partDir, fmt.Sprintf("events-%d-%d.parquet", seqs[0], seqs[len(seqs)-1]))
	f, err := os.Create(name)
	require.NoError(t, err)
	pw := parquet.NewGenericWriter[Row](f)
	_, err = pw.Write(rows)
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, f.Close())
}

func TestWatermarkPersistAndLoad(t *testing.T) {
	store := NewWatermarkStore(t.TempDir())

	wm := Watermark{
		Symbol:      "BTCUSDT",
		Venue:       "binance",
		LastFlushed: 1500,
		OpenGaps: []gap.Gap{
			{Symbol: "BTCUSDT", Venue: "binance", From: 900, To: 950, State: gap.StateIrreparable},
		},
	}
	require.NoError(t, store.Persist(wm))

	got, found, err := store.Load("BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1500), got.LastFlushed)
	require.Len(t, got.OpenGaps, 1)
	require.Equal(t, gap.StateIrreparable, got.OpenGaps[0].State)
	require.False(t, got.UpdatedAt.IsZero())
}

func TestWatermarkLoadMissingIsFreshStart(t *testing.T) {
	store := NewWatermarkStore(t.TempDir())

	wm, found, err := store.Load("ETHUSDT")
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, wm.LastFlushed)
}

func TestRecoverAdvancesPastUnrecordedFlush(t *testing.T) {
	dir := t.TempDir()
	store := NewWatermarkStore(dir)

	// The crash happened after the partition rename for 11..15 but
	// before its watermark write, so the record still says 10 with an
	// open gap the lost flush had already covered.
	require.NoError(t, store.Persist(Watermark{
		Symbol:      "BTCUSDT",
		Venue:       "binance",
		LastFlushed: 10,
		OpenGaps:    []gap.Gap{{From: 11, To: 14, State: gap.StateOpen}},
	}))
	writeTestPartition(t, dir, "BTCUSDT", "2026-08-26", 11, 12, 13, 14, 15)

	wm, found, err := store.Recover("BTCUSDT", "binance")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(15), wm.LastFlushed)
	require.Empty(t, wm.OpenGaps)

	// The corrected record is persisted, so a second restart sees it.
	got, found, err := store.Load("BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(15), got.LastFlushed)
}

func TestRecoverKeepsHolesVisible(t *testing.T) {
	dir := t.TempDir()
	store := NewWatermarkStore(dir)

	require.NoError(t, store.Persist(Watermark{
		Symbol:      "BTCUSDT",
		Venue:       "binance",
		LastFlushed: 15,
	}))
	// The lost flush skipped sequence 19 (controlled loss).
	writeTestPartition(t, dir, "BTCUSDT", "2026-08-26", 16, 17, 18, 20, 21)

	wm, found, err := store.Recover("BTCUSDT", "binance")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(21), wm.LastFlushed)
	require.Len(t, wm.OpenGaps, 1)
	require.Equal(t, int64(19), wm.OpenGaps[0].From)
	require.Equal(t, int64(19), wm.OpenGaps[0].To)
}

func TestRecoverFreshStartReportsNotFound(t *testing.T) {
	store := NewWatermarkStore(t.TempDir())

	wm, found, err := store.Recover("BTCUSDT", "binance")
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, wm.LastFlushed)
	require.Empty(t, wm.OpenGaps)
}

func TestRecoverBaselinesFromFilesWithoutWatermark(t *testing.T) {
	dir := t.TempDir()
	store := NewWatermarkStore(dir)

	// Partition files survive but the watermark sidecar was lost. The
	// earliest flushed row is the baseline; nothing below it may be
	// recorded as missing.
	writeTestPartition(t, dir, "BTCUSDT", "2026-08-26", 5_000_000, 5_000_001, 5_000_002)

	wm, found, err := store.Recover("BTCUSDT", "binance")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(5_000_002), wm.LastFlushed)
	require.Empty(t, wm.OpenGaps)
}

func TestRecoverNoopWhenRecordIsCurrent(t *testing.T) {
	dir := t.TempDir()
	store := NewWatermarkStore(dir)

	writeTestPartition(t, dir, "BTCUSDT", "2026-08-26", 1, 2, 3)
	require.NoError(t, store.Persist(Watermark{
		Symbol:      "BTCUSDT",
		Venue:       "binance",
		LastFlushed: 3,
	}))

	wm, found, err := store.Recover("BTCUSDT", "binance")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(3), wm.LastFlushed)
	require.Empty(t, wm.OpenGaps)
}
