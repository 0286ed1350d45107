package feed

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickvault/tickvault/internal/event"
	"github.com/tickvault/tickvault/internal/queue"
)

// fakeStream feeds scripted messages to an ingestor.
type fakeStream struct {
	baseline    int64
	hasBaseline bool
	messages    chan RawMessage
	errs        chan error
	closed      atomic.Bool
}

func newFakeStream(baseline int64) *fakeStream {
	return &fakeStream{
		baseline:    baseline,
		hasBaseline: baseline > 0,
		messages:    make(chan RawMessage, 64),
		errs:        make(chan error, 1),
	}
}

func (s *fakeStream) Baseline() (int64, bool)       { return s.baseline, s.hasBaseline }
func (s *fakeStream) Messages() <-chan RawMessage   { return s.messages }
func (s *fakeStream) Errors() <-chan error          { return s.errs }
func (s *fakeStream) Close() error                  { s.closed.Store(true); return nil }
func (s *fakeStream) send(seq int64)                { s.messages <- RawMessage{Data: []byte(strconv.FormatInt(seq, 10)), ReceivedAt: time.Now()} }
func (s *fakeStream) sendRaw(data string)           { s.messages <- RawMessage{Data: []byte(data), ReceivedAt: time.Now()} }
func (s *fakeStream) fail(err error)                { s.errs <- err }

// fakeSource hands out scripted streams, one per connect.
type fakeSource struct {
	streams  chan *fakeStream
	connects atomic.Int64
}

func newFakeSource(streams ...*fakeStream) *fakeSource {
	src := &fakeSource{streams: make(chan *fakeStream, len(streams))}
	for _, s := range streams {
		src.streams <- s
	}
	return src
}

func (s *fakeSource) Connect(ctx context.Context, symbol string) (Stream, error) {
	s.connects.Add(1)
	select {
	case st := <-s.streams:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSource) Parse(symbol string, raw RawMessage) (event.MarketEvent, error) {
	data := string(raw.Data)
	if data == "noise" {
		return event.MarketEvent{}, ErrSkipMessage
	}
	seq, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return event.MarketEvent{}, err
	}
	return event.MarketEvent{
		Symbol:      symbol,
		Venue:       s.Venue(),
		Sequence:    seq,
		EventTime:   raw.ReceivedAt.UnixMicro(),
		CaptureTime: raw.ReceivedAt.UnixMicro(),
		Kind:        event.KindTrade,
	}, nil
}

func (s *fakeSource) Venue() string { return "testvenue" }

func testIngestorConfig() IngestorConfig {
	return IngestorConfig{
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
	}
}

func drainN(t *testing.T, out *queue.Buffer[event.MarketEvent], n int) []int64 {
	t.Helper()
	seqs := make([]int64, 0, n)
	deadline := time.After(2 * time.Second)
	for len(seqs) < n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %v", n, seqs)
		default:
		}
		if ev, ok := out.TryPop(); ok {
			seqs = append(seqs, ev.Sequence)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	return seqs
}

func TestIngestorEmitsInOrder(t *testing.T) {
	stream := newFakeStream(0)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	stream.send(1)
	stream.send(2)
	stream.send(3)

	require.Equal(t, []int64{1, 2, 3}, drainN(t, out, 3))
	require.Equal(t, int64(3), in.Cursor().LastSeen)
	require.Equal(t, StateLive, in.Cursor().State)
}

func TestIngestorDropsDuplicates(t *testing.T) {
	stream := newFakeStream(0)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	stream.send(5)
	stream.send(5)
	stream.send(4)
	stream.send(6)

	require.Equal(t, []int64{5, 6}, drainN(t, out, 2))
}

func TestIngestorEmitsAcrossJumpWithoutBlocking(t *testing.T) {
	stream := newFakeStream(0)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	stream.send(10)
	stream.send(15)

	require.Equal(t, []int64{10, 15}, drainN(t, out, 2))
	require.Equal(t, int64(15), in.Cursor().LastSeen)
}

func TestIngestorSkipsNonEventMessages(t *testing.T) {
	stream := newFakeStream(0)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	stream.sendRaw("noise")
	stream.send(1)

	require.Equal(t, []int64{1}, drainN(t, out, 1))
}

func TestIngestorBaselineDropsPreSnapshotEvents(t *testing.T) {
	stream := newFakeStream(100)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	stream.send(99)
	stream.send(101)

	require.Equal(t, []int64{101}, drainN(t, out, 1))
}

func TestIngestorReconnectsAndKeepsCursor(t *testing.T) {
	first := newFakeStream(0)
	// Second connect offers a new snapshot; the cursor must survive so
	// the outage window is visible as a jump downstream.
	second := newFakeStream(50)
	src := newFakeSource(first, second)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	first.send(10)
	require.Equal(t, []int64{10}, drainN(t, out, 1))

	first.fail(errors.New("connection reset"))

	second.send(60)
	require.Equal(t, []int64{60}, drainN(t, out, 1))
	require.Equal(t, int64(2), src.connects.Load())
	require.Equal(t, int64(60), in.Cursor().LastSeen)
}

func TestIngestorRebaselinesOnSequenceReset(t *testing.T) {
	stream := newFakeStream(0)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))
	defer in.Stop(context.Background())

	stream.send(resetTolerance + 500)
	stream.send(7) // far below the cursor: venue resync, not a dup

	require.Equal(t, []int64{resetTolerance + 500, 7}, drainN(t, out, 2))
	require.Equal(t, int64(7), in.Cursor().LastSeen)
}

func TestIngestorStopClosesStream(t *testing.T) {
	stream := newFakeStream(0)
	src := newFakeSource(stream)
	out := queue.New[event.MarketEvent](16)

	in := NewIngestor(testIngestorConfig(), "BTCUSDT", src, out, nil)
	require.NoError(t, in.Start(context.Background()))

	stream.send(1)
	drainN(t, out, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, in.Stop(ctx))
	require.True(t, stream.closed.Load())
	require.Equal(t, StateClosed, in.Cursor().State)
}
