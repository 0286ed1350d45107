package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tickvault/tickvault/internal/event"
)

func TestBinanceParseTrade(t *testing.T) {
	src := NewBinanceSource(DefaultClientConfig(), nil, nil)
	received := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	raw := RawMessage{
		Data:       []byte(`{"e":"trade","E":1756209600123,"s":"BTCUSDT","t":987654,"p":"64250.10","q":"0.0042","T":1756209600120,"m":true}`),
		ReceivedAt: received,
	}

	ev, err := src.Parse("BTCUSDT", raw)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", ev.Symbol)
	require.Equal(t, "binance", ev.Venue)
	require.Equal(t, int64(987654), ev.Sequence)
	require.Equal(t, int64(1756209600120_000), ev.EventTime)
	require.Equal(t, received.UnixMicro(), ev.CaptureTime)
	require.Equal(t, event.KindTrade, ev.Kind)
	require.Equal(t, 64250.10, ev.Payload.Trade.Price)
	require.Equal(t, 0.0042, ev.Payload.Trade.Size)
	require.Equal(t, "sell", ev.Payload.Trade.TakerSide)
}

func TestBinanceParseTakerSide(t *testing.T) {
	src := NewBinanceSource(DefaultClientConfig(), nil, nil)

	raw := RawMessage{
		Data:       []byte(`{"e":"trade","s":"BTCUSDT","t":1,"p":"1","q":"1","T":1,"m":false}`),
		ReceivedAt: time.Now(),
	}
	ev, err := src.Parse("BTCUSDT", raw)
	require.NoError(t, err)
	require.Equal(t, "buy", ev.Payload.Trade.TakerSide)
}

func TestBinanceParseSkipsControlMessages(t *testing.T) {
	src := NewBinanceSource(DefaultClientConfig(), nil, nil)

	raw := RawMessage{
		Data:       []byte(`{"result":null,"id":1}`),
		ReceivedAt: time.Now(),
	}
	_, err := src.Parse("BTCUSDT", raw)
	require.True(t, errors.Is(err, ErrSkipMessage))
}

func TestBinanceParseRejectsWrongSymbol(t *testing.T) {
	src := NewBinanceSource(DefaultClientConfig(), nil, nil)

	raw := RawMessage{
		Data:       []byte(`{"e":"trade","s":"ETHUSDT","t":1,"p":"1","q":"1","T":1,"m":false}`),
		ReceivedAt: time.Now(),
	}
	_, err := src.Parse("BTCUSDT", raw)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrSkipMessage))
}

func TestBinanceParseRejectsMalformedNumbers(t *testing.T) {
	src := NewBinanceSource(DefaultClientConfig(), nil, nil)

	raw := RawMessage{
		Data:       []byte(`{"e":"trade","s":"BTCUSDT","t":1,"p":"not-a-price","q":"1","T":1,"m":false}`),
		ReceivedAt: time.Now(),
	}
	_, err := src.Parse("BTCUSDT", raw)
	require.Error(t, err)
}
