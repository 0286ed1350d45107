package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/tickvault/tickvault/internal/event"
)

// BaselineFetcher supplies the current head sequence for a symbol, used
// as the snapshot baseline on connect.
type BaselineFetcher interface {
	HeadSequence(ctx context.Context, symbol string) (int64, error)
}

// BinanceSource adapts the Binance trade stream to the Source interface.
// Binance trade IDs are dense per symbol and serve as the sequence.
type BinanceSource struct {
	cfg      ClientConfig
	baseline BaselineFetcher
	logger   *slog.Logger
}

// NewBinanceSource creates a Binance venue adapter. baseline may be nil
// when no REST source is configured; streams then baseline on the first
// live trade.
func NewBinanceSource(cfg ClientConfig, baseline BaselineFetcher, logger *slog.Logger) *BinanceSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BinanceSource{cfg: cfg, baseline: baseline, logger: logger}
}

// Venue implements Source.
func (s *BinanceSource) Venue() string { return "binance" }

// subscribeCmd is the Binance stream subscription command.
type subscribeCmd struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

var subID atomic.Int64

// Connect implements Source: dials the stream endpoint, subscribes the
// trade channel, and fetches the snapshot baseline.
func (s *BinanceSource) Connect(ctx context.Context, symbol string) (Stream, error) {
	client := NewClient(s.cfg, s.logger.With("symbol", symbol))
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	cmd := subscribeCmd{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(symbol) + "@trade"},
		ID:     subID.Add(1),
	}
	data, _ := json.Marshal(cmd)
	if err := client.Send(data); err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	stream := &binanceStream{client: client}

	if s.baseline != nil {
		head, err := s.baseline.HeadSequence(ctx, symbol)
		if err != nil {
			// Baseline is an optimization; the first live trade
			// rebaselines if the REST probe fails.
			s.logger.Warn("baseline fetch failed", "symbol", symbol, "error", err)
		} else {
			stream.baseline = head
			stream.hasBaseline = true
		}
	}

	return stream, nil
}

// binanceTradeWire is the raw trade stream payload.
type binanceTradeWire struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"` // milliseconds
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"` // milliseconds
	BuyerMkr  bool   `json:"m"`
}

// ErrSkipMessage marks raw messages that are not events (command acks).
var ErrSkipMessage = fmt.Errorf("not a data message")

// Parse implements Source for trade stream messages.
func (s *BinanceSource) Parse(symbol string, raw RawMessage) (event.MarketEvent, error) {
	var wire binanceTradeWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		return event.MarketEvent{}, fmt.Errorf("parse trade: %w", err)
	}

	if wire.EventType != "trade" {
		// Subscription acks and other control messages.
		return event.MarketEvent{}, ErrSkipMessage
	}
	if !strings.EqualFold(wire.Symbol, symbol) {
		return event.MarketEvent{}, fmt.Errorf("message for %s on %s subscription", wire.Symbol, symbol)
	}

	price, err := strconv.ParseFloat(wire.Price, 64)
	if err != nil {
		return event.MarketEvent{}, fmt.Errorf("parse price %q: %w", wire.Price, err)
	}
	size, err := strconv.ParseFloat(wire.Qty, 64)
	if err != nil {
		return event.MarketEvent{}, fmt.Errorf("parse qty %q: %w", wire.Qty, err)
	}

	side := "buy"
	if wire.BuyerMkr {
		side = "sell"
	}

	return event.MarketEvent{
		Symbol:      symbol,
		Venue:       s.Venue(),
		Sequence:    wire.TradeID,
		EventTime:   wire.TradeTime * 1_000, // ms → µs
		CaptureTime: raw.ReceivedAt.UnixMicro(),
		Kind:        event.KindTrade,
		Payload: event.Payload{Trade: &event.TradePayload{
			Price:     price,
			Size:      size,
			TakerSide: side,
		}},
	}, nil
}

// binanceStream wraps a websocket client as a Stream.
type binanceStream struct {
	client      Client
	baseline    int64
	hasBaseline bool
}

func (s *binanceStream) Baseline() (int64, bool)     { return s.baseline, s.hasBaseline }
func (s *binanceStream) Messages() <-chan RawMessage { return s.client.Messages() }
func (s *binanceStream) Errors() <-chan error        { return s.client.Errors() }
func (s *binanceStream) Stats() ClientStats          { return s.client.Stats() }
func (s *binanceStream) Close() error                { return s.client.Close() }
