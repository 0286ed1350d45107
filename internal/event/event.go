package event

import "github.com/google/uuid"

// Kind identifies the variant carried by a MarketEvent payload.
type Kind string

const (
	KindTrade      Kind = "trade"
	KindBookUpdate Kind = "book_update"
)

// TradePayload holds fields specific to an executed trade.
type TradePayload struct {
	TradeID   uuid.UUID // Venue trade ID (zero UUID if venue supplies none)
	Price     float64   // Execution price
	Size      float64   // Executed quantity
	TakerSide string    // "buy" or "sell"
}

// BookUpdatePayload holds fields specific to an order-book level change.
type BookUpdatePayload struct {
	Side      string  // "bid" or "ask"
	Price     float64 // Price level
	SizeDelta float64 // Signed size change at this level
}

// Payload is a tagged variant: exactly one pointer is non-nil,
// matching the event Kind.
type Payload struct {
	Trade *TradePayload
	Book  *BookUpdatePayload
}

// MarketEvent is one observed tick from a streaming feed or a
// historical backfill page.
type MarketEvent struct {
	Symbol      string // Trading symbol (e.g., "BTCUSDT")
	Venue       string // Venue identifier (e.g., "binance")
	Sequence    int64  // Venue sequence number, unique per (symbol, venue)
	EventTime   int64  // Source-reported timestamp (µs since epoch)
	CaptureTime int64  // Local receipt timestamp (µs since epoch)
	Kind        Kind
	Payload     Payload
}

// Key returns the pipeline routing key for this event.
func (e MarketEvent) Key() string {
	return e.Symbol + "|" + e.Venue
}

// Less orders events by sequence.
func (e MarketEvent) Less(other MarketEvent) bool {
	return e.Sequence < other.Sequence
}

// Same reports whether two events are the same observation. Sequence is
// the source of truth: payloads are not compared.
func (e MarketEvent) Same(other MarketEvent) bool {
	return e.Symbol == other.Symbol &&
		e.Venue == other.Venue &&
		e.Sequence == other.Sequence
}
