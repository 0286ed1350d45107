package feed

import (
	"context"

	"github.com/tickvault/tickvault/internal/event"
)

// Stream is one live subscription for a single symbol.
type Stream interface {
	// Baseline returns the snapshot sequence established at connect,
	// if the venue provides one. The ingestor rebaselines its cursor
	// from it on a fresh start.
	Baseline() (int64, bool)

	// Messages returns raw stream messages.
	Messages() <-chan RawMessage

	// Errors returns connection errors; any error terminates the stream.
	Errors() <-chan error

	// Close tears the subscription down.
	Close() error
}

// Source is a venue adapter: it connects subscriptions and parses raw
// messages into canonical events.
type Source interface {
	// Connect establishes one logical subscription for symbol,
	// requesting a snapshot plus live updates.
	Connect(ctx context.Context, symbol string) (Stream, error)

	// Parse converts one raw message into a MarketEvent.
	Parse(symbol string, raw RawMessage) (event.MarketEvent, error)

	// Venue returns the venue identifier.
	Venue() string
}
