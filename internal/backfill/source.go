package backfill

import (
	"context"

	"github.com/tickvault/tickvault/internal/event"
)

// Page is one ordered slice of a historical range.
type Page struct {
	Events  []event.MarketEvent // Ascending by sequence
	HasMore bool                // True if the source has data beyond the page
}

// Source retrieves ordered historical events for a sequence range.
// One Source serves one venue; implementations must be safe for
// concurrent use by fetcher workers.
type Source interface {
	// FetchRange returns events with sequence in [from, to], starting
	// at from, up to the source's page limit. HasMore is false once the
	// source has no data at or beyond the requested position; the
	// remainder of the range is then unfillable.
	FetchRange(ctx context.Context, symbol string, from, to int64) (Page, error)
}
