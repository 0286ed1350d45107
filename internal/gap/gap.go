package gap

import "fmt"

// State is the lifecycle state of a gap.
type State string

const (
	StateOpen        State = "open"        // Awaiting backfill
	StateStalled     State = "stalled"     // Backfill retries exhausted, on slow cadence
	StateIrreparable State = "irreparable" // Source cannot produce the range
	StateClosed      State = "closed"      // Fully covered
)

// Gap is a contiguous missing sequence range [From, To] for a symbol.
type Gap struct {
	Symbol string `json:"symbol"`
	Venue  string `json:"venue"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
	State  State  `json:"state"`
}

// Len returns the number of missing sequences.
func (g Gap) Len() int64 {
	return g.To - g.From + 1
}

// Contains reports whether seq falls inside the gap.
func (g Gap) Contains(seq int64) bool {
	return seq >= g.From && seq <= g.To
}

// overlapsOrAdjacent reports whether two ranges can coalesce.
func (g Gap) overlapsOrAdjacent(o Gap) bool {
	return g.From <= o.To+1 && o.From <= g.To+1
}

func (g Gap) String() string {
	return fmt.Sprintf("%s@%s[%d,%d] %s", g.Symbol, g.Venue, g.From, g.To, g.State)
}
