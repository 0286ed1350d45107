package backfill

import (
	"context"
	"strconv"

	"github.com/tickvault/tickvault/internal/symbols"
)

// Wire format of /api/v3/exchangeInfo, reduced to the fields the rule
// registry consumes.
type exchangeInfoWire struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
			Notional    string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ExchangeRules fetches the venue's per-symbol trading rules.
func (c *Client) ExchangeRules(ctx context.Context) ([]symbols.Rule, error) {
	var wire exchangeInfoWire
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, &wire); err != nil {
		return nil, err
	}

	rules := make([]symbols.Rule, 0, len(wire.Symbols))
	for _, s := range wire.Symbols {
		rule := symbols.Rule{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				rule.PriceTick = parseDecimal(f.TickSize)
			case "LOT_SIZE":
				rule.LotSize = parseDecimal(f.StepSize)
			case "NOTIONAL":
				rule.MinNotional = parseDecimal(f.MinNotional)
			case "MIN_NOTIONAL":
				// Futures endpoints use a different filter name.
				if rule.MinNotional == 0 {
					rule.MinNotional = parseDecimal(f.Notional)
				}
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
