package symbols

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// StatusTrading is the venue status for an actively trading symbol.
const StatusTrading = "TRADING"

// Rule holds one symbol's trading rules from the venue exchange info.
type Rule struct {
	Symbol      string
	Status      string
	BaseAsset   string
	QuoteAsset  string
	PriceTick   float64 // Minimum price increment
	LotSize     float64 // Minimum quantity increment
	MinNotional float64 // Minimum order value, 0 if the venue omits it
}

// Tradable reports whether the venue accepts orders for the symbol.
func (r Rule) Tradable() bool {
	return r.Status == StatusTrading
}

// Source fetches the venue's per-symbol trading rules.
type Source interface {
	ExchangeRules(ctx context.Context) ([]Rule, error)
}

// Registry holds the venue trading rules, loaded once at startup.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		rules:  make(map[string]Rule),
	}
}

// Load fetches the exchange info and replaces the rule set.
func (r *Registry) Load(ctx context.Context, src Source) error {
	rules, err := src.ExchangeRules(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange rules: %w", err)
	}

	r.mu.Lock()
	r.rules = make(map[string]Rule, len(rules))
	for _, rule := range rules {
		r.rules[rule.Symbol] = rule
	}
	r.mu.Unlock()

	r.logger.Info("exchange rules loaded", "symbols", len(rules))
	return nil
}

// Lookup returns the rule for symbol.
func (r *Registry) Lookup(symbol string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[symbol]
	return rule, ok
}

// Len returns the number of known symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Validate checks every configured symbol against the loaded rules.
// The first unknown or untradable symbol is returned as an error.
func (r *Registry) Validate(configured []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range configured {
		rule, ok := r.rules[s]
		if !ok {
			return fmt.Errorf("symbol %s is unknown to the venue", s)
		}
		if !rule.Tradable() {
			return fmt.Errorf("symbol %s is not trading (status %s)", s, rule.Status)
		}
	}
	return nil
}
