package backfill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_ExchangeRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("path = %s, want /api/v3/exchangeInfo", r.URL.Path)
		}
		w.Write([]byte(`{
			"symbols": [
				{
					"symbol": "BTCUSDT",
					"status": "TRADING",
					"baseAsset": "BTC",
					"quoteAsset": "USDT",
					"filters": [
						{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
						{"filterType": "LOT_SIZE", "stepSize": "0.00001000"},
						{"filterType": "NOTIONAL", "minNotional": "5.00000000"}
					]
				},
				{
					"symbol": "OLDCOIN",
					"status": "BREAK",
					"baseAsset": "OLD",
					"quoteAsset": "USDT",
					"filters": []
				}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	rules, err := c.ExchangeRules(context.Background())
	if err != nil {
		t.Fatalf("ExchangeRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len(rules) = %d, want 2", len(rules))
	}

	btc := rules[0]
	if btc.Symbol != "BTCUSDT" || btc.Status != "TRADING" {
		t.Errorf("unexpected rule: %+v", btc)
	}
	if btc.PriceTick != 0.01 {
		t.Errorf("PriceTick = %v, want 0.01", btc.PriceTick)
	}
	if btc.LotSize != 0.00001 {
		t.Errorf("LotSize = %v, want 0.00001", btc.LotSize)
	}
	if btc.MinNotional != 5 {
		t.Errorf("MinNotional = %v, want 5", btc.MinNotional)
	}
	if !btc.Tradable() {
		t.Error("BTCUSDT should be tradable")
	}

	if rules[1].Tradable() {
		t.Error("OLDCOIN should not be tradable")
	}
}
