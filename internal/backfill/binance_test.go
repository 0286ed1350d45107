package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/tickvault/tickvault/internal/event"
)

// fakeBinance serves historical trades with dense IDs [first, last].
func fakeBinance(t *testing.T, first, last int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/historicalTrades" {
			http.NotFound(w, r)
			return
		}
		from, _ := strconv.ParseInt(r.URL.Query().Get("fromId"), 10, 64)
		limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

		var rows []map[string]any
		for id := from; id <= last && int64(len(rows)) < limit; id++ {
			if id < first {
				continue
			}
			rows = append(rows, map[string]any{
				"id":           id,
				"price":        fmt.Sprintf("%d.5", id),
				"qty":          "2.0",
				"time":         1700000000000 + id,
				"isBuyerMaker": id%2 == 0,
			})
		}
		json.NewEncoder(w).Encode(rows)
	}))
}

func TestBinanceSource_FetchRange(t *testing.T) {
	srv := fakeBinance(t, 1, 100)
	defer srv.Close()

	src := NewBinanceSource(NewClient(srv.URL), 10)

	page, err := src.FetchRange(context.Background(), "BTCUSDT", 11, 14)
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}

	if len(page.Events) != 4 {
		t.Fatalf("got %d events, want 4", len(page.Events))
	}
	for i, ev := range page.Events {
		want := int64(11 + i)
		if ev.Sequence != want {
			t.Errorf("events[%d].Sequence = %d, want %d", i, ev.Sequence, want)
		}
		if ev.Symbol != "BTCUSDT" || ev.Venue != "binance" {
			t.Errorf("events[%d] identity = %s@%s", i, ev.Symbol, ev.Venue)
		}
		if ev.Kind != event.KindTrade || ev.Payload.Trade == nil {
			t.Errorf("events[%d] is not a trade payload", i)
		}
		if ev.EventTime != (1700000000000+want)*1_000 {
			t.Errorf("events[%d].EventTime = %d, want µs conversion", i, ev.EventTime)
		}
	}
}

func TestBinanceSource_Paging(t *testing.T) {
	srv := fakeBinance(t, 1, 100)
	defer srv.Close()

	src := NewBinanceSource(NewClient(srv.URL), 5)

	// Range wider than the page: first page covers [11,15], HasMore set.
	page, err := src.FetchRange(context.Background(), "BTCUSDT", 11, 25)
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}
	if len(page.Events) != 5 {
		t.Fatalf("got %d events, want 5", len(page.Events))
	}
	if !page.HasMore {
		t.Error("HasMore = false for a full page below the range end")
	}
}

func TestBinanceSource_RetentionExpired(t *testing.T) {
	// Source only has trades from 50 up; request below retention start
	// but also beyond available data yields an empty terminal page.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	src := NewBinanceSource(NewClient(srv.URL), 10)

	page, err := src.FetchRange(context.Background(), "BTCUSDT", 11, 14)
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}
	if len(page.Events) != 0 {
		t.Errorf("got %d events, want 0", len(page.Events))
	}
	if page.HasMore {
		t.Error("HasMore = true for an empty page")
	}
}
