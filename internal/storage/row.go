package storage

import (
	"github.com/google/uuid"

	"github.com/tickvault/tickvault/internal/event"
)

// Row is the columnar representation of one MarketEvent. The tagged
// payload is flattened: trade rows carry price/size/side/trade_id,
// book rows carry price/size (the signed delta) and side.
type Row struct {
	Symbol      string  `parquet:"symbol,dict"`
	Venue       string  `parquet:"venue,dict"`
	Sequence    int64   `parquet:"sequence"`
	EventTime   int64   `parquet:"event_time"`   // µs since epoch
	CaptureTime int64   `parquet:"capture_time"` // µs since epoch
	Kind        string  `parquet:"kind,dict"`
	Price       float64 `parquet:"price"`
	Size        float64 `parquet:"size"`
	Side        string  `parquet:"side,dict"`
	TradeID     string  `parquet:"trade_id,optional"`
}

// ToRow flattens an event for columnar storage.
func ToRow(ev event.MarketEvent) Row {
	r := Row{
		Symbol:      ev.Symbol,
		Venue:       ev.Venue,
		Sequence:    ev.Sequence,
		EventTime:   ev.EventTime,
		CaptureTime: ev.CaptureTime,
		Kind:        string(ev.Kind),
	}
	switch {
	case ev.Payload.Trade != nil:
		t := ev.Payload.Trade
		r.Price, r.Size, r.Side = t.Price, t.Size, t.TakerSide
		if t.TradeID != uuid.Nil {
			r.TradeID = t.TradeID.String()
		}
	case ev.Payload.Book != nil:
		b := ev.Payload.Book
		r.Price, r.Size, r.Side = b.Price, b.SizeDelta, b.Side
	}
	return r
}

// Event rebuilds the MarketEvent from a stored row.
func (r Row) Event() event.MarketEvent {
	ev := event.MarketEvent{
		Symbol:      r.Symbol,
		Venue:       r.Venue,
		Sequence:    r.Sequence,
		EventTime:   r.EventTime,
		CaptureTime: r.CaptureTime,
		Kind:        event.Kind(r.Kind),
	}
	switch ev.Kind {
	case event.KindTrade:
		id, _ := uuid.Parse(r.TradeID)
		ev.Payload.Trade = &event.TradePayload{
			TradeID:   id,
			Price:     r.Price,
			Size:      r.Size,
			TakerSide: r.Side,
		}
	case event.KindBookUpdate:
		ev.Payload.Book = &event.BookUpdatePayload{
			Side:      r.Side,
			Price:     r.Price,
			SizeDelta: r.Size,
		}
	}
	return ev
}
