package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// BookLevel is one price level of the simulated book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook maintains aggregated price levels for one instrument from
// quotes (top of book) or deltas (full depth). Levels are kept sorted,
// bids descending and asks ascending, so best prices are index zero.
type OrderBook struct {
	instrumentID string
	bids         []BookLevel
	asks         []BookLevel
	lastTsNs     int64
}

// NewOrderBook creates an empty book.
func NewOrderBook(instrumentID string) *OrderBook {
	return &OrderBook{instrumentID: instrumentID}
}

func (b *OrderBook) InstrumentID() string { return b.instrumentID }

// LastUpdateNs returns the ts_init of the last applied update.
func (b *OrderBook) LastUpdateNs() int64 { return b.lastTsNs }

// BestBid returns the top bid level, and whether one exists.
func (b *OrderBook) BestBid() (BookLevel, bool) {
	if len(b.bids) == 0 {
		return BookLevel{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the top ask level, and whether one exists.
func (b *OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.asks) == 0 {
		return BookLevel{}, false
	}
	return b.asks[0], true
}

// Spread returns ask minus bid, and whether both sides exist.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Midpoint returns the book midpoint, and whether both sides exist.
func (b *OrderBook) Midpoint() (decimal.Decimal, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Depth returns the number of levels on a side.
func (b *OrderBook) Depth(side domain.OrderSide) int {
	if side == domain.SideBuy {
		return len(b.bids)
	}
	return len(b.asks)
}

// Levels returns a copy of the levels on a side, best first.
func (b *OrderBook) Levels(side domain.OrderSide) []BookLevel {
	src := b.asks
	if side == domain.SideBuy {
		src = b.bids
	}
	out := make([]BookLevel, len(src))
	copy(out, src)
	return out
}

// ApplyQuote collapses the book to the quote's top of book. Quote-driven
// books carry a single level per side.
func (b *OrderBook) ApplyQuote(q domain.QuoteTick) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	b.bids = append(b.bids, BookLevel{Price: q.BidPrice, Size: q.BidSize})
	b.asks = append(b.asks, BookLevel{Price: q.AskPrice, Size: q.AskSize})
	b.lastTsNs = q.TsInit
}

// ApplyDelta mutates one price level. The book is maintained
// incrementally, never rebuilt per tick.
func (b *OrderBook) ApplyDelta(d domain.OrderBookDelta) {
	b.lastTsNs = d.TsInit
	if d.Action == domain.BookActionClear {
		b.bids = b.bids[:0]
		b.asks = b.asks[:0]
		return
	}

	levels := &b.asks
	if d.Side == domain.SideBuy {
		levels = &b.bids
	}

	idx := -1
	for i, lv := range *levels {
		if lv.Price.Equal(d.Price) {
			idx = i
			break
		}
	}

	switch d.Action {
	case domain.BookActionAdd, domain.BookActionUpdate:
		if d.Size.IsZero() {
			// Zero-size update is a delete on most venue feeds.
			if idx >= 0 {
				*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
			}
			return
		}
		if idx >= 0 {
			(*levels)[idx].Size = d.Size
			return
		}
		*levels = append(*levels, BookLevel{Price: d.Price, Size: d.Size})
		if d.Side == domain.SideBuy {
			sort.Slice(*levels, func(i, j int) bool {
				return (*levels)[i].Price.GreaterThan((*levels)[j].Price)
			})
		} else {
			sort.Slice(*levels, func(i, j int) bool {
				return (*levels)[i].Price.LessThan((*levels)[j].Price)
			})
		}
	case domain.BookActionDelete:
		if idx >= 0 {
			*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
		}
	}
}
