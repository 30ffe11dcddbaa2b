package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Data is the capability contract for anything flowing through the data
// iterator. TsInit is the nanosecond timestamp at which the item became
// known to the system and is the only field used for sequencing; TsEvent
// (when the item logically occurred) may precede it and is carried through
// untouched.
type Data interface {
	DataInstrumentID() string
	DataTsEvent() int64
	DataTsInit() int64
}

// QuoteTick is a top-of-book bid/ask update.
type QuoteTick struct {
	InstrumentID string          `json:"instrument_id"`
	BidPrice     decimal.Decimal `json:"bid_price"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	BidSize      decimal.Decimal `json:"bid_size"`
	AskSize      decimal.Decimal `json:"ask_size"`
	TsEvent      int64           `json:"ts_event"`
	TsInit       int64           `json:"ts_init"`
}

func (q QuoteTick) DataInstrumentID() string { return q.InstrumentID }
func (q QuoteTick) DataTsEvent() int64       { return q.TsEvent }
func (q QuoteTick) DataTsInit() int64        { return q.TsInit }

// MidPrice returns the midpoint between bid and ask.
func (q QuoteTick) MidPrice() decimal.Decimal {
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
}

// TradeTick is a single executed trade on the venue.
type TradeTick struct {
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Aggressor    AggressorSide   `json:"aggressor"`
	TradeID      string          `json:"trade_id"`
	TsEvent      int64           `json:"ts_event"`
	TsInit       int64           `json:"ts_init"`
}

func (t TradeTick) DataInstrumentID() string { return t.InstrumentID }
func (t TradeTick) DataTsEvent() int64       { return t.TsEvent }
func (t TradeTick) DataTsInit() int64        { return t.TsInit }

// Bar is an aggregated OHLCV candle.
type Bar struct {
	InstrumentID string          `json:"instrument_id"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       decimal.Decimal `json:"volume"`
	TsEvent      int64           `json:"ts_event"`
	TsInit       int64           `json:"ts_init"`
}

func (b Bar) DataInstrumentID() string { return b.InstrumentID }
func (b Bar) DataTsEvent() int64       { return b.TsEvent }
func (b Bar) DataTsInit() int64        { return b.TsInit }

// BookAction defines the mutation carried by an OrderBookDelta.
type BookAction int

const (
	BookActionAdd BookAction = iota + 1
	BookActionUpdate
	BookActionDelete
	BookActionClear
)

// String returns the string representation of BookAction
func (a BookAction) String() string {
	switch a {
	case BookActionAdd:
		return "ADD"
	case BookActionUpdate:
		return "UPDATE"
	case BookActionDelete:
		return "DELETE"
	case BookActionClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// OrderBookDelta is an incremental order book mutation. The book is
// maintained by applying deltas in order, never rebuilt per tick.
type OrderBookDelta struct {
	InstrumentID string          `json:"instrument_id"`
	Action       BookAction      `json:"action"`
	Side         OrderSide       `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	TsEvent      int64           `json:"ts_event"`
	TsInit       int64           `json:"ts_init"`
}

func (d OrderBookDelta) DataInstrumentID() string { return d.InstrumentID }
func (d OrderBookDelta) DataTsEvent() int64       { return d.TsEvent }
func (d OrderBookDelta) DataTsInit() int64        { return d.TsInit }

// GenericData carries arbitrary user payloads through the iterator so that
// strategies can schedule custom events alongside market data.
type GenericData struct {
	InstrumentID string `json:"instrument_id"`
	Payload      any    `json:"payload"`
	TsEvent      int64  `json:"ts_event"`
	TsInit       int64  `json:"ts_init"`
}

func (g GenericData) DataInstrumentID() string { return g.InstrumentID }
func (g GenericData) DataTsEvent() int64       { return g.TsEvent }
func (g GenericData) DataTsInit() int64        { return g.TsInit }

// ValidateData checks the iterator's fatal-error contract: items must carry
// a non-negative ts_init (the internal representation is unsigned nanoseconds,
// so a negative value means an upstream overflow, not a valid time).
func ValidateData(d Data) error {
	if d == nil {
		return fmt.Errorf("%w: nil data item", ErrInvalidData)
	}
	if d.DataTsInit() < 0 {
		return fmt.Errorf("%w: negative ts_init %d", ErrInvalidData, d.DataTsInit())
	}
	return nil
}
