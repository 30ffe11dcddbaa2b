package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderEventType enumerates the order lifecycle events.
type OrderEventType int

const (
	EventOrderInitialized OrderEventType = iota + 1
	EventOrderDenied
	EventOrderEmulated
	EventOrderReleased
	EventOrderSubmitted
	EventOrderAccepted
	EventOrderRejected
	EventOrderTriggered
	EventOrderUpdated
	EventOrderCanceled
	EventOrderExpired
	EventOrderFilled
)

// String returns the string representation of OrderEventType
func (t OrderEventType) String() string {
	switch t {
	case EventOrderInitialized:
		return "ORDER_INITIALIZED"
	case EventOrderDenied:
		return "ORDER_DENIED"
	case EventOrderEmulated:
		return "ORDER_EMULATED"
	case EventOrderReleased:
		return "ORDER_RELEASED"
	case EventOrderSubmitted:
		return "ORDER_SUBMITTED"
	case EventOrderAccepted:
		return "ORDER_ACCEPTED"
	case EventOrderRejected:
		return "ORDER_REJECTED"
	case EventOrderTriggered:
		return "ORDER_TRIGGERED"
	case EventOrderUpdated:
		return "ORDER_UPDATED"
	case EventOrderCanceled:
		return "ORDER_CANCELED"
	case EventOrderExpired:
		return "ORDER_EXPIRED"
	case EventOrderFilled:
		return "ORDER_FILLED"
	default:
		return "UNKNOWN"
	}
}

// OrderEvent is a single order lifecycle event. Only the fields relevant
// to the event type are populated; fill fields are zero except on
// ORDER_FILLED.
type OrderEvent struct {
	EventID       string         `json:"event_id"`
	Type          OrderEventType `json:"type"`
	TraderID      string         `json:"trader_id"`
	StrategyID    string         `json:"strategy_id"`
	InstrumentID  string         `json:"instrument_id"`
	ClientOrderID string         `json:"client_order_id"`
	VenueOrderID  string         `json:"venue_order_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`

	// Updated fields (ORDER_UPDATED)
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	Price        decimal.Decimal `json:"price,omitempty"`
	TriggerPrice decimal.Decimal `json:"trigger_price,omitempty"`

	// Fill fields (ORDER_FILLED)
	TradeID       string          `json:"trade_id,omitempty"`
	FillQty       decimal.Decimal `json:"fill_qty,omitempty"`
	FillPrice     decimal.Decimal `json:"fill_price,omitempty"`
	Commission    decimal.Decimal `json:"commission,omitempty"`
	LiquiditySide LiquiditySide   `json:"liquidity_side,omitempty"`
	PositionID    string          `json:"position_id,omitempty"`

	TsEvent int64 `json:"ts_event"`
	TsInit  int64 `json:"ts_init"`
}

// NewOrderEvent builds an event for the given order with a fresh event id.
func NewOrderEvent(eventType OrderEventType, o *Order, tsNs int64) OrderEvent {
	return OrderEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		TraderID:      o.TraderID,
		StrategyID:    o.StrategyID,
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		TsEvent:       tsNs,
		TsInit:        tsNs,
	}
}

// PositionEventType enumerates position lifecycle events.
type PositionEventType int

const (
	EventPositionOpened PositionEventType = iota + 1
	EventPositionChanged
	EventPositionClosed
)

// String returns the string representation of PositionEventType
func (t PositionEventType) String() string {
	switch t {
	case EventPositionOpened:
		return "POSITION_OPENED"
	case EventPositionChanged:
		return "POSITION_CHANGED"
	case EventPositionClosed:
		return "POSITION_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PositionEvent snapshots a position after a fill has been applied to it.
type PositionEvent struct {
	EventID      string            `json:"event_id"`
	Type         PositionEventType `json:"type"`
	PositionID   string            `json:"position_id"`
	InstrumentID string            `json:"instrument_id"`
	StrategyID   string            `json:"strategy_id"`
	Side         PositionSide      `json:"side"`
	Quantity     decimal.Decimal   `json:"quantity"`
	AvgPxOpen    decimal.Decimal   `json:"avg_px_open"`
	RealizedPnl  decimal.Decimal   `json:"realized_pnl"`
	TsEvent      int64             `json:"ts_event"`
}

// AccountBalance is one currency line in an account state snapshot.
type AccountBalance struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"locked"`
	Free     decimal.Decimal `json:"free"`
}

// AccountState is the full balance snapshot emitted after every
// balance-changing event on a venue account.
type AccountState struct {
	EventID     string           `json:"event_id"`
	AccountID   string           `json:"account_id"`
	AccountType AccountType      `json:"account_type"`
	Balances    []AccountBalance `json:"balances"`
	TsEvent     int64            `json:"ts_event"`
}

// Trading commands flow from strategies through risk to execution.

// SubmitOrder asks the execution layer to route a single order.
type SubmitOrder struct {
	CommandID  string `json:"command_id"`
	Order      *Order `json:"order"`
	PositionID string `json:"position_id,omitempty"`
	TsInit     int64  `json:"ts_init"`
}

// SubmitOrderList routes a contingent list (e.g. a bracket) atomically.
type SubmitOrderList struct {
	CommandID   string   `json:"command_id"`
	OrderListID string   `json:"order_list_id"`
	Orders      []*Order `json:"orders"`
	TsInit      int64    `json:"ts_init"`
}

// ModifyOrder changes the price, trigger or quantity of an open order.
// Zero-valued fields are left unchanged.
type ModifyOrder struct {
	CommandID     string          `json:"command_id"`
	InstrumentID  string          `json:"instrument_id"`
	ClientOrderID string          `json:"client_order_id"`
	Quantity      decimal.Decimal `json:"quantity,omitempty"`
	Price         decimal.Decimal `json:"price,omitempty"`
	TriggerPrice  decimal.Decimal `json:"trigger_price,omitempty"`
	TsInit        int64           `json:"ts_init"`
}

// CancelOrder cancels a single open order.
type CancelOrder struct {
	CommandID     string `json:"command_id"`
	InstrumentID  string `json:"instrument_id"`
	ClientOrderID string `json:"client_order_id"`
	TsInit        int64  `json:"ts_init"`
}

// CancelAllOrders cancels every open order for an instrument, optionally
// filtered by side (zero side means both).
type CancelAllOrders struct {
	CommandID    string    `json:"command_id"`
	InstrumentID string    `json:"instrument_id"`
	Side         OrderSide `json:"side,omitempty"`
	TsInit       int64     `json:"ts_init"`
}

// QueryAccount requests a fresh account state snapshot from the venue.
type QueryAccount struct {
	CommandID string `json:"command_id"`
	AccountID string `json:"account_id"`
	TsInit    int64  `json:"ts_init"`
}

// NewCommandID returns a fresh command id.
func NewCommandID() string { return uuid.NewString() }
