package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Order is the full lifecycle record of a trading order. Status moves
// monotonically through the lifecycle and never leaves a terminal state;
// an event that would violate that panics, since it means the engine's
// sequencing is broken rather than a recoverable input problem.
type Order struct {
	TraderID      string
	StrategyID    string
	InstrumentID  string
	ClientOrderID string
	VenueOrderID  string

	Side        OrderSide
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal // Limit price. Zero for pure market orders.
	TriggerPrice decimal.Decimal
	TriggerType  TriggerType
	TimeInForce  TimeInForce
	ExpireTimeNs int64 // Required when TimeInForce is GTD

	PostOnly   bool
	ReduceOnly bool
	IsQuoteQty bool

	// Trailing stop parameters. OffsetBps trails the market by basis points
	// of the current price; ActivationPrice arms the trail once touched.
	TrailingOffsetBps decimal.Decimal
	ActivationPrice   decimal.Decimal
	IsActivated       bool

	// EmulationTrigger routes the order through the local emulator instead
	// of the venue when non-zero.
	EmulationTrigger TriggerType

	Contingency    ContingencyType
	OrderListID    string
	LinkedOrderIDs []string
	ParentOrderID  string

	Status      OrderStatus
	IsTriggered bool
	FilledQty   decimal.Decimal
	LeavesQty   decimal.Decimal
	AvgPx       decimal.Decimal
	Commission  decimal.Decimal
	LastTradeID string

	InitTsNs     int64
	LastEventTs  int64
	Events       []OrderEvent
	CancelReason string
}

// NewOrder builds an order in the INITIALIZED state.
func NewOrder(traderID, strategyID, instrumentID, clientOrderID string,
	side OrderSide, orderType OrderType, qty decimal.Decimal, tsNs int64) *Order {
	return &Order{
		TraderID:      traderID,
		StrategyID:    strategyID,
		InstrumentID:  instrumentID,
		ClientOrderID: clientOrderID,
		Side:          side,
		Type:          orderType,
		Quantity:      qty,
		TimeInForce:   TIFGTC,
		Status:        StatusInitialized,
		LeavesQty:     qty,
		InitTsNs:      tsNs,
		LastEventTs:   tsNs,
	}
}

// IsOpen reports whether the order can still trade.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case StatusAccepted, StatusTriggered, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsClosed reports whether the order has reached a terminal state.
func (o *Order) IsClosed() bool { return o.Status.IsTerminal() }

// IsInflight reports whether the order is between submission and venue ack.
func (o *Order) IsInflight() bool { return o.Status == StatusSubmitted }

// IsPassive reports whether the order rests on the book once accepted.
func (o *Order) IsPassive() bool { return o.Type != OrderTypeMarket }

// HasPrice reports whether the order type carries a limit price.
func (o *Order) HasPrice() bool {
	switch o.Type {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeLimitIfTouched:
		return true
	default:
		return false
	}
}

// HasTrigger reports whether the order type carries a trigger price.
func (o *Order) HasTrigger() bool { return o.Type.IsConditional() }

// Validate checks the order's internal consistency before submission.
func (o *Order) Validate() error {
	if !o.Quantity.IsPositive() {
		return fmt.Errorf("order %s: quantity must be positive, got %s", o.ClientOrderID, o.Quantity)
	}
	if o.HasPrice() && !o.Price.IsPositive() {
		return fmt.Errorf("order %s: %s requires a positive limit price", o.ClientOrderID, o.Type)
	}
	if o.HasTrigger() && o.Type != OrderTypeTrailingStopMarket && !o.TriggerPrice.IsPositive() {
		return fmt.Errorf("order %s: %s requires a positive trigger price", o.ClientOrderID, o.Type)
	}
	if o.Type == OrderTypeTrailingStopMarket && !o.TrailingOffsetBps.IsPositive() {
		return fmt.Errorf("order %s: trailing stop requires a positive offset", o.ClientOrderID)
	}
	if o.TimeInForce == TIFGTD && o.ExpireTimeNs <= 0 {
		return fmt.Errorf("order %s: GTD requires an expire time", o.ClientOrderID)
	}
	if o.PostOnly && o.Type != OrderTypeLimit && o.Type != OrderTypeStopLimit && o.Type != OrderTypeLimitIfTouched {
		return fmt.Errorf("order %s: post_only is only valid for limit order types", o.ClientOrderID)
	}
	return nil
}

// orderTransitions maps each non-terminal status to the statuses it may
// legally move to. Self-transitions for PARTIALLY_FILLED are included so
// successive partial fills apply cleanly.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusInitialized:     {StatusDenied, StatusEmulated, StatusSubmitted, StatusCanceled},
	StatusEmulated:        {StatusSubmitted, StatusCanceled, StatusExpired},
	StatusSubmitted:       {StatusAccepted, StatusRejected, StatusCanceled, StatusPartiallyFilled, StatusFilled},
	StatusAccepted:        {StatusTriggered, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
	StatusTriggered:       {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired},
}

func (o *Order) canTransition(to OrderStatus) bool {
	for _, s := range orderTransitions[o.Status] {
		if s == to {
			return true
		}
	}
	return false
}

func (o *Order) transition(to OrderStatus) {
	if o.Status.IsTerminal() {
		panic(fmt.Sprintf("ORDER_TERMINAL_TRANSITION: %s %s -> %s",
			o.ClientOrderID, o.Status, to))
	}
	if !o.canTransition(to) {
		panic(fmt.Sprintf("ORDER_INVALID_TRANSITION: %s %s -> %s",
			o.ClientOrderID, o.Status, to))
	}
	o.Status = to
}

// ApplyEvent advances the order state machine. Fill events also update
// the quantity bookkeeping: FilledQty accumulates, LeavesQty shrinks,
// AvgPx is the volume-weighted fill price.
func (o *Order) ApplyEvent(ev OrderEvent) error {
	switch ev.Type {
	case EventOrderDenied:
		o.transition(StatusDenied)
		o.CancelReason = ev.Reason
	case EventOrderEmulated:
		o.transition(StatusEmulated)
	case EventOrderReleased, EventOrderSubmitted:
		o.transition(StatusSubmitted)
	case EventOrderAccepted:
		o.transition(StatusAccepted)
		if ev.VenueOrderID != "" {
			o.VenueOrderID = ev.VenueOrderID
		}
	case EventOrderRejected:
		o.transition(StatusRejected)
		o.CancelReason = ev.Reason
	case EventOrderTriggered:
		o.transition(StatusTriggered)
		o.IsTriggered = true
	case EventOrderCanceled:
		o.transition(StatusCanceled)
		o.CancelReason = ev.Reason
	case EventOrderExpired:
		o.transition(StatusExpired)
	case EventOrderUpdated:
		if !o.IsOpen() && o.Status != StatusEmulated {
			return fmt.Errorf("%w: update on %s order %s", ErrInvalidTransition, o.Status, o.ClientOrderID)
		}
		if ev.Quantity.IsPositive() {
			if ev.Quantity.LessThan(o.FilledQty) {
				return fmt.Errorf("%w: update qty %s below filled %s for %s",
					ErrInvalidTransition, ev.Quantity, o.FilledQty, o.ClientOrderID)
			}
			o.Quantity = ev.Quantity
			o.LeavesQty = ev.Quantity.Sub(o.FilledQty)
		}
		if ev.Price.IsPositive() {
			o.Price = ev.Price
		}
		if ev.TriggerPrice.IsPositive() {
			o.TriggerPrice = ev.TriggerPrice
		}
	case EventOrderFilled:
		o.applyFill(ev)
	default:
		return fmt.Errorf("%w: unhandled event type %d for %s", ErrInvalidTransition, ev.Type, o.ClientOrderID)
	}
	o.LastEventTs = ev.TsEvent
	o.Events = append(o.Events, ev)
	return nil
}

func (o *Order) applyFill(ev OrderEvent) {
	if !ev.FillQty.IsPositive() {
		panic(fmt.Sprintf("ORDER_FILL_NON_POSITIVE: %s qty=%s", o.ClientOrderID, ev.FillQty))
	}
	if ev.FillQty.GreaterThan(o.LeavesQty) {
		panic(fmt.Sprintf("ORDER_FILL_EXCEEDS_LEAVES: %s fill=%s leaves=%s",
			o.ClientOrderID, ev.FillQty, o.LeavesQty))
	}
	prevNotional := o.AvgPx.Mul(o.FilledQty)
	o.FilledQty = o.FilledQty.Add(ev.FillQty)
	o.LeavesQty = o.LeavesQty.Sub(ev.FillQty)
	o.AvgPx = prevNotional.Add(ev.FillPrice.Mul(ev.FillQty)).Div(o.FilledQty)
	o.Commission = o.Commission.Add(ev.Commission)
	o.LastTradeID = ev.TradeID
	if ev.VenueOrderID != "" {
		o.VenueOrderID = ev.VenueOrderID
	}
	if o.LeavesQty.IsZero() {
		o.transition(StatusFilled)
	} else {
		o.transition(StatusPartiallyFilled)
	}
}
