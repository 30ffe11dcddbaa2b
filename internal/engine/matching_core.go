package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// MatchingCore tracks the current bid/ask/last prices for one instrument
// and the conditional and passive orders resting against them. It decides
// WHEN an order matches or triggers; executing the resulting fill is the
// caller's job via the injected handlers.
type MatchingCore struct {
	instrumentID string

	bid  decimal.Decimal
	ask  decimal.Decimal
	last decimal.Decimal

	hasBid  bool
	hasAsk  bool
	hasLast bool

	orders []*domain.Order

	triggerHandler func(o *domain.Order)
	fillHandler    func(o *domain.Order)
}

// NewMatchingCore creates a core for one instrument. triggerHandler fires
// when a conditional order's trigger is breached; fillHandler fires when
// a resting limit order becomes marketable.
func NewMatchingCore(instrumentID string, triggerHandler, fillHandler func(o *domain.Order)) *MatchingCore {
	return &MatchingCore{
		instrumentID:   instrumentID,
		triggerHandler: triggerHandler,
		fillHandler:    fillHandler,
	}
}

func (c *MatchingCore) InstrumentID() string { return c.instrumentID }

// Bid returns the current best bid and whether one has been seen.
func (c *MatchingCore) Bid() (decimal.Decimal, bool) { return c.bid, c.hasBid }

// Ask returns the current best ask and whether one has been seen.
func (c *MatchingCore) Ask() (decimal.Decimal, bool) { return c.ask, c.hasAsk }

// Last returns the last traded price and whether one has been seen.
func (c *MatchingCore) Last() (decimal.Decimal, bool) { return c.last, c.hasLast }

// SetLast updates the last traded price without iterating orders.
// The bar sweep uses this to seed the open before matching.
func (c *MatchingCore) SetLast(px decimal.Decimal) {
	c.last = px
	c.hasLast = true
}

// AddOrder rests an order in the core.
func (c *MatchingCore) AddOrder(o *domain.Order) {
	c.orders = append(c.orders, o)
}

// RemoveOrder takes an order out of the core by client order id.
func (c *MatchingCore) RemoveOrder(clientOrderID string) bool {
	for i, o := range c.orders {
		if o.ClientOrderID == clientOrderID {
			c.orders = append(c.orders[:i], c.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Order returns a resting order by client order id, or nil.
func (c *MatchingCore) Order(clientOrderID string) *domain.Order {
	for _, o := range c.orders {
		if o.ClientOrderID == clientOrderID {
			return o
		}
	}
	return nil
}

// Orders returns the resting orders in arrival order.
func (c *MatchingCore) Orders() []*domain.Order { return c.orders }

// Reset clears prices and resting orders.
func (c *MatchingCore) Reset() {
	c.orders = nil
	c.hasBid, c.hasAsk, c.hasLast = false, false, false
	c.bid, c.ask, c.last = decimal.Zero, decimal.Zero, decimal.Zero
}

// SetQuote updates top of book from a quote and iterates resting orders.
func (c *MatchingCore) SetQuote(q domain.QuoteTick) {
	c.bid, c.hasBid = q.BidPrice, true
	c.ask, c.hasAsk = q.AskPrice, true
	c.iterate()
}

// SetTrade updates the last price from a trade and iterates resting orders.
func (c *MatchingCore) SetTrade(t domain.TradeTick) {
	c.last, c.hasLast = t.Price, true
	c.iterate()
}

// iterate re-examines every resting order against the current prices.
// Orders are copied first because handlers may remove them mid-walk.
func (c *MatchingCore) iterate() {
	snapshot := make([]*domain.Order, len(c.orders))
	copy(snapshot, c.orders)
	for _, o := range snapshot {
		if o.IsClosed() {
			continue
		}
		c.MatchOrder(o, false)
	}
}

// MatchOrder checks a single order against current prices, firing the
// trigger or fill handler as appropriate. initial distinguishes the
// first check on arrival from re-checks on price updates.
func (c *MatchingCore) MatchOrder(o *domain.Order, initial bool) {
	switch o.Type {
	case domain.OrderTypeLimit:
		c.matchLimit(o)
	case domain.OrderTypeStopMarket, domain.OrderTypeMarketIfTouched:
		c.matchStop(o)
	case domain.OrderTypeStopLimit, domain.OrderTypeLimitIfTouched:
		if o.IsTriggered {
			c.matchLimit(o)
		} else {
			c.matchStop(o)
		}
	case domain.OrderTypeTrailingStopMarket:
		// Trailing stops stay dormant until activated; the matching
		// engine owns activation and trail updates.
		if o.IsActivated {
			c.matchStop(o)
		}
	default:
		panic(fmt.Sprintf("MATCHING_CORE_UNEXPECTED_ORDER_TYPE: %s %s", o.ClientOrderID, o.Type))
	}
}

func (c *MatchingCore) matchLimit(o *domain.Order) {
	if c.IsLimitMatched(o.Side, o.Price) {
		c.fillHandler(o)
	}
}

func (c *MatchingCore) matchStop(o *domain.Order) {
	trigger := o.TriggerPrice
	matched := false
	switch o.Type {
	case domain.OrderTypeMarketIfTouched, domain.OrderTypeLimitIfTouched:
		matched = c.IsTouchTriggered(o.Side, trigger)
	default:
		matched = c.IsStopMatched(o.Side, trigger)
	}
	if matched {
		c.triggerHandler(o)
	}
}

// IsLimitMatched reports whether a limit order at price is marketable:
// a buy when the ask has come down to it, a sell when the bid has come
// up to it.
func (c *MatchingCore) IsLimitMatched(side domain.OrderSide, price decimal.Decimal) bool {
	switch side {
	case domain.SideBuy:
		return c.hasAsk && c.ask.LessThanOrEqual(price)
	case domain.SideSell:
		return c.hasBid && c.bid.GreaterThanOrEqual(price)
	default:
		return false
	}
}

// IsStopMatched reports whether a stop at trigger has been breached: a
// buy stop when the ask rises to it, a sell stop when the bid falls to it.
func (c *MatchingCore) IsStopMatched(side domain.OrderSide, trigger decimal.Decimal) bool {
	switch side {
	case domain.SideBuy:
		return c.hasAsk && c.ask.GreaterThanOrEqual(trigger)
	case domain.SideSell:
		return c.hasBid && c.bid.LessThanOrEqual(trigger)
	default:
		return false
	}
}

// IsTouchTriggered reports whether an if-touched trigger has been
// touched: the favorable direction, opposite to a stop.
func (c *MatchingCore) IsTouchTriggered(side domain.OrderSide, trigger decimal.Decimal) bool {
	switch side {
	case domain.SideBuy:
		return c.hasAsk && c.ask.LessThanOrEqual(trigger)
	case domain.SideSell:
		return c.hasBid && c.bid.GreaterThanOrEqual(trigger)
	default:
		return false
	}
}
