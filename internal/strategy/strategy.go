package strategy

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

// Strategy receives market data and its own order and position events.
// All callbacks run on the single engine thread, so implementations need
// no locking.
type Strategy interface {
	ID() string
	OnStart(t *Trader)
	OnQuote(q domain.QuoteTick)
	OnTrade(tk domain.TradeTick)
	OnBar(b domain.Bar)
	OnData(d domain.Data)
	OnOrderEvent(ev domain.OrderEvent)
	OnPositionEvent(ev domain.PositionEvent)
	OnStop()
}

// Base provides no-op callbacks so strategies only implement what they
// use. Embed it and override the hooks you care about.
type Base struct{}

func (Base) OnStart(*Trader)                      {}
func (Base) OnQuote(domain.QuoteTick)             {}
func (Base) OnTrade(domain.TradeTick)             {}
func (Base) OnBar(domain.Bar)                     {}
func (Base) OnData(domain.Data)                   {}
func (Base) OnOrderEvent(domain.OrderEvent)       {}
func (Base) OnPositionEvent(domain.PositionEvent) {}
func (Base) OnStop()                              {}

// Trader is the order entry surface handed to strategies. Commands go
// through the risk engine endpoint, never straight to a venue.
type Trader struct {
	traderID string
	cache    *cache.Cache
	b        *bus.Bus
	clk      clock.Clock
	log      *slog.Logger

	orderSeq int64
	listSeq  int64
}

// NewTrader creates the order entry surface shared by all strategies in
// a run.
func NewTrader(traderID string, c *cache.Cache, b *bus.Bus, clk clock.Clock, log *slog.Logger) *Trader {
	return &Trader{
		traderID: traderID,
		cache:    c,
		b:        b,
		clk:      clk,
		log:      log.With("component", "trader", "trader_id", traderID),
	}
}

// Cache exposes read access to instruments, orders, positions and
// market data.
func (t *Trader) Cache() *cache.Cache { return t.cache }

// Clock exposes the run's clock.
func (t *Trader) Clock() clock.Clock { return t.clk }

func (t *Trader) nextOrderID() string {
	t.orderSeq++
	return fmt.Sprintf("O-%s-%d", t.traderID, t.orderSeq)
}

// NewOrder builds an order owned by the given strategy, stamped with
// the run clock.
func (t *Trader) NewOrder(strategyID, instrumentID string, side domain.OrderSide,
	orderType domain.OrderType, qty decimal.Decimal) *domain.Order {
	return domain.NewOrder(t.traderID, strategyID, instrumentID, t.nextOrderID(),
		side, orderType, qty, t.clk.TimestampNs())
}

// MarketOrder builds a market order.
func (t *Trader) MarketOrder(strategyID, instrumentID string, side domain.OrderSide,
	qty decimal.Decimal) *domain.Order {
	return t.NewOrder(strategyID, instrumentID, side, domain.OrderTypeMarket, qty)
}

// LimitOrder builds a limit order.
func (t *Trader) LimitOrder(strategyID, instrumentID string, side domain.OrderSide,
	qty, price decimal.Decimal) *domain.Order {
	o := t.NewOrder(strategyID, instrumentID, side, domain.OrderTypeLimit, qty)
	o.Price = price
	return o
}

// StopMarketOrder builds a stop market order.
func (t *Trader) StopMarketOrder(strategyID, instrumentID string, side domain.OrderSide,
	qty, trigger decimal.Decimal) *domain.Order {
	o := t.NewOrder(strategyID, instrumentID, side, domain.OrderTypeStopMarket, qty)
	o.TriggerPrice = trigger
	return o
}

// Submit sends a single order through the risk engine.
func (t *Trader) Submit(o *domain.Order) {
	if err := t.b.Send("RiskEngine.execute", domain.SubmitOrder{
		CommandID: domain.NewCommandID(),
		Order:     o,
		TsInit:    t.clk.TimestampNs(),
	}); err != nil {
		t.log.Error("submit failed", "order_id", o.ClientOrderID, "error", err)
	}
}

// SubmitBracket submits an entry with a take profit and a stop loss.
// The exits are held until the entry fills and cancel each other.
func (t *Trader) SubmitBracket(entry, takeProfit, stopLoss *domain.Order) {
	t.listSeq++
	listID := fmt.Sprintf("L-%s-%d", t.traderID, t.listSeq)

	entry.OrderListID = listID
	entry.Contingency = domain.ContingencyOTO
	entry.LinkedOrderIDs = []string{takeProfit.ClientOrderID, stopLoss.ClientOrderID}

	for _, exit := range []*domain.Order{takeProfit, stopLoss} {
		exit.OrderListID = listID
		exit.ParentOrderID = entry.ClientOrderID
		exit.Contingency = domain.ContingencyOCO
	}
	takeProfit.LinkedOrderIDs = []string{stopLoss.ClientOrderID}
	stopLoss.LinkedOrderIDs = []string{takeProfit.ClientOrderID}

	if err := t.b.Send("RiskEngine.execute", domain.SubmitOrderList{
		CommandID:   domain.NewCommandID(),
		OrderListID: listID,
		Orders:      []*domain.Order{entry, takeProfit, stopLoss},
		TsInit:      t.clk.TimestampNs(),
	}); err != nil {
		t.log.Error("bracket submit failed", "list_id", listID, "error", err)
	}
}

// Cancel requests cancellation of an order.
func (t *Trader) Cancel(o *domain.Order) {
	if err := t.b.Send("RiskEngine.execute", domain.CancelOrder{
		CommandID:     domain.NewCommandID(),
		InstrumentID:  o.InstrumentID,
		ClientOrderID: o.ClientOrderID,
		TsInit:        t.clk.TimestampNs(),
	}); err != nil {
		t.log.Error("cancel failed", "order_id", o.ClientOrderID, "error", err)
	}
}

// CancelAll cancels every open order for an instrument, optionally one
// side only. A zero side means both.
func (t *Trader) CancelAll(instrumentID string, side domain.OrderSide) {
	if err := t.b.Send("RiskEngine.execute", domain.CancelAllOrders{
		CommandID:    domain.NewCommandID(),
		InstrumentID: instrumentID,
		Side:         side,
		TsInit:       t.clk.TimestampNs(),
	}); err != nil {
		t.log.Error("cancel all failed", "instrument", instrumentID, "error", err)
	}
}

// NetPosition returns the signed open quantity for a strategy on an
// instrument, zero when flat.
func (t *Trader) NetPosition(strategyID, instrumentID string) decimal.Decimal {
	net := decimal.Zero
	for _, p := range t.cache.OpenPositions(instrumentID) {
		if p.StrategyID == strategyID {
			net = net.Add(p.SignedQty())
		}
	}
	return net
}
