package execution

import (
	"log/slog"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/internal/engine"
	"quant_go/pkg/clock"
)

// Emulator holds conditional orders locally instead of resting them at
// the venue, watching market data until their trigger fires. On trigger
// the order is released back to the execution engine, which submits it
// to the venue as a plain order.
//
// Cores are keyed by instrument and trigger type, so an order emulated
// on BID_ASK only reacts to quotes and one on LAST_PRICE only to trades.
type Emulator struct {
	cache *cache.Cache
	b     *bus.Bus
	clk   clock.Clock
	log   *slog.Logger

	cores   map[string]map[domain.TriggerType]*engine.MatchingCore
	held    map[string]*domain.Order
	release func(o *domain.Order)
}

// NewEmulator creates an emulator. Attach it to the execution engine
// with SetEmulator before submitting emulated orders.
func NewEmulator(c *cache.Cache, b *bus.Bus, clk clock.Clock, log *slog.Logger) *Emulator {
	return &Emulator{
		cache: c,
		b:     b,
		clk:   clk,
		log:   log.With("component", "emulator"),
		cores: make(map[string]map[domain.TriggerType]*engine.MatchingCore),
		held:  make(map[string]*domain.Order),
	}
}

// Holds reports whether an order is currently held locally.
func (em *Emulator) Holds(clientOrderID string) bool {
	_, ok := em.held[clientOrderID]
	return ok
}

// HeldOrders returns the client order ids currently held.
func (em *Emulator) HeldOrders() []string {
	out := make([]string, 0, len(em.held))
	for id := range em.held {
		out = append(out, id)
	}
	return out
}

// Hold takes custody of an emulated order.
func (em *Emulator) Hold(o *domain.Order) {
	ev := domain.NewOrderEvent(domain.EventOrderEmulated, o, em.clk.TimestampNs())
	if err := o.ApplyEvent(ev); err != nil {
		em.log.Error("emulate apply failed", "order_id", o.ClientOrderID, "error", err)
		return
	}
	em.cache.UpdateOrder(o)
	em.b.Publish("events.order."+o.StrategyID, ev)

	if o.Type == domain.OrderTypeTrailingStopMarket && o.ActivationPrice.IsZero() {
		o.IsActivated = true
	}
	em.held[o.ClientOrderID] = o
	em.coreFor(o.InstrumentID, o.EmulationTrigger).AddOrder(o)
	em.log.Debug("order emulated", "order_id", o.ClientOrderID,
		"trigger", o.EmulationTrigger.String())
}

// Cancel cancels a held order locally; it never reached the venue.
func (em *Emulator) Cancel(clientOrderID string) {
	o, ok := em.held[clientOrderID]
	if !ok {
		return
	}
	delete(em.held, clientOrderID)
	em.removeFromCore(o)

	ev := domain.NewOrderEvent(domain.EventOrderCanceled, o, em.clk.TimestampNs())
	ev.Reason = "USER_CANCEL"
	if err := o.ApplyEvent(ev); err != nil {
		em.log.Error("cancel apply failed", "order_id", o.ClientOrderID, "error", err)
		return
	}
	em.cache.UpdateOrder(o)
	em.b.Publish("events.order."+o.StrategyID, ev)
}

// Modify updates a held order in place and re-evaluates its trigger
// against the prices already seen, so a loosened trigger can release
// immediately.
func (em *Emulator) Modify(cmd domain.ModifyOrder) {
	o, ok := em.held[cmd.ClientOrderID]
	if !ok {
		return
	}
	ev := domain.NewOrderEvent(domain.EventOrderUpdated, o, em.clk.TimestampNs())
	ev.Quantity = cmd.Quantity
	ev.Price = cmd.Price
	ev.TriggerPrice = cmd.TriggerPrice
	if err := o.ApplyEvent(ev); err != nil {
		em.log.Error("modify apply failed", "order_id", o.ClientOrderID, "error", err)
		return
	}
	em.cache.UpdateOrder(o)
	em.b.Publish("events.order."+o.StrategyID, ev)

	if core, ok := em.cores[o.InstrumentID][o.EmulationTrigger]; ok {
		core.MatchOrder(o, false)
	}
}

// OnQuote feeds a quote to BID_ASK cores.
func (em *Emulator) OnQuote(q domain.QuoteTick) {
	if core, ok := em.cores[q.InstrumentID][domain.TriggerBidAsk]; ok {
		core.SetQuote(q)
	}
}

// OnTrade feeds a trade to LAST_PRICE cores. The trade price stands in
// for both sides of the book, matching how the venue simulator treats a
// trade-only feed.
func (em *Emulator) OnTrade(t domain.TradeTick) {
	if core, ok := em.cores[t.InstrumentID][domain.TriggerLastPrice]; ok {
		core.SetQuote(domain.QuoteTick{
			InstrumentID: t.InstrumentID,
			BidPrice:     t.Price,
			AskPrice:     t.Price,
			TsEvent:      t.TsEvent,
			TsInit:       t.TsInit,
		})
		core.SetTrade(t)
	}
}

func (em *Emulator) coreFor(instrumentID string, trigger domain.TriggerType) *engine.MatchingCore {
	byTrigger, ok := em.cores[instrumentID]
	if !ok {
		byTrigger = make(map[domain.TriggerType]*engine.MatchingCore)
		em.cores[instrumentID] = byTrigger
	}
	core, ok := byTrigger[trigger]
	if !ok {
		core = engine.NewMatchingCore(instrumentID, em.onTriggered, em.onTriggered)
		byTrigger[trigger] = core
	}
	return core
}

// onTriggered releases a held order whose trigger or limit level has
// been reached.
func (em *Emulator) onTriggered(o *domain.Order) {
	if _, ok := em.held[o.ClientOrderID]; !ok {
		return
	}
	delete(em.held, o.ClientOrderID)
	em.removeFromCore(o)
	em.log.Debug("order released", "order_id", o.ClientOrderID)
	if em.release != nil {
		em.release(o)
	}
}

func (em *Emulator) removeFromCore(o *domain.Order) {
	if core, ok := em.cores[o.InstrumentID][o.EmulationTrigger]; ok {
		core.RemoveOrder(o.ClientOrderID)
	}
}
