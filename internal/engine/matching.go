package engine

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// MatchingEngine simulates the venue's matching for a single instrument.
// Market data drives the price state; orders arrive through ProcessOrder
// and leave as lifecycle events through the emit callback. The engine is
// single-threaded: the owning venue serializes all calls.
type MatchingEngine struct {
	instrument *domain.Instrument
	core       *MatchingCore
	book       *OrderBook
	fillModel  *FillModel
	clk        clock.Clock
	log        *slog.Logger

	status           domain.MarketStatus
	rejectStopOrders bool

	orders   map[string]*domain.Order
	emit     func(ev domain.OrderEvent)
	venueSeq int64
	tradeSeq int64
}

// NewMatchingEngine creates a matching engine for one instrument.
// emit receives every order lifecycle event the engine produces.
func NewMatchingEngine(inst *domain.Instrument, fm *FillModel, clk clock.Clock,
	log *slog.Logger, emit func(ev domain.OrderEvent)) *MatchingEngine {
	e := &MatchingEngine{
		instrument:       inst,
		book:             NewOrderBook(inst.ID),
		fillModel:        fm,
		clk:              clk,
		log:              log.With("component", "matching", "instrument", inst.ID),
		status:           domain.MarketOpen,
		rejectStopOrders: true,
		orders:           make(map[string]*domain.Order),
		emit:             emit,
	}
	e.core = NewMatchingCore(inst.ID, e.onTriggered, e.onMarketable)
	return e
}

// SetMarketStatus gates order acceptance. Orders arriving while the
// market is not open are rejected; resting orders remain.
func (e *MatchingEngine) SetMarketStatus(status domain.MarketStatus) {
	e.status = status
}

// SetRejectStopOrders controls whether a stop that would trigger
// immediately on arrival is rejected (venue-typical) or fired.
func (e *MatchingEngine) SetRejectStopOrders(reject bool) {
	e.rejectStopOrders = reject
}

// Core exposes the matching core for inspection in tests.
func (e *MatchingEngine) Core() *MatchingCore { return e.core }

// Book returns the simulated order book.
func (e *MatchingEngine) Book() *OrderBook { return e.book }

// OpenOrders returns the orders currently resting in the engine.
func (e *MatchingEngine) OpenOrders() []*domain.Order {
	out := make([]*domain.Order, 0, len(e.orders))
	for _, o := range e.core.Orders() {
		if !o.IsClosed() {
			out = append(out, o)
		}
	}
	return out
}

// Reset clears all engine state between runs.
func (e *MatchingEngine) Reset() {
	e.core.Reset()
	e.book = NewOrderBook(e.instrument.ID)
	e.orders = make(map[string]*domain.Order)
	e.venueSeq = 0
	e.tradeSeq = 0
	e.status = domain.MarketOpen
}

// --- market data ---

// ProcessQuote updates top of book, ratchets trailing stops against the
// new prices, then re-checks resting orders.
func (e *MatchingEngine) ProcessQuote(q domain.QuoteTick) {
	e.book.ApplyQuote(q)
	e.core.bid, e.core.hasBid = q.BidPrice, true
	e.core.ask, e.core.hasAsk = q.AskPrice, true
	e.updateTrailingStops()
	e.core.SetQuote(q)
}

// ProcessTrade updates the last price and re-checks resting orders. A
// trade also moves the synthetic top of book when no quote feed exists.
func (e *MatchingEngine) ProcessTrade(t domain.TradeTick) {
	e.core.bid, e.core.hasBid = t.Price, true
	e.core.ask, e.core.hasAsk = t.Price, true
	e.core.SetLast(t.Price)
	e.updateTrailingStops()
	e.core.SetTrade(t)
}

// ProcessDelta applies a book mutation and re-checks resting orders
// against the resulting top of book.
func (e *MatchingEngine) ProcessDelta(d domain.OrderBookDelta) {
	e.book.ApplyDelta(d)
	bid, okB := e.book.BestBid()
	ask, okA := e.book.BestAsk()
	if !okB || !okA {
		return
	}
	e.updateTrailingStops()
	e.core.SetQuote(domain.QuoteTick{
		InstrumentID: d.InstrumentID,
		BidPrice:     bid.Price,
		AskPrice:     ask.Price,
		BidSize:      bid.Size,
		AskSize:      ask.Size,
		TsEvent:      d.TsEvent,
		TsInit:       d.TsInit,
	})
}

// ProcessBar decomposes a bar into up to four synthetic market prints in
// open, high, low, close order, each carrying a quarter of the volume.
// A leg only prints when it actually moves the last price, so flat bars
// produce a single print at most.
func (e *MatchingEngine) ProcessBar(b domain.Bar) {
	quarter := b.Volume.Div(decimal.NewFromInt(4))
	last, hasLast := e.core.Last()

	if !hasLast || !b.Open.Equal(last) {
		aggressor := domain.AggressorBuyer
		if hasLast && b.Open.LessThan(last) {
			aggressor = domain.AggressorSeller
		}
		e.processBarPrint(b, b.Open, quarter, aggressor)
		last = b.Open
	}
	if b.High.GreaterThan(last) {
		e.processBarPrint(b, b.High, quarter, domain.AggressorBuyer)
		last = b.High
	}
	if b.Low.LessThan(last) {
		e.processBarPrint(b, b.Low, quarter, domain.AggressorSeller)
		last = b.Low
	}
	if !b.Close.Equal(last) {
		aggressor := domain.AggressorBuyer
		if b.Close.LessThan(last) {
			aggressor = domain.AggressorSeller
		}
		e.processBarPrint(b, b.Close, quarter, aggressor)
	}
}

func (e *MatchingEngine) processBarPrint(b domain.Bar, px, size decimal.Decimal, aggressor domain.AggressorSide) {
	e.ProcessTrade(domain.TradeTick{
		InstrumentID: b.InstrumentID,
		Price:        px,
		Size:         size,
		Aggressor:    aggressor,
		TradeID:      e.nextTradeID(),
		TsEvent:      b.TsEvent,
		TsInit:       b.TsInit,
	})
}

// --- order entry ---

// ProcessOrder runs the admission checks and dispatches by order type.
// The order must already be SUBMITTED.
func (e *MatchingEngine) ProcessOrder(o *domain.Order) {
	if _, exists := e.orders[o.ClientOrderID]; exists {
		e.reject(o, "DUPLICATE_CLIENT_ORDER_ID")
		return
	}
	if e.status != domain.MarketOpen {
		e.reject(o, fmt.Sprintf("MARKET_%s", e.status))
		return
	}
	if !e.instrument.MaxQuantity.IsZero() && o.Quantity.GreaterThan(e.instrument.MaxQuantity) {
		e.reject(o, "QUANTITY_ABOVE_MAX")
		return
	}
	if o.Quantity.LessThan(e.instrument.MinQuantity) {
		e.reject(o, "QUANTITY_BELOW_MIN")
		return
	}
	e.orders[o.ClientOrderID] = o

	switch o.Type {
	case domain.OrderTypeMarket:
		e.processMarket(o)
	case domain.OrderTypeLimit:
		e.processLimit(o)
	case domain.OrderTypeStopMarket, domain.OrderTypeStopLimit,
		domain.OrderTypeMarketIfTouched, domain.OrderTypeLimitIfTouched:
		e.processConditional(o)
	case domain.OrderTypeTrailingStopMarket:
		e.processTrailingStop(o)
	default:
		e.reject(o, "ORDER_TYPE_UNSUPPORTED")
	}
}

func (e *MatchingEngine) processMarket(o *domain.Order) {
	px, ok := e.marketFillPrice(o.Side)
	if !ok {
		e.reject(o, "NO_MARKET")
		return
	}
	e.accept(o)
	if e.fillModel.IsSlipped() {
		px = e.slip(o.Side, px)
	}
	e.fill(o, px, e.takerQty(o), domain.LiquidityTaker)
	if !o.IsClosed() {
		// Displayed liquidity is gone; the unfilled balance cannot rest.
		e.cancel(o, "MARKET_NO_LIQUIDITY")
	}
}

func (e *MatchingEngine) processLimit(o *domain.Order) {
	if e.core.IsLimitMatched(o.Side, o.Price) {
		if o.PostOnly {
			e.reject(o, "POST_ONLY_WOULD_TAKE")
			return
		}
		e.accept(o)
		if e.fillModel.IsLimitFilled() {
			px, _ := e.marketFillPrice(o.Side)
			if e.fillModel.IsSlipped() {
				px = e.slip(o.Side, px)
			}
			if betterOrEqual(o.Side, o.Price, px) {
				px = o.Price
			}
			qty := e.takerQty(o)
			if o.TimeInForce == domain.TIFFOK && qty.LessThan(o.LeavesQty) {
				e.cancel(o, "FOK_NOT_FULLY_FILLED")
				return
			}
			e.fill(o, px, qty, domain.LiquidityTaker)
		}
		e.postMatchTimeInForce(o)
		return
	}
	if o.TimeInForce == domain.TIFIOC || o.TimeInForce == domain.TIFFOK {
		// Nothing immediately available for an immediate order.
		e.accept(o)
		e.cancel(o, o.TimeInForce.String()+"_NO_FILL")
		return
	}
	e.accept(o)
	e.core.AddOrder(o)
	e.core.MatchOrder(o, true)
}

func (e *MatchingEngine) processConditional(o *domain.Order) {
	triggered := false
	switch o.Type {
	case domain.OrderTypeMarketIfTouched, domain.OrderTypeLimitIfTouched:
		triggered = e.core.IsTouchTriggered(o.Side, o.TriggerPrice)
	default:
		triggered = e.core.IsStopMatched(o.Side, o.TriggerPrice)
	}
	if triggered && e.rejectStopOrders {
		e.reject(o, "STOP_WOULD_TRIGGER_IMMEDIATELY")
		return
	}
	e.accept(o)
	e.core.AddOrder(o)
	if triggered {
		e.onTriggered(o)
	}
}

func (e *MatchingEngine) processTrailingStop(o *domain.Order) {
	ref, ok := e.trailReferencePrice()
	if !ok {
		e.reject(o, "NO_MARKET_FOR_TRAILING_STOP")
		return
	}
	if o.ActivationPrice.IsZero() {
		o.IsActivated = true
	}
	if o.TriggerPrice.IsZero() {
		o.TriggerPrice = e.trailTrigger(o, ref)
	}
	e.accept(o)
	e.core.AddOrder(o)
}

// --- order management ---

// CancelOrder cancels a resting order by client order id.
func (e *MatchingEngine) CancelOrder(clientOrderID string, reason string) error {
	o := e.core.Order(clientOrderID)
	if o == nil {
		known, ok := e.orders[clientOrderID]
		if ok && known.IsClosed() {
			// Cancel racing a fill: the order already closed. Warn, no-op.
			e.log.Warn("cancel on closed order", "order_id", clientOrderID, "status", known.Status.String())
			return nil
		}
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, clientOrderID)
	}
	e.cancel(o, reason)
	return nil
}

// ModifyOrder updates price, trigger or quantity of a resting order and
// re-checks it for a match at its new level.
func (e *MatchingEngine) ModifyOrder(cmd domain.ModifyOrder) error {
	o := e.core.Order(cmd.ClientOrderID)
	if o == nil {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, cmd.ClientOrderID)
	}
	ev := domain.NewOrderEvent(domain.EventOrderUpdated, o, e.clk.TimestampNs())
	ev.Quantity = cmd.Quantity
	ev.Price = cmd.Price
	ev.TriggerPrice = cmd.TriggerPrice
	if err := o.ApplyEvent(ev); err != nil {
		return err
	}
	e.emit(ev)
	e.core.MatchOrder(o, false)
	return nil
}

// ExpireOrders cancels resting GTD orders whose expiry has passed.
func (e *MatchingEngine) ExpireOrders(nowNs int64) {
	snapshot := make([]*domain.Order, len(e.core.Orders()))
	copy(snapshot, e.core.Orders())
	for _, o := range snapshot {
		if o.TimeInForce == domain.TIFGTD && o.ExpireTimeNs > 0 && nowNs >= o.ExpireTimeNs {
			e.expire(o)
		}
	}
}

// --- matching callbacks ---

// onTriggered fires when a conditional order's trigger price is breached.
func (e *MatchingEngine) onTriggered(o *domain.Order) {
	switch o.Type {
	case domain.OrderTypeStopMarket, domain.OrderTypeMarketIfTouched, domain.OrderTypeTrailingStopMarket:
		e.core.RemoveOrder(o.ClientOrderID)
		e.trigger(o)
		px, ok := e.marketFillPrice(o.Side)
		if !ok {
			px = o.TriggerPrice
		}
		if o.Type != domain.OrderTypeMarketIfTouched && !e.fillModel.IsStopFilled() {
			// Slipped through the trigger: fill one tick worse.
			px = e.slip(o.Side, px)
		}
		e.fill(o, px, e.takerQty(o), domain.LiquidityTaker)
		if !o.IsClosed() {
			e.cancel(o, "MARKET_NO_LIQUIDITY")
		}
	case domain.OrderTypeStopLimit, domain.OrderTypeLimitIfTouched:
		if o.IsTriggered {
			return
		}
		e.trigger(o)
		if e.core.IsLimitMatched(o.Side, o.Price) {
			if o.PostOnly {
				e.core.RemoveOrder(o.ClientOrderID)
				e.cancel(o, "POST_ONLY_WOULD_TAKE")
				return
			}
			e.fill(o, o.Price, e.takerQty(o), domain.LiquidityTaker)
			if o.IsClosed() {
				e.core.RemoveOrder(o.ClientOrderID)
			}
		}
	}
}

// onMarketable fires when a resting limit order becomes marketable. The
// fill is capped at displayed size; an unfilled balance keeps resting.
func (e *MatchingEngine) onMarketable(o *domain.Order) {
	if !e.fillModel.IsLimitFilled() {
		return
	}
	e.fill(o, o.Price, e.takerQty(o), domain.LiquidityMaker)
	if o.IsClosed() {
		e.core.RemoveOrder(o.ClientOrderID)
	}
}

func (e *MatchingEngine) postMatchTimeInForce(o *domain.Order) {
	if o.IsClosed() {
		return
	}
	switch o.TimeInForce {
	case domain.TIFIOC:
		e.cancel(o, "IOC_UNFILLED_BALANCE")
	case domain.TIFFOK:
		e.cancel(o, "FOK_NOT_FULLY_FILLED")
	default:
		e.core.AddOrder(o)
	}
}

// --- trailing stops ---

func (e *MatchingEngine) updateTrailingStops() {
	ref, ok := e.trailReferencePrice()
	if !ok {
		return
	}
	for _, o := range e.core.Orders() {
		if o.Type != domain.OrderTypeTrailingStopMarket || o.IsClosed() {
			continue
		}
		if !o.IsActivated {
			if touched(o.Side, ref, o.ActivationPrice) {
				o.IsActivated = true
			} else {
				continue
			}
		}
		next := e.trailTrigger(o, ref)
		// The trigger only ratchets in the order's favor.
		if o.Side == domain.SideSell && next.GreaterThan(o.TriggerPrice) ||
			o.Side == domain.SideBuy && next.LessThan(o.TriggerPrice) {
			o.TriggerPrice = next
			ev := domain.NewOrderEvent(domain.EventOrderUpdated, o, e.clk.TimestampNs())
			ev.TriggerPrice = next
			_ = o.ApplyEvent(ev)
			e.emit(ev)
		}
	}
}

func (e *MatchingEngine) trailTrigger(o *domain.Order, ref decimal.Decimal) decimal.Decimal {
	offset := ref.Mul(o.TrailingOffsetBps).Div(bpsDivisor)
	if o.Side == domain.SideSell {
		return e.instrument.MakePrice(ref.Sub(offset))
	}
	return e.instrument.MakePrice(ref.Add(offset))
}

func (e *MatchingEngine) trailReferencePrice() (decimal.Decimal, bool) {
	if last, ok := e.core.Last(); ok {
		return last, true
	}
	bid, okB := e.core.Bid()
	ask, okA := e.core.Ask()
	if okB && okA {
		return bid.Add(ask).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}

// touched reports whether a trailing activation price has been reached:
// a sell trail activates when the market rises to it, a buy trail when
// the market falls to it.
func touched(side domain.OrderSide, ref, activation decimal.Decimal) bool {
	if side == domain.SideSell {
		return ref.GreaterThanOrEqual(activation)
	}
	return ref.LessThanOrEqual(activation)
}

// --- event emission ---

func (e *MatchingEngine) accept(o *domain.Order) {
	e.venueSeq++
	ev := domain.NewOrderEvent(domain.EventOrderAccepted, o, e.clk.TimestampNs())
	ev.VenueOrderID = fmt.Sprintf("%s-%d", e.instrument.Venue, e.venueSeq)
	mustApply(o, ev)
	e.emit(ev)
}

func (e *MatchingEngine) reject(o *domain.Order, reason string) {
	ev := domain.NewOrderEvent(domain.EventOrderRejected, o, e.clk.TimestampNs())
	ev.Reason = reason
	mustApply(o, ev)
	e.emit(ev)
	e.log.Debug("order rejected", "order_id", o.ClientOrderID, "reason", reason)
}

func (e *MatchingEngine) trigger(o *domain.Order) {
	ev := domain.NewOrderEvent(domain.EventOrderTriggered, o, e.clk.TimestampNs())
	mustApply(o, ev)
	e.emit(ev)
}

func (e *MatchingEngine) cancel(o *domain.Order, reason string) {
	e.core.RemoveOrder(o.ClientOrderID)
	ev := domain.NewOrderEvent(domain.EventOrderCanceled, o, e.clk.TimestampNs())
	ev.Reason = reason
	mustApply(o, ev)
	e.emit(ev)
}

func (e *MatchingEngine) expire(o *domain.Order) {
	e.core.RemoveOrder(o.ClientOrderID)
	ev := domain.NewOrderEvent(domain.EventOrderExpired, o, e.clk.TimestampNs())
	mustApply(o, ev)
	e.emit(ev)
}

func (e *MatchingEngine) fill(o *domain.Order, px, qty decimal.Decimal, liquidity domain.LiquiditySide) {
	if qty.IsZero() {
		return
	}
	px = e.instrument.MakePrice(px)
	ev := domain.NewOrderEvent(domain.EventOrderFilled, o, e.clk.TimestampNs())
	ev.TradeID = e.nextTradeID()
	ev.FillQty = qty
	ev.FillPrice = px
	ev.LiquiditySide = liquidity
	ev.Commission = e.instrument.Commission(qty, px, liquidity)
	mustApply(o, ev)
	e.emit(ev)
}

// marketFillPrice is the price an aggressive order of the given side
// would trade at right now.
func (e *MatchingEngine) marketFillPrice(side domain.OrderSide) (decimal.Decimal, bool) {
	if side == domain.SideBuy {
		if ask, ok := e.core.Ask(); ok {
			return ask, true
		}
	} else {
		if bid, ok := e.core.Bid(); ok {
			return bid, true
		}
	}
	if last, ok := e.core.Last(); ok {
		return last, true
	}
	return decimal.Zero, false
}

// takerQty caps an aggressive fill at the displayed opposite-side size.
// With no book, as on trade-only feeds, the whole balance fills.
func (e *MatchingEngine) takerQty(o *domain.Order) decimal.Decimal {
	var lvl BookLevel
	var ok bool
	if o.Side == domain.SideBuy {
		lvl, ok = e.book.BestAsk()
	} else {
		lvl, ok = e.book.BestBid()
	}
	if !ok || !lvl.Size.IsPositive() || lvl.Size.GreaterThanOrEqual(o.LeavesQty) {
		return o.LeavesQty
	}
	return lvl.Size
}

// slip moves a fill price one tick against the order.
func (e *MatchingEngine) slip(side domain.OrderSide, px decimal.Decimal) decimal.Decimal {
	if side == domain.SideBuy {
		return px.Add(e.instrument.PriceIncrement)
	}
	return px.Sub(e.instrument.PriceIncrement)
}

func (e *MatchingEngine) nextTradeID() string {
	e.tradeSeq++
	return fmt.Sprintf("%s-T-%d", e.instrument.Venue, e.tradeSeq)
}

// betterOrEqual reports whether a is at least as good as b for the side.
func betterOrEqual(side domain.OrderSide, a, b decimal.Decimal) bool {
	if side == domain.SideBuy {
		return a.LessThanOrEqual(b)
	}
	return a.GreaterThanOrEqual(b)
}

func mustApply(o *domain.Order, ev domain.OrderEvent) {
	if err := o.ApplyEvent(ev); err != nil {
		panic(fmt.Sprintf("MATCHING_EVENT_APPLY_FAILED: %s %s: %v", o.ClientOrderID, ev.Type, err))
	}
}
