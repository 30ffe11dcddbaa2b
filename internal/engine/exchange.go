package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

// Module is a venue extension hooked into the exchange's processing
// cycle, e.g. a funding or rollover module. PreProcess sees every data
// item before matching; Process runs after each time step.
type Module interface {
	Name() string
	PreProcess(d domain.Data)
	Process(tsNs int64)
}

// SimulatedExchange models one venue: per-instrument matching engines,
// a single account with balance locking, and contingent order handling
// (brackets, OCO, OTO). All calls happen on the engine thread.
type SimulatedExchange struct {
	venue   string
	oms     domain.OmsType
	account *domain.Account
	clk     clock.Clock
	log     *slog.Logger

	fillModel *FillModel
	engines   map[string]*MatchingEngine
	modules   []Module

	// locked quote/base amounts backing open orders, per client order id
	locks map[string]orderLock

	// net signed position per instrument, for reduce-only enforcement
	netPositions map[string]decimal.Decimal

	// OTO children held until their parent's first fill
	pendingChildren map[string]*domain.Order

	emitOrder   func(ev domain.OrderEvent)
	emitAccount func(st domain.AccountState)
}

type orderLock struct {
	currency  string
	perUnit   decimal.Decimal
	remaining decimal.Decimal
}

// NewSimulatedExchange creates a venue with one account funded by the
// given starting balances.
func NewSimulatedExchange(venue string, oms domain.OmsType, accountType domain.AccountType,
	startingBalances []domain.AccountBalance, fm *FillModel, clk clock.Clock, log *slog.Logger,
	emitOrder func(ev domain.OrderEvent), emitAccount func(st domain.AccountState)) *SimulatedExchange {
	return &SimulatedExchange{
		venue:           venue,
		oms:             oms,
		account:         domain.NewAccount(venue+"-001", accountType, startingBalances),
		clk:             clk,
		log:             log.With("component", "exchange", "venue", venue),
		fillModel:       fm,
		engines:         make(map[string]*MatchingEngine),
		locks:           make(map[string]orderLock),
		netPositions:    make(map[string]decimal.Decimal),
		pendingChildren: make(map[string]*domain.Order),
		emitOrder:       emitOrder,
		emitAccount:     emitAccount,
	}
}

func (x *SimulatedExchange) Venue() string            { return x.venue }
func (x *SimulatedExchange) Account() *domain.Account { return x.account }
func (x *SimulatedExchange) Oms() domain.OmsType      { return x.oms }

// AddInstrument registers an instrument and spins up its matching engine.
func (x *SimulatedExchange) AddInstrument(inst *domain.Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	if inst.Venue != x.venue {
		return fmt.Errorf("%w: %s belongs to venue %s, not %s",
			domain.ErrInvalidInstrument, inst.ID, inst.Venue, x.venue)
	}
	x.engines[inst.ID] = NewMatchingEngine(inst, x.fillModel, x.clk, x.log, x.onEngineEvent)
	return nil
}

// AddModule attaches a venue module.
func (x *SimulatedExchange) AddModule(m Module) {
	x.modules = append(x.modules, m)
	x.log.Info("module attached", "module", m.Name())
}

// Engine returns the matching engine for an instrument, or nil.
func (x *SimulatedExchange) Engine(instrumentID string) *MatchingEngine {
	return x.engines[instrumentID]
}

// SetMarketStatus gates one instrument's market.
func (x *SimulatedExchange) SetMarketStatus(instrumentID string, status domain.MarketStatus) error {
	eng, ok := x.engines[instrumentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInstrument, instrumentID)
	}
	eng.SetMarketStatus(status)
	return nil
}

// Reset clears all venue state between runs, keeping instruments and the
// account definition but restoring nothing to balances (the backtest
// engine rebuilds the venue instead).
func (x *SimulatedExchange) Reset() {
	for _, eng := range x.engines {
		eng.Reset()
	}
	x.locks = make(map[string]orderLock)
	x.netPositions = make(map[string]decimal.Decimal)
	x.pendingChildren = make(map[string]*domain.Order)
}

// ProcessData routes a market data item to its matching engine, running
// venue modules first. GTD expiry runs on the item's timestamp.
func (x *SimulatedExchange) ProcessData(d domain.Data) {
	for _, m := range x.modules {
		m.PreProcess(d)
	}
	eng, ok := x.engines[d.DataInstrumentID()]
	if ok {
		eng.ExpireOrders(d.DataTsInit())
		switch v := d.(type) {
		case domain.QuoteTick:
			eng.ProcessQuote(v)
		case domain.TradeTick:
			eng.ProcessTrade(v)
		case domain.Bar:
			eng.ProcessBar(v)
		case domain.OrderBookDelta:
			eng.ProcessDelta(v)
		}
	}
	for _, m := range x.modules {
		m.Process(d.DataTsInit())
	}
}

// --- commands ---

// SubmitOrder admits an order to the venue: balance checks, reduce-only
// enforcement, then matching.
func (x *SimulatedExchange) SubmitOrder(o *domain.Order) {
	eng, ok := x.engines[o.InstrumentID]
	if !ok {
		x.rejectBeforeMatch(o, "INSTRUMENT_NOT_FOUND")
		return
	}
	inst := eng.instrument

	if o.ReduceOnly && !x.reduces(o) {
		x.rejectBeforeMatch(o, "REDUCE_ONLY_WOULD_INCREASE")
		return
	}
	if !x.lockForOrder(inst, o) {
		x.rejectBeforeMatch(o, "INSUFFICIENT_BALANCE")
		return
	}
	eng.ProcessOrder(o)
}

// SubmitOrderList admits a contingent list. OTO children stay local in
// INITIALIZED until the parent fills; OCO siblings are all admitted and
// linked so one closing cancels the rest.
func (x *SimulatedExchange) SubmitOrderList(orders []*domain.Order) {
	for _, o := range orders {
		if o.ParentOrderID != "" {
			// Held back until the parent's first fill releases it.
			x.pendingChildren[o.ClientOrderID] = o
			continue
		}
		x.SubmitOrder(o)
	}
}

// CancelOrder cancels one order.
func (x *SimulatedExchange) CancelOrder(cmd domain.CancelOrder) error {
	eng, ok := x.engines[cmd.InstrumentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInstrument, cmd.InstrumentID)
	}
	return eng.CancelOrder(cmd.ClientOrderID, "USER_CANCEL")
}

// ModifyOrder updates one resting order.
func (x *SimulatedExchange) ModifyOrder(cmd domain.ModifyOrder) error {
	eng, ok := x.engines[cmd.InstrumentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInstrument, cmd.InstrumentID)
	}
	return eng.ModifyOrder(cmd)
}

// CancelAllOrders cancels every open order on an instrument, optionally
// one side only.
func (x *SimulatedExchange) CancelAllOrders(cmd domain.CancelAllOrders) error {
	eng, ok := x.engines[cmd.InstrumentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInstrument, cmd.InstrumentID)
	}
	for _, o := range eng.OpenOrders() {
		if cmd.Side != 0 && o.Side != cmd.Side {
			continue
		}
		if err := eng.CancelOrder(o.ClientOrderID, "MASS_CANCEL"); err != nil {
			return err
		}
	}
	return nil
}

// QueryAccount emits a fresh account state snapshot.
func (x *SimulatedExchange) QueryAccount() {
	x.emitAccount(x.account.State(x.clk.TimestampNs()))
}

// --- event plumbing ---

// onEngineEvent intercepts every matching engine event to settle the
// account and resolve contingent links before forwarding it.
func (x *SimulatedExchange) onEngineEvent(ev domain.OrderEvent) {
	switch ev.Type {
	case domain.EventOrderFilled:
		x.settleFill(ev)
		x.handleContingencyFill(ev)
	case domain.EventOrderCanceled, domain.EventOrderExpired, domain.EventOrderRejected:
		x.releaseLock(ev.ClientOrderID, decimal.Zero)
		x.handleContingencyClose(ev)
	}
	x.emitOrder(ev)
}

func (x *SimulatedExchange) rejectBeforeMatch(o *domain.Order, reason string) {
	ev := domain.NewOrderEvent(domain.EventOrderRejected, o, x.clk.TimestampNs())
	ev.Reason = reason
	if err := o.ApplyEvent(ev); err != nil {
		panic(fmt.Sprintf("EXCHANGE_EVENT_APPLY_FAILED: %s: %v", o.ClientOrderID, err))
	}
	x.emitOrder(ev)
	x.cancelPendingChildrenOf(o.ClientOrderID, "PARENT_CLOSED")
}

// --- balance locking ---

// lockForOrder reserves the funds backing an order. Buys lock quote
// currency at the worst known price, sells lock the base quantity. A
// margin account locks the initial margin instead.
func (x *SimulatedExchange) lockForOrder(inst *domain.Instrument, o *domain.Order) bool {
	if o.ParentOrderID != "" {
		// Bracket exits are backed by the position their parent opened;
		// OCO siblings would otherwise double-lock the same funds.
		return true
	}
	px, ok := x.lockPrice(inst, o)
	if !ok {
		// No price reference yet; the matching engine will reject
		// market orders itself and passive orders carry their own price.
		return true
	}

	var currency string
	var perUnit decimal.Decimal
	switch {
	case x.account.Type == domain.AccountMargin:
		currency = inst.QuoteCurrency
		perUnit = px.Mul(inst.MarginInit)
	case o.Side == domain.SideBuy:
		currency = inst.QuoteCurrency
		perUnit = px
	default:
		currency = inst.BaseCurrency
		perUnit = decimal.NewFromInt(1)
	}

	total := perUnit.Mul(o.Quantity)
	if !x.account.CanAfford(currency, total) {
		return false
	}
	x.account.Balance(currency).Lock(total)
	x.locks[o.ClientOrderID] = orderLock{currency: currency, perUnit: perUnit, remaining: total}
	x.publishAccount()
	return true
}

func (x *SimulatedExchange) lockPrice(inst *domain.Instrument, o *domain.Order) (decimal.Decimal, bool) {
	if o.HasPrice() {
		return o.Price, true
	}
	if o.HasTrigger() && !o.TriggerPrice.IsZero() {
		return o.TriggerPrice, true
	}
	eng := x.engines[inst.ID]
	return eng.marketFillPrice(o.Side)
}

// releaseLock frees locked funds. A zero fillQty releases the whole
// remainder (terminal non-fill events); otherwise the per-unit share.
func (x *SimulatedExchange) releaseLock(clientOrderID string, fillQty decimal.Decimal) decimal.Decimal {
	l, ok := x.locks[clientOrderID]
	if !ok {
		return decimal.Zero
	}
	amount := l.remaining
	if !fillQty.IsZero() {
		amount = decimal.Min(l.perUnit.Mul(fillQty), l.remaining)
	}
	x.account.Balance(l.currency).Unlock(amount)
	l.remaining = l.remaining.Sub(amount)
	if l.remaining.IsZero() {
		delete(x.locks, clientOrderID)
	} else {
		x.locks[clientOrderID] = l
	}
	return amount
}

// settleFill moves money for an executed fill and updates the venue's
// net position view.
func (x *SimulatedExchange) settleFill(ev domain.OrderEvent) {
	eng := x.engines[ev.InstrumentID]
	inst := eng.instrument
	cost := ev.FillPrice.Mul(ev.FillQty)

	x.releaseLock(ev.ClientOrderID, ev.FillQty)

	if x.account.Type == domain.AccountMargin {
		// Margin accounts settle cash flow as PnL at position level;
		// here only the commission leaves the account.
		x.account.Balance(inst.QuoteCurrency).Debit(ev.Commission)
	} else if x.orderSide(ev) == domain.SideBuy {
		x.account.Balance(inst.QuoteCurrency).Debit(cost.Add(ev.Commission))
		x.account.Balance(inst.BaseCurrency).Credit(ev.FillQty)
	} else {
		x.account.Balance(inst.BaseCurrency).Debit(ev.FillQty)
		x.account.Balance(inst.QuoteCurrency).Credit(cost.Sub(ev.Commission))
	}
	x.account.VerifyAll()

	delta := ev.FillQty
	if x.orderSide(ev) == domain.SideSell {
		delta = delta.Neg()
	}
	x.netPositions[ev.InstrumentID] = x.netPositions[ev.InstrumentID].Add(delta)
	x.publishAccount()
}

func (x *SimulatedExchange) orderSide(ev domain.OrderEvent) domain.OrderSide {
	eng := x.engines[ev.InstrumentID]
	if o, ok := eng.orders[ev.ClientOrderID]; ok {
		return o.Side
	}
	panic(fmt.Sprintf("EXCHANGE_UNKNOWN_ORDER_FOR_FILL: %s", ev.ClientOrderID))
}

// reduces reports whether an order shrinks the venue's net position.
func (x *SimulatedExchange) reduces(o *domain.Order) bool {
	net := x.netPositions[o.InstrumentID]
	if net.IsZero() {
		return false
	}
	if net.IsPositive() {
		return o.Side == domain.SideSell && o.Quantity.LessThanOrEqual(net)
	}
	return o.Side == domain.SideBuy && o.Quantity.LessThanOrEqual(net.Neg())
}

func (x *SimulatedExchange) publishAccount() {
	x.emitAccount(x.account.State(x.clk.TimestampNs()))
}

// --- contingency ---

// handleContingencyFill releases OTO children on the parent's first fill
// and cancels OCO siblings when an order fully fills.
func (x *SimulatedExchange) handleContingencyFill(ev domain.OrderEvent) {
	eng := x.engines[ev.InstrumentID]
	o := eng.orders[ev.ClientOrderID]

	if o.Contingency == domain.ContingencyOTO {
		for _, childID := range o.LinkedOrderIDs {
			x.releaseChild(childID)
		}
	}
	if o.Contingency == domain.ContingencyOCO && o.Status == domain.StatusFilled {
		x.cancelSiblings(o)
	}
}

// handleContingencyClose resolves contingent links when an order closes
// without filling: held OTO children of the closed order are canceled,
// and OCO siblings of a canceled or expired leg cancel each other.
func (x *SimulatedExchange) handleContingencyClose(ev domain.OrderEvent) {
	x.cancelPendingChildrenOf(ev.ClientOrderID, "PARENT_CLOSED")

	eng, ok := x.engines[ev.InstrumentID]
	if !ok {
		return
	}
	o, ok := eng.orders[ev.ClientOrderID]
	if !ok || o.Contingency != domain.ContingencyOCO {
		return
	}
	if ev.Reason == "OCO_SIBLING_CLOSED" {
		return // Already a contingency cancel; don't ping-pong.
	}
	x.cancelSiblings(o)
}

// cancelPendingChildrenOf cancels held OTO children whose parent closed
// before its first fill. The children never reached matching, so they
// move straight from INITIALIZED to CANCELED.
func (x *SimulatedExchange) cancelPendingChildrenOf(parentID, reason string) {
	ids := make([]string, 0, len(x.pendingChildren))
	for id, child := range x.pendingChildren {
		if child.ParentOrderID == parentID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		child := x.pendingChildren[id]
		delete(x.pendingChildren, id)
		ev := domain.NewOrderEvent(domain.EventOrderCanceled, child, x.clk.TimestampNs())
		ev.Reason = reason
		if err := child.ApplyEvent(ev); err != nil {
			panic(fmt.Sprintf("EXCHANGE_EVENT_APPLY_FAILED: %s: %v", child.ClientOrderID, err))
		}
		x.emitOrder(ev)
	}
}

func (x *SimulatedExchange) cancelSiblings(o *domain.Order) {
	eng := x.engines[o.InstrumentID]
	for _, siblingID := range o.LinkedOrderIDs {
		sibling, ok := eng.orders[siblingID]
		if !ok || sibling.IsClosed() {
			continue
		}
		if err := eng.CancelOrder(siblingID, "OCO_SIBLING_CLOSED"); err != nil {
			x.log.Warn("oco sibling cancel failed", "order_id", siblingID, "error", err)
		}
	}
}

// releaseChild moves a held OTO child into the venue. Pending children
// are tracked by the execution layer, so the exchange receives them via
// SetPendingChild before the parent trades.
func (x *SimulatedExchange) releaseChild(childID string) {
	child, ok := x.pendingChildren[childID]
	if !ok {
		return
	}
	delete(x.pendingChildren, childID)
	ev := domain.NewOrderEvent(domain.EventOrderSubmitted, child, x.clk.TimestampNs())
	if err := child.ApplyEvent(ev); err != nil {
		panic(fmt.Sprintf("EXCHANGE_EVENT_APPLY_FAILED: %s: %v", child.ClientOrderID, err))
	}
	x.emitOrder(ev)
	x.SubmitOrder(child)
}
