package risk

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

// Action is the outcome of a pre-trade check.
type Action int

const (
	ActionAllow Action = iota + 1
	ActionDeny
)

// Denial reason tags, carried into the ORDER_DENIED event.
const (
	ReasonKillSwitch    = "KILL_SWITCH_ACTIVE"
	ReasonRateLimit     = "ORDER_RATE_LIMIT"
	ReasonMaxQty        = "MAX_ORDER_QTY_EXCEEDED"
	ReasonMaxNotional   = "MAX_ORDER_NOTIONAL_EXCEEDED"
	ReasonPositionLimit = "MAX_POSITION_EXCEEDED"
	ReasonPriceBand     = "PRICE_OUTSIDE_BAND"
	ReasonBalance       = "INSUFFICIENT_FREE_BALANCE"
	ReasonInstrument    = "INSTRUMENT_NOT_FOUND"
	ReasonInvalidOrder  = "ORDER_VALIDATION_FAILED"
)

// Decision is the result of evaluating one order.
type Decision struct {
	Action Action
	Reason string
}

// Config defines static pre-trade limits. Zero values disable a check.
type Config struct {
	Bypass               bool            `yaml:"bypass"`
	KillSwitch           bool            `yaml:"kill_switch"`
	MaxOrderQty          decimal.Decimal `yaml:"max_order_qty"`
	MaxOrderNotional     decimal.Decimal `yaml:"max_order_notional"`
	MaxPosition          decimal.Decimal `yaml:"max_position"`
	OrderRateLimit       int             `yaml:"order_rate_limit"`
	OrderRateWindow      time.Duration   `yaml:"order_rate_window"`
	MaxPriceDeviationBps int64           `yaml:"max_price_deviation_bps"`
}

// Engine gates every trading command between strategies and execution.
// Denied orders never reach a venue: the engine emits ORDER_DENIED and
// drops the command. Allowed commands pass through to the execution
// endpoint unchanged.
type Engine struct {
	cfg   Config
	cache *cache.Cache
	b     *bus.Bus
	clk   clock.Clock
	log   *slog.Logger

	rateStarted     bool
	rateWindowStart int64
	rateCount       int
}

// NewEngine creates a risk engine and registers its command endpoint.
func NewEngine(cfg Config, c *cache.Cache, b *bus.Bus, clk clock.Clock, log *slog.Logger) *Engine {
	e := &Engine{
		cfg:   cfg,
		cache: c,
		b:     b,
		clk:   clk,
		log:   log.With("component", "risk"),
	}
	b.Register("RiskEngine.execute", e.handleCommand)
	return e
}

// SetKillSwitch flips the kill switch at runtime.
func (e *Engine) SetKillSwitch(on bool) {
	e.cfg.KillSwitch = on
	if on {
		e.log.Warn("kill switch engaged")
	}
}

func (e *Engine) handleCommand(m bus.Message) {
	switch cmd := m.Payload.(type) {
	case domain.SubmitOrder:
		e.handleSubmitOrder(cmd)
	case domain.SubmitOrderList:
		e.handleSubmitOrderList(cmd)
	default:
		// Cancels, modifies and queries are not gated: removing risk is
		// always allowed.
		e.forward(m.Payload)
	}
}

func (e *Engine) handleSubmitOrder(cmd domain.SubmitOrder) {
	if d := e.Evaluate(cmd.Order); d.Action == ActionDeny {
		e.deny(cmd.Order, d.Reason)
		return
	}
	e.forward(cmd)
}

// handleSubmitOrderList evaluates all legs first: one bad leg denies the
// whole list, so a bracket never enters the market half-formed.
func (e *Engine) handleSubmitOrderList(cmd domain.SubmitOrderList) {
	for _, o := range cmd.Orders {
		if d := e.Evaluate(o); d.Action == ActionDeny {
			for _, leg := range cmd.Orders {
				e.deny(leg, d.Reason)
			}
			return
		}
	}
	e.forward(cmd)
}

// Evaluate runs the pre-trade checks for a single order.
func (e *Engine) Evaluate(o *domain.Order) Decision {
	if e.cfg.KillSwitch {
		return Decision{Action: ActionDeny, Reason: ReasonKillSwitch}
	}
	if e.cfg.Bypass {
		return Decision{Action: ActionAllow}
	}
	if err := o.Validate(); err != nil {
		return Decision{Action: ActionDeny, Reason: ReasonInvalidOrder}
	}

	inst := e.cache.Instrument(o.InstrumentID)
	if inst == nil {
		return Decision{Action: ActionDeny, Reason: ReasonInstrument}
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		now := e.clk.TimestampNs()
		window := int64(e.cfg.OrderRateWindow)
		if !e.rateStarted || now-e.rateWindowStart >= window {
			e.rateStarted = true
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return Decision{Action: ActionDeny, Reason: ReasonRateLimit}
		}
	}

	if e.cfg.MaxOrderQty.IsPositive() && o.Quantity.GreaterThan(e.cfg.MaxOrderQty) {
		return Decision{Action: ActionDeny, Reason: ReasonMaxQty}
	}

	refPrice, hasRef := e.referencePrice(o)

	if e.cfg.MaxPriceDeviationBps > 0 && o.HasPrice() && hasRef && refPrice.IsPositive() {
		deviation := o.Price.Sub(refPrice).Abs().Div(refPrice).Mul(decimal.NewFromInt(10_000))
		if deviation.GreaterThan(decimal.NewFromInt(e.cfg.MaxPriceDeviationBps)) {
			return Decision{Action: ActionDeny, Reason: ReasonPriceBand}
		}
	}

	if e.cfg.MaxOrderNotional.IsPositive() && hasRef {
		px := refPrice
		if o.HasPrice() {
			px = o.Price
		}
		if inst.Notional(o.Quantity, px).GreaterThan(e.cfg.MaxOrderNotional) {
			return Decision{Action: ActionDeny, Reason: ReasonMaxNotional}
		}
	}

	if e.cfg.MaxPosition.IsPositive() {
		next := e.projectedPosition(o)
		if next.Abs().GreaterThan(e.cfg.MaxPosition) {
			return Decision{Action: ActionDeny, Reason: ReasonPositionLimit}
		}
	}

	if d := e.checkBalance(inst, o, refPrice, hasRef); d.Action == ActionDeny {
		return d
	}

	return Decision{Action: ActionAllow}
}

// referencePrice prefers the last trade, falling back to the quote mid.
func (e *Engine) referencePrice(o *domain.Order) (decimal.Decimal, bool) {
	if tr, ok := e.cache.Trade(o.InstrumentID); ok {
		return tr.Price, true
	}
	if q, ok := e.cache.Quote(o.InstrumentID); ok {
		return q.MidPrice(), true
	}
	return decimal.Zero, false
}

// projectedPosition is the net exposure if this order fully fills.
func (e *Engine) projectedPosition(o *domain.Order) decimal.Decimal {
	net := decimal.Zero
	for _, p := range e.cache.OpenPositions(o.InstrumentID) {
		net = net.Add(p.SignedQty())
	}
	if o.Side == domain.SideBuy {
		return net.Add(o.Quantity)
	}
	return net.Sub(o.Quantity)
}

// checkBalance verifies the venue account's free balance covers the
// order. Orders reducing exposure are exempt.
func (e *Engine) checkBalance(inst *domain.Instrument, o *domain.Order, refPrice decimal.Decimal, hasRef bool) Decision {
	if o.ReduceOnly {
		return Decision{Action: ActionAllow}
	}
	acct := e.cache.AccountForVenue(inst.Venue)
	if acct == nil {
		return Decision{Action: ActionAllow} // No account registered; venue enforces.
	}

	px := refPrice
	if o.HasPrice() {
		px = o.Price
	} else if !hasRef {
		return Decision{Action: ActionAllow}
	}

	var currency string
	var required decimal.Decimal
	switch {
	case acct.Type == domain.AccountMargin:
		currency = inst.QuoteCurrency
		required = inst.Notional(o.Quantity, px).Mul(inst.MarginInit)
	case o.Side == domain.SideBuy:
		currency = inst.QuoteCurrency
		required = inst.Notional(o.Quantity, px)
	default:
		currency = inst.BaseCurrency
		required = o.Quantity
	}

	if !acct.CanAfford(currency, required) {
		return Decision{Action: ActionDeny, Reason: ReasonBalance}
	}
	return Decision{Action: ActionAllow}
}

func (e *Engine) deny(o *domain.Order, reason string) {
	ev := domain.NewOrderEvent(domain.EventOrderDenied, o, e.clk.TimestampNs())
	ev.Reason = reason
	if o.Status == domain.StatusInitialized {
		if err := o.ApplyEvent(ev); err != nil {
			e.log.Error("deny apply failed", "order_id", o.ClientOrderID, "error", err)
			return
		}
	}
	e.cache.UpdateOrder(o)
	e.b.Publish("events.order."+o.StrategyID, ev)
	e.log.Info("order denied", "order_id", o.ClientOrderID, "reason", reason)
}

func (e *Engine) forward(payload any) {
	if err := e.b.Send("ExecutionEngine.execute", payload); err != nil {
		e.log.Error("forward to execution failed", "error", err)
	}
}
