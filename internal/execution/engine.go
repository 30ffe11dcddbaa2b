package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

// Engine routes trading commands to venue clients and folds the
// resulting events back into the cache, positions and the bus. It sits
// behind the risk engine: everything arriving at its endpoint has
// already passed pre-trade checks.
type Engine struct {
	cache *cache.Cache
	b     *bus.Bus
	clk   clock.Clock
	log   *slog.Logger
	pool  *RetryManagerPool

	clients  map[string]Client
	emulator *Emulator

	positionSeq int64
}

// NewEngine creates an execution engine and registers its command
// endpoint on the bus.
func NewEngine(c *cache.Cache, b *bus.Bus, clk clock.Clock, pool *RetryManagerPool, log *slog.Logger) *Engine {
	e := &Engine{
		cache:   c,
		b:       b,
		clk:     clk,
		log:     log.With("component", "execution"),
		pool:    pool,
		clients: make(map[string]Client),
	}
	b.Register("ExecutionEngine.execute", e.handleCommand)
	return e
}

// RegisterClient binds a venue client. The venue's event callbacks must
// be wired to OnOrderEvent and OnAccountState.
func (e *Engine) RegisterClient(c Client) {
	e.clients[c.Venue()] = c
	e.log.Info("execution client registered", "venue", c.Venue())
}

// SetEmulator attaches the local order emulator.
func (e *Engine) SetEmulator(em *Emulator) {
	e.emulator = em
	em.release = e.releaseOrder
}

func (e *Engine) handleCommand(m bus.Message) {
	switch cmd := m.Payload.(type) {
	case domain.SubmitOrder:
		e.submitOrder(cmd)
	case domain.SubmitOrderList:
		e.submitOrderList(cmd)
	case domain.ModifyOrder:
		if e.emulator != nil && e.emulator.Holds(cmd.ClientOrderID) {
			e.emulator.Modify(cmd)
			return
		}
		e.withClientFor(cmd.InstrumentID, "modify_order", func(ctx context.Context, c Client) error {
			return c.ModifyOrder(ctx, cmd)
		})
	case domain.CancelOrder:
		if e.emulator != nil && e.emulator.Holds(cmd.ClientOrderID) {
			e.emulator.Cancel(cmd.ClientOrderID)
			return
		}
		e.withClientFor(cmd.InstrumentID, "cancel_order", func(ctx context.Context, c Client) error {
			return c.CancelOrder(ctx, cmd)
		})
	case domain.CancelAllOrders:
		e.withClientFor(cmd.InstrumentID, "cancel_all", func(ctx context.Context, c Client) error {
			return c.CancelAllOrders(ctx, cmd)
		})
	case domain.QueryAccount:
		for _, c := range e.clients {
			cmd := cmd
			_ = e.pool.Do(context.Background(), "query_account", func() error {
				return c.QueryAccount(context.Background(), cmd)
			})
		}
	default:
		e.log.Error("unhandled command", "type", fmt.Sprintf("%T", m.Payload))
	}
}

func (e *Engine) submitOrder(cmd domain.SubmitOrder) {
	o := cmd.Order
	if err := e.cache.AddOrder(o, cmd.PositionID); err != nil {
		e.log.Error("order rejected by cache", "order_id", o.ClientOrderID, "error", err)
		return
	}

	if o.EmulationTrigger != 0 && e.emulator != nil {
		e.emulator.Hold(o)
		return
	}
	e.sendToVenue(o)
}

func (e *Engine) submitOrderList(cmd domain.SubmitOrderList) {
	for _, o := range cmd.Orders {
		if err := e.cache.AddOrder(o, ""); err != nil {
			e.log.Error("order list leg rejected by cache", "order_id", o.ClientOrderID, "error", err)
			return
		}
	}
	// The venue holds OTO children itself, so only parents get the
	// SUBMITTED transition here.
	for _, o := range cmd.Orders {
		if o.ParentOrderID == "" {
			e.markSubmitted(o)
		}
	}
	e.withClientFor(cmd.Orders[0].InstrumentID, "submit_order_list", func(ctx context.Context, c Client) error {
		return c.SubmitOrderList(ctx, cmd)
	})
}

// releaseOrder moves an emulated order out of the emulator and into its
// venue once its trigger fires.
func (e *Engine) releaseOrder(o *domain.Order) {
	ev := domain.NewOrderEvent(domain.EventOrderReleased, o, e.clk.TimestampNs())
	if err := o.ApplyEvent(ev); err != nil {
		e.log.Error("release apply failed", "order_id", o.ClientOrderID, "error", err)
		return
	}
	e.cache.UpdateOrder(o)
	e.b.Publish("events.order."+o.StrategyID, ev)

	// The trigger already fired locally, so the venue receives the
	// executable form of the order.
	o.EmulationTrigger = 0
	switch o.Type {
	case domain.OrderTypeStopMarket, domain.OrderTypeMarketIfTouched, domain.OrderTypeTrailingStopMarket:
		o.Type = domain.OrderTypeMarket
		o.TriggerPrice = decimal.Zero
	case domain.OrderTypeStopLimit, domain.OrderTypeLimitIfTouched:
		o.Type = domain.OrderTypeLimit
		o.TriggerPrice = decimal.Zero
	}
	e.withClientFor(o.InstrumentID, "submit_order", func(ctx context.Context, c Client) error {
		return c.SubmitOrder(ctx, domain.SubmitOrder{CommandID: domain.NewCommandID(), Order: o})
	})
}

func (e *Engine) sendToVenue(o *domain.Order) {
	e.markSubmitted(o)
	e.withClientFor(o.InstrumentID, "submit_order", func(ctx context.Context, c Client) error {
		return c.SubmitOrder(ctx, domain.SubmitOrder{CommandID: domain.NewCommandID(), Order: o})
	})
}

func (e *Engine) markSubmitted(o *domain.Order) {
	ev := domain.NewOrderEvent(domain.EventOrderSubmitted, o, e.clk.TimestampNs())
	if err := o.ApplyEvent(ev); err != nil {
		e.log.Error("submit apply failed", "order_id", o.ClientOrderID, "error", err)
		return
	}
	e.cache.UpdateOrder(o)
	e.b.Publish("events.order."+o.StrategyID, ev)
}

func (e *Engine) withClientFor(instrumentID, op string, fn func(ctx context.Context, c Client) error) {
	inst := e.cache.Instrument(instrumentID)
	if inst == nil {
		e.log.Error("command for unknown instrument", "instrument", instrumentID)
		return
	}
	c, ok := e.clients[inst.Venue]
	if !ok {
		e.log.Error("no client for venue", "venue", inst.Venue)
		return
	}
	ctx := context.Background()
	if err := e.pool.Do(ctx, op, func() error { return fn(ctx, c) }); err != nil {
		e.log.Error("venue call failed", "op", op, "venue", inst.Venue, "error", err)
	}
}

// OnOrderEvent folds a venue event into the cache and republishes it.
// Fill events also drive position bookkeeping.
func (e *Engine) OnOrderEvent(ev domain.OrderEvent) {
	o := e.cache.Order(ev.ClientOrderID)
	if o == nil {
		e.log.Warn("event for unknown order", "order_id", ev.ClientOrderID, "type", ev.Type.String())
		return
	}
	e.cache.UpdateOrder(o)

	if ev.Type == domain.EventOrderFilled {
		e.applyFillToPosition(o, ev)
	}
	e.b.Publish("events.order."+ev.StrategyID, ev)
}

// OnAccountState republishes a venue account snapshot.
func (e *Engine) OnAccountState(st domain.AccountState) {
	e.b.Publish("events.account."+st.AccountID, st)
}

// applyFillToPosition nets the fill into the instrument's open position,
// opening a new one when flat.
func (e *Engine) applyFillToPosition(o *domain.Order, ev domain.OrderEvent) {
	inst := e.cache.Instrument(o.InstrumentID)
	if inst == nil {
		e.log.Error("fill for unknown instrument", "instrument", o.InstrumentID)
		return
	}

	var pos *domain.Position
	if id := e.cache.PositionIDForOrder(o.ClientOrderID); id != "" {
		pos = e.cache.Position(id)
	}
	if pos == nil {
		for _, p := range e.cache.OpenPositions(o.InstrumentID) {
			if p.StrategyID == o.StrategyID {
				pos = p
				break
			}
		}
	}
	if pos == nil {
		e.positionSeq++
		acct := e.cache.AccountForVenue(inst.Venue)
		acctID := ""
		if acct != nil {
			acctID = acct.ID
		}
		pos = domain.NewPosition(fmt.Sprintf("P-%s-%d", inst.Venue, e.positionSeq),
			inst, o.StrategyID, acctID, ev.TsEvent)
		pos.ApplyFill(o.Side, ev.FillQty, ev.FillPrice, ev.TsEvent)
		e.cache.AddPosition(pos)
	} else {
		pos.ApplyFill(o.Side, ev.FillQty, ev.FillPrice, ev.TsEvent)
		e.cache.UpdatePosition(pos)
	}

	pev := pos.Snapshot(uuid.NewString(), ev.TsEvent)
	e.b.Publish("events.position."+pos.StrategyID, pev)
}
