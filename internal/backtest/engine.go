package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/internal/engine"
	"quant_go/internal/execution"
	"quant_go/internal/infra"
	"quant_go/internal/risk"
	"quant_go/internal/strategy"
	"quant_go/pkg/clock"
)

// Config sizes the run. Zero values fall back to sane defaults.
type Config struct {
	TraderID   string      `yaml:"trader_id"`
	Risk       risk.Config `yaml:"risk"`
	RetryPool  int         `yaml:"retry_pool"`
	MaxRetries int         `yaml:"max_retries"`
}

// Engine drives a deterministic simulation: market data from the
// iterator advances a test clock, flows through the venue simulators
// and the order emulator, and reaches strategies last, after all fills
// and account updates for that timestamp have settled.
//
// Everything runs on the caller's goroutine. Two runs over the same
// data and configuration produce identical event streams.
type Engine struct {
	cfg Config
	log *slog.Logger

	clk      *clock.TestClock
	cache    *cache.Cache
	b        *bus.Bus
	iterator *engine.DataIterator

	risk     *risk.Engine
	exec     *execution.Engine
	emulator *execution.Emulator

	exchanges  map[string]*engine.SimulatedExchange
	strategies []strategy.Strategy
	trader     *strategy.Trader

	running bool
}

// NewEngine wires the full simulation stack.
func NewEngine(cfg Config, log *slog.Logger) *Engine {
	if cfg.TraderID == "" {
		cfg.TraderID = "BACKTESTER-001"
	}
	if cfg.RetryPool <= 0 {
		cfg.RetryPool = 1
	}

	e := &Engine{
		cfg:       cfg,
		log:       log.With("component", "backtest"),
		clk:       clock.NewTestClock(),
		cache:     cache.New(),
		b:         bus.New(),
		iterator:  engine.NewDataIterator(),
		exchanges: make(map[string]*engine.SimulatedExchange),
	}

	pool := execution.NewRetryManagerPool(cfg.RetryPool, cfg.MaxRetries,
		time.Millisecond, 100*time.Millisecond, log)
	e.exec = execution.NewEngine(e.cache, e.b, e.clk, pool, log)
	e.emulator = execution.NewEmulator(e.cache, e.b, e.clk, log)
	e.exec.SetEmulator(e.emulator)
	e.risk = risk.NewEngine(cfg.Risk, e.cache, e.b, e.clk, log)

	e.b.Subscribe("events.order*", func(m bus.Message) {
		if ev, ok := m.Payload.(domain.OrderEvent); ok {
			e.dispatchOrderEvent(ev)
		}
	})
	e.b.Subscribe("events.position*", func(m bus.Message) {
		if ev, ok := m.Payload.(domain.PositionEvent); ok {
			e.dispatchPositionEvent(ev)
		}
	})

	e.trader = strategy.NewTrader(cfg.TraderID, e.cache, e.b, e.clk, log)
	return e
}

// Cache exposes the run's cache for inspection after Run returns.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Clock exposes the run's test clock.
func (e *Engine) Clock() *clock.TestClock { return e.clk }

// Bus exposes the run's message bus.
func (e *Engine) Bus() *bus.Bus { return e.b }

// RiskEngine exposes the pre-trade gate, e.g. to flip the kill switch
// mid-run from a module.
func (e *Engine) RiskEngine() *risk.Engine { return e.risk }

// Exchange returns the simulator for a venue, nil when absent.
func (e *Engine) Exchange(venue string) *engine.SimulatedExchange {
	return e.exchanges[venue]
}

// AddVenue creates a simulated venue with one funded account.
func (e *Engine) AddVenue(venue string, oms domain.OmsType, accountType domain.AccountType,
	startingBalances []domain.AccountBalance, fm *engine.FillModel) error {
	if e.running {
		return fmt.Errorf("add venue %s: run in progress", venue)
	}
	if _, ok := e.exchanges[venue]; ok {
		return fmt.Errorf("venue %s already added", venue)
	}
	if fm == nil {
		fm = engine.DefaultFillModel()
	}
	x := engine.NewSimulatedExchange(venue, oms, accountType, startingBalances,
		fm, e.clk, e.log, e.exec.OnOrderEvent, e.exec.OnAccountState)
	e.exchanges[venue] = x
	e.cache.AddAccount(venue, x.Account())
	e.exec.RegisterClient(execution.NewSimClient(x))
	e.log.Info("venue added", "venue", venue, "oms", oms.String())
	return nil
}

// AddInstrument registers an instrument with the cache and its venue.
func (e *Engine) AddInstrument(inst *domain.Instrument) error {
	x, ok := e.exchanges[inst.Venue]
	if !ok {
		return fmt.Errorf("instrument %s: venue %s not added", inst.ID, inst.Venue)
	}
	if err := e.cache.AddInstrument(inst); err != nil {
		return err
	}
	return x.AddInstrument(inst)
}

// AddData loads a pre-sorted slice of market data under a stream name.
func (e *Engine) AddData(name string, data []domain.Data, prepend bool) error {
	return e.iterator.AddData(name, data, prepend)
}

// AddStream attaches a chunked data source, pulled lazily during the
// run.
func (e *Engine) AddStream(name string, next engine.ChunkFunc, prepend bool) error {
	return e.iterator.AddStream(name, next, prepend)
}

// AddStrategy registers a strategy. Duplicated ids would cross their
// event streams, so they are refused.
func (e *Engine) AddStrategy(s strategy.Strategy) error {
	for _, existing := range e.strategies {
		if existing.ID() == s.ID() {
			return fmt.Errorf("strategy %s already added", s.ID())
		}
	}
	e.strategies = append(e.strategies, s)
	return nil
}

// Run consumes the iterator to exhaustion. The context is checked
// between data points so a simulation can be aborted cleanly.
func (e *Engine) Run(ctx context.Context) error {
	if e.running {
		return fmt.Errorf("run already in progress")
	}
	e.running = true
	defer func() { e.running = false }()

	e.log.Info("backtest starting", "streams", len(e.iterator.StreamNames()),
		"strategies", len(e.strategies), "venues", len(e.exchanges))

	for _, s := range e.strategies {
		s.OnStart(e.trader)
	}
	defer func() {
		for _, s := range e.strategies {
			s.OnStop()
		}
	}()

	points := 0
	for !e.iterator.IsDone() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d, err := e.iterator.Next()
		if d != nil {
			start := time.Now()
			e.step(d)
			infra.GlobalMetrics.RecordData(time.Since(start).Nanoseconds())
			points++
		}
		if err != nil {
			return fmt.Errorf("data stream failed after %d points: %w", points, err)
		}
	}

	e.log.Info("backtest complete", "points", points,
		"end_ts", e.clk.TimestampNs())
	return nil
}

// step advances the clock to the data point and pushes it through the
// venue and emulator before strategies see it.
func (e *Engine) step(d domain.Data) {
	e.clk.SetTime(d.DataTsInit())

	switch v := d.(type) {
	case domain.QuoteTick:
		e.cache.AddQuote(v)
		e.emulator.OnQuote(v)
	case domain.TradeTick:
		e.cache.AddTrade(v)
		e.emulator.OnTrade(v)
	case domain.Bar:
		e.cache.AddBar(v)
	}

	if inst := e.cache.Instrument(d.DataInstrumentID()); inst != nil {
		if x, ok := e.exchanges[inst.Venue]; ok {
			x.ProcessData(d)
		}
	}

	for _, s := range e.strategies {
		switch v := d.(type) {
		case domain.QuoteTick:
			s.OnQuote(v)
		case domain.TradeTick:
			s.OnTrade(v)
		case domain.Bar:
			s.OnBar(v)
		default:
			s.OnData(d)
		}
	}
}

func (e *Engine) dispatchOrderEvent(ev domain.OrderEvent) {
	switch ev.Type {
	case domain.EventOrderFilled:
		infra.GlobalMetrics.RecordOrderFilled()
	case domain.EventOrderDenied:
		infra.GlobalMetrics.RecordOrderDenied()
	}
	for _, s := range e.strategies {
		if s.ID() == ev.StrategyID {
			s.OnOrderEvent(ev)
		}
	}
}

func (e *Engine) dispatchPositionEvent(ev domain.PositionEvent) {
	for _, s := range e.strategies {
		if s.ID() == ev.StrategyID {
			s.OnPositionEvent(ev)
		}
	}
}

// Reset clears the iterator, cache, venues and clock so the same wiring
// can host another run. Strategies stay registered; instruments and
// data must be re-added since they live in the cache and iterator.
func (e *Engine) Reset() {
	if e.running {
		return
	}
	e.iterator.Reset()
	e.cache.Reset()
	for _, x := range e.exchanges {
		x.Reset()
	}
	e.clk.Reset()
	e.log.Info("backtest reset")
}
