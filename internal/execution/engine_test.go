package execution

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/internal/engine"
	"quant_go/pkg/clock"
)

type execHarness struct {
	engine   *Engine
	emulator *Emulator
	exchange *engine.SimulatedExchange
	cache    *cache.Cache
	bus      *bus.Bus
	clk      *clock.TestClock

	orderEvents    []domain.OrderEvent
	positionEvents []domain.PositionEvent
}

func newExecHarness(t *testing.T) *execHarness {
	t.Helper()
	h := &execHarness{cache: cache.New(), bus: bus.New(), clk: clock.NewTestClock()}
	log := slog.Default()

	pool := NewRetryManagerPool(2, 3, time.Millisecond, 10*time.Millisecond, log)
	h.engine = NewEngine(h.cache, h.bus, h.clk, pool, log)
	h.emulator = NewEmulator(h.cache, h.bus, h.clk, log)
	h.engine.SetEmulator(h.emulator)

	h.exchange = engine.NewSimulatedExchange("SIM", domain.OmsNetting, domain.AccountCash,
		[]domain.AccountBalance{
			{Currency: "USDT", Total: decimal.NewFromInt(1_000_000)},
			{Currency: "BTC", Total: decimal.NewFromInt(10)},
		},
		engine.DefaultFillModel(), h.clk, log,
		h.engine.OnOrderEvent, h.engine.OnAccountState)

	inst := &domain.Instrument{
		ID:             "BTC/USDT",
		Venue:          "SIM",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USDT",
		PriceIncrement: decimal.NewFromFloat(0.5),
		SizeIncrement:  decimal.NewFromFloat(0.001),
		MinQuantity:    decimal.NewFromFloat(0.001),
		TakerFeeRate:   decimal.NewFromFloat(0.0005),
	}
	if err := h.cache.AddInstrument(inst); err != nil {
		t.Fatal(err)
	}
	if err := h.exchange.AddInstrument(inst); err != nil {
		t.Fatal(err)
	}
	h.cache.AddAccount("SIM", h.exchange.Account())
	h.engine.RegisterClient(NewSimClient(h.exchange))

	h.bus.Subscribe("events.order*", func(m bus.Message) {
		if ev, ok := m.Payload.(domain.OrderEvent); ok {
			h.orderEvents = append(h.orderEvents, ev)
		}
	})
	h.bus.Subscribe("events.position*", func(m bus.Message) {
		if ev, ok := m.Payload.(domain.PositionEvent); ok {
			h.positionEvents = append(h.positionEvents, ev)
		}
	})
	return h
}

func (h *execHarness) quote(bid, ask float64) {
	q := domain.QuoteTick{
		InstrumentID: "BTC/USDT",
		BidPrice:     decimal.NewFromFloat(bid),
		AskPrice:     decimal.NewFromFloat(ask),
		BidSize:      decimal.NewFromInt(10),
		AskSize:      decimal.NewFromInt(10),
		TsInit:       h.clk.TimestampNs(),
	}
	h.cache.AddQuote(q)
	h.emulator.OnQuote(q)
	h.exchange.ProcessData(q)
}

func (h *execHarness) submit(o *domain.Order) {
	_ = h.bus.Send("ExecutionEngine.execute", domain.SubmitOrder{
		CommandID: domain.NewCommandID(),
		Order:     o,
	})
}

func TestExecutionRoundTrip(t *testing.T) {
	h := newExecHarness(t)
	h.quote(50_000, 50_100)

	o := domain.NewOrder("T", "S-1", "BTC/USDT", "E-1", domain.SideBuy,
		domain.OrderTypeMarket, decimal.NewFromInt(1), 0)
	h.submit(o)

	if o.Status != domain.StatusFilled {
		t.Fatalf("expected FILLED, got %s", o.Status)
	}
	if h.cache.Order("E-1") != o {
		t.Fatal("order should be cached")
	}

	// SUBMITTED, ACCEPTED, FILLED in that order on the bus.
	var types []domain.OrderEventType
	for _, ev := range h.orderEvents {
		types = append(types, ev.Type)
	}
	want := []domain.OrderEventType{
		domain.EventOrderSubmitted, domain.EventOrderAccepted, domain.EventOrderFilled,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}

	positions := h.cache.OpenPositions("BTC/USDT")
	if len(positions) != 1 || !positions[0].Quantity().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected one open position of 1, got %v", positions)
	}
	if len(h.positionEvents) != 1 || h.positionEvents[0].Type != domain.EventPositionOpened {
		t.Fatalf("expected POSITION_OPENED, got %v", h.positionEvents)
	}

	// Close the position and verify the netting bookkeeping.
	c := domain.NewOrder("T", "S-1", "BTC/USDT", "E-2", domain.SideSell,
		domain.OrderTypeMarket, decimal.NewFromInt(1), 0)
	h.submit(c)
	if got := h.positionEvents[len(h.positionEvents)-1]; got.Type != domain.EventPositionClosed {
		t.Fatalf("expected POSITION_CLOSED, got %s", got.Type)
	}
	if len(h.cache.OpenPositions("BTC/USDT")) != 0 {
		t.Fatal("expected no open positions after close")
	}
}

func TestExecutionEmulatedOrder(t *testing.T) {
	h := newExecHarness(t)
	h.quote(50_000, 50_100)

	o := domain.NewOrder("T", "S-1", "BTC/USDT", "EM-1", domain.SideBuy,
		domain.OrderTypeStopMarket, decimal.NewFromInt(1), 0)
	o.TriggerPrice = decimal.NewFromInt(51_000)
	o.EmulationTrigger = domain.TriggerBidAsk
	h.submit(o)

	if o.Status != domain.StatusEmulated {
		t.Fatalf("expected EMULATED, got %s", o.Status)
	}
	if !h.emulator.Holds("EM-1") {
		t.Fatal("emulator should hold the order")
	}

	// Ask rises through the trigger: release, convert to market, fill.
	h.quote(50_950, 51_000)
	if h.emulator.Holds("EM-1") {
		t.Fatal("order should have been released")
	}
	if o.Type != domain.OrderTypeMarket {
		t.Fatalf("released stop should convert to MARKET, got %s", o.Type)
	}
	if o.Status != domain.StatusFilled {
		t.Fatalf("expected FILLED after release, got %s", o.Status)
	}

	var sawReleased bool
	for _, ev := range h.orderEvents {
		if ev.Type == domain.EventOrderReleased {
			sawReleased = true
		}
	}
	if !sawReleased {
		t.Fatal("expected ORDER_RELEASED on the bus")
	}
}

func TestExecutionEmulatorCancel(t *testing.T) {
	h := newExecHarness(t)
	h.quote(50_000, 50_100)

	o := domain.NewOrder("T", "S-1", "BTC/USDT", "EM-2", domain.SideSell,
		domain.OrderTypeStopMarket, decimal.NewFromInt(1), 0)
	o.TriggerPrice = decimal.NewFromInt(49_000)
	o.EmulationTrigger = domain.TriggerBidAsk
	h.submit(o)

	_ = h.bus.Send("ExecutionEngine.execute", domain.CancelOrder{
		CommandID:     domain.NewCommandID(),
		InstrumentID:  "BTC/USDT",
		ClientOrderID: "EM-2",
	})
	if o.Status != domain.StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", o.Status)
	}
	if h.emulator.Holds("EM-2") {
		t.Fatal("canceled order still held")
	}

	// The trigger firing later must not resurrect it.
	h.quote(48_000, 48_100)
	if o.Status != domain.StatusCanceled {
		t.Fatalf("canceled order changed state: %s", o.Status)
	}
}

func TestExecutionEmulatorModify(t *testing.T) {
	h := newExecHarness(t)
	h.quote(50_000, 50_100)

	o := domain.NewOrder("T", "S-1", "BTC/USDT", "EM-3", domain.SideBuy,
		domain.OrderTypeStopMarket, decimal.NewFromInt(1), 0)
	o.TriggerPrice = decimal.NewFromInt(51_000)
	o.EmulationTrigger = domain.TriggerBidAsk
	h.submit(o)
	if !h.emulator.Holds("EM-3") {
		t.Fatal("emulator should hold the order")
	}

	// The modify must land on the held order, not the venue.
	_ = h.bus.Send("ExecutionEngine.execute", domain.ModifyOrder{
		CommandID:     domain.NewCommandID(),
		InstrumentID:  "BTC/USDT",
		ClientOrderID: "EM-3",
		TriggerPrice:  decimal.NewFromInt(50_500),
	})
	if !o.TriggerPrice.Equal(decimal.NewFromInt(50_500)) {
		t.Fatalf("held order should carry the new trigger, got %s", o.TriggerPrice)
	}
	if o.Status != domain.StatusEmulated || !h.emulator.Holds("EM-3") {
		t.Fatalf("order should stay held below the new trigger, got %s", o.Status)
	}

	// The ask reaches the loosened trigger: release, convert, fill.
	h.quote(50_400, 50_500)
	if h.emulator.Holds("EM-3") {
		t.Fatal("order should have been released")
	}
	if o.Status != domain.StatusFilled {
		t.Fatalf("expected FILLED after release, got %s", o.Status)
	}
}

func TestRetryPool(t *testing.T) {
	log := slog.Default()

	t.Run("retriable error retried to success", func(t *testing.T) {
		pool := NewRetryManagerPool(1, 3, time.Millisecond, 4*time.Millisecond, log)
		calls := 0
		err := pool.Do(context.Background(), "op", func() error {
			calls++
			if calls < 3 {
				return domain.NewNetworkError("write", errors.New("broken pipe"))
			}
			return nil
		})
		if err != nil || calls != 3 {
			t.Fatalf("expected success after 3 calls, got err=%v calls=%d", err, calls)
		}
	})

	t.Run("non-retriable error returned immediately", func(t *testing.T) {
		pool := NewRetryManagerPool(1, 3, time.Millisecond, 4*time.Millisecond, log)
		calls := 0
		boom := errors.New("bad request")
		err := pool.Do(context.Background(), "op", func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Fatalf("expected single failing call, got err=%v calls=%d", err, calls)
		}
	})

	t.Run("retries exhausted", func(t *testing.T) {
		pool := NewRetryManagerPool(1, 2, time.Millisecond, 4*time.Millisecond, log)
		calls := 0
		err := pool.Do(context.Background(), "op", func() error {
			calls++
			return domain.NewNetworkError("read", errors.New("timeout"))
		})
		if err == nil || calls != 3 {
			t.Fatalf("expected 3 attempts then failure, got err=%v calls=%d", err, calls)
		}
	})
}
