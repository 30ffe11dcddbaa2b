package strategy

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"quant_go/internal/bus"
	"quant_go/internal/cache"
	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

type strategyHarness struct {
	trader   *Trader
	cache    *cache.Cache
	clk      *clock.TestClock
	commands []any
}

func newStrategyHarness(t *testing.T) *strategyHarness {
	t.Helper()
	h := &strategyHarness{cache: cache.New(), clk: clock.NewTestClock()}
	b := bus.New()
	b.Register("RiskEngine.execute", func(m bus.Message) {
		h.commands = append(h.commands, m.Payload)
	})
	h.trader = NewTrader("T", h.cache, b, h.clk, slog.Default())
	return h
}

func bar(close float64, ts int64) domain.Bar {
	c := decimal.NewFromFloat(close)
	return domain.Bar{
		InstrumentID: "BTC/USDT",
		Open:         c, High: c, Low: c, Close: c,
		Volume:  decimal.NewFromInt(1),
		TsEvent: ts, TsInit: ts,
	}
}

func TestSMACrossSignals(t *testing.T) {
	h := newStrategyHarness(t)
	s := NewSMACross("S-1", "BTC/USDT", 2, 3, decimal.NewFromInt(1), slog.Default())
	s.OnStart(h.trader)

	// Falling prices prime the averages with short below long.
	var ts int64
	for _, px := range []float64{104, 103, 102, 101, 100} {
		ts += 1_000
		s.OnBar(bar(px, ts))
	}
	if len(h.commands) != 0 {
		t.Fatalf("no signal expected while trending down, got %d commands", len(h.commands))
	}

	// A sharp rally lifts the short SMA through the long one.
	for _, px := range []float64{105, 110} {
		ts += 1_000
		s.OnBar(bar(px, ts))
	}
	if len(h.commands) != 1 {
		t.Fatalf("expected one buy command, got %d", len(h.commands))
	}
	cmd, ok := h.commands[0].(domain.SubmitOrder)
	if !ok {
		t.Fatalf("expected SubmitOrder, got %T", h.commands[0])
	}
	if cmd.Order.Side != domain.SideBuy || !cmd.Order.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected buy 1, got %s %s", cmd.Order.Side, cmd.Order.Quantity)
	}
	if cmd.Order.Type != domain.OrderTypeMarket {
		t.Fatalf("expected market order, got %s", cmd.Order.Type)
	}
}

func TestSMACrossFlipsPosition(t *testing.T) {
	h := newStrategyHarness(t)
	inst := &domain.Instrument{
		ID: "BTC/USDT", Venue: "SIM",
		BaseCurrency: "BTC", QuoteCurrency: "USDT",
		PriceIncrement: decimal.NewFromFloat(0.5),
		SizeIncrement:  decimal.NewFromFloat(0.001),
	}
	if err := h.cache.AddInstrument(inst); err != nil {
		t.Fatal(err)
	}
	// Strategy is long 1 going into the dead cross.
	pos := domain.NewPosition("P-1", inst, "S-1", "SIM-001", 0)
	pos.ApplyFill(domain.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(105), 0)
	h.cache.AddPosition(pos)

	s := NewSMACross("S-1", "BTC/USDT", 2, 3, decimal.NewFromInt(1), slog.Default())
	s.OnStart(h.trader)

	var ts int64
	for _, px := range []float64{100, 101, 102, 103, 104} {
		ts += 1_000
		s.OnBar(bar(px, ts))
	}
	for _, px := range []float64{99, 94} {
		ts += 1_000
		s.OnBar(bar(px, ts))
	}
	if len(h.commands) != 1 {
		t.Fatalf("expected one sell command, got %d", len(h.commands))
	}
	cmd := h.commands[0].(domain.SubmitOrder)
	// Long 1 flipping to short 1 needs a sell of 2.
	if cmd.Order.Side != domain.SideSell || !cmd.Order.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected sell 2, got %s %s", cmd.Order.Side, cmd.Order.Quantity)
	}
}

func TestTraderBracketWiring(t *testing.T) {
	h := newStrategyHarness(t)
	qty := decimal.NewFromInt(1)
	entry := h.trader.MarketOrder("S-1", "BTC/USDT", domain.SideBuy, qty)
	tp := h.trader.LimitOrder("S-1", "BTC/USDT", domain.SideSell, qty, decimal.NewFromInt(110))
	sl := h.trader.StopMarketOrder("S-1", "BTC/USDT", domain.SideSell, qty, decimal.NewFromInt(90))
	h.trader.SubmitBracket(entry, tp, sl)

	if len(h.commands) != 1 {
		t.Fatalf("expected one command, got %d", len(h.commands))
	}
	cmd, ok := h.commands[0].(domain.SubmitOrderList)
	if !ok {
		t.Fatalf("expected SubmitOrderList, got %T", h.commands[0])
	}
	if len(cmd.Orders) != 3 || cmd.OrderListID == "" {
		t.Fatalf("malformed list: %+v", cmd)
	}
	if entry.Contingency != domain.ContingencyOTO || entry.ParentOrderID != "" {
		t.Fatal("entry should be an OTO parent")
	}
	for _, exit := range []*domain.Order{tp, sl} {
		if exit.Contingency != domain.ContingencyOCO || exit.ParentOrderID != entry.ClientOrderID {
			t.Fatalf("exit %s not wired as OCO child", exit.ClientOrderID)
		}
		if exit.OrderListID != cmd.OrderListID {
			t.Fatal("exit missing list id")
		}
	}
	if tp.LinkedOrderIDs[0] != sl.ClientOrderID || sl.LinkedOrderIDs[0] != tp.ClientOrderID {
		t.Fatal("exits should link each other")
	}
}
