package engine

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/pkg/clock"
)

func simInstrument() *domain.Instrument {
	return &domain.Instrument{
		ID:             "BTC/USDT",
		Venue:          "SIM",
		BaseCurrency:   "BTC",
		QuoteCurrency:  "USDT",
		PriceIncrement: decimal.NewFromFloat(0.5),
		SizeIncrement:  decimal.NewFromFloat(0.001),
		MinQuantity:    decimal.NewFromFloat(0.001),
		TakerFeeRate:   decimal.NewFromFloat(0.0005),
		MakerFeeRate:   decimal.NewFromFloat(0.0002),
	}
}

type engineHarness struct {
	engine *MatchingEngine
	clk    *clock.TestClock
	events []domain.OrderEvent
}

func newHarness(t *testing.T) *engineHarness {
	t.Helper()
	h := &engineHarness{clk: clock.NewTestClock()}
	h.engine = NewMatchingEngine(simInstrument(), DefaultFillModel(), h.clk,
		slog.Default(), func(ev domain.OrderEvent) { h.events = append(h.events, ev) })
	return h
}

func (h *engineHarness) quote(bid, ask float64) {
	h.engine.ProcessQuote(domain.QuoteTick{
		InstrumentID: "BTC/USDT",
		BidPrice:     decimal.NewFromFloat(bid),
		AskPrice:     decimal.NewFromFloat(ask),
		BidSize:      decimal.NewFromInt(10),
		AskSize:      decimal.NewFromInt(10),
		TsInit:       h.clk.TimestampNs(),
	})
}

func (h *engineHarness) lastEvent(t *testing.T) domain.OrderEvent {
	t.Helper()
	if len(h.events) == 0 {
		t.Fatal("no events emitted")
	}
	return h.events[len(h.events)-1]
}

func (h *engineHarness) eventTypes() []domain.OrderEventType {
	out := make([]domain.OrderEventType, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Type
	}
	return out
}

func submitted(t *testing.T, o *domain.Order) *domain.Order {
	t.Helper()
	if err := o.ApplyEvent(domain.NewOrderEvent(domain.EventOrderSubmitted, o, 0)); err != nil {
		t.Fatal(err)
	}
	return o
}

func limitOrder(t *testing.T, id string, side domain.OrderSide, qty, price float64) *domain.Order {
	t.Helper()
	o := domain.NewOrder("T", "S-1", "BTC/USDT", id, side, domain.OrderTypeLimit,
		decimal.NewFromFloat(qty), 0)
	o.Price = decimal.NewFromFloat(price)
	return submitted(t, o)
}

func marketOrder(t *testing.T, id string, side domain.OrderSide, qty float64) *domain.Order {
	t.Helper()
	o := domain.NewOrder("T", "S-1", "BTC/USDT", id, side, domain.OrderTypeMarket,
		decimal.NewFromFloat(qty), 0)
	return submitted(t, o)
}

func stopOrder(t *testing.T, id string, side domain.OrderSide, qty, trigger float64) *domain.Order {
	t.Helper()
	o := domain.NewOrder("T", "S-1", "BTC/USDT", id, side, domain.OrderTypeStopMarket,
		decimal.NewFromFloat(qty), 0)
	o.TriggerPrice = decimal.NewFromFloat(trigger)
	return submitted(t, o)
}

func TestMatchingMarketOrders(t *testing.T) {
	t.Run("buy fills at ask", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := marketOrder(t, "M-1", domain.SideBuy, 1)
		h.engine.ProcessOrder(o)

		ev := h.lastEvent(t)
		if ev.Type != domain.EventOrderFilled {
			t.Fatalf("expected fill, got %s", ev.Type)
		}
		if !ev.FillPrice.Equal(decimal.NewFromInt(101)) {
			t.Fatalf("expected fill at ask 101, got %s", ev.FillPrice)
		}
		if ev.LiquiditySide != domain.LiquidityTaker {
			t.Fatalf("expected taker fill, got %s", ev.LiquiditySide)
		}
		if o.Status != domain.StatusFilled {
			t.Fatalf("expected FILLED, got %s", o.Status)
		}
	})

	t.Run("sell fills at bid", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		h.engine.ProcessOrder(marketOrder(t, "M-2", domain.SideSell, 1))
		if ev := h.lastEvent(t); !ev.FillPrice.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("expected fill at bid 100, got %s", ev.FillPrice)
		}
	})

	t.Run("no market rejects", func(t *testing.T) {
		h := newHarness(t)
		h.engine.ProcessOrder(marketOrder(t, "M-3", domain.SideBuy, 1))
		ev := h.lastEvent(t)
		if ev.Type != domain.EventOrderRejected || ev.Reason != "NO_MARKET" {
			t.Fatalf("expected NO_MARKET rejection, got %s %q", ev.Type, ev.Reason)
		}
	})

	t.Run("duplicate client order id rejected", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		h.engine.ProcessOrder(marketOrder(t, "M-4", domain.SideBuy, 1))
		dup := marketOrder(t, "M-4", domain.SideBuy, 1)
		h.engine.ProcessOrder(dup)
		ev := h.lastEvent(t)
		if ev.Type != domain.EventOrderRejected || ev.Reason != "DUPLICATE_CLIENT_ORDER_ID" {
			t.Fatalf("expected duplicate rejection, got %s %q", ev.Type, ev.Reason)
		}
	})

	t.Run("closed market rejects", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		h.engine.SetMarketStatus(domain.MarketClosed)
		h.engine.ProcessOrder(marketOrder(t, "M-5", domain.SideBuy, 1))
		if ev := h.lastEvent(t); ev.Reason != "MARKET_CLOSED" {
			t.Fatalf("expected MARKET_CLOSED, got %q", ev.Reason)
		}
	})
}

func TestMatchingLimitOrders(t *testing.T) {
	t.Run("passive limit rests then fills as maker", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := limitOrder(t, "L-1", domain.SideBuy, 1, 99)
		h.engine.ProcessOrder(o)
		if o.Status != domain.StatusAccepted {
			t.Fatalf("expected resting ACCEPTED, got %s", o.Status)
		}

		h.quote(98, 99)
		ev := h.lastEvent(t)
		if ev.Type != domain.EventOrderFilled || ev.LiquiditySide != domain.LiquidityMaker {
			t.Fatalf("expected maker fill, got %s %s", ev.Type, ev.LiquiditySide)
		}
		if !ev.FillPrice.Equal(decimal.NewFromInt(99)) {
			t.Fatalf("expected fill at limit 99, got %s", ev.FillPrice)
		}
	})

	t.Run("marketable limit fills immediately as taker", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := limitOrder(t, "L-2", domain.SideBuy, 1, 102)
		h.engine.ProcessOrder(o)
		ev := h.lastEvent(t)
		if ev.Type != domain.EventOrderFilled || ev.LiquiditySide != domain.LiquidityTaker {
			t.Fatalf("expected taker fill, got %s %s", ev.Type, ev.LiquiditySide)
		}
		if !ev.FillPrice.Equal(decimal.NewFromInt(101)) {
			t.Fatalf("expected fill at ask 101, got %s", ev.FillPrice)
		}
	})

	t.Run("post only rejects when marketable", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := limitOrder(t, "L-3", domain.SideBuy, 1, 102)
		o.PostOnly = true
		h.engine.ProcessOrder(o)
		if ev := h.lastEvent(t); ev.Reason != "POST_ONLY_WOULD_TAKE" {
			t.Fatalf("expected post-only rejection, got %q", ev.Reason)
		}
	})

	t.Run("ioc cancels when not marketable", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := limitOrder(t, "L-4", domain.SideBuy, 1, 99)
		o.TimeInForce = domain.TIFIOC
		h.engine.ProcessOrder(o)
		if o.Status != domain.StatusCanceled {
			t.Fatalf("expected CANCELED, got %s", o.Status)
		}
	})

	t.Run("cancel resting order", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := limitOrder(t, "L-5", domain.SideBuy, 1, 99)
		h.engine.ProcessOrder(o)
		if err := h.engine.CancelOrder("L-5", "USER"); err != nil {
			t.Fatal(err)
		}
		if o.Status != domain.StatusCanceled {
			t.Fatalf("expected CANCELED, got %s", o.Status)
		}
		if err := h.engine.CancelOrder("L-5", "USER"); err != nil {
			t.Fatalf("cancel on closed order should be a no-op, got %v", err)
		}
		if err := h.engine.CancelOrder("ghost", "USER"); err == nil {
			t.Fatal("expected error canceling unknown order")
		}
	})

	t.Run("modify reprices and rechecks", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := limitOrder(t, "L-6", domain.SideBuy, 1, 99)
		h.engine.ProcessOrder(o)

		err := h.engine.ModifyOrder(domain.ModifyOrder{
			ClientOrderID: "L-6",
			Price:         decimal.NewFromInt(101),
		})
		if err != nil {
			t.Fatal(err)
		}
		if o.Status != domain.StatusFilled {
			t.Fatalf("expected fill after modify to marketable, got %s", o.Status)
		}
	})
}

func newModelHarness(t *testing.T, probLimit, probStop, probSlip float64) *engineHarness {
	t.Helper()
	fm, err := NewFillModel(probLimit, probStop, probSlip, 7)
	if err != nil {
		t.Fatal(err)
	}
	h := &engineHarness{clk: clock.NewTestClock()}
	h.engine = NewMatchingEngine(simInstrument(), fm, h.clk,
		slog.Default(), func(ev domain.OrderEvent) { h.events = append(h.events, ev) })
	return h
}

func (h *engineHarness) quoteSized(bid, ask, bidSize, askSize float64) {
	h.engine.ProcessQuote(domain.QuoteTick{
		InstrumentID: "BTC/USDT",
		BidPrice:     decimal.NewFromFloat(bid),
		AskPrice:     decimal.NewFromFloat(ask),
		BidSize:      decimal.NewFromFloat(bidSize),
		AskSize:      decimal.NewFromFloat(askSize),
		TsInit:       h.clk.TimestampNs(),
	})
}

func TestMatchingSlippage(t *testing.T) {
	t.Run("market buy slips one tick above the ask", func(t *testing.T) {
		h := newModelHarness(t, 1, 1, 1)
		h.quote(100, 101)
		h.engine.ProcessOrder(marketOrder(t, "SL-1", domain.SideBuy, 1))
		ev := h.lastEvent(t)
		if ev.Type != domain.EventOrderFilled {
			t.Fatalf("expected fill, got %s", ev.Type)
		}
		if !ev.FillPrice.Equal(decimal.NewFromFloat(101.5)) {
			t.Fatalf("expected slipped fill at 101.5, got %s", ev.FillPrice)
		}
	})

	t.Run("market sell slips one tick below the bid", func(t *testing.T) {
		h := newModelHarness(t, 1, 1, 1)
		h.quote(100, 101)
		h.engine.ProcessOrder(marketOrder(t, "SL-2", domain.SideSell, 1))
		if ev := h.lastEvent(t); !ev.FillPrice.Equal(decimal.NewFromFloat(99.5)) {
			t.Fatalf("expected slipped fill at 99.5, got %s", ev.FillPrice)
		}
	})

	t.Run("marketable limit slips within its limit", func(t *testing.T) {
		h := newModelHarness(t, 1, 1, 1)
		h.quote(100, 101)
		h.engine.ProcessOrder(limitOrder(t, "SL-3", domain.SideBuy, 1, 102))
		if ev := h.lastEvent(t); !ev.FillPrice.Equal(decimal.NewFromFloat(101.5)) {
			t.Fatalf("expected slipped fill at 101.5, got %s", ev.FillPrice)
		}
	})

	t.Run("limit price caps the slipped fill", func(t *testing.T) {
		h := newModelHarness(t, 1, 1, 1)
		h.quote(100, 101)
		o := limitOrder(t, "SL-4", domain.SideBuy, 1, 101)
		h.engine.ProcessOrder(o)
		if ev := h.lastEvent(t); !ev.FillPrice.Equal(decimal.NewFromInt(101)) {
			t.Fatalf("fill must not exceed the limit price, got %s", ev.FillPrice)
		}
	})

	t.Run("no slippage without the model", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		h.engine.ProcessOrder(marketOrder(t, "SL-5", domain.SideBuy, 1))
		if ev := h.lastEvent(t); !ev.FillPrice.Equal(decimal.NewFromInt(101)) {
			t.Fatalf("expected fill at the ask, got %s", ev.FillPrice)
		}
	})
}

func TestMatchingPartialFills(t *testing.T) {
	t.Run("market order consumes displayed size then cancels", func(t *testing.T) {
		h := newHarness(t)
		h.quoteSized(100, 101, 10, 2)
		o := marketOrder(t, "P-1", domain.SideBuy, 5)
		h.engine.ProcessOrder(o)

		if !o.FilledQty.Equal(decimal.NewFromInt(2)) {
			t.Fatalf("expected 2 filled against displayed size, got %s", o.FilledQty)
		}
		if o.Status != domain.StatusCanceled || o.CancelReason != "MARKET_NO_LIQUIDITY" {
			t.Fatalf("expected balance canceled for no liquidity, got %s %q", o.Status, o.CancelReason)
		}
	})

	t.Run("crossing limit rests the unfilled balance", func(t *testing.T) {
		h := newHarness(t)
		h.quoteSized(100, 101, 10, 2)
		o := limitOrder(t, "P-2", domain.SideBuy, 5, 101)
		h.engine.ProcessOrder(o)

		if o.Status != domain.StatusPartiallyFilled {
			t.Fatalf("expected PARTIALLY_FILLED, got %s", o.Status)
		}
		if !o.LeavesQty.Equal(decimal.NewFromInt(3)) {
			t.Fatalf("expected 3 leaves resting, got %s", o.LeavesQty)
		}

		// Size returns at the same level: the balance fills as maker.
		h.quoteSized(100, 101, 10, 10)
		if o.Status != domain.StatusFilled {
			t.Fatalf("expected FILLED after size returned, got %s", o.Status)
		}
		if ev := h.lastEvent(t); ev.LiquiditySide != domain.LiquidityMaker {
			t.Fatalf("expected maker fill on the balance, got %s", ev.LiquiditySide)
		}
	})

	t.Run("ioc cancels the unfilled balance", func(t *testing.T) {
		h := newHarness(t)
		h.quoteSized(100, 101, 10, 2)
		o := limitOrder(t, "P-3", domain.SideBuy, 5, 101)
		o.TimeInForce = domain.TIFIOC
		h.engine.ProcessOrder(o)
		if o.Status != domain.StatusCanceled || o.CancelReason != "IOC_UNFILLED_BALANCE" {
			t.Fatalf("expected IOC balance cancel, got %s %q", o.Status, o.CancelReason)
		}
		if !o.FilledQty.Equal(decimal.NewFromInt(2)) {
			t.Fatalf("expected 2 filled before cancel, got %s", o.FilledQty)
		}
	})

	t.Run("fok kills instead of filling partially", func(t *testing.T) {
		h := newHarness(t)
		h.quoteSized(100, 101, 10, 2)
		o := limitOrder(t, "P-4", domain.SideBuy, 5, 101)
		o.TimeInForce = domain.TIFFOK
		h.engine.ProcessOrder(o)
		if o.Status != domain.StatusCanceled || o.CancelReason != "FOK_NOT_FULLY_FILLED" {
			t.Fatalf("expected FOK kill, got %s %q", o.Status, o.CancelReason)
		}
		if !o.FilledQty.IsZero() {
			t.Fatalf("FOK must not fill partially, got %s", o.FilledQty)
		}
	})
}

func TestMatchingStopOrders(t *testing.T) {
	t.Run("stop rests then triggers and fills", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := stopOrder(t, "S-1", domain.SideBuy, 1, 105)
		h.engine.ProcessOrder(o)
		if o.Status != domain.StatusAccepted {
			t.Fatalf("expected ACCEPTED, got %s", o.Status)
		}

		h.quote(104.5, 105)
		if o.Status != domain.StatusFilled {
			t.Fatalf("expected FILLED after breach, got %s", o.Status)
		}
		types := h.eventTypes()
		sawTrigger := false
		for _, et := range types {
			if et == domain.EventOrderTriggered {
				sawTrigger = true
			}
		}
		if !sawTrigger {
			t.Fatalf("expected TRIGGERED before fill, got %v", types)
		}
	})

	t.Run("stop triggering on arrival is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		h.engine.ProcessOrder(stopOrder(t, "S-2", domain.SideBuy, 1, 100.5))
		if ev := h.lastEvent(t); ev.Reason != "STOP_WOULD_TRIGGER_IMMEDIATELY" {
			t.Fatalf("expected immediate-trigger rejection, got %q", ev.Reason)
		}
	})

	t.Run("stop limit becomes resting limit on trigger", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := domain.NewOrder("T", "S-1", "BTC/USDT", "S-3", domain.SideBuy,
			domain.OrderTypeStopLimit, decimal.NewFromInt(1), 0)
		o.TriggerPrice = decimal.NewFromInt(105)
		o.Price = decimal.NewFromInt(104)
		h.engine.ProcessOrder(submitted(t, o))

		h.quote(105, 105.5)
		if o.Status != domain.StatusTriggered {
			t.Fatalf("expected TRIGGERED resting limit, got %s", o.Status)
		}

		h.quote(103.5, 104)
		if o.Status != domain.StatusFilled {
			t.Fatalf("expected FILLED at limit, got %s", o.Status)
		}
	})

	t.Run("market if touched triggers on favorable move", func(t *testing.T) {
		h := newHarness(t)
		h.quote(100, 101)
		o := domain.NewOrder("T", "S-1", "BTC/USDT", "S-4", domain.SideBuy,
			domain.OrderTypeMarketIfTouched, decimal.NewFromInt(1), 0)
		o.TriggerPrice = decimal.NewFromInt(98)
		h.engine.ProcessOrder(submitted(t, o))
		if o.Status != domain.StatusAccepted {
			t.Fatalf("expected ACCEPTED, got %s", o.Status)
		}
		h.quote(97, 98)
		if o.Status != domain.StatusFilled {
			t.Fatalf("expected FILLED on touch, got %s", o.Status)
		}
	})
}

func TestMatchingTrailingStop(t *testing.T) {
	h := newHarness(t)
	h.quote(100, 100.5)
	h.engine.ProcessTrade(domain.TradeTick{
		InstrumentID: "BTC/USDT", Price: decimal.NewFromInt(100),
		Size: decimal.NewFromInt(1), TradeID: "X-1",
	})

	o := domain.NewOrder("T", "S-1", "BTC/USDT", "TS-1", domain.SideSell,
		domain.OrderTypeTrailingStopMarket, decimal.NewFromInt(1), 0)
	o.TrailingOffsetBps = decimal.NewFromInt(100) // 1%
	h.engine.ProcessOrder(submitted(t, o))

	if !o.TriggerPrice.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected initial trigger 99, got %s", o.TriggerPrice)
	}

	// Market rallies: the trigger ratchets up behind it.
	h.engine.ProcessTrade(domain.TradeTick{
		InstrumentID: "BTC/USDT", Price: decimal.NewFromInt(110),
		Size: decimal.NewFromInt(1), TradeID: "X-2",
	})
	if !o.TriggerPrice.Equal(decimal.NewFromFloat(108.5)) {
		t.Fatalf("expected trigger 108.5 after rally, got %s", o.TriggerPrice)
	}

	// Pullback below the trail fires the stop.
	h.engine.ProcessTrade(domain.TradeTick{
		InstrumentID: "BTC/USDT", Price: decimal.NewFromInt(108),
		Size: decimal.NewFromInt(1), TradeID: "X-3",
	})
	if o.Status != domain.StatusFilled {
		t.Fatalf("expected trailing stop filled, got %s", o.Status)
	}
}

func TestMatchingGTDExpiry(t *testing.T) {
	h := newHarness(t)
	h.quote(100, 101)
	o := limitOrder(t, "G-1", domain.SideBuy, 1, 99)
	o.TimeInForce = domain.TIFGTD
	o.ExpireTimeNs = 5_000
	h.engine.ProcessOrder(o)

	h.engine.ExpireOrders(4_999)
	if o.Status != domain.StatusAccepted {
		t.Fatalf("order expired early: %s", o.Status)
	}
	h.engine.ExpireOrders(5_000)
	if o.Status != domain.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", o.Status)
	}
}

func TestMatchingBarSweep(t *testing.T) {
	h := newHarness(t)

	// Stops straddling the bar range should both fire during the sweep.
	h.engine.ProcessTrade(domain.TradeTick{
		InstrumentID: "BTC/USDT", Price: decimal.NewFromInt(100),
		Size: decimal.NewFromInt(1), TradeID: "X-0",
	})
	buyStop := stopOrder(t, "B-1", domain.SideBuy, 1, 108)
	sellStop := stopOrder(t, "B-2", domain.SideSell, 1, 93)
	h.engine.ProcessOrder(buyStop)
	h.engine.ProcessOrder(sellStop)

	h.engine.ProcessBar(domain.Bar{
		InstrumentID: "BTC/USDT",
		Open:         decimal.NewFromInt(100),
		High:         decimal.NewFromInt(110),
		Low:          decimal.NewFromInt(92),
		Close:        decimal.NewFromInt(95),
		Volume:       decimal.NewFromInt(40),
	})

	if buyStop.Status != domain.StatusFilled {
		t.Fatalf("buy stop should fill on the high leg, got %s", buyStop.Status)
	}
	if sellStop.Status != domain.StatusFilled {
		t.Fatalf("sell stop should fill on the low leg, got %s", sellStop.Status)
	}
	if last, _ := h.engine.Core().Last(); !last.Equal(decimal.NewFromInt(95)) {
		t.Fatalf("expected last price at close 95, got %s", last)
	}
}
