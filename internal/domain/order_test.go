package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func newTestOrder(t *testing.T, orderType OrderType, side OrderSide) *Order {
	t.Helper()
	o := NewOrder("TRADER-001", "S-1", "BTC/USDT", "O-1", side, orderType,
		decimal.NewFromInt(2), 1_000)
	if orderType == OrderTypeLimit {
		o.Price = decimal.NewFromInt(50_000)
	}
	return o
}

func TestOrderLifecycle(t *testing.T) {
	t.Run("happy path to filled", func(t *testing.T) {
		o := newTestOrder(t, OrderTypeLimit, SideBuy)

		events := []OrderEventType{EventOrderSubmitted, EventOrderAccepted}
		for _, et := range events {
			if err := o.ApplyEvent(NewOrderEvent(et, o, 2_000)); err != nil {
				t.Fatalf("apply %s: %v", et, err)
			}
		}
		if o.Status != StatusAccepted {
			t.Fatalf("expected ACCEPTED, got %s", o.Status)
		}

		fill := NewOrderEvent(EventOrderFilled, o, 3_000)
		fill.FillQty = decimal.NewFromInt(1)
		fill.FillPrice = decimal.NewFromInt(50_000)
		fill.TradeID = "T-1"
		if err := o.ApplyEvent(fill); err != nil {
			t.Fatalf("apply fill: %v", err)
		}
		if o.Status != StatusPartiallyFilled {
			t.Fatalf("expected PARTIALLY_FILLED, got %s", o.Status)
		}
		if !o.LeavesQty.Equal(decimal.NewFromInt(1)) {
			t.Fatalf("expected leaves 1, got %s", o.LeavesQty)
		}

		fill2 := NewOrderEvent(EventOrderFilled, o, 4_000)
		fill2.FillQty = decimal.NewFromInt(1)
		fill2.FillPrice = decimal.NewFromInt(50_100)
		fill2.TradeID = "T-2"
		if err := o.ApplyEvent(fill2); err != nil {
			t.Fatalf("apply fill2: %v", err)
		}
		if o.Status != StatusFilled {
			t.Fatalf("expected FILLED, got %s", o.Status)
		}
		if !o.AvgPx.Equal(decimal.NewFromInt(50_050)) {
			t.Fatalf("expected avg px 50050, got %s", o.AvgPx)
		}
		if !o.IsClosed() {
			t.Fatal("filled order should be closed")
		}
	})

	t.Run("terminal state rejects further transitions", func(t *testing.T) {
		o := newTestOrder(t, OrderTypeLimit, SideBuy)
		_ = o.ApplyEvent(NewOrderEvent(EventOrderSubmitted, o, 2_000))
		_ = o.ApplyEvent(NewOrderEvent(EventOrderRejected, o, 3_000))

		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on transition out of terminal state")
			}
		}()
		_ = o.ApplyEvent(NewOrderEvent(EventOrderAccepted, o, 4_000))
	})

	t.Run("fill exceeding leaves panics", func(t *testing.T) {
		o := newTestOrder(t, OrderTypeLimit, SideSell)
		_ = o.ApplyEvent(NewOrderEvent(EventOrderSubmitted, o, 2_000))
		_ = o.ApplyEvent(NewOrderEvent(EventOrderAccepted, o, 2_000))

		fill := NewOrderEvent(EventOrderFilled, o, 3_000)
		fill.FillQty = decimal.NewFromInt(3)
		fill.FillPrice = decimal.NewFromInt(50_000)
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on overfill")
			}
		}()
		_ = o.ApplyEvent(fill)
	})

	t.Run("denied from initialized", func(t *testing.T) {
		o := newTestOrder(t, OrderTypeLimit, SideBuy)
		ev := NewOrderEvent(EventOrderDenied, o, 2_000)
		ev.Reason = "MAX_NOTIONAL_EXCEEDED"
		if err := o.ApplyEvent(ev); err != nil {
			t.Fatalf("apply denied: %v", err)
		}
		if o.Status != StatusDenied || o.CancelReason != "MAX_NOTIONAL_EXCEEDED" {
			t.Fatalf("unexpected state %s reason %q", o.Status, o.CancelReason)
		}
	})

	t.Run("emulated release resubmits", func(t *testing.T) {
		o := newTestOrder(t, OrderTypeLimit, SideBuy)
		if err := o.ApplyEvent(NewOrderEvent(EventOrderEmulated, o, 2_000)); err != nil {
			t.Fatalf("apply emulated: %v", err)
		}
		if err := o.ApplyEvent(NewOrderEvent(EventOrderReleased, o, 3_000)); err != nil {
			t.Fatalf("apply released: %v", err)
		}
		if o.Status != StatusSubmitted {
			t.Fatalf("expected SUBMITTED after release, got %s", o.Status)
		}
	})
}

func TestOrderUpdate(t *testing.T) {
	o := newTestOrder(t, OrderTypeLimit, SideBuy)
	_ = o.ApplyEvent(NewOrderEvent(EventOrderSubmitted, o, 2_000))
	_ = o.ApplyEvent(NewOrderEvent(EventOrderAccepted, o, 2_000))

	upd := NewOrderEvent(EventOrderUpdated, o, 3_000)
	upd.Quantity = decimal.NewFromInt(5)
	upd.Price = decimal.NewFromInt(49_500)
	if err := o.ApplyEvent(upd); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if !o.Quantity.Equal(decimal.NewFromInt(5)) || !o.LeavesQty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("qty not updated: qty=%s leaves=%s", o.Quantity, o.LeavesQty)
	}
	if !o.Price.Equal(decimal.NewFromInt(49_500)) {
		t.Fatalf("price not updated: %s", o.Price)
	}

	// Shrinking below the filled quantity must be refused.
	fill := NewOrderEvent(EventOrderFilled, o, 4_000)
	fill.FillQty = decimal.NewFromInt(2)
	fill.FillPrice = decimal.NewFromInt(49_500)
	_ = o.ApplyEvent(fill)

	bad := NewOrderEvent(EventOrderUpdated, o, 5_000)
	bad.Quantity = decimal.NewFromInt(1)
	if err := o.ApplyEvent(bad); err == nil {
		t.Fatal("expected error updating qty below filled")
	}
}

func TestOrderValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Order)
		wantErr bool
	}{
		{"valid limit", func(o *Order) {}, false},
		{"zero qty", func(o *Order) { o.Quantity = decimal.Zero }, true},
		{"limit without price", func(o *Order) { o.Price = decimal.Zero }, true},
		{"stop without trigger", func(o *Order) {
			o.Type = OrderTypeStopMarket
			o.Price = decimal.Zero
		}, true},
		{"gtd without expiry", func(o *Order) { o.TimeInForce = TIFGTD }, true},
		{"post only market", func(o *Order) {
			o.Type = OrderTypeMarket
			o.Price = decimal.Zero
			o.PostOnly = true
		}, true},
		{"trailing without offset", func(o *Order) {
			o.Type = OrderTypeTrailingStopMarket
			o.Price = decimal.Zero
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOrder(t, OrderTypeLimit, SideBuy)
			tc.mutate(o)
			err := o.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}
