package bus

import (
	"context"
	"testing"
)

func TestBusPublish(t *testing.T) {
	t.Run("exact and wildcard matching", func(t *testing.T) {
		b := New()
		var exact, wild, other int
		b.Subscribe("events.order.SIM", func(Message) { exact++ })
		b.Subscribe("events.order*", func(Message) { wild++ })
		b.Subscribe("events.position*", func(Message) { other++ })

		b.Publish("events.order.SIM", nil)
		b.Publish("events.order.BINANCE", nil)

		if exact != 1 {
			t.Fatalf("exact subscriber: expected 1, got %d", exact)
		}
		if wild != 2 {
			t.Fatalf("wildcard subscriber: expected 2, got %d", wild)
		}
		if other != 0 {
			t.Fatalf("unrelated subscriber: expected 0, got %d", other)
		}
	})

	t.Run("delivery in subscription order", func(t *testing.T) {
		b := New()
		var order []int
		for i := 1; i <= 3; i++ {
			i := i
			b.Subscribe("data*", func(Message) { order = append(order, i) })
		}
		b.Publish("data.quotes", nil)
		if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
			t.Fatalf("unexpected delivery order: %v", order)
		}
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		b := New()
		var n int
		id := b.Subscribe("x", func(Message) { n++ })
		b.Publish("x", nil)
		b.Unsubscribe(id)
		b.Publish("x", nil)
		if n != 1 {
			t.Fatalf("expected 1 delivery, got %d", n)
		}
	})
}

func TestBusEndpoints(t *testing.T) {
	b := New()
	var got any
	b.Register("RiskEngine.execute", func(m Message) { got = m.Payload })

	if err := b.Send("RiskEngine.execute", 42); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected payload 42, got %v", got)
	}
	if err := b.Send("nobody.home", nil); err == nil {
		t.Fatal("expected error for unknown endpoint")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate endpoint")
		}
	}()
	b.Register("RiskEngine.execute", func(Message) {})
}

func TestQueue(t *testing.T) {
	t.Run("bounded and non-blocking", func(t *testing.T) {
		q := NewQueue(2)
		if err := q.TryPublish(Message{Topic: "a"}); err != nil {
			t.Fatalf("publish a: %v", err)
		}
		if err := q.TryPublish(Message{Topic: "b"}); err != nil {
			t.Fatalf("publish b: %v", err)
		}
		if err := q.TryPublish(Message{Topic: "c"}); err != ErrQueueFull {
			t.Fatalf("expected ErrQueueFull, got %v", err)
		}
		if q.Len() != 2 {
			t.Fatalf("expected len 2, got %d", q.Len())
		}
	})

	t.Run("run drains until close", func(t *testing.T) {
		q := NewQueue(4)
		_ = q.TryPublish(Message{Topic: "a"})
		_ = q.TryPublish(Message{Topic: "b"})
		q.Close()

		var topics []string
		q.Run(context.Background(), func(m Message) { topics = append(topics, m.Topic) })
		if len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
			t.Fatalf("unexpected drained topics: %v", topics)
		}
		if err := q.TryPublish(Message{Topic: "c"}); err != ErrQueueClosed {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	})
}
