package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quant_go/internal/bus"
	"quant_go/internal/domain"
)

func TestWireMessageParsing(t *testing.T) {
	t.Run("quote", func(t *testing.T) {
		w := wireMessage{
			Type: "quote", Symbol: "BTC/USDT",
			BidPrice: "50000.5", AskPrice: "50001",
			BidSize: "2", AskSize: "3",
			Timestamp: 1_700_000_000_000,
		}
		q, err := w.quote()
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if q.InstrumentID != "BTC/USDT" || q.BidPrice.String() != "50000.5" {
			t.Fatalf("bad quote: %+v", q)
		}
		if q.TsInit != 1_700_000_000_000*int64(time.Millisecond) {
			t.Fatalf("timestamp not scaled to nanoseconds: %d", q.TsInit)
		}
	})

	t.Run("trade", func(t *testing.T) {
		w := wireMessage{
			Type: "trade", Symbol: "BTC/USDT",
			Price: "50000", Size: "0.5",
			Aggressor: "SELLER", TradeID: "T-1",
			Timestamp: 1_700_000_000_000,
		}
		tk, err := w.trade()
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if tk.Aggressor != domain.AggressorSeller || tk.TradeID != "T-1" {
			t.Fatalf("bad trade: %+v", tk)
		}
	})

	t.Run("malformed price", func(t *testing.T) {
		w := wireMessage{Type: "quote", Symbol: "X", BidPrice: "abc",
			AskPrice: "1", BidSize: "1", AskSize: "1"}
		if _, err := w.quote(); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestBackoffCaps(t *testing.T) {
	if backoff(0) != baseDelay {
		t.Fatalf("first retry should wait the base delay, got %s", backoff(0))
	}
	if backoff(1) != 2*baseDelay {
		t.Fatalf("second retry should double, got %s", backoff(1))
	}
	if backoff(20) != maxDelay {
		t.Fatalf("large retries should cap at %s, got %s", maxDelay, backoff(20))
	}
}

// wsEcho upgrades the connection, checks the subscribe message, then
// streams the given payloads.
func wsEcho(t *testing.T, payloads []wireMessage) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil || sub["op"] != "subscribe" {
			t.Errorf("expected subscribe message, got %v (%v)", sub, err)
			return
		}

		for _, p := range payloads {
			b, _ := json.Marshal(p)
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestClientStreamsTicks(t *testing.T) {
	srv := wsEcho(t, []wireMessage{
		{Type: "quote", Symbol: "BTC/USDT", BidPrice: "100", AskPrice: "101",
			BidSize: "1", AskSize: "1", Timestamp: 1_000},
		{Type: "trade", Symbol: "BTC/USDT", Price: "100.5", Size: "0.1",
			Aggressor: "BUYER", TradeID: "T-1", Timestamp: 1_001},
		{Type: "noise", Symbol: "BTC/USDT"},
	})
	defer srv.Close()

	inbox := bus.NewQueue(16)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient(url, []string{"BTC/USDT"}, inbox, slog.Default())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	deadline := time.After(5 * time.Second)
	for inbox.Len() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for ticks, got %d", inbox.Len())
		case <-time.After(10 * time.Millisecond):
		}
	}

	var got []bus.Message
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		inbox.Run(ctx, func(m bus.Message) {
			got = append(got, m)
			if len(got) == 2 {
				cancel()
			}
		})
	}()
	<-ctx.Done()

	if got[0].Topic != TopicQuote+"BTC/USDT" {
		t.Fatalf("expected quote topic, got %s", got[0].Topic)
	}
	if _, ok := got[0].Payload.(domain.QuoteTick); !ok {
		t.Fatalf("expected QuoteTick, got %T", got[0].Payload)
	}
	if got[1].Topic != TopicTrade+"BTC/USDT" {
		t.Fatalf("expected trade topic, got %s", got[1].Topic)
	}
}
