package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"quant_go/internal/bus"
	"quant_go/internal/domain"
	"quant_go/internal/infra"
)

const (
	maxRetries   = 10
	baseDelay    = 1 * time.Second
	maxDelay     = 60 * time.Second
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// Topic prefixes for queue messages produced by the feed.
const (
	TopicQuote = "data.quote."
	TopicTrade = "data.trade."
)

// wireMessage is the venue-neutral tick format the feed consumes.
type wireMessage struct {
	Type   string `json:"type"` // quote | trade
	Symbol string `json:"symbol"`

	BidPrice string `json:"bid_price,omitempty"`
	AskPrice string `json:"ask_price,omitempty"`
	BidSize  string `json:"bid_size,omitempty"`
	AskSize  string `json:"ask_size,omitempty"`

	Price     string `json:"price,omitempty"`
	Size      string `json:"size,omitempty"`
	Aggressor string `json:"aggressor,omitempty"` // BUYER | SELLER
	TradeID   string `json:"trade_id,omitempty"`

	Timestamp int64 `json:"timestamp"` // milliseconds
}

// Client maintains a websocket market data connection, converting wire
// ticks into domain data on a bounded queue. A full queue drops the
// tick rather than blocking the read loop.
type Client struct {
	url     string
	symbols []string
	inbox   *bus.Queue
	log     *slog.Logger
	signer  *Signer

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewClient creates a feed client publishing into inbox.
func NewClient(url string, symbols []string, inbox *bus.Queue, log *slog.Logger) *Client {
	return &Client{
		url:     url,
		symbols: symbols,
		inbox:   inbox,
		log:     log.With("component", "feed"),
	}
}

// Authenticate attaches API credentials, signed into the handshake
// headers on every dial.
func (c *Client) Authenticate(accessKey, secretKey string) {
	c.signer = NewSigner(accessKey, secretKey)
}

// Connect starts the connection loop in the background.
func (c *Client) Connect(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("feed url not configured")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Connected reports whether a live connection is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			infra.GlobalMetrics.RecordError()
			delay := backoff(retryCount)
			c.log.Warn("feed connection failed", "error", err,
				"retry", retryCount, "delay", delay.String())
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			c.readLoop(ctx)
		}
	}
}

// backoff doubles the delay per retry, capped at maxDelay.
func backoff(retry int) time.Duration {
	d := time.Duration(float64(baseDelay) * math.Pow(2, float64(retry)))
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	if c.signer != nil {
		for k, v := range c.signer.AuthHeaders("GET", "/stream") {
			header.Set(k, v)
		}
	}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	if err := c.subscribe(); err != nil {
		c.closeConnection()
		return err
	}

	c.wg.Add(1)
	go c.pingLoop(ctx)

	c.log.Info("feed connected", "url", c.url, "subs", len(c.symbols))
	return nil
}

func (c *Client) subscribe() error {
	msg := map[string]any{
		"op":      "subscribe",
		"symbols": c.symbols,
		"ticket":  fmt.Sprintf("quant-%d", time.Now().UnixNano()),
	}
	b, _ := json.Marshal(msg)
	return c.threadSafeWrite(websocket.TextMessage, b)
}

func (c *Client) threadSafeWrite(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return fmt.Errorf("no conn")
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *Client) pingLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Connected() {
				return
			}
			if err := c.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		if c.conn == nil {
			c.mu.RUnlock()
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		c.mu.RUnlock()

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.closeConnection()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg []byte) {
	var wire wireMessage
	if json.Unmarshal(msg, &wire) != nil || wire.Symbol == "" {
		return
	}

	switch wire.Type {
	case "quote":
		q, err := wire.quote()
		if err != nil {
			infra.GlobalMetrics.RecordError()
			return
		}
		c.publish(TopicQuote+wire.Symbol, q)
	case "trade":
		tk, err := wire.trade()
		if err != nil {
			infra.GlobalMetrics.RecordError()
			return
		}
		c.publish(TopicTrade+wire.Symbol, tk)
	}
}

func (c *Client) publish(topic string, payload any) {
	if err := c.inbox.TryPublish(bus.Message{Topic: topic, Payload: payload}); err != nil {
		// Dropping is preferable to stalling the socket.
		c.log.Warn("feed inbox full, tick dropped", "topic", topic)
	}
}

func (w wireMessage) quote() (domain.QuoteTick, error) {
	bid, err := decimal.NewFromString(w.BidPrice)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	ask, err := decimal.NewFromString(w.AskPrice)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	bidSize, err := decimal.NewFromString(w.BidSize)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	askSize, err := decimal.NewFromString(w.AskSize)
	if err != nil {
		return domain.QuoteTick{}, err
	}
	ts := w.Timestamp * int64(time.Millisecond)
	return domain.QuoteTick{
		InstrumentID: w.Symbol,
		BidPrice:     bid, AskPrice: ask,
		BidSize: bidSize, AskSize: askSize,
		TsEvent: ts, TsInit: ts,
	}, nil
}

func (w wireMessage) trade() (domain.TradeTick, error) {
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return domain.TradeTick{}, err
	}
	size, err := decimal.NewFromString(w.Size)
	if err != nil {
		return domain.TradeTick{}, err
	}
	aggressor := domain.AggressorBuyer
	if w.Aggressor == "SELLER" {
		aggressor = domain.AggressorSeller
	}
	ts := w.Timestamp * int64(time.Millisecond)
	return domain.TradeTick{
		InstrumentID: w.Symbol,
		Price:        price,
		Size:         size,
		Aggressor:    aggressor,
		TradeID:      w.TradeID,
		TsEvent:      ts, TsInit: ts,
	}, nil
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		infra.GlobalMetrics.DecrementConnections()
	}
	c.connected = false
}

// Disconnect stops the loops and closes the socket.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
}
