package cache

import (
	"fmt"
	"sort"
	"sync"

	"quant_go/internal/domain"
)

// Cache is the central state store shared by the engines. Market data and
// execution state are written by the engines that own them and read by
// everything else; strategies get read access only. A RWMutex guards the
// maps so live feed goroutines can read concurrently, but in a backtest
// all access happens on the single engine thread.
type Cache struct {
	mu sync.RWMutex

	instruments map[string]*domain.Instrument
	accounts    map[string]*domain.Account
	venueAccts  map[string]string // venue -> account id

	orders        map[string]*domain.Order // client order id -> order
	openOrders    map[string]map[string]struct{}
	ordersByPos   map[string][]string
	posForOrder   map[string]string

	positions     map[string]*domain.Position
	openPositions map[string]map[string]struct{}

	quotes map[string]domain.QuoteTick
	trades map[string]domain.TradeTick
	bars   map[string]domain.Bar
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{}
	c.reset()
	return c
}

func (c *Cache) reset() {
	c.instruments = make(map[string]*domain.Instrument)
	c.accounts = make(map[string]*domain.Account)
	c.venueAccts = make(map[string]string)
	c.orders = make(map[string]*domain.Order)
	c.openOrders = make(map[string]map[string]struct{})
	c.ordersByPos = make(map[string][]string)
	c.posForOrder = make(map[string]string)
	c.positions = make(map[string]*domain.Position)
	c.openPositions = make(map[string]map[string]struct{})
	c.quotes = make(map[string]domain.QuoteTick)
	c.trades = make(map[string]domain.TradeTick)
	c.bars = make(map[string]domain.Bar)
}

// Reset clears all state. Used between backtest runs.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// --- instruments ---

// AddInstrument registers an instrument definition.
func (c *Cache) AddInstrument(inst *domain.Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instruments[inst.ID] = inst
	return nil
}

// Instrument returns the instrument for an id, or nil.
func (c *Cache) Instrument(id string) *domain.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instruments[id]
}

// Instruments returns all registered instruments sorted by id.
func (c *Cache) Instruments() []*domain.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Instrument, 0, len(c.instruments))
	for _, inst := range c.instruments {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- accounts ---

// AddAccount registers a venue account.
func (c *Cache) AddAccount(venue string, a *domain.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[a.ID] = a
	c.venueAccts[venue] = a.ID
}

// Account returns an account by id, or nil.
func (c *Cache) Account(id string) *domain.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accounts[id]
}

// AccountForVenue returns the account registered for a venue, or nil.
func (c *Cache) AccountForVenue(venue string) *domain.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.venueAccts[venue]
	if !ok {
		return nil
	}
	return c.accounts[id]
}

// --- orders ---

// AddOrder indexes a new order, optionally bound to a position id.
// Reusing a client order id is an error.
func (c *Cache) AddOrder(o *domain.Order, positionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.orders[o.ClientOrderID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOrder, o.ClientOrderID)
	}
	c.orders[o.ClientOrderID] = o
	c.indexOrderLocked(o)
	if positionID != "" {
		c.posForOrder[o.ClientOrderID] = positionID
		c.ordersByPos[positionID] = append(c.ordersByPos[positionID], o.ClientOrderID)
	}
	return nil
}

// UpdateOrder refreshes the open-order index after a state change.
func (c *Cache) UpdateOrder(o *domain.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexOrderLocked(o)
}

func (c *Cache) indexOrderLocked(o *domain.Order) {
	set, ok := c.openOrders[o.InstrumentID]
	if !ok {
		set = make(map[string]struct{})
		c.openOrders[o.InstrumentID] = set
	}
	if o.IsClosed() {
		delete(set, o.ClientOrderID)
	} else {
		set[o.ClientOrderID] = struct{}{}
	}
}

// Order returns an order by client order id, or nil.
func (c *Cache) Order(clientOrderID string) *domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orders[clientOrderID]
}

// OpenOrders returns non-terminal orders for an instrument, sorted by
// client order id for deterministic iteration. Empty id means all.
func (c *Cache) OpenOrders(instrumentID string) []*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	if instrumentID == "" {
		for instID := range c.openOrders {
			for id := range c.openOrders[instID] {
				ids = append(ids, id)
			}
		}
	} else {
		for id := range c.openOrders[instrumentID] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.orders[id])
	}
	return out
}

// OrdersForPosition returns the orders attached to a position id.
func (c *Cache) OrdersForPosition(positionID string) []*domain.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.ordersByPos[positionID]
	out := make([]*domain.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.orders[id])
	}
	return out
}

// PositionIDForOrder returns the position an order was submitted against.
func (c *Cache) PositionIDForOrder(clientOrderID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.posForOrder[clientOrderID]
}

// --- positions ---

// AddPosition indexes a new position.
func (c *Cache) AddPosition(p *domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[p.ID] = p
	c.indexPositionLocked(p)
}

// UpdatePosition refreshes the open-position index after a fill.
func (c *Cache) UpdatePosition(p *domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexPositionLocked(p)
}

func (c *Cache) indexPositionLocked(p *domain.Position) {
	set, ok := c.openPositions[p.InstrumentID]
	if !ok {
		set = make(map[string]struct{})
		c.openPositions[p.InstrumentID] = set
	}
	if p.IsClosed() {
		delete(set, p.ID)
	} else {
		set[p.ID] = struct{}{}
	}
}

// Position returns a position by id, or nil.
func (c *Cache) Position(id string) *domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions[id]
}

// OpenPositions returns open positions for an instrument, sorted by id.
// Empty id means all instruments.
func (c *Cache) OpenPositions(instrumentID string) []*domain.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	if instrumentID == "" {
		for instID := range c.openPositions {
			for id := range c.openPositions[instID] {
				ids = append(ids, id)
			}
		}
	} else {
		for id := range c.openPositions[instrumentID] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*domain.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.positions[id])
	}
	return out
}

// --- market data ---

// AddQuote stores the latest quote for an instrument.
func (c *Cache) AddQuote(q domain.QuoteTick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.InstrumentID] = q
}

// Quote returns the latest quote, and whether one exists.
func (c *Cache) Quote(instrumentID string) (domain.QuoteTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[instrumentID]
	return q, ok
}

// AddTrade stores the latest trade for an instrument.
func (c *Cache) AddTrade(t domain.TradeTick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades[t.InstrumentID] = t
}

// Trade returns the latest trade, and whether one exists.
func (c *Cache) Trade(instrumentID string) (domain.TradeTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.trades[instrumentID]
	return t, ok
}

// AddBar stores the latest bar for an instrument.
func (c *Cache) AddBar(b domain.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars[b.InstrumentID] = b
}

// Bar returns the latest bar, and whether one exists.
func (c *Cache) Bar(instrumentID string) (domain.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bars[instrumentID]
	return b, ok
}
