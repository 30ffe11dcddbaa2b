package strategy

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// SMACross trades simple moving average crossovers on closed bars.
// A golden cross (short SMA crossing above the long) opens or flips to
// a long position, a dead cross to a short one. State lives in a fixed
// ring buffer so the hot path never allocates.
type SMACross struct {
	Base

	id           string
	instrumentID string
	shortPeriod  int
	longPeriod   int
	tradeQty     decimal.Decimal

	trader *Trader
	log    *slog.Logger

	prices []decimal.Decimal
	head   int
	count  int
	sum    decimal.Decimal

	prevShort decimal.Decimal
	prevLong  decimal.Decimal
	primed    bool
}

// NewSMACross creates the strategy. shortPeriod must be below
// longPeriod.
func NewSMACross(id, instrumentID string, shortPeriod, longPeriod int, tradeQty decimal.Decimal, log *slog.Logger) *SMACross {
	if shortPeriod >= longPeriod {
		panic("SMA_CROSS_PERIODS_INVALID")
	}
	return &SMACross{
		id:           id,
		instrumentID: instrumentID,
		shortPeriod:  shortPeriod,
		longPeriod:   longPeriod,
		tradeQty:     tradeQty,
		log:          log.With("component", "strategy", "strategy_id", id),
		prices:       make([]decimal.Decimal, longPeriod),
		sum:          decimal.Zero,
	}
}

func (s *SMACross) ID() string { return s.id }

func (s *SMACross) OnStart(t *Trader) {
	s.trader = t
	s.log.Info("strategy started", "instrument", s.instrumentID,
		"short", s.shortPeriod, "long", s.longPeriod)
}

func (s *SMACross) OnStop() {
	s.log.Info("strategy stopped", "instrument", s.instrumentID)
}

func (s *SMACross) OnBar(b domain.Bar) {
	if b.InstrumentID != s.instrumentID {
		return
	}
	s.push(b.Close)
	if s.count < s.longPeriod {
		return
	}

	currLong := s.sum.Div(decimal.NewFromInt(int64(s.longPeriod)))
	currShort := s.shortSMA()

	if s.primed {
		if s.prevShort.LessThanOrEqual(s.prevLong) && currShort.GreaterThan(currLong) {
			s.enter(domain.SideBuy, b.Close)
		}
		if s.prevShort.GreaterThanOrEqual(s.prevLong) && currShort.LessThan(currLong) {
			s.enter(domain.SideSell, b.Close)
		}
	}
	s.prevShort = currShort
	s.prevLong = currLong
	s.primed = true
}

func (s *SMACross) OnOrderEvent(ev domain.OrderEvent) {
	if ev.Type == domain.EventOrderDenied || ev.Type == domain.EventOrderRejected {
		s.log.Warn("order refused", "order_id", ev.ClientOrderID, "reason", ev.Reason)
	}
}

// push folds a close price into the ring buffer. When the buffer is
// full the oldest sample leaves the running sum before being
// overwritten.
func (s *SMACross) push(price decimal.Decimal) {
	if s.count == s.longPeriod {
		s.sum = s.sum.Sub(s.prices[s.head])
	}
	s.prices[s.head] = price
	s.sum = s.sum.Add(price)
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}
}

// shortSMA walks the ring buffer backwards from the latest sample.
func (s *SMACross) shortSMA() decimal.Decimal {
	sum := decimal.Zero
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = sum.Add(s.prices[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
}

// enter flips the net position to tradeQty in the signal direction,
// sizing the order to close any opposite exposure in the same shot.
func (s *SMACross) enter(side domain.OrderSide, refPrice decimal.Decimal) {
	if s.trader == nil {
		return
	}
	net := s.trader.NetPosition(s.id, s.instrumentID)
	target := s.tradeQty
	if side == domain.SideSell {
		target = target.Neg()
	}
	delta := target.Sub(net)
	if delta.IsZero() {
		return
	}
	qty := delta.Abs()
	ordSide := domain.SideBuy
	if delta.IsNegative() {
		ordSide = domain.SideSell
	}
	s.log.Info("crossover signal", "side", side.String(), "price", refPrice.String(),
		"qty", qty.String())
	s.trader.Submit(s.trader.MarketOrder(s.id, s.instrumentID, ordSide, qty))
}
