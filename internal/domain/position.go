package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position tracks net exposure for one instrument under a netting OMS.
// Buys add to the signed quantity, sells subtract; crossing through zero
// realizes PnL on the closed portion and re-opens on the remainder.
type Position struct {
	ID           string
	InstrumentID string
	StrategyID   string
	AccountID    string

	signedQty   decimal.Decimal
	AvgPxOpen   decimal.Decimal
	RealizedPnl decimal.Decimal
	Multiplier  decimal.Decimal

	OpenedTsNs int64
	ClosedTsNs int64
	EventCount int
}

// NewPosition opens an empty position record for an instrument.
func NewPosition(id string, instrument *Instrument, strategyID, accountID string, tsNs int64) *Position {
	mult := instrument.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return &Position{
		ID:           id,
		InstrumentID: instrument.ID,
		StrategyID:   strategyID,
		AccountID:    accountID,
		Multiplier:   mult,
		OpenedTsNs:   tsNs,
	}
}

// Side returns the current direction of the position.
func (p *Position) Side() PositionSide {
	switch p.signedQty.Sign() {
	case 1:
		return PositionLong
	case -1:
		return PositionShort
	default:
		return PositionFlat
	}
}

// Quantity returns the absolute open quantity.
func (p *Position) Quantity() decimal.Decimal { return p.signedQty.Abs() }

// SignedQty returns the net quantity, positive for long.
func (p *Position) SignedQty() decimal.Decimal { return p.signedQty }

// IsClosed reports whether the position is flat.
func (p *Position) IsClosed() bool { return p.signedQty.IsZero() }

// ApplyFill updates the position with an executed fill and returns the
// PnL realized by this fill (zero when the fill only adds exposure).
func (p *Position) ApplyFill(side OrderSide, qty, price decimal.Decimal, tsNs int64) decimal.Decimal {
	if !qty.IsPositive() {
		panic(fmt.Sprintf("POSITION_FILL_NON_POSITIVE: %s qty=%s", p.ID, qty))
	}
	delta := qty
	if side == SideSell {
		delta = qty.Neg()
	}

	realized := decimal.Zero
	switch {
	case p.signedQty.IsZero() || p.signedQty.Sign() == delta.Sign():
		// Opening or adding: weighted-average entry price.
		total := p.signedQty.Abs().Add(qty)
		p.AvgPxOpen = p.AvgPxOpen.Mul(p.signedQty.Abs()).Add(price.Mul(qty)).Div(total)
		p.signedQty = p.signedQty.Add(delta)
	case qty.LessThanOrEqual(p.signedQty.Abs()):
		// Reducing (possibly to flat). Entry price unchanged.
		realized = p.realize(qty, price)
		p.signedQty = p.signedQty.Add(delta)
	default:
		// Flipping: close the whole position, re-open the excess.
		closeQty := p.signedQty.Abs()
		realized = p.realize(closeQty, price)
		p.signedQty = p.signedQty.Add(delta)
		p.AvgPxOpen = price
	}

	p.RealizedPnl = p.RealizedPnl.Add(realized)
	p.EventCount++
	if p.signedQty.IsZero() {
		p.ClosedTsNs = tsNs
	} else {
		p.ClosedTsNs = 0
	}
	return realized
}

// realize computes PnL for closing closeQty at price against AvgPxOpen.
func (p *Position) realize(closeQty, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.AvgPxOpen)
	if p.signedQty.Sign() < 0 {
		diff = diff.Neg()
	}
	return diff.Mul(closeQty).Mul(p.Multiplier)
}

// UnrealizedPnl values the open quantity at the given mark price.
func (p *Position) UnrealizedPnl(markPrice decimal.Decimal) decimal.Decimal {
	if p.signedQty.IsZero() {
		return decimal.Zero
	}
	diff := markPrice.Sub(p.AvgPxOpen)
	if p.signedQty.Sign() < 0 {
		diff = diff.Neg()
	}
	return diff.Mul(p.signedQty.Abs()).Mul(p.Multiplier)
}

// NotionalValue returns the absolute exposure at the given mark price.
func (p *Position) NotionalValue(markPrice decimal.Decimal) decimal.Decimal {
	return p.signedQty.Abs().Mul(markPrice).Mul(p.Multiplier)
}

// Snapshot builds a position event reflecting the current state.
func (p *Position) Snapshot(eventID string, tsNs int64) PositionEvent {
	evType := EventPositionChanged
	if p.EventCount == 1 {
		evType = EventPositionOpened
	}
	if p.IsClosed() {
		evType = EventPositionClosed
	}
	return PositionEvent{
		EventID:      eventID,
		Type:         evType,
		PositionID:   p.ID,
		InstrumentID: p.InstrumentID,
		StrategyID:   p.StrategyID,
		Side:         p.Side(),
		Quantity:     p.Quantity(),
		AvgPxOpen:    p.AvgPxOpen,
		RealizedPnl:  p.RealizedPnl,
		TsEvent:      tsNs,
	}
}
