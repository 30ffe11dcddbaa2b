package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument describes a tradable product on a venue, including the tick
// rules the matching engine uses to normalize prices and quantities.
type Instrument struct {
	ID             string          `json:"id" yaml:"id"`
	Venue          string          `json:"venue" yaml:"venue"`
	BaseCurrency   string          `json:"base_currency" yaml:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency" yaml:"quote_currency"`
	PriceIncrement decimal.Decimal `json:"price_increment" yaml:"price_increment"`
	SizeIncrement  decimal.Decimal `json:"size_increment" yaml:"size_increment"`
	MinQuantity    decimal.Decimal `json:"min_quantity" yaml:"min_quantity"`
	MaxQuantity    decimal.Decimal `json:"max_quantity" yaml:"max_quantity"` // Zero means unlimited
	Multiplier     decimal.Decimal `json:"multiplier" yaml:"multiplier"`
	MakerFeeRate   decimal.Decimal `json:"maker_fee_rate" yaml:"maker_fee_rate"`
	TakerFeeRate   decimal.Decimal `json:"taker_fee_rate" yaml:"taker_fee_rate"`
	MarginInit     decimal.Decimal `json:"margin_init" yaml:"margin_init"`
	MarginMaint    decimal.Decimal `json:"margin_maint" yaml:"margin_maint"`
}

// Validate checks the instrument definition for internal consistency.
func (i *Instrument) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidInstrument)
	}
	if !i.PriceIncrement.IsPositive() {
		return fmt.Errorf("%w: %s price_increment must be positive", ErrInvalidInstrument, i.ID)
	}
	if !i.SizeIncrement.IsPositive() {
		return fmt.Errorf("%w: %s size_increment must be positive", ErrInvalidInstrument, i.ID)
	}
	if i.MinQuantity.IsNegative() {
		return fmt.Errorf("%w: %s min_quantity must be non-negative", ErrInvalidInstrument, i.ID)
	}
	if !i.MaxQuantity.IsZero() && i.MaxQuantity.LessThan(i.MinQuantity) {
		return fmt.Errorf("%w: %s max_quantity below min_quantity", ErrInvalidInstrument, i.ID)
	}
	return nil
}

// MakePrice rounds a raw price down to the instrument's price increment.
func (i *Instrument) MakePrice(raw decimal.Decimal) decimal.Decimal {
	return raw.Div(i.PriceIncrement).Floor().Mul(i.PriceIncrement)
}

// MakeQty rounds a raw quantity down to the instrument's size increment.
func (i *Instrument) MakeQty(raw decimal.Decimal) decimal.Decimal {
	return raw.Div(i.SizeIncrement).Floor().Mul(i.SizeIncrement)
}

// Notional returns the quote-currency value of qty at price.
func (i *Instrument) Notional(qty, price decimal.Decimal) decimal.Decimal {
	mult := i.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return qty.Mul(price).Mul(mult)
}

// Commission returns the fee charged for a fill given its liquidity side.
func (i *Instrument) Commission(qty, price decimal.Decimal, liquidity LiquiditySide) decimal.Decimal {
	rate := i.TakerFeeRate
	if liquidity == LiquidityMaker {
		rate = i.MakerFeeRate
	}
	return i.Notional(qty, price).Mul(rate)
}
