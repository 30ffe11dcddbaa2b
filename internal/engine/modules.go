package engine

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

const dayNs = int64(24 * 60 * 60 * 1_000_000_000)

// RolloverInterestModule accrues daily interest on open positions held
// across a UTC day boundary. Long positions pay the rate, short positions
// receive it; a negative rate flips both. The charge applies to the
// position's notional at the last traded price and settles in the quote
// currency.
type RolloverInterestModule struct {
	x       *SimulatedExchange
	rate    decimal.Decimal
	log     *slog.Logger
	lastDay int64
	seeded  bool
}

// NewRolloverInterestModule creates a module charging dailyRate per day
// of open notional.
func NewRolloverInterestModule(x *SimulatedExchange, dailyRate decimal.Decimal) *RolloverInterestModule {
	return &RolloverInterestModule{
		x:    x,
		rate: dailyRate,
		log:  x.log.With("module", "rollover"),
	}
}

func (m *RolloverInterestModule) Name() string { return "rollover_interest" }

func (m *RolloverInterestModule) PreProcess(d domain.Data) {}

func (m *RolloverInterestModule) Process(tsNs int64) {
	day := tsNs / dayNs
	if !m.seeded {
		m.lastDay = day
		m.seeded = true
		return
	}
	if day <= m.lastDay {
		return
	}
	days := day - m.lastDay
	m.lastDay = day

	ids := make([]string, 0, len(m.x.netPositions))
	for instrumentID := range m.x.netPositions {
		ids = append(ids, instrumentID)
	}
	sort.Strings(ids)

	for _, instrumentID := range ids {
		net := m.x.netPositions[instrumentID]
		if net.IsZero() {
			continue
		}
		eng, ok := m.x.engines[instrumentID]
		if !ok {
			continue
		}
		last, hasLast := eng.Core().Last()
		if !hasLast {
			continue
		}
		charge := net.Mul(last).Mul(m.rate).Mul(decimal.NewFromInt(days))
		bal := m.x.account.Balance(eng.instrument.QuoteCurrency)
		if charge.IsPositive() {
			bal.Debit(charge)
		} else if charge.IsNegative() {
			bal.Credit(charge.Neg())
		}
		m.log.Debug("rollover applied", "instrument", instrumentID,
			"net", net.String(), "charge", charge.String())
		m.x.publishAccount()
	}
}
