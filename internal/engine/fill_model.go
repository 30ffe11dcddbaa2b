package engine

import (
	"fmt"
	"math/rand"
)

// FillModel injects probabilistic market friction into the simulated
// venue: queue position on limit fills, slippage on stop fills. A fixed
// seed makes every run reproducible; the default model is fully
// deterministic (all probabilities 0 or 1).
type FillModel struct {
	probFillOnLimit float64
	probFillOnStop  float64
	probSlippage    float64
	rng             *rand.Rand
}

// NewFillModel creates a fill model. Probabilities must lie in [0, 1].
func NewFillModel(probFillOnLimit, probFillOnStop, probSlippage float64, seed int64) (*FillModel, error) {
	for name, p := range map[string]float64{
		"prob_fill_on_limit": probFillOnLimit,
		"prob_fill_on_stop":  probFillOnStop,
		"prob_slippage":      probSlippage,
	} {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("fill model: %s %v outside [0, 1]", name, p)
		}
	}
	return &FillModel{
		probFillOnLimit: probFillOnLimit,
		probFillOnStop:  probFillOnStop,
		probSlippage:    probSlippage,
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// DefaultFillModel always fills limits at touch, never slips stops.
func DefaultFillModel() *FillModel {
	m, _ := NewFillModel(1.0, 1.0, 0.0, 1)
	return m
}

// IsLimitFilled draws whether a marketable limit order gets filled at
// its price (models losing the queue race at the touch).
func (m *FillModel) IsLimitFilled() bool { return m.draw(m.probFillOnLimit) }

// IsStopFilled draws whether a triggered stop fills at its trigger price
// rather than slipping.
func (m *FillModel) IsStopFilled() bool { return m.draw(m.probFillOnStop) }

// IsSlipped draws whether a market fill slips one tick.
func (m *FillModel) IsSlipped() bool { return m.draw(m.probSlippage) }

func (m *FillModel) draw(p float64) bool {
	if p >= 1.0 {
		return true
	}
	if p <= 0.0 {
		return false
	}
	return m.rng.Float64() < p
}
