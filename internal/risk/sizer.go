package risk

import (
	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/regime"
)

// Sizer turns a fused signal into an order size. Every factor is monotonic:
// more confidence never shrinks the size, more losses never grow it.
type Sizer struct {
	cfg config.SizingConfig
}

func NewSizer(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// SizeResult reports the sized order and the factors behind it.
type SizeResult struct {
	Notional   float64 // Quote currency to commit
	Quantity   float64 // Base asset amount at the given price
	LossFactor float64
	VolFactor  float64
}

// Size computes notional = equity × base_pct × confidence × loss_adjustment
// × volatility_factor, clamped between the min and max position fractions
// of equity. Non-positive equity or price sizes to zero rather than
// erroring; that is a routine state, not a fault.
func (s *Sizer) Size(equity, price, confidence float64, consecutiveLosses int, volFactor float64) SizeResult {
	if equity <= 0 || price <= 0 {
		return SizeResult{}
	}

	lossFactor := s.lossAdjustment(consecutiveLosses)
	notional := equity * s.cfg.BasePositionPct * confidenceScaling(confidence) * lossFactor * volFactor

	floor := s.cfg.MinPositionPct * equity
	ceil := s.cfg.MaxPositionPct * equity
	if notional < floor {
		notional = floor
	}
	if notional > ceil {
		notional = ceil
	}

	return SizeResult{
		Notional:   notional,
		Quantity:   notional / price,
		LossFactor: lossFactor,
		VolFactor:  volFactor,
	}
}

// confidenceScaling maps fused confidence to a size factor. Linear identity:
// confidence 0.9 commits 90% of the base fraction.
func confidenceScaling(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// lossAdjustment shaves the size for every consecutive loss down to the
// configured floor.
func (s *Sizer) lossAdjustment(consecutiveLosses int) float64 {
	factor := 1 - float64(consecutiveLosses)*s.cfg.ReductionPerLoss
	if factor < s.cfg.MinLossFactor {
		return s.cfg.MinLossFactor
	}
	return factor
}

// VolatilityFactor maps the regime to the sizer's volatility damping.
// Trends and normal conditions size at par.
func VolatilityFactor(r regime.Regime, cfg config.SizingConfig) float64 {
	switch r {
	case regime.Choppy:
		return cfg.ChoppyFactor
	case regime.HighVol:
		return cfg.HighVolFactor
	default:
		return 1.0
	}
}
