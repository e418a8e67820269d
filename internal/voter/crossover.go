package voter

import (
	"fmt"
	"math"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/indicator"
)

// Crossover votes BUY when the fast MA sits above the slow MA and SELL when
// below. Confidence grows with the separation relative to price and
// saturates at the configured fraction.
type Crossover struct {
	saturationPct float64
}

func NewCrossover(cfg config.VoterConfig) *Crossover {
	return &Crossover{saturationPct: cfg.CrossoverSaturationPct}
}

func (v *Crossover) Name() string {
	return "crossover"
}

func (v *Crossover) Vote(snap *indicator.Snapshot, bars []exchange.PriceBar) Vote {
	if snap.Close <= 0 {
		return hold(v.Name(), "no price")
	}

	separation := snap.FastMA - snap.SlowMA
	if separation == 0 {
		return hold(v.Name(), "moving averages flat")
	}

	relative := math.Abs(separation) / snap.Close
	confidence := clampConfidence(relative / v.saturationPct)

	direction := DirectionBuy
	if separation < 0 {
		direction = DirectionSell
	}

	return Vote{
		Source:     v.Name(),
		Direction:  direction,
		Confidence: confidence,
		Reason:     fmt.Sprintf("fast MA %.4f vs slow MA %.4f (%.3f%% apart)", snap.FastMA, snap.SlowMA, relative*100),
	}
}
