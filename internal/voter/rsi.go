package voter

import (
	"fmt"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/indicator"
)

// rsiDepthSaturation is how many RSI points past a threshold count as full
// confidence for the bounce.
const rsiDepthSaturation = 15.0

// RSIBounce is a mean-reversion voter. It does not fire on a raw
// oversold/overbought reading; it waits for the bounce: RSI must have
// crossed the threshold within the lookback and be back on the right side
// of it now.
type RSIBounce struct {
	period     int
	oversold   float64
	overbought float64
	lookback   int
}

func NewRSIBounce(ind config.IndicatorConfig, cfg config.VoterConfig) *RSIBounce {
	return &RSIBounce{
		period:     ind.RSIPeriod,
		oversold:   cfg.RSIOversold,
		overbought: cfg.RSIOverbought,
		lookback:   cfg.RSIBounceLookback,
	}
}

func (v *RSIBounce) Name() string {
	return "rsi_bounce"
}

func (v *RSIBounce) Vote(snap *indicator.Snapshot, bars []exchange.PriceBar) Vote {
	current := snap.RSI

	// RSI at each of the prior lookback bars, newest first.
	deepest := current
	peak := current
	sampled := false
	for back := 1; back <= v.lookback; back++ {
		if len(bars)-back < v.period+1 {
			break
		}
		prior, err := indicator.RSI(bars[:len(bars)-back], v.period)
		if err != nil {
			break
		}
		sampled = true
		if prior < deepest {
			deepest = prior
		}
		if prior > peak {
			peak = prior
		}
	}
	if !sampled {
		return hold(v.Name(), "not enough history for bounce check")
	}

	if deepest <= v.oversold && current > v.oversold {
		confidence := clampConfidence((v.oversold - deepest) / rsiDepthSaturation)
		return Vote{
			Source:     v.Name(),
			Direction:  DirectionBuy,
			Confidence: confidence,
			Reason:     fmt.Sprintf("RSI bounced from %.1f back above %.0f (now %.1f)", deepest, v.oversold, current),
		}
	}

	if peak >= v.overbought && current < v.overbought {
		confidence := clampConfidence((peak - v.overbought) / rsiDepthSaturation)
		return Vote{
			Source:     v.Name(),
			Direction:  DirectionSell,
			Confidence: confidence,
			Reason:     fmt.Sprintf("RSI dropped from %.1f back below %.0f (now %.1f)", peak, v.overbought, current),
		}
	}

	return hold(v.Name(), fmt.Sprintf("RSI %.1f, no bounce", current))
}
