package regime

import (
	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/indicator"
)

// Regime classifies the market the bot is trading into. HighVol dominates
// Choppy, Choppy dominates trend, so one tick maps to exactly one regime.
type Regime int

const (
	Normal Regime = iota
	TrendingBull
	TrendingBear
	Choppy
	HighVol
)

func (r Regime) String() string {
	switch r {
	case TrendingBull:
		return "TRENDING_BULL"
	case TrendingBear:
		return "TRENDING_BEAR"
	case Choppy:
		return "CHOPPY"
	case HighVol:
		return "HIGH_VOL"
	default:
		return "NORMAL"
	}
}

// Trending reports whether the regime is a directional trend.
func (r Regime) Trending() bool {
	return r == TrendingBull || r == TrendingBear
}

// Detector classifies from the volatility ratio against a longer baseline
// and the slope of the slow moving average.
type Detector struct {
	cfg config.RegimeConfig
	ind config.IndicatorConfig
}

func NewDetector(cfg config.RegimeConfig, ind config.IndicatorConfig) *Detector {
	return &Detector{cfg: cfg, ind: ind}
}

// Detect classifies the window. Short histories degrade toward Normal
// rather than erroring; the indicator layer already gates trading on
// window depth.
func (d *Detector) Detect(bars []exchange.PriceBar) Regime {
	current, err := indicator.Volatility(bars, d.ind.VolatilityWindow)
	if err != nil {
		return Normal
	}

	baseline, err := indicator.Volatility(bars, d.cfg.BaselineWindow)
	if err != nil || baseline == 0 {
		// No baseline to compare against; movement on a dead-flat history
		// is itself extreme.
		if err == nil && current > 0 {
			return HighVol
		}
		baseline = current
	}

	if baseline > 0 {
		ratio := current / baseline
		if ratio >= d.cfg.HighVolRatio {
			return HighVol
		}
		if ratio >= d.cfg.ChoppyVolRatio {
			return Choppy
		}
	}

	slope, ok := d.slowMASlope(bars)
	if !ok {
		return Normal
	}
	if slope >= d.cfg.TrendSlopeThreshold {
		return TrendingBull
	}
	if slope <= -d.cfg.TrendSlopeThreshold {
		return TrendingBear
	}
	return Normal
}

// slowMASlope measures the per-bar relative change of the slow MA over the
// configured slope window.
func (d *Detector) slowMASlope(bars []exchange.PriceBar) (float64, bool) {
	window := d.cfg.SlopeWindow
	if window < 1 {
		window = 1
	}
	if len(bars) < d.ind.SlowMAPeriod+window {
		return 0, false
	}

	now, err := indicator.SMA(bars, d.ind.SlowMAPeriod)
	if err != nil {
		return 0, false
	}
	prior, err := indicator.SMA(bars[:len(bars)-window], d.ind.SlowMAPeriod)
	if err != nil || prior <= 0 {
		return 0, false
	}
	return (now/prior - 1) / float64(window), true
}
