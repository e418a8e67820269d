package indicator

import (
	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
)

// Snapshot carries every indicator value the voters read, computed from one
// window of closed bars. All values refer to the newest bar.
type Snapshot struct {
	Symbol      string            `json:"symbol"`
	Bar         exchange.PriceBar `json:"bar"`
	Close       float64           `json:"close"`
	FastMA      float64           `json:"fast_ma"`
	SlowMA      float64           `json:"slow_ma"`
	LongMA      float64           `json:"long_ma"`
	RSI         float64           `json:"rsi"`
	Bands       Bands             `json:"bands"`
	VWAP        float64           `json:"vwap"`
	VolumeRatio float64           `json:"volume_ratio"`
	Volatility  float64           `json:"volatility"`
	BarCount    int               `json:"bar_count"`
}

// Compute evaluates the full indicator set over the bars. Any calculation
// short on history surfaces its *InsufficientDataError unchanged, so callers
// can wait for the window to fill instead of treating it as a fault.
func Compute(symbol string, bars []exchange.PriceBar, cfg config.IndicatorConfig) (*Snapshot, error) {
	if len(bars) == 0 {
		return nil, errInsufficient(1, 0)
	}

	fastMA, err := SMA(bars, cfg.FastMAPeriod)
	if err != nil {
		return nil, err
	}
	slowMA, err := SMA(bars, cfg.SlowMAPeriod)
	if err != nil {
		return nil, err
	}
	longMA, err := SMA(bars, cfg.LongMAPeriod)
	if err != nil {
		return nil, err
	}
	rsi, err := RSI(bars, cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}
	bands, err := Bollinger(bars, cfg.BollingerPeriod, cfg.BollingerStdDev)
	if err != nil {
		return nil, err
	}
	vwap, err := VWAP(bars, cfg.VWAPWindow)
	if err != nil {
		return nil, err
	}
	volumeRatio, err := VolumeRatio(bars, cfg.VolumeAvgWindow)
	if err != nil {
		return nil, err
	}
	volatility, err := Volatility(bars, cfg.VolatilityWindow)
	if err != nil {
		return nil, err
	}

	last := bars[len(bars)-1]
	return &Snapshot{
		Symbol:      symbol,
		Bar:         last,
		Close:       last.Close,
		FastMA:      fastMA,
		SlowMA:      slowMA,
		LongMA:      longMA,
		RSI:         rsi,
		Bands:       bands,
		VWAP:        vwap,
		VolumeRatio: volumeRatio,
		Volatility:  volatility,
		BarCount:    len(bars),
	}, nil
}
