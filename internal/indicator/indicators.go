package indicator

import (
	"math"

	"fusion-trading-bot/internal/exchange"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average of closes over the last period bars.
func SMA(bars []exchange.PriceBar, period int) (float64, error) {
	if period < 1 {
		period = 1
	}
	if len(bars) < period {
		return 0, errInsufficient(period, len(bars))
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period), nil
}

// EMA calculates the Exponential Moving Average, seeded with the SMA of the
// first period bars and folded forward over the rest.
func EMA(bars []exchange.PriceBar, period int) (float64, error) {
	if period < 1 {
		period = 1
	}
	if len(bars) < period {
		return 0, errInsufficient(period, len(bars))
	}

	seed, err := SMA(bars[:period], period)
	if err != nil {
		return 0, err
	}

	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(bars); i++ {
		ema = bars[i].Close*multiplier + ema*(1-multiplier)
	}
	return ema, nil
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI calculates the Relative Strength Index with Wilder smoothing. Needs
// period+1 bars for the first averages; a flat window reads neutral 50.
func RSI(bars []exchange.PriceBar, period int) (float64, error) {
	if period < 2 {
		period = 2
	}
	if len(bars) < period+1 {
		return 0, errInsufficient(period+1, len(bars))
	}

	gains := 0.0
	losses := 0.0
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgGain == 0 && avgLoss == 0 {
		return 50.0, nil
	}
	if avgLoss == 0 {
		return 100.0, nil
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// Bands holds Bollinger band levels.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger calculates bands around the period SMA using the population
// standard deviation of closes.
func Bollinger(bars []exchange.PriceBar, period int, stdDevMultiplier float64) (Bands, error) {
	if period < 2 {
		period = 2
	}
	if len(bars) < period {
		return Bands{}, errInsufficient(period, len(bars))
	}

	middle, err := SMA(bars, period)
	if err != nil {
		return Bands{}, err
	}

	variance := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		diff := bars[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return Bands{
		Upper:  middle + stdDev*stdDevMultiplier,
		Middle: middle,
		Lower:  middle - stdDev*stdDevMultiplier,
	}, nil
}

// ============================================================================
// VWAP
// ============================================================================

// VWAP calculates the volume-weighted average of typical prices over the
// last window bars. Zero total volume falls back to the last close.
func VWAP(bars []exchange.PriceBar, window int) (float64, error) {
	if window < 1 {
		window = 1
	}
	if len(bars) < window {
		return 0, errInsufficient(window, len(bars))
	}

	priceVolume := 0.0
	totalVolume := 0.0
	for i := len(bars) - window; i < len(bars); i++ {
		priceVolume += bars[i].TypicalPrice() * bars[i].Volume
		totalVolume += bars[i].Volume
	}
	if totalVolume == 0 {
		return bars[len(bars)-1].Close, nil
	}
	return priceVolume / totalVolume, nil
}

// ============================================================================
// VOLUME
// ============================================================================

// VolumeRatio compares the newest bar's volume against the average of the
// window bars before it. Needs window+1 bars.
func VolumeRatio(bars []exchange.PriceBar, window int) (float64, error) {
	if window < 1 {
		window = 1
	}
	if len(bars) < window+1 {
		return 0, errInsufficient(window+1, len(bars))
	}

	sum := 0.0
	for i := len(bars) - window - 1; i < len(bars)-1; i++ {
		sum += bars[i].Volume
	}
	avg := sum / float64(window)
	if avg == 0 {
		return 1.0, nil
	}
	return bars[len(bars)-1].Volume / avg, nil
}

// ============================================================================
// VOLATILITY
// ============================================================================

// Volatility calculates the population standard deviation of log returns
// over the last window returns. Needs window+1 bars.
func Volatility(bars []exchange.PriceBar, window int) (float64, error) {
	if window < 2 {
		window = 2
	}
	if len(bars) < window+1 {
		return 0, errInsufficient(window+1, len(bars))
	}

	returns := make([]float64, 0, window)
	for i := len(bars) - window; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev <= 0 || bars[i].Close <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, math.Log(bars[i].Close/prev))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(returns))), nil
}
