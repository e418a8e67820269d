package risk

import "fusion-trading-bot/config"

// ExitReason classifies why a holding should close. The machine delays
// trailing-stop exits under the minimum hold time; hard stops and take
// profits it never delays.
type ExitReason string

const (
	ExitNone         ExitReason = ""
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
)

// Hard reports whether the reason is one the min-hold guard must not delay.
func (r ExitReason) Hard() bool {
	return r == ExitStopLoss || r == ExitTakeProfit
}

// InitialStop derives the hard stop from a fill price. The trailing stop
// starts here too.
func InitialStop(fillPrice float64, cfg config.RiskConfig) float64 {
	return fillPrice * (1 - cfg.StopLossPct)
}

// TakeProfitAt derives the take-profit level; zero when disabled.
func TakeProfitAt(fillPrice float64, cfg config.RiskConfig) float64 {
	if cfg.TakeProfitPct <= 0 {
		return 0
	}
	return fillPrice * (1 + cfg.TakeProfitPct)
}

// TrailResult carries the advanced water mark and stop.
type TrailResult struct {
	HighestPrice float64
	TrailingStop float64
	Moved        bool
}

// Trail advances the high water mark and recomputes the trailing stop at
// the configured distance below it. The stop only ever rises; a price fall
// moves neither value.
func Trail(highestPrice, trailingStop, price float64, cfg config.RiskConfig) TrailResult {
	result := TrailResult{HighestPrice: highestPrice, TrailingStop: trailingStop}

	if price > result.HighestPrice {
		result.HighestPrice = price
	}

	candidate := result.HighestPrice * (1 - cfg.TrailingDistancePct)
	if candidate > result.TrailingStop {
		result.TrailingStop = candidate
		result.Moved = true
	}
	return result
}

// CheckExit classifies the current price against the position's levels.
// Hard stop wins over take profit wins over the trailing stop, so a single
// tick through several levels reports the most severe reason.
func CheckExit(price, trailingStop, stopLoss, takeProfit float64) ExitReason {
	if price <= stopLoss {
		return ExitStopLoss
	}
	if takeProfit > 0 && price >= takeProfit {
		return ExitTakeProfit
	}
	if price <= trailingStop {
		return ExitTrailingStop
	}
	return ExitNone
}
