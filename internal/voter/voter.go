package voter

import (
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/indicator"
)

// Direction is a vote's trade direction.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Vote is one source's opinion for the current tick. Booster votes may only
// amplify or suppress a consensus decision; fusion never counts them toward
// direction eligibility.
type Vote struct {
	Source     string    `json:"source"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"` // In [0,1]
	Booster    bool      `json:"booster"`
	Reason     string    `json:"reason"`
}

// Voter produces a Vote from the indicator snapshot and the bar window it
// was computed from. Implementations are pure: no I/O, no stored tick state.
type Voter interface {
	Name() string
	Vote(snap *indicator.Snapshot, bars []exchange.PriceBar) Vote
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func hold(source, reason string) Vote {
	return Vote{Source: source, Direction: DirectionHold, Confidence: 0, Reason: reason}
}
