package fusion

import (
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/regime"
	"fusion-trading-bot/internal/voter"
)

// FusedSignal is the single decision for a tick. When the computed
// confidence lands under the threshold the Direction is HOLD but the
// confidence and consensus count of the losing candidate are kept for
// logs and the status API.
type FusedSignal struct {
	Direction      voter.Direction `json:"direction"`
	Confidence     float64         `json:"confidence"`
	Votes          []voter.Vote    `json:"votes"`
	ConsensusCount int             `json:"consensus_count"`
	Regime         regime.Regime   `json:"regime"`
}

// Engine folds a tick's votes into one signal. Pure function of its
// inputs: identical votes and regime always produce the identical signal,
// ties resolve to HOLD, never by arrival order.
type Engine struct {
	cfg    config.FusionConfig
	logger zerolog.Logger
}

func NewEngine(cfg config.FusionConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "Fusion").Logger(),
	}
}

type tally struct {
	count   int
	confSum float64
}

// Fuse runs the four stages: tally, eligibility, winner confidence with
// regime multiplier and booster adjustment, threshold.
func (e *Engine) Fuse(votes []voter.Vote, reg regime.Regime) FusedSignal {
	out := FusedSignal{
		Direction: voter.DirectionHold,
		Votes:     votes,
		Regime:    reg,
	}

	var buy, sell tally
	for _, v := range votes {
		if v.Booster {
			continue
		}
		switch v.Direction {
		case voter.DirectionBuy:
			buy.count++
			buy.confSum += v.Confidence
		case voter.DirectionSell:
			sell.count++
			sell.confSum += v.Confidence
		}
	}

	buyEligible := buy.count >= e.cfg.MinConsensusVotes
	sellEligible := sell.count >= e.cfg.MinConsensusVotes

	var winner voter.Direction
	var winning tally
	switch {
	case buyEligible && sellEligible:
		// Contested tick: the stronger total confidence wins, an exact tie
		// stands aside.
		if buy.confSum > sell.confSum {
			winner, winning = voter.DirectionBuy, buy
		} else if sell.confSum > buy.confSum {
			winner, winning = voter.DirectionSell, sell
		} else {
			e.logger.Debug().Msg("buy and sell consensus tied, holding")
			return out
		}
	case buyEligible:
		winner, winning = voter.DirectionBuy, buy
	case sellEligible:
		winner, winning = voter.DirectionSell, sell
	default:
		return out
	}

	confidence := winning.confSum / float64(winning.count)
	confidence *= e.regimeMultiplier(winner, reg)
	confidence = e.applyBoosters(confidence, winner, votes)
	confidence = clamp(confidence)

	out.Confidence = confidence
	out.ConsensusCount = winning.count

	if confidence < e.cfg.ConfidenceThreshold {
		e.logger.Debug().
			Str("candidate", string(winner)).
			Float64("confidence", confidence).
			Float64("threshold", e.cfg.ConfidenceThreshold).
			Msg("confidence under threshold, holding")
		return out
	}

	out.Direction = winner
	return out
}

// regimeMultiplier scales the winner by market conditions. A trend only
// boosts the direction that rides it; an opposed trend leaves the
// confidence alone rather than punishing it twice.
func (e *Engine) regimeMultiplier(direction voter.Direction, reg regime.Regime) float64 {
	switch reg {
	case regime.TrendingBull:
		if direction == voter.DirectionBuy {
			return e.cfg.TrendAlignedBoost
		}
		return 1.0
	case regime.TrendingBear:
		if direction == voter.DirectionSell {
			return e.cfg.TrendAlignedBoost
		}
		return 1.0
	case regime.Choppy:
		return e.cfg.ChoppyDamp
	case regime.HighVol:
		return e.cfg.HighVolDamp
	default:
		return 1.0
	}
}

// applyBoosters folds booster votes into the winner's confidence. An
// agreeing booster amplifies, a contradicting one suppresses, and a
// confident HOLD booster (thin volume) suppresses too.
func (e *Engine) applyBoosters(confidence float64, winner voter.Direction, votes []voter.Vote) float64 {
	for _, v := range votes {
		if !v.Booster || v.Confidence == 0 {
			continue
		}
		adjust := e.cfg.BoosterWeight * v.Confidence
		if v.Direction == winner {
			confidence *= 1 + adjust
		} else {
			confidence *= 1 - adjust
		}
	}
	return confidence
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
