package voter

import (
	"fmt"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/indicator"
)

// VolumeConfirmation is a Booster voter: its direction never wins a tick on
// its own. On a volume surge it points in the bar's move direction so fusion
// can amplify an agreeing winner; on thin volume it emits a HOLD whose
// confidence measures how suspect the tape is, which fusion uses to
// suppress the winner.
type VolumeConfirmation struct {
	surgeRatio float64
	thinRatio  float64
}

func NewVolumeConfirmation(cfg config.VoterConfig) *VolumeConfirmation {
	return &VolumeConfirmation{
		surgeRatio: cfg.VolumeSurgeRatio,
		thinRatio:  cfg.VolumeThinRatio,
	}
}

func (v *VolumeConfirmation) Name() string {
	return "volume_confirmation"
}

func (v *VolumeConfirmation) Vote(snap *indicator.Snapshot, bars []exchange.PriceBar) Vote {
	ratio := snap.VolumeRatio

	if ratio >= v.surgeRatio {
		direction := DirectionHold
		if snap.Bar.Close > snap.Bar.Open {
			direction = DirectionBuy
		} else if snap.Bar.Close < snap.Bar.Open {
			direction = DirectionSell
		}
		confidence := clampConfidence(0.5 + (ratio-v.surgeRatio)/(2*v.surgeRatio))
		return Vote{
			Source:     v.Name(),
			Direction:  direction,
			Confidence: confidence,
			Booster:    true,
			Reason:     fmt.Sprintf("volume %.1fx average confirms the move", ratio),
		}
	}

	if ratio < v.thinRatio {
		confidence := clampConfidence((v.thinRatio - ratio) / v.thinRatio)
		return Vote{
			Source:     v.Name(),
			Direction:  DirectionHold,
			Confidence: confidence,
			Booster:    true,
			Reason:     fmt.Sprintf("volume %.1fx average, too thin to trust", ratio),
		}
	}

	return Vote{
		Source:    v.Name(),
		Direction: DirectionHold,
		Booster:   true,
		Reason:    fmt.Sprintf("volume %.1fx average, unremarkable", ratio),
	}
}
