package voter

import (
	"fmt"

	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/indicator"
)

// BollingerContrarian fades band touches: BUY at or below the lower band,
// SELL at or above the upper. A touch starts at half confidence and
// penetration deepens it relative to the band width.
type BollingerContrarian struct{}

func NewBollingerContrarian() *BollingerContrarian {
	return &BollingerContrarian{}
}

func (v *BollingerContrarian) Name() string {
	return "bollinger_contrarian"
}

func (v *BollingerContrarian) Vote(snap *indicator.Snapshot, bars []exchange.PriceBar) Vote {
	width := snap.Bands.Upper - snap.Bands.Lower
	if width <= 0 {
		return hold(v.Name(), "bands collapsed")
	}

	if snap.Close <= snap.Bands.Lower {
		penetration := (snap.Bands.Lower - snap.Close) / width
		return Vote{
			Source:     v.Name(),
			Direction:  DirectionBuy,
			Confidence: clampConfidence(0.5 + penetration),
			Reason:     fmt.Sprintf("close %.4f at lower band %.4f", snap.Close, snap.Bands.Lower),
		}
	}

	if snap.Close >= snap.Bands.Upper {
		penetration := (snap.Close - snap.Bands.Upper) / width
		return Vote{
			Source:     v.Name(),
			Direction:  DirectionSell,
			Confidence: clampConfidence(0.5 + penetration),
			Reason:     fmt.Sprintf("close %.4f at upper band %.4f", snap.Close, snap.Bands.Upper),
		}
	}

	return hold(v.Name(), "inside bands")
}
