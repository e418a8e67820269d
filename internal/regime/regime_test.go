package regime

import (
	"testing"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
)

func barsFromCloses(closes ...float64) []exchange.PriceBar {
	bars := make([]exchange.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = exchange.PriceBar{
			OpenTime:  int64(i) * 60000,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
			CloseTime: int64(i)*60000 + 59999,
		}
	}
	return bars
}

func testIndicatorConfig() config.IndicatorConfig {
	return config.IndicatorConfig{
		FastMAPeriod:     3,
		SlowMAPeriod:     5,
		LongMAPeriod:     8,
		RSIPeriod:        5,
		BollingerPeriod:  5,
		BollingerStdDev:  2.0,
		VWAPWindow:       5,
		VolumeAvgWindow:  5,
		VolatilityWindow: 5,
	}
}

func testRegimeConfig(baseline int) config.RegimeConfig {
	return config.RegimeConfig{
		TrendSlopeThreshold: 0.002,
		ChoppyVolRatio:      1.5,
		HighVolRatio:        2.5,
		BaselineWindow:      baseline,
		SlopeWindow:         10,
	}
}

// geometricCloses builds a price path multiplying by factor each bar.
func geometricCloses(start, factor float64, n int) []float64 {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		closes[i] = price
		price *= factor
	}
	return closes
}

// swingTail appends alternating +10%/-10% bars to a flat prefix.
func swingTail(flatLen int) []float64 {
	closes := make([]float64, 0, flatLen+5)
	for i := 0; i < flatLen; i++ {
		closes = append(closes, 100)
	}
	price := 100.0
	for i := 0; i < 5; i++ {
		if i%2 == 0 {
			price *= 1.1
		} else {
			price *= 0.9
		}
		closes = append(closes, price)
	}
	return closes
}

// TestDetectTrendingBull verifies a steady climb with quiet volatility
func TestDetectTrendingBull(t *testing.T) {
	d := NewDetector(testRegimeConfig(10), testIndicatorConfig())
	bars := barsFromCloses(geometricCloses(100, 1.003, 20)...)

	if got := d.Detect(bars); got != TrendingBull {
		t.Errorf("Expected TRENDING_BULL, got %s", got)
	}
}

// TestDetectTrendingBear verifies the mirrored decline
func TestDetectTrendingBear(t *testing.T) {
	d := NewDetector(testRegimeConfig(10), testIndicatorConfig())
	bars := barsFromCloses(geometricCloses(100, 0.997, 20)...)

	if got := d.Detect(bars); got != TrendingBear {
		t.Errorf("Expected TRENDING_BEAR, got %s", got)
	}
}

// TestDetectChoppy verifies recent swings against a quiet baseline
func TestDetectChoppy(t *testing.T) {
	// 21 bars: 16 flat then five ±10% swings. Volatility over the last 5
	// returns is about twice the 20-return baseline: past choppy, short of
	// high-vol.
	d := NewDetector(testRegimeConfig(20), testIndicatorConfig())
	bars := barsFromCloses(swingTail(16)...)

	if got := d.Detect(bars); got != Choppy {
		t.Errorf("Expected CHOPPY, got %s", got)
	}
}

// TestDetectHighVol verifies swings against a long quiet baseline dominate
func TestDetectHighVol(t *testing.T) {
	// 46 bars: 41 flat then the same five swings. Diluting the baseline
	// over 45 returns pushes the ratio near 3.
	d := NewDetector(testRegimeConfig(45), testIndicatorConfig())
	bars := barsFromCloses(swingTail(41)...)

	if got := d.Detect(bars); got != HighVol {
		t.Errorf("Expected HIGH_VOL, got %s", got)
	}
}

// TestDetectNormal verifies uniform small noise with no slope
func TestDetectNormal(t *testing.T) {
	d := NewDetector(testRegimeConfig(10), testIndicatorConfig())

	closes := make([]float64, 21)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100.0
		} else {
			closes[i] = 100.1
		}
	}
	bars := barsFromCloses(closes...)

	if got := d.Detect(bars); got != Normal {
		t.Errorf("Expected NORMAL, got %s", got)
	}
}

// TestDetectShortHistoryDegradesToNormal verifies no error on thin windows
func TestDetectShortHistoryDegradesToNormal(t *testing.T) {
	d := NewDetector(testRegimeConfig(10), testIndicatorConfig())
	bars := barsFromCloses(100, 101, 102)

	if got := d.Detect(bars); got != Normal {
		t.Errorf("Expected NORMAL on short history, got %s", got)
	}
}

// TestRegimeStrings verifies the log labels
func TestRegimeStrings(t *testing.T) {
	testCases := []struct {
		regime Regime
		label  string
	}{
		{Normal, "NORMAL"},
		{TrendingBull, "TRENDING_BULL"},
		{TrendingBear, "TRENDING_BEAR"},
		{Choppy, "CHOPPY"},
		{HighVol, "HIGH_VOL"},
	}
	for _, tc := range testCases {
		if tc.regime.String() != tc.label {
			t.Errorf("Expected %s, got %s", tc.label, tc.regime.String())
		}
	}
	if !TrendingBull.Trending() || !TrendingBear.Trending() {
		t.Error("Trend regimes must report Trending")
	}
	if Normal.Trending() || Choppy.Trending() || HighVol.Trending() {
		t.Error("Non-trend regimes must not report Trending")
	}
}
