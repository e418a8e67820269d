package indicator

import (
	"errors"
	"math"
	"testing"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// barsFromCloses builds bars with the given closes and unit volume.
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

// TestSMAKnownValues verifies the simple average over the trailing period
func TestSMAKnownValues(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5)

	sma, err := SMA(bars, 5)
	if err != nil {
		t.Fatalf("SMA failed: %v", err)
	}
	if !floatEquals(sma, 3.0, 1e-9) {
		t.Errorf("Expected SMA 3.0, got %f", sma)
	}

	sma, _ = SMA(bars, 2)
	if !floatEquals(sma, 4.5, 1e-9) {
		t.Errorf("Expected SMA 4.5 over last 2, got %f", sma)
	}
}

// TestSMAInsufficientData verifies the typed error carries need and have
func TestSMAInsufficientData(t *testing.T) {
	bars := barsFromCloses(1, 2, 3)

	_, err := SMA(bars, 5)
	if err == nil {
		t.Fatal("Expected insufficient data error")
	}

	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected *InsufficientDataError, got %T", err)
	}
	if insufficient.Need != 5 || insufficient.Have != 3 {
		t.Errorf("Expected need=5 have=3, got need=%d have=%d", insufficient.Need, insufficient.Have)
	}
}

// TestEMAConvergesAboveSMAInUptrend verifies EMA weights recent bars harder
func TestEMAConvergesAboveSMAInUptrend(t *testing.T) {
	bars := barsFromCloses(10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)

	ema, err := EMA(bars, 5)
	if err != nil {
		t.Fatalf("EMA failed: %v", err)
	}
	sma, _ := SMA(bars, 11)

	if ema <= sma {
		t.Errorf("In a steady uptrend EMA(5)=%f should exceed the full-window SMA=%f", ema, sma)
	}
	if ema >= 20 {
		t.Errorf("EMA %f should trail the last close 20", ema)
	}
}

// TestRSIBehavior verifies directional extremes and the flat-window neutral
func TestRSIBehavior(t *testing.T) {
	allUp := barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15)
	rsi, err := RSI(allUp, 14)
	if err != nil {
		t.Fatalf("RSI failed: %v", err)
	}
	if !floatEquals(rsi, 100.0, 1e-9) {
		t.Errorf("All-gains window should read RSI 100, got %f", rsi)
	}

	allDown := barsFromCloses(15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	rsi, _ = RSI(allDown, 14)
	if !floatEquals(rsi, 0.0, 1e-9) {
		t.Errorf("All-losses window should read RSI 0, got %f", rsi)
	}

	flat := barsFromCloses(5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5)
	rsi, _ = RSI(flat, 14)
	if !floatEquals(rsi, 50.0, 1e-9) {
		t.Errorf("Flat window should read neutral RSI 50, got %f", rsi)
	}
}

// TestRSIWilderSmoothing verifies later bars are folded with Wilder weights
func TestRSIWilderSmoothing(t *testing.T) {
	// 14 gains of 1 then one loss of 1: avgGain=(14-1)*1/14? No:
	// seed avgGain=1, avgLoss=0; fold loss: avgGain=13/14, avgLoss=1/14
	// rs=13, rsi=100-100/14 ≈ 92.857142857
	closes := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 13}
	bars := barsFromCloses(closes...)

	rsi, err := RSI(bars, 14)
	if err != nil {
		t.Fatalf("RSI failed: %v", err)
	}
	expected := 100.0 - 100.0/14.0
	if !floatEquals(rsi, expected, 1e-9) {
		t.Errorf("Expected Wilder RSI %f, got %f", expected, rsi)
	}
}

// TestBollingerBands verifies band placement around the SMA
func TestBollingerBands(t *testing.T) {
	bars := barsFromCloses(2, 4, 4, 4, 5, 5, 7, 9)

	bands, err := Bollinger(bars, 8, 2.0)
	if err != nil {
		t.Fatalf("Bollinger failed: %v", err)
	}
	// Mean 5, population stddev 2.
	if !floatEquals(bands.Middle, 5.0, 1e-9) {
		t.Errorf("Expected middle 5, got %f", bands.Middle)
	}
	if !floatEquals(bands.Upper, 9.0, 1e-9) {
		t.Errorf("Expected upper 9, got %f", bands.Upper)
	}
	if !floatEquals(bands.Lower, 1.0, 1e-9) {
		t.Errorf("Expected lower 1, got %f", bands.Lower)
	}
}

// TestVWAPWeightsVolume verifies heavy bars pull VWAP toward their price
func TestVWAPWeightsVolume(t *testing.T) {
	bars := barsFromCloses(10, 20)
	bars[0].Volume = 100
	bars[1].Volume = 300

	vwap, err := VWAP(bars, 2)
	if err != nil {
		t.Fatalf("VWAP failed: %v", err)
	}
	// (10*100 + 20*300) / 400 = 17.5
	if !floatEquals(vwap, 17.5, 1e-9) {
		t.Errorf("Expected VWAP 17.5, got %f", vwap)
	}
}

// TestVolumeRatio verifies the newest bar is compared against prior average
func TestVolumeRatio(t *testing.T) {
	bars := barsFromCloses(1, 1, 1, 1, 1)
	bars[0].Volume = 100
	bars[1].Volume = 100
	bars[2].Volume = 100
	bars[3].Volume = 100
	bars[4].Volume = 250

	ratio, err := VolumeRatio(bars, 4)
	if err != nil {
		t.Fatalf("VolumeRatio failed: %v", err)
	}
	if !floatEquals(ratio, 2.5, 1e-9) {
		t.Errorf("Expected ratio 2.5, got %f", ratio)
	}
}

// TestVolatilityFlatSeriesIsZero verifies constant closes read zero volatility
func TestVolatilityFlatSeriesIsZero(t *testing.T) {
	bars := barsFromCloses(7, 7, 7, 7, 7, 7)

	vol, err := Volatility(bars, 5)
	if err != nil {
		t.Fatalf("Volatility failed: %v", err)
	}
	if !floatEquals(vol, 0.0, 1e-12) {
		t.Errorf("Expected zero volatility, got %f", vol)
	}

	noisy := barsFromCloses(7, 9, 6, 10, 5, 11)
	noisyVol, _ := Volatility(noisy, 5)
	if noisyVol <= 0 {
		t.Errorf("Noisy series should have positive volatility, got %f", noisyVol)
	}
}

// TestComputeIsDeterministic verifies identical windows yield identical snapshots
func TestComputeIsDeterministic(t *testing.T) {
	cfg := config.Default().IndicatorConfig
	cfg.FastMAPeriod = 3
	cfg.SlowMAPeriod = 5
	cfg.LongMAPeriod = 10
	cfg.RSIPeriod = 5
	cfg.BollingerPeriod = 5
	cfg.VWAPWindow = 5
	cfg.VolumeAvgWindow = 5
	cfg.VolatilityWindow = 5

	closes := []float64{100, 101, 99, 102, 103, 101, 104, 105, 103, 106, 107, 105}
	first, err := Compute("BTCUSDT", barsFromCloses(closes...), cfg)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	second, err := Compute("BTCUSDT", barsFromCloses(closes...), cfg)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if *first != *second {
		t.Errorf("Same window must produce identical snapshots:\n%+v\n%+v", first, second)
	}
	if first.BarCount != len(closes) {
		t.Errorf("Expected bar count %d, got %d", len(closes), first.BarCount)
	}
	if !floatEquals(first.Close, 105, 1e-9) {
		t.Errorf("Expected close 105, got %f", first.Close)
	}
}

// TestComputeUnderLookbackFails verifies the snapshot refuses short windows
func TestComputeUnderLookbackFails(t *testing.T) {
	cfg := config.Default().IndicatorConfig

	bars := barsFromCloses(100, 101, 102)
	_, err := Compute("BTCUSDT", bars, cfg)
	if err == nil {
		t.Fatal("Expected insufficient data error for short window")
	}

	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected *InsufficientDataError, got %T: %v", err, err)
	}
	if insufficient.Have != 3 {
		t.Errorf("Expected have=3, got %d", insufficient.Have)
	}
}

// TestWindowEvictsOldest verifies the ring drops the oldest bar at capacity
func TestWindowEvictsOldest(t *testing.T) {
	window := NewWindow(3)
	for i := 0; i < 5; i++ {
		window.Push(exchange.PriceBar{OpenTime: int64(i), Close: float64(i)})
	}

	if window.Len() != 3 {
		t.Fatalf("Expected length 3, got %d", window.Len())
	}
	bars := window.Bars()
	if bars[0].OpenTime != 2 || bars[2].OpenTime != 4 {
		t.Errorf("Expected open times [2 3 4], got [%d %d %d]", bars[0].OpenTime, bars[1].OpenTime, bars[2].OpenTime)
	}
}

// TestWindowReplacesSameOpenTime verifies stream re-delivery updates in place
func TestWindowReplacesSameOpenTime(t *testing.T) {
	window := NewWindow(5)
	window.Push(exchange.PriceBar{OpenTime: 100, Close: 1.0})
	window.Push(exchange.PriceBar{OpenTime: 100, Close: 2.0})

	if window.Len() != 1 {
		t.Fatalf("Expected 1 bar after replacement, got %d", window.Len())
	}
	last, ok := window.Last()
	if !ok || !floatEquals(last.Close, 2.0, 1e-9) {
		t.Errorf("Expected replaced close 2.0, got %f", last.Close)
	}

	// A stale bar must not rewind the window.
	window.Push(exchange.PriceBar{OpenTime: 50, Close: 9.0})
	if window.Len() != 1 {
		t.Errorf("Stale bar should be dropped, length now %d", window.Len())
	}
}

// TestWindowFillKeepsNewest verifies Fill trims history to capacity
func TestWindowFillKeepsNewest(t *testing.T) {
	window := NewWindow(3)
	history := barsFromCloses(1, 2, 3, 4, 5)
	window.Fill(history)

	bars := window.Bars()
	if len(bars) != 3 {
		t.Fatalf("Expected 3 bars, got %d", len(bars))
	}
	if !floatEquals(bars[0].Close, 3, 1e-9) || !floatEquals(bars[2].Close, 5, 1e-9) {
		t.Errorf("Expected newest three closes [3 4 5], got [%f %f %f]", bars[0].Close, bars[1].Close, bars[2].Close)
	}
}
