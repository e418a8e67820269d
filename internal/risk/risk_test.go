package risk

import (
	"math"
	"testing"
	"time"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/regime"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// TestSizerBaseFormula verifies equity 1000, base 15%, confidence 0.9,
// clean slate, normal volatility sizes to exactly 135
func TestSizerBaseFormula(t *testing.T) {
	cfg := config.Default().SizingConfig // base 0.15, min 0.01, max 0.25
	s := NewSizer(cfg)

	result := s.Size(1000, 100, 0.9, 0, 1.0)
	if !floatEquals(result.Notional, 135.0, 1e-9) {
		t.Errorf("Expected notional 135, got %f", result.Notional)
	}
	if !floatEquals(result.Quantity, 1.35, 1e-9) {
		t.Errorf("Expected quantity 1.35 at price 100, got %f", result.Quantity)
	}
	if !floatEquals(result.LossFactor, 1.0, 1e-9) {
		t.Errorf("Expected loss factor 1.0, got %f", result.LossFactor)
	}
}

// TestSizerLossAdjustment verifies two losses at reduction 0.2 give 0.6
func TestSizerLossAdjustment(t *testing.T) {
	cfg := config.Default().SizingConfig // reduction 0.2, floor 0.2
	s := NewSizer(cfg)

	result := s.Size(1000, 100, 1.0, 2, 1.0)
	if !floatEquals(result.LossFactor, 0.6, 1e-9) {
		t.Errorf("Expected loss factor 0.6, got %f", result.LossFactor)
	}
	if !floatEquals(result.Notional, 1000*0.15*0.6, 1e-9) {
		t.Errorf("Expected notional 90, got %f", result.Notional)
	}

	// Deep streaks bottom out at the floor, never negative.
	result = s.Size(1000, 100, 1.0, 10, 1.0)
	if !floatEquals(result.LossFactor, cfg.MinLossFactor, 1e-9) {
		t.Errorf("Expected loss factor floored at %f, got %f", cfg.MinLossFactor, result.LossFactor)
	}
}

// TestSizerMonotonicity verifies more confidence never shrinks and more
// losses never grow the size
func TestSizerMonotonicity(t *testing.T) {
	s := NewSizer(config.Default().SizingConfig)

	prev := 0.0
	for _, conf := range []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1.0} {
		n := s.Size(1000, 100, conf, 0, 1.0).Notional
		if n < prev {
			t.Errorf("Notional fell from %f to %f as confidence rose to %f", prev, n, conf)
		}
		prev = n
	}

	prev = math.MaxFloat64
	for losses := 0; losses <= 6; losses++ {
		n := s.Size(1000, 100, 1.0, losses, 1.0).Notional
		if n > prev {
			t.Errorf("Notional grew from %f to %f at %d losses", prev, n, losses)
		}
		prev = n
	}
}

// TestSizerClamps verifies the min and max position fractions bound the size
func TestSizerClamps(t *testing.T) {
	cfg := config.Default().SizingConfig
	s := NewSizer(cfg)

	// Tiny confidence still sizes at the floor.
	small := s.Size(1000, 100, 0.01, 0, 1.0)
	if !floatEquals(small.Notional, cfg.MinPositionPct*1000, 1e-9) {
		t.Errorf("Expected floor %f, got %f", cfg.MinPositionPct*1000, small.Notional)
	}

	// An oversized base is capped.
	bigCfg := cfg
	bigCfg.BasePositionPct = 0.9
	big := NewSizer(bigCfg).Size(1000, 100, 1.0, 0, 1.0)
	if !floatEquals(big.Notional, cfg.MaxPositionPct*1000, 1e-9) {
		t.Errorf("Expected cap %f, got %f", cfg.MaxPositionPct*1000, big.Notional)
	}
}

// TestSizerFailsClosed verifies bad equity or price size to zero
func TestSizerFailsClosed(t *testing.T) {
	s := NewSizer(config.Default().SizingConfig)

	for _, tc := range []struct{ equity, price float64 }{{0, 100}, {-50, 100}, {1000, 0}, {1000, -1}} {
		result := s.Size(tc.equity, tc.price, 0.9, 0, 1.0)
		if result.Notional != 0 || result.Quantity != 0 {
			t.Errorf("equity=%f price=%f should size to zero, got %+v", tc.equity, tc.price, result)
		}
	}
}

// TestVolatilityFactorByRegime verifies the sizing damp per regime
func TestVolatilityFactorByRegime(t *testing.T) {
	cfg := config.Default().SizingConfig // choppy 0.85, highvol 0.5

	testCases := []struct {
		regime regime.Regime
		factor float64
	}{
		{regime.Normal, 1.0},
		{regime.TrendingBull, 1.0},
		{regime.TrendingBear, 1.0},
		{regime.Choppy, cfg.ChoppyFactor},
		{regime.HighVol, cfg.HighVolFactor},
	}
	for _, tc := range testCases {
		if got := VolatilityFactor(tc.regime, cfg); !floatEquals(got, tc.factor, 1e-9) {
			t.Errorf("%s: expected %f, got %f", tc.regime, tc.factor, got)
		}
	}
}

// TestTrailFollowsTheCanonicalPath verifies entry 100 at 1% distance over
// the path 100, 105, 103: stops 99, 103.95, 103.95
func TestTrailFollowsTheCanonicalPath(t *testing.T) {
	cfg := config.Default().RiskConfig
	cfg.StopLossPct = 0.01
	cfg.TrailingDistancePct = 0.01

	stop := InitialStop(100, cfg)
	if !floatEquals(stop, 99.0, 1e-9) {
		t.Fatalf("Expected initial stop 99, got %f", stop)
	}

	highest := 100.0

	r := Trail(highest, stop, 105, cfg)
	if !floatEquals(r.TrailingStop, 103.95, 1e-9) {
		t.Errorf("At 105 expected stop 103.95, got %f", r.TrailingStop)
	}
	if !floatEquals(r.HighestPrice, 105, 1e-9) || !r.Moved {
		t.Errorf("Expected high water 105 and a move, got %+v", r)
	}

	r = Trail(r.HighestPrice, r.TrailingStop, 103, cfg)
	if !floatEquals(r.TrailingStop, 103.95, 1e-9) {
		t.Errorf("Pullback to 103 must not move the stop, got %f", r.TrailingStop)
	}
	if r.Moved {
		t.Error("Pullback reported a stop move")
	}

	if reason := CheckExit(103.90, r.TrailingStop, 99, 0); reason != ExitTrailingStop {
		t.Errorf("103.90 through the 103.95 stop should exit, got %q", reason)
	}
	if reason := CheckExit(104.0, r.TrailingStop, 99, 0); reason != ExitNone {
		t.Errorf("104.00 above the stop should hold, got %q", reason)
	}
}

// TestTrailIsMonotonic verifies the stop never falls over a noisy path
func TestTrailIsMonotonic(t *testing.T) {
	cfg := config.Default().RiskConfig
	cfg.TrailingDistancePct = 0.02

	highest, stop := 100.0, 95.0
	lastStop := stop
	for _, price := range []float64{101, 99, 104, 96, 107, 103, 102, 110, 90} {
		r := Trail(highest, stop, price, cfg)
		if r.TrailingStop < lastStop {
			t.Fatalf("Stop fell from %f to %f at price %f", lastStop, r.TrailingStop, price)
		}
		highest, stop, lastStop = r.HighestPrice, r.TrailingStop, r.TrailingStop
	}
}

// TestCheckExitPrecedence verifies hard stop and take profit outrank trailing
func TestCheckExitPrecedence(t *testing.T) {
	// stop loss 98, trailing 99, take profit 110
	if reason := CheckExit(97.5, 99, 98, 110); reason != ExitStopLoss {
		t.Errorf("Through both stops the hard stop should report, got %q", reason)
	}
	if reason := CheckExit(98.5, 99, 98, 110); reason != ExitTrailingStop {
		t.Errorf("Between the stops only trailing fires, got %q", reason)
	}
	if reason := CheckExit(111, 99, 98, 110); reason != ExitTakeProfit {
		t.Errorf("Above the target take profit fires, got %q", reason)
	}
	if reason := CheckExit(105, 99, 98, 0); reason != ExitNone {
		t.Errorf("Disabled take profit must not fire, got %q", reason)
	}

	if !ExitStopLoss.Hard() || !ExitTakeProfit.Hard() {
		t.Error("Stop loss and take profit are hard exits")
	}
	if ExitTrailingStop.Hard() || ExitNone.Hard() {
		t.Error("Trailing and none are not hard exits")
	}
}

// TestStateLossStreakAndCooldown verifies the streak arms the pause at the cap
func TestStateLossStreakAndCooldown(t *testing.T) {
	cfg := config.Default().RiskConfig // cap 3, cooldown 900s
	s := NewState()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s.RecordTrade(-10, now, cfg)
	s.RecordTrade(-10, now, cfg)
	if s.InCooldown(now) {
		t.Fatal("Two losses under the cap must not arm the cooldown")
	}
	if s.ConsecutiveLosses != 2 {
		t.Fatalf("Expected streak 2, got %d", s.ConsecutiveLosses)
	}

	s.RecordTrade(-10, now, cfg)
	if !s.InCooldown(now) {
		t.Fatal("Third loss should arm the cooldown")
	}
	if ok, reason := s.Admits(now, 1000, cfg); ok || reason == "" {
		t.Error("Cooldown must block entries with a reason")
	}

	after := now.Add(time.Duration(cfg.CooldownSecs)*time.Second + time.Second)
	if s.InCooldown(after) {
		t.Error("Cooldown should expire")
	}
	if ok, _ := s.Admits(after, 1000, cfg); !ok {
		t.Error("Expired cooldown should admit again")
	}

	s.RecordTrade(25, after, cfg)
	if s.ConsecutiveLosses != 0 {
		t.Errorf("A win should clear the streak, got %d", s.ConsecutiveLosses)
	}
}

// TestStateDailyLossLimit verifies the daily gate and its wall-clock reset
func TestStateDailyLossLimit(t *testing.T) {
	cfg := config.Default().RiskConfig // daily limit 5%
	cfg.MaxConsecutiveLosses = 99     // keep the cooldown out of this test
	s := NewState()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s.RecordTrade(-30, now, cfg)
	if ok, _ := s.Admits(now, 1000, cfg); !ok {
		t.Fatal("30 down against a 50 limit should still admit")
	}

	s.RecordTrade(-25, now, cfg)
	if ok, reason := s.Admits(now, 1000, cfg); ok || reason == "" {
		t.Fatal("55 down against a 50 limit must block with a reason")
	}

	nextDay := now.Add(24 * time.Hour)
	if ok, _ := s.Admits(nextDay, 1000, cfg); !ok {
		t.Error("The daily ledger should reset on the next wall-clock day")
	}
	if s.DailyRealizedPnL != 0 {
		t.Errorf("Expected daily PnL reset, got %f", s.DailyRealizedPnL)
	}
	if s.ConsecutiveLosses != 2 {
		t.Errorf("The loss streak must survive the day roll, got %d", s.ConsecutiveLosses)
	}
}
