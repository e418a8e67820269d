package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fusion-trading-bot/internal/events"
	"fusion-trading-bot/internal/regime"
)

// scrape renders the registry in text exposition format.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("metrics handler status = %d", rec.Code)
	}
	return rec.Body.String()
}

// TestMetricsExposeAllFamilies verifies every collector shows up on the
// dedicated registry.
func TestMetricsExposeAllFamilies(t *testing.T) {
	m := New()
	m.RecordDecision("BTCUSDT", "BUY")
	m.RecordTrade("BTCUSDT", 1.5)
	m.RecordError("exchange")
	m.SetEquity(1000)
	m.SetOpenPosition("BTCUSDT", true)
	m.SetConfidence("BTCUSDT", 0.7)
	m.SetTrailingStop("BTCUSDT", 103.95)
	m.SetLossStreak("BTCUSDT", 2)
	m.SetRegime("BTCUSDT", regime.Normal)
	m.ObserveTick("BTCUSDT", 120*time.Millisecond)

	body := scrape(t, m)
	families := []string{
		"bot_decisions_total",
		"bot_trades_total",
		"bot_errors_total",
		"bot_equity_quote",
		"bot_open_position",
		"bot_signal_confidence",
		"bot_trailing_stop",
		"bot_consecutive_losses",
		"bot_regime",
		"bot_tick_duration_seconds",
	}
	for _, name := range families {
		if !strings.Contains(body, name) {
			t.Errorf("metric %s not exposed", name)
		}
	}
}

// TestRecordTradeSplitsWinLoss verifies the result label follows pnl sign.
func TestRecordTradeSplitsWinLoss(t *testing.T) {
	m := New()
	m.RecordTrade("BTCUSDT", 2.0)
	m.RecordTrade("BTCUSDT", -1.0)
	m.RecordTrade("BTCUSDT", -0.5)

	body := scrape(t, m)
	if !strings.Contains(body, `bot_trades_total{result="win",symbol="BTCUSDT"} 1`) {
		t.Error("win counter not at 1")
	}
	if !strings.Contains(body, `bot_trades_total{result="loss",symbol="BTCUSDT"} 2`) {
		t.Error("loss counter not at 2")
	}
}

// TestSetRegimeFlipsSeries verifies exactly one regime series reads 1.
func TestSetRegimeFlipsSeries(t *testing.T) {
	m := New()
	m.SetRegime("BTCUSDT", regime.Choppy)

	body := scrape(t, m)
	if !strings.Contains(body, `bot_regime{regime="CHOPPY",symbol="BTCUSDT"} 1`) {
		t.Error("active regime series not at 1")
	}
	if !strings.Contains(body, `bot_regime{regime="NORMAL",symbol="BTCUSDT"} 0`) {
		t.Error("inactive regime series not at 0")
	}

	m.SetRegime("BTCUSDT", regime.Normal)
	body = scrape(t, m)
	if !strings.Contains(body, `bot_regime{regime="NORMAL",symbol="BTCUSDT"} 1`) {
		t.Error("regime flip did not move the active series")
	}
	if !strings.Contains(body, `bot_regime{regime="CHOPPY",symbol="BTCUSDT"} 0`) {
		t.Error("regime flip did not clear the previous series")
	}
}

// TestTwoRegistriesDoNotCollide verifies New() registries are independent.
func TestTwoRegistriesDoNotCollide(t *testing.T) {
	first := New()
	second := New()
	first.RecordDecision("BTCUSDT", "BUY")

	if strings.Contains(scrape(t, second), `bot_decisions_total{direction="BUY",symbol="BTCUSDT"}`) {
		t.Error("second registry saw the first registry's series")
	}
}

// TestAttachBusCountsEvents verifies bus events reach the counters.
func TestAttachBusCountsEvents(t *testing.T) {
	m := New()
	bus := events.NewEventBus()
	m.AttachBus(bus)

	bus.PublishSignal("BTCUSDT", "BUY", 0.72, 3, "NORMAL")
	bus.PublishTradeClosed("BTCUSDT", 100, 103, 0.5, 1.5, "TRAILING_STOP")
	bus.PublishError("exchange", "feed down", nil)

	// Bus delivery is asynchronous; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		body := scrape(t, m)
		if strings.Contains(body, `bot_decisions_total{direction="BUY",symbol="BTCUSDT"} 1`) &&
			strings.Contains(body, `bot_trades_total{result="win",symbol="BTCUSDT"} 1`) &&
			strings.Contains(body, `bot_errors_total{component="exchange"} 1`) &&
			strings.Contains(body, `bot_signal_confidence{symbol="BTCUSDT"} 0.72`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("bus events not recorded, body:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
