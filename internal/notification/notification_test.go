package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/events"
)

type recordingNotifier struct {
	name    string
	enabled bool
	got     chan *Notification
}

func newRecordingNotifier(name string, enabled bool) *recordingNotifier {
	return &recordingNotifier{name: name, enabled: enabled, got: make(chan *Notification, 8)}
}

func (r *recordingNotifier) Send(n *Notification) error { r.got <- n; return nil }
func (r *recordingNotifier) Name() string               { return r.name }
func (r *recordingNotifier) IsEnabled() bool            { return r.enabled }

func mustReceive(t *testing.T, ch chan *Notification) *Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
		return nil
	}
}

// TestManagerFansOutToEnabledNotifiers verifies enabled providers receive and
// disabled ones are skipped.
func TestManagerFansOutToEnabledNotifiers(t *testing.T) {
	m := NewManager(true)
	active := newRecordingNotifier("active", true)
	inactive := newRecordingNotifier("inactive", false)
	m.AddNotifier(active)
	m.AddNotifier(inactive)

	if err := m.SendInfo("startup", "bot running"); err != nil {
		t.Fatalf("SendInfo() error = %v", err)
	}

	n := mustReceive(t, active.got)
	if n.Type != NotifyInfo || n.Title != "startup" {
		t.Errorf("notification = %+v, want info/startup", n)
	}
	select {
	case <-inactive.got:
		t.Error("disabled notifier received a notification")
	default:
	}
}

// TestManagerDisabled verifies a disabled manager drops everything.
func TestManagerDisabled(t *testing.T) {
	m := NewManager(false)
	rec := newRecordingNotifier("rec", true)
	m.AddNotifier(rec)

	if err := m.SendError("boom", "details"); err != nil {
		t.Fatalf("SendError() error = %v", err)
	}
	select {
	case <-rec.got:
		t.Error("disabled manager delivered a notification")
	default:
	}
}

// TestTradeCloseComputesPnLPercent verifies the close helper derives the
// percentage and marks wins and losses apart.
func TestTradeCloseComputesPnLPercent(t *testing.T) {
	m := NewManager(true)
	rec := newRecordingNotifier("rec", true)
	m.AddNotifier(rec)

	m.SendTradeClose("BTCUSDT", 100.0, 103.0, 1.5, "TRAILING_STOP")
	win := mustReceive(t, rec.got)
	if !floatEquals(win.PnLPercent, 3.0, 1e-9) {
		t.Errorf("pnl percent = %f, want 3.0", win.PnLPercent)
	}
	if !strings.Contains(win.Title, "✅") {
		t.Errorf("win title = %q, want success marker", win.Title)
	}

	m.SendTradeClose("BTCUSDT", 100.0, 98.0, -1.0, "STOP_LOSS")
	loss := mustReceive(t, rec.got)
	if !strings.Contains(loss.Title, "❌") {
		t.Errorf("loss title = %q, want failure marker", loss.Title)
	}
}

// TestWebhookNotifierPostsJSON verifies the webhook payload shape.
func TestWebhookNotifierPostsJSON(t *testing.T) {
	got := make(chan map[string]interface{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		got <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: server.URL, TimeoutSecs: 2})
	err := w.Send(&Notification{
		Type:      NotifyRisk,
		Title:     "🛑 Risk: BTCUSDT",
		Message:   "cooldown armed",
		Symbol:    "BTCUSDT",
		Timestamp: time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC),
		Extra:     map[string]interface{}{"kind": "cooldown"},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case payload := <-got:
		if payload["type"] != "risk" || payload["symbol"] != "BTCUSDT" {
			t.Errorf("payload = %v, want risk for BTCUSDT", payload)
		}
		if payload["kind"] != "cooldown" {
			t.Errorf("extra field kind = %v, want cooldown", payload["kind"])
		}
	case <-time.After(time.Second):
		t.Fatal("webhook not called")
	}
}

// TestWebhookNotifierRequiresURL verifies an empty URL disables the notifier.
func TestWebhookNotifierRequiresURL(t *testing.T) {
	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: ""})
	if w.IsEnabled() {
		t.Error("notifier enabled without a URL")
	}
	if err := w.Send(&Notification{Type: NotifyInfo}); err != nil {
		t.Errorf("Send() on disabled notifier error = %v", err)
	}
}

// TestWebhookNotifierSurfacesServerError verifies non-2xx responses error.
func TestWebhookNotifierSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadGateway)
	}))
	defer server.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: server.URL, TimeoutSecs: 2})
	if err := w.Send(&Notification{Type: NotifyInfo, Title: "t"}); err == nil {
		t.Error("expected error for 502 response")
	}
}

// TestAttachBusTranslatesEvents verifies bus events arrive as notifications.
func TestAttachBusTranslatesEvents(t *testing.T) {
	bus := events.NewEventBus()
	m := NewManager(true)
	rec := newRecordingNotifier("rec", true)
	m.AddNotifier(rec)
	m.AttachBus(bus)

	bus.PublishTradeOpened("ETHUSDT", 3000.0, 0.1, 2970.0)
	n := mustReceive(t, rec.got)
	if n.Type != NotifyTradeOpen || n.Symbol != "ETHUSDT" {
		t.Errorf("notification = %+v, want trade_open for ETHUSDT", n)
	}
	if !floatEquals(n.Price, 3000.0, 1e-9) {
		t.Errorf("price = %f, want 3000", n.Price)
	}

	bus.PublishRisk("ETHUSDT", "daily_loss_limit", "daily loss 55.00 exceeds limit")
	risk := mustReceive(t, rec.got)
	if risk.Type != NotifyRisk {
		t.Errorf("type = %s, want %s", risk.Type, NotifyRisk)
	}
}

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < tolerance
}
