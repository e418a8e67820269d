package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/events"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyRisk       NotificationType = "risk"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{enabled: enabled}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// AttachBus subscribes the manager to the event bus. Trade opens and closes,
// risk trips and errors become notifications; signals stay on the bus only.
func (m *Manager) AttachBus(bus *events.EventBus) {
	bus.Subscribe(events.EventTradeOpened, m.onTradeOpened)
	bus.Subscribe(events.EventTradeClosed, m.onTradeClosed)
	bus.Subscribe(events.EventRisk, m.onRisk)
	bus.Subscribe(events.EventError, m.onError)
}

func (m *Manager) onTradeOpened(e events.Event) {
	m.SendTradeOpen(asString(e.Data["symbol"]), asNumber(e.Data["entry_price"]), asNumber(e.Data["quantity"]), asNumber(e.Data["stop_loss"]))
}

func (m *Manager) onTradeClosed(e events.Event) {
	m.SendTradeClose(
		asString(e.Data["symbol"]),
		asNumber(e.Data["entry_price"]), asNumber(e.Data["exit_price"]),
		asNumber(e.Data["pnl"]), asString(e.Data["reason"]),
	)
}

func (m *Manager) onRisk(e events.Event) {
	m.SendRisk(asString(e.Data["symbol"]), asString(e.Data["kind"]), asString(e.Data["detail"]))
}

func (m *Manager) onError(e events.Event) {
	m.SendError(asString(e.Data["source"]), asString(e.Data["message"]))
}

// SendTradeOpen sends a trade opened notification
func (m *Manager) SendTradeOpen(symbol string, price, quantity, stopLoss float64) error {
	return m.Send(&Notification{
		Type:      NotifyTradeOpen,
		Title:     fmt.Sprintf("📈 Trade Opened: %s", symbol),
		Message:   fmt.Sprintf("BUY %s\nPrice: %.4f\nQuantity: %.8f\nStop: %.4f", symbol, price, quantity, stopLoss),
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
	})
}

// SendTradeClose sends a trade closed notification
func (m *Manager) SendTradeClose(symbol string, entryPrice, exitPrice, pnl float64, reason string) error {
	emoji := "✅"
	if pnl < 0 {
		emoji = "❌"
	}
	pnlPercent := 0.0
	if entryPrice > 0 {
		pnlPercent = (exitPrice - entryPrice) / entryPrice * 100
	}

	return m.Send(&Notification{
		Type:       NotifyTradeClose,
		Title:      fmt.Sprintf("%s Trade Closed: %s", emoji, symbol),
		Message:    fmt.Sprintf("Entry: %.4f → Exit: %.4f\nP&L: %.4f (%.2f%%)\nReason: %s", entryPrice, exitPrice, pnl, pnlPercent, reason),
		Symbol:     symbol,
		Price:      exitPrice,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Timestamp:  time.Now(),
	})
}

// SendRisk sends a risk trip notification
func (m *Manager) SendRisk(symbol, kind, detail string) error {
	return m.Send(&Notification{
		Type:      NotifyRisk,
		Title:     fmt.Sprintf("🛑 Risk: %s", symbol),
		Message:   fmt.Sprintf("%s\n%s", kind, detail),
		Symbol:    symbol,
		Timestamp: time.Now(),
		Extra:     map[string]interface{}{"kind": kind},
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// SendInfo sends an informational notification
func (m *Manager) SendInfo(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyInfo,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier writes notifications to the structured log. Always enabled.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notification").Logger()}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) IsEnabled() bool { return true }

func (l *LogNotifier) Send(notification *Notification) error {
	event := l.logger.Info()
	if notification.Type == NotifyError || notification.Type == NotifyRisk {
		event = l.logger.Warn()
	}
	event.
		Str("type", string(notification.Type)).
		Str("title", notification.Title).
		Str("symbol", notification.Symbol).
		Msg(notification.Message)
	return nil
}

// =============================================================================
// WEBHOOK NOTIFIER
// =============================================================================

// WebhookNotifier POSTs notifications as JSON to a configured endpoint.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a webhook notifier from config
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) IsEnabled() bool { return w.enabled }

func (w *WebhookNotifier) Send(notification *Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      string(notification.Type),
		"title":     notification.Title,
		"message":   notification.Message,
		"symbol":    notification.Symbol,
		"price":     notification.Price,
		"pnl":       notification.PnL,
		"timestamp": notification.Timestamp.Format(time.RFC3339),
	}
	for k, v := range notification.Extra {
		payload[k] = v
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asNumber(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
