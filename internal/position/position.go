package position

import (
	"time"

	"fusion-trading-bot/internal/risk"
)

// State is the lifecycle stage of a symbol's trading loop.
type State string

const (
	StateFlat     State = "FLAT"
	StateEntering State = "ENTERING"
	StateHolding  State = "HOLDING"
	StateExiting  State = "EXITING"
)

// Position is the open (or opening/closing) holding for one symbol.
// Quantity and EntryPrice always reflect confirmed fills, never the
// requested order.
type Position struct {
	Symbol       string          `json:"symbol"`
	EntryPrice   float64         `json:"entry_price"`
	Quantity     float64         `json:"quantity"`
	EntryTime    time.Time       `json:"entry_time"`
	HighestPrice float64         `json:"highest_price"`
	TrailingStop float64         `json:"trailing_stop"`
	StopLoss     float64         `json:"stop_loss"`
	TakeProfit   float64         `json:"take_profit"`
	EntryOrderID int64           `json:"entry_order_id"`
	ExitOrderID  int64           `json:"exit_order_id,omitempty"`
	ExitReason   risk.ExitReason `json:"exit_reason,omitempty"`
}

// ClosedTrade summarizes a completed round trip for the store and the
// risk ledger.
type ClosedTrade struct {
	Symbol      string          `json:"symbol"`
	EntryPrice  float64         `json:"entry_price"`
	ExitPrice   float64         `json:"exit_price"`
	Quantity    float64         `json:"quantity"`
	RealizedPnL float64         `json:"realized_pnl"`
	Reason      risk.ExitReason `json:"reason"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    time.Time       `json:"closed_at"`
}
