package store

import (
	"context"
	"errors"
	"time"

	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/risk"
)

// ErrLockHeld is returned by AcquireLock when another process already owns
// the per-symbol state lock.
var ErrLockHeld = errors.New("store: state lock already held")

// BotState is the persisted document for one symbol: the state machine
// phase, the open position (nil when flat) and the risk counters. It is
// written on every transition and read back once at startup.
type BotState struct {
	Symbol    string             `json:"symbol"`
	Machine   position.State     `json:"machine_state"`
	Position  *position.Position `json:"position,omitempty"`
	Risk      risk.State         `json:"risk"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Store persists per-symbol bot state and closed trade history. The file and
// Postgres backends serialize the same BotState document, so a deployment can
// move between them without translation.
type Store interface {
	// SaveState upserts the state document for state.Symbol. UpdatedAt is
	// stamped by the store.
	SaveState(ctx context.Context, state BotState) error

	// LoadState returns the stored document for symbol. The bool reports
	// whether a document exists; a missing document is not an error.
	LoadState(ctx context.Context, symbol string) (BotState, bool, error)

	// RecordTrade appends a closed trade to the history.
	RecordTrade(ctx context.Context, trade position.ClosedTrade) error

	// RecentTrades returns up to limit closed trades for symbol, newest
	// first.
	RecentTrades(ctx context.Context, symbol string, limit int) ([]position.ClosedTrade, error)

	// AcquireLock takes the per-symbol advisory lock, held until
	// ReleaseLock or Close. A second process acquiring the same symbol
	// gets ErrLockHeld.
	AcquireLock(ctx context.Context, symbol string) error

	// ReleaseLock drops the advisory lock for symbol. Releasing a lock
	// that is not held is a no-op.
	ReleaseLock(ctx context.Context, symbol string) error

	// Close releases held locks and backend resources.
	Close()
}
