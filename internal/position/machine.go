package position

import (
	"fmt"
	"time"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/risk"
)

// TransitionError reports an event applied in a state that does not accept
// it. The loop treats it as an invariant violation, not a retry.
type TransitionError struct {
	From  State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("position: cannot %s from %s", e.Event, e.From)
}

// Machine drives one symbol's position through
// FLAT → ENTERING → HOLDING → EXITING → FLAT. It holds no I/O: the loop
// talks to the exchange and feeds confirmed facts in. Transitions outside
// the lifecycle return *TransitionError and change nothing.
type Machine struct {
	symbol        string
	state         State
	position      *Position
	fillChecks    int
	maxFillChecks int
	cfg           config.RiskConfig
}

func NewMachine(symbol string, cfg config.RiskConfig, maxFillChecks int) *Machine {
	if maxFillChecks < 1 {
		maxFillChecks = 1
	}
	return &Machine{
		symbol:        symbol,
		state:         StateFlat,
		maxFillChecks: maxFillChecks,
		cfg:           cfg,
	}
}

// Restore rebuilds the machine from persisted state. The pair must be
// consistent: in-flight and open states carry a position, FLAT does not.
func (m *Machine) Restore(state State, pos *Position) error {
	switch state {
	case StateFlat:
		if pos != nil {
			return fmt.Errorf("position: FLAT state persisted with a position for %s", m.symbol)
		}
	case StateEntering, StateHolding, StateExiting:
		if pos == nil {
			return fmt.Errorf("position: %s state persisted without a position for %s", state, m.symbol)
		}
		if state == StateExiting && pos.ExitOrderID == 0 {
			return fmt.Errorf("position: EXITING state persisted without an exit order for %s", m.symbol)
		}
	default:
		return fmt.Errorf("position: unknown persisted state %q for %s", state, m.symbol)
	}
	m.state = state
	m.position = pos
	m.fillChecks = 0
	return nil
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Symbol() string {
	return m.symbol
}

// Position returns a copy of the current position, nil when flat.
func (m *Machine) Position() *Position {
	if m.position == nil {
		return nil
	}
	copied := *m.position
	return &copied
}

// BeginEntry moves FLAT → ENTERING once the entry order is placed.
func (m *Machine) BeginEntry(orderID int64) error {
	if m.state != StateFlat {
		return &TransitionError{From: m.state, Event: "begin entry"}
	}
	m.state = StateEntering
	m.position = &Position{Symbol: m.symbol, EntryOrderID: orderID}
	m.fillChecks = 0
	return nil
}

// ConfirmEntry moves ENTERING → HOLDING with the actual fill. Stops are
// derived from the fill price, and the trailing stop starts at the hard
// stop.
func (m *Machine) ConfirmEntry(fillPrice, fillQuantity float64, now time.Time) error {
	if m.state != StateEntering {
		return &TransitionError{From: m.state, Event: "confirm entry"}
	}
	if fillPrice <= 0 || fillQuantity <= 0 {
		return fmt.Errorf("position: entry fill for %s has price %f quantity %f", m.symbol, fillPrice, fillQuantity)
	}

	stop := risk.InitialStop(fillPrice, m.cfg)
	m.position.EntryPrice = fillPrice
	m.position.Quantity = fillQuantity
	m.position.EntryTime = now
	m.position.HighestPrice = fillPrice
	m.position.StopLoss = stop
	m.position.TrailingStop = stop
	m.position.TakeProfit = risk.TakeProfitAt(fillPrice, m.cfg)
	m.state = StateHolding
	m.fillChecks = 0
	return nil
}

// AbortEntry moves ENTERING → FLAT when the entry order died without any
// fill (canceled or expired).
func (m *Machine) AbortEntry() error {
	if m.state != StateEntering {
		return &TransitionError{From: m.state, Event: "abort entry"}
	}
	m.state = StateFlat
	m.position = nil
	m.fillChecks = 0
	return nil
}

// FillCheckFailed counts one unconfirmed fill poll in ENTERING or EXITING.
// It reports true when the bounded retries are exhausted; the caller halts
// the symbol for reconciliation instead of assuming an outcome.
func (m *Machine) FillCheckFailed() (exhausted bool, err error) {
	if m.state != StateEntering && m.state != StateExiting {
		return false, &TransitionError{From: m.state, Event: "record fill check"}
	}
	m.fillChecks++
	return m.fillChecks >= m.maxFillChecks, nil
}

// TickResult reports what a HOLDING tick changed and whether to exit.
type TickResult struct {
	StopMoved  bool
	ExitReason risk.ExitReason
}

// Tick advances the trailing stop for the current price and evaluates the
// exit levels. The minimum-hold guard suppresses only trailing-stop exits;
// a hard stop or take profit always reports.
func (m *Machine) Tick(price float64, now time.Time) (TickResult, error) {
	if m.state != StateHolding {
		return TickResult{}, &TransitionError{From: m.state, Event: "tick"}
	}

	trailed := risk.Trail(m.position.HighestPrice, m.position.TrailingStop, price, m.cfg)
	m.position.HighestPrice = trailed.HighestPrice
	m.position.TrailingStop = trailed.TrailingStop

	reason := risk.CheckExit(price, m.position.TrailingStop, m.position.StopLoss, m.position.TakeProfit)
	if reason == risk.ExitTrailingStop && m.underMinHold(now) {
		reason = risk.ExitNone
	}

	return TickResult{StopMoved: trailed.Moved, ExitReason: reason}, nil
}

func (m *Machine) underMinHold(now time.Time) bool {
	if m.cfg.MinHoldSecs <= 0 {
		return false
	}
	return now.Sub(m.position.EntryTime) < time.Duration(m.cfg.MinHoldSecs)*time.Second
}

// BeginExit moves HOLDING → EXITING once the exit order is placed.
func (m *Machine) BeginExit(orderID int64, reason risk.ExitReason) error {
	if m.state != StateHolding {
		return &TransitionError{From: m.state, Event: "begin exit"}
	}
	m.position.ExitOrderID = orderID
	m.position.ExitReason = reason
	m.state = StateExiting
	m.fillChecks = 0
	return nil
}

// ConfirmExit moves EXITING → FLAT with the actual exit fill and returns
// the round trip for the ledger.
func (m *Machine) ConfirmExit(fillPrice float64, now time.Time) (ClosedTrade, error) {
	if m.state != StateExiting {
		return ClosedTrade{}, &TransitionError{From: m.state, Event: "confirm exit"}
	}
	if fillPrice <= 0 {
		return ClosedTrade{}, fmt.Errorf("position: exit fill for %s has price %f", m.symbol, fillPrice)
	}

	pos := m.position
	trade := ClosedTrade{
		Symbol:      pos.Symbol,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fillPrice,
		Quantity:    pos.Quantity,
		RealizedPnL: (fillPrice - pos.EntryPrice) * pos.Quantity,
		Reason:      pos.ExitReason,
		OpenedAt:    pos.EntryTime,
		ClosedAt:    now,
	}
	m.state = StateFlat
	m.position = nil
	m.fillChecks = 0
	return trade, nil
}
