package risk

import (
	"fmt"
	"time"

	"fusion-trading-bot/config"
)

const dayLayout = "2006-01-02"

// State is the per-symbol trading risk ledger: loss streak, cooldown, and
// the daily realized PnL against its limit. Owned by one symbol worker and
// persisted with the position on every transition; it is not safe for
// concurrent mutation.
type State struct {
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DailyRealizedPnL  float64   `json:"daily_realized_pnl"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	Day               string    `json:"day"` // Wall-clock day the daily fields belong to
}

func NewState() *State {
	return &State{Day: time.Now().Format(dayLayout)}
}

// rollDay resets the daily accumulator when the wall-clock day changed.
func (s *State) rollDay(now time.Time) {
	day := now.Format(dayLayout)
	if s.Day != day {
		s.Day = day
		s.DailyRealizedPnL = 0
	}
}

// RecordTrade folds a closed trade's realized PnL into the ledger. A loss
// extends the streak and, once the streak reaches the configured cap, arms
// the cooldown; any non-losing trade clears the streak.
func (s *State) RecordTrade(pnl float64, now time.Time, cfg config.RiskConfig) {
	s.rollDay(now)
	s.DailyRealizedPnL += pnl

	if pnl < 0 {
		s.ConsecutiveLosses++
		if cfg.CooldownSecs > 0 && s.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
			s.CooldownUntil = now.Add(time.Duration(cfg.CooldownSecs) * time.Second)
		}
		return
	}
	s.ConsecutiveLosses = 0
}

// InCooldown reports whether the loss-streak pause is still running.
func (s *State) InCooldown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// Admits decides whether a new entry is allowed right now. The returned
// reason is empty exactly when admitted.
func (s *State) Admits(now time.Time, equity float64, cfg config.RiskConfig) (bool, string) {
	s.rollDay(now)

	if s.InCooldown(now) {
		return false, fmt.Sprintf("cooling down until %s after %d consecutive losses",
			s.CooldownUntil.Format(time.RFC3339), s.ConsecutiveLosses)
	}

	if cfg.DailyLossLimitPct > 0 && equity > 0 {
		limit := equity * cfg.DailyLossLimitPct
		if s.DailyRealizedPnL <= -limit {
			return false, fmt.Sprintf("daily loss %.2f at limit %.2f", -s.DailyRealizedPnL, limit)
		}
	}
	return true, ""
}
