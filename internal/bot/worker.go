package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/cache"
	"fusion-trading-bot/internal/events"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/fusion"
	"fusion-trading-bot/internal/indicator"
	"fusion-trading-bot/internal/metrics"
	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/provider"
	"fusion-trading-bot/internal/regime"
	"fusion-trading-bot/internal/risk"
	"fusion-trading-bot/internal/store"
	"fusion-trading-bot/internal/voter"
)

// Fee deduction on live fills can shave a sliver of the base asset, so the
// reconciliation coverage check allows this fraction of dust.
const reconcileDustTolerance = 0.001

// Snapshot is the API-visible view of one worker, refreshed after every
// tick. Everything in it is a copy; readers never touch live state.
type Snapshot struct {
	Symbol     string             `json:"symbol"`
	State      position.State     `json:"state"`
	Position   *position.Position `json:"position,omitempty"`
	Signal     fusion.FusedSignal `json:"signal"`
	Regime     string             `json:"regime"`
	Price      float64            `json:"price"`
	Equity     float64            `json:"equity"`
	Risk       risk.State         `json:"risk"`
	Halted     bool               `json:"halted"`
	HaltReason string             `json:"halt_reason,omitempty"`
	TickedAt   time.Time          `json:"ticked_at"`
}

// symbolWorker runs one symbol's decision loop. It is the only goroutine
// touching its window, machine, and risk ledger; the mutex guards nothing
// but the published snapshot.
type symbolWorker struct {
	symbol    string
	cfg       *config.Config
	client    exchange.Client
	store     store.Store
	bus       *events.EventBus
	metrics   *metrics.Metrics
	cache     *cache.Cache
	providers []provider.Provider
	logger    zerolog.Logger

	window    *indicator.Window
	machine   *position.Machine
	riskState *risk.State
	voters    []voter.Voter
	detector  *regime.Detector
	fuser     *fusion.Engine
	sizer     *risk.Sizer
	equity    float64

	bars chan exchange.PriceBar

	mu       sync.RWMutex
	snapshot Snapshot
}

func newSymbolWorker(symbol string, e *Engine) *symbolWorker {
	logger := e.logger.With().Str("symbol", symbol).Logger()
	return &symbolWorker{
		symbol:    symbol,
		cfg:       e.cfg,
		client:    e.client,
		store:     e.store,
		bus:       e.bus,
		metrics:   e.metrics,
		cache:     e.cache,
		providers: e.providers,
		logger:    logger,
		window:    indicator.NewWindow(e.cfg.TradingConfig.WindowSize),
		machine:   position.NewMachine(symbol, e.cfg.RiskConfig, e.cfg.TradingConfig.MaxFillChecks),
		riskState: risk.NewState(),
		voters: []voter.Voter{
			voter.NewCrossover(e.cfg.VoterConfig),
			voter.NewRSIBounce(e.cfg.IndicatorConfig, e.cfg.VoterConfig),
			voter.NewBollingerContrarian(),
			voter.NewVolumeConfirmation(e.cfg.VoterConfig),
		},
		detector: regime.NewDetector(e.cfg.RegimeConfig, e.cfg.IndicatorConfig),
		fuser:    fusion.NewEngine(e.cfg.FusionConfig, logger),
		sizer:    risk.NewSizer(e.cfg.SizingConfig),
		bars:     make(chan exchange.PriceBar, 16),
		snapshot: Snapshot{
			Symbol: symbol,
			State:  position.StateFlat,
			Signal: fusion.FusedSignal{Direction: voter.DirectionHold},
			Regime: regime.Normal.String(),
		},
	}
}

// init takes the symbol's advisory lock, restores persisted state, backfills
// the bar window, and reconciles the restored position against the exchange.
// A persisted position the account cannot cover halts this worker before it
// ever trades.
func (w *symbolWorker) init(ctx context.Context) error {
	if err := w.store.AcquireLock(ctx, w.symbol); err != nil {
		return fmt.Errorf("bot: %s: %w", w.symbol, err)
	}
	if err := w.restore(ctx); err != nil {
		if releaseErr := w.store.ReleaseLock(ctx, w.symbol); releaseErr != nil {
			w.logger.Warn().Err(releaseErr).Msg("Lock release after failed init failed")
		}
		return err
	}
	return nil
}

func (w *symbolWorker) restore(ctx context.Context) error {
	saved, found, err := w.store.LoadState(ctx, w.symbol)
	if err != nil {
		return fmt.Errorf("bot: load state for %s: %w", w.symbol, err)
	}
	if found {
		if err := w.machine.Restore(saved.Machine, saved.Position); err != nil {
			return fmt.Errorf("bot: %w", err)
		}
		riskState := saved.Risk
		w.riskState = &riskState
		w.logger.Info().
			Str("state", string(saved.Machine)).
			Time("saved_at", saved.UpdatedAt).
			Msg("Resumed persisted state")
	}

	if bars, err := w.client.FetchRecentBars(ctx, w.symbol, w.cfg.TradingConfig.Interval, w.cfg.TradingConfig.WindowSize); err != nil {
		w.logger.Warn().Err(err).Msg("Bar backfill failed, window fills on first tick")
	} else {
		w.window.Fill(bars)
	}

	if equity, err := w.client.GetQuoteBalance(ctx); err == nil {
		w.equity = equity
		w.metrics.SetEquity(equity)
	}

	w.metrics.SetOpenPosition(w.symbol, w.machine.State() == position.StateHolding)
	w.metrics.SetLossStreak(w.symbol, w.riskState.ConsecutiveLosses)
	w.updateSnapshot(w.snapshot.Signal, 0)

	return w.reconcile(ctx)
}

// reconcile verifies a restored open position is covered by the account.
// In-flight ENTERING/EXITING orders are not checked here; the normal fill
// confirmation path resolves them on the first tick.
func (w *symbolWorker) reconcile(ctx context.Context) error {
	pos := w.machine.Position()
	if pos == nil || pos.Quantity <= 0 {
		return nil
	}

	held, err := w.client.GetBaseBalance(ctx, w.symbol)
	if err != nil {
		return fmt.Errorf("bot: reconcile %s: %w", w.symbol, err)
	}
	if held < pos.Quantity*(1-reconcileDustTolerance) {
		w.halt(fmt.Sprintf("persisted position %.8f exceeds exchange balance %.8f", pos.Quantity, held))
		return nil
	}

	w.logger.Info().
		Float64("quantity", pos.Quantity).
		Float64("held", held).
		Msg("Restored position reconciled against exchange")
	return nil
}

// run drives the fixed-interval decision loop until the context is
// canceled. Streamed bars are folded into the window as they arrive; the
// loop still decides only on its own tick.
func (w *symbolWorker) run(ctx context.Context) {
	if w.isHalted() {
		return
	}

	interval := time.Duration(w.cfg.TradingConfig.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info().Dur("interval", interval).Msg("Symbol worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Symbol worker stopping")
			return
		case bar := <-w.bars:
			w.window.Push(bar)
		case <-ticker.C:
			w.tick(ctx)
			if w.isHalted() {
				return
			}
		}
	}
}

// tick runs one decision cycle: refresh bars, compute the snapshot, collect
// votes, fuse, and step the position machine.
func (w *symbolWorker) tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		w.metrics.ObserveTick(w.symbol, time.Since(started))
	}()

	if !w.cfg.ExchangeConfig.UseWebsocket || w.window.Len() < w.cfg.TradingConfig.WindowSize {
		bars, err := w.client.FetchRecentBars(ctx, w.symbol, w.cfg.TradingConfig.Interval, w.cfg.TradingConfig.WindowSize)
		if err != nil {
			w.logger.Warn().Err(err).Msg("Bar refresh failed, retrying next tick")
			w.metrics.RecordError("feed")
			return
		}
		w.window.Fill(bars)
	}

	last, ok := w.window.Last()
	if !ok {
		return
	}
	price, err := w.client.GetPrice(ctx, w.symbol)
	if err != nil {
		w.logger.Debug().Err(err).Msg("Price fetch failed, using last close")
		price = last.Close
	}

	bars := w.window.Bars()
	sig := fusion.FusedSignal{Direction: voter.DirectionHold}

	snap, err := indicator.Compute(w.symbol, bars, w.cfg.IndicatorConfig)
	if err != nil {
		var insufficient *indicator.InsufficientDataError
		if errors.As(err, &insufficient) {
			w.logger.Debug().
				Int("need", insufficient.Need).
				Int("have", insufficient.Have).
				Msg("Window still filling, no vote this tick")
		} else {
			w.logger.Error().Err(err).Msg("Indicator computation failed")
			w.metrics.RecordError("indicator")
		}
	} else {
		reg := w.detector.Detect(bars)
		votes := w.collectVotes(ctx, snap, bars)
		sig = w.fuser.Fuse(votes, reg)
		w.bus.PublishSignal(w.symbol, string(sig.Direction), sig.Confidence, sig.ConsensusCount, reg.String())
		w.metrics.SetRegime(w.symbol, reg)
	}

	w.step(ctx, sig, price, time.Now())
	w.updateSnapshot(sig, price)
	w.pushStatus(ctx)
}

// collectVotes gathers the internal voters and any external providers. A
// failed provider contributes no vote; fusion simply sees fewer.
func (w *symbolWorker) collectVotes(ctx context.Context, snap *indicator.Snapshot, bars []exchange.PriceBar) []voter.Vote {
	votes := make([]voter.Vote, 0, len(w.voters)+len(w.providers))
	for _, v := range w.voters {
		votes = append(votes, v.Vote(snap, bars))
	}
	for _, p := range w.providers {
		vote, err := p.Score(ctx, w.symbol)
		if err != nil {
			w.logger.Debug().Err(err).Str("provider", p.Name()).Msg("Provider vote unavailable")
			continue
		}
		votes = append(votes, vote)
	}
	return votes
}

// step advances the position machine for this tick's signal and price.
func (w *symbolWorker) step(ctx context.Context, sig fusion.FusedSignal, price float64, now time.Time) {
	switch w.machine.State() {
	case position.StateFlat:
		if sig.Direction == voter.DirectionBuy {
			w.tryEnter(ctx, sig, price, now)
		}
	case position.StateEntering:
		w.confirmEntry(ctx, now)
	case position.StateHolding:
		w.manage(ctx, price, now)
	case position.StateExiting:
		w.confirmExit(ctx, now)
	}
}

// tryEnter sizes and places the entry order for an admitted BUY signal.
func (w *symbolWorker) tryEnter(ctx context.Context, sig fusion.FusedSignal, price float64, now time.Time) {
	equity, err := w.client.GetQuoteBalance(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Equity fetch failed, skipping entry")
		w.metrics.RecordError("exchange")
		return
	}
	w.equity = equity
	w.metrics.SetEquity(equity)

	admitted, reason := w.riskState.Admits(now, equity, w.cfg.RiskConfig)
	if !admitted {
		w.logger.Debug().Str("reason", reason).Msg("Entry blocked by risk limits")
		return
	}

	volFactor := risk.VolatilityFactor(sig.Regime, w.cfg.SizingConfig)
	size := w.sizer.Size(equity, price, sig.Confidence, w.riskState.ConsecutiveLosses, volFactor)
	if size.Quantity <= 0 {
		w.logger.Debug().Msg("Sized to zero, skipping entry")
		return
	}

	order, err := w.client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        w.symbol,
		Side:          exchange.SideBuy,
		Type:          w.cfg.TradingConfig.OrderType,
		Quantity:      size.Quantity,
		ClientOrderID: uuid.New().String(),
	})
	if err != nil {
		var rejected *exchange.RejectedError
		if errors.As(err, &rejected) {
			w.logger.Warn().Str("reason", rejected.Reason).Msg("Entry order rejected")
		} else {
			w.logger.Error().Err(err).Msg("Entry order failed")
			w.bus.PublishError("bot", "entry order failed", err)
		}
		w.metrics.RecordError("exchange")
		return
	}

	if err := w.machine.BeginEntry(order.OrderID); err != nil {
		w.halt(err.Error())
		return
	}
	w.transition(ctx, position.StateFlat, fmt.Sprintf("entry order placed, confidence %.2f", sig.Confidence))

	if order.HasFill() {
		w.finishEntry(ctx, order, now)
	}
}

// confirmEntry polls the in-flight entry order. Fills advance to HOLDING,
// dead orders abort back to FLAT, anything else burns one bounded retry.
func (w *symbolWorker) confirmEntry(ctx context.Context, now time.Time) {
	pos := w.machine.Position()
	order, err := w.client.GetOrder(ctx, w.symbol, pos.EntryOrderID)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Entry fill check failed")
		w.metrics.RecordError("exchange")
		w.recordFillCheck("entry")
		return
	}

	switch {
	case order.HasFill():
		w.finishEntry(ctx, order, now)
	case order.Terminal():
		if err := w.machine.AbortEntry(); err != nil {
			w.halt(err.Error())
			return
		}
		w.transition(ctx, position.StateEntering, fmt.Sprintf("entry order %s without fill", order.Status))
	default:
		w.recordFillCheck("entry")
	}
}

func (w *symbolWorker) finishEntry(ctx context.Context, order *exchange.OrderResult, now time.Time) {
	if err := w.machine.ConfirmEntry(order.FillPrice, order.FillQuantity, now); err != nil {
		w.halt(err.Error())
		return
	}
	pos := w.machine.Position()
	w.transition(ctx, position.StateEntering, "entry filled")
	w.bus.PublishTradeOpened(w.symbol, pos.EntryPrice, pos.Quantity, pos.StopLoss)
	w.metrics.SetOpenPosition(w.symbol, true)
	w.metrics.SetTrailingStop(w.symbol, pos.TrailingStop)
	w.logger.Info().
		Float64("entry", pos.EntryPrice).
		Float64("quantity", pos.Quantity).
		Float64("stop_loss", pos.StopLoss).
		Float64("take_profit", pos.TakeProfit).
		Msg("Position opened")
}

// manage advances the trailing stop and places the exit order when an exit
// level is breached. A failed exit order keeps HOLDING; the breach is
// re-evaluated next tick.
func (w *symbolWorker) manage(ctx context.Context, price float64, now time.Time) {
	result, err := w.machine.Tick(price, now)
	if err != nil {
		w.halt(err.Error())
		return
	}
	pos := w.machine.Position()

	if result.StopMoved {
		w.persist(ctx)
		w.metrics.SetTrailingStop(w.symbol, pos.TrailingStop)
		w.logger.Debug().
			Float64("trailing_stop", pos.TrailingStop).
			Float64("high", pos.HighestPrice).
			Msg("Trailing stop raised")
	}
	if result.ExitReason == risk.ExitNone {
		return
	}

	order, err := w.client.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        w.symbol,
		Side:          exchange.SideSell,
		Type:          w.cfg.TradingConfig.OrderType,
		Quantity:      pos.Quantity,
		ClientOrderID: uuid.New().String(),
	})
	if err != nil {
		w.logger.Error().Err(err).Str("exit_reason", string(result.ExitReason)).Msg("Exit order failed, retrying next tick")
		w.bus.PublishError("bot", "exit order failed", err)
		w.metrics.RecordError("exchange")
		return
	}

	if err := w.machine.BeginExit(order.OrderID, result.ExitReason); err != nil {
		w.halt(err.Error())
		return
	}
	w.transition(ctx, position.StateHolding, string(result.ExitReason))

	if order.HasFill() {
		w.finishExit(ctx, order, now)
	}
}

// confirmExit polls the in-flight exit order. A terminal order with no fill
// leaves an uncovered open position, which is an invariant violation, not a
// retry.
func (w *symbolWorker) confirmExit(ctx context.Context, now time.Time) {
	pos := w.machine.Position()
	order, err := w.client.GetOrder(ctx, w.symbol, pos.ExitOrderID)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Exit fill check failed")
		w.metrics.RecordError("exchange")
		w.recordFillCheck("exit")
		return
	}

	switch {
	case order.HasFill():
		w.finishExit(ctx, order, now)
	case order.Terminal():
		w.halt(fmt.Sprintf("exit order %d terminated as %s without fill", pos.ExitOrderID, order.Status))
	default:
		w.recordFillCheck("exit")
	}
}

func (w *symbolWorker) finishExit(ctx context.Context, order *exchange.OrderResult, now time.Time) {
	trade, err := w.machine.ConfirmExit(order.FillPrice, now)
	if err != nil {
		w.halt(err.Error())
		return
	}

	w.riskState.RecordTrade(trade.RealizedPnL, now, w.cfg.RiskConfig)
	w.transition(ctx, position.StateExiting, string(trade.Reason))

	if err := w.store.RecordTrade(ctx, trade); err != nil {
		w.logger.Error().Err(err).Msg("Trade history write failed")
		w.metrics.RecordError("store")
	}

	w.bus.PublishTradeClosed(w.symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.RealizedPnL, string(trade.Reason))
	w.metrics.SetOpenPosition(w.symbol, false)
	w.metrics.SetLossStreak(w.symbol, w.riskState.ConsecutiveLosses)
	w.logger.Info().
		Float64("pnl", trade.RealizedPnL).
		Str("reason", string(trade.Reason)).
		Msg("Position closed")

	if w.riskState.InCooldown(now) {
		w.bus.PublishRisk(w.symbol, "cooldown", fmt.Sprintf("%d consecutive losses, paused until %s",
			w.riskState.ConsecutiveLosses, w.riskState.CooldownUntil.Format(time.RFC3339)))
	}
}

// recordFillCheck burns one bounded fill-confirmation retry. Exhausting the
// budget halts the symbol for manual reconciliation; the loop never assumes
// an outcome it could not confirm.
func (w *symbolWorker) recordFillCheck(kind string) {
	exhausted, err := w.machine.FillCheckFailed()
	if err != nil {
		w.halt(err.Error())
		return
	}
	if exhausted {
		w.halt(fmt.Sprintf("%s: %s order after %d checks", exchange.ErrFillTimeout, kind, w.cfg.TradingConfig.MaxFillChecks))
	}
}

// persist saves the machine state, position, and risk ledger. Called after
// every transition; a failed save is logged loudly but trading continues,
// the next transition retries.
func (w *symbolWorker) persist(ctx context.Context) {
	state := store.BotState{
		Symbol:   w.symbol,
		Machine:  w.machine.State(),
		Position: w.machine.Position(),
		Risk:     *w.riskState,
	}
	if err := w.store.SaveState(ctx, state); err != nil {
		w.logger.Error().Err(err).Msg("State persistence failed")
		w.metrics.RecordError("store")
	}
}

func (w *symbolWorker) transition(ctx context.Context, from position.State, reason string) {
	to := w.machine.State()
	w.persist(ctx)
	w.bus.PublishStateTransition(w.symbol, string(from), string(to), reason)
	w.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("State transition")
}

// halt permanently stops this symbol's trading pending manual
// reconciliation. Other symbols keep running.
func (w *symbolWorker) halt(reason string) {
	w.logger.Error().Str("reason", reason).Msg("Symbol worker halted, manual reconciliation required")
	w.bus.PublishRisk(w.symbol, "halt", reason)
	w.metrics.RecordError("bot")

	w.mu.Lock()
	w.snapshot.Halted = true
	w.snapshot.HaltReason = reason
	w.mu.Unlock()
}

func (w *symbolWorker) isHalted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot.Halted
}

func (w *symbolWorker) updateSnapshot(sig fusion.FusedSignal, price float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshot.State = w.machine.State()
	w.snapshot.Position = w.machine.Position()
	w.snapshot.Signal = sig
	w.snapshot.Regime = sig.Regime.String()
	w.snapshot.Price = price
	w.snapshot.Equity = w.equity
	w.snapshot.Risk = *w.riskState
	w.snapshot.TickedAt = time.Now()
}

func (w *symbolWorker) snapshotCopy() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap := w.snapshot
	if snap.Position != nil {
		pos := *snap.Position
		snap.Position = &pos
	}
	return snap
}

// pushStatus mirrors the snapshot into Redis for external dashboards.
// Best effort; a cold cache never affects trading.
func (w *symbolWorker) pushStatus(ctx context.Context) {
	if w.cache == nil {
		return
	}
	if err := w.cache.SetStatus(ctx, w.symbol, w.snapshotCopy()); err != nil {
		w.logger.Debug().Err(err).Msg("Status cache write skipped")
	}
}
