package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/fusion"
	"fusion-trading-bot/internal/indicator"
	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/regime"
	"fusion-trading-bot/internal/risk"
	"fusion-trading-bot/internal/voter"
)

// ExitEndOfData marks a position force-closed because the bar history ended
// while it was still open.
const ExitEndOfData risk.ExitReason = "END_OF_DATA"

// Engine replays historical bars through the same decision path the live
// workers run: indicator window, voters, fusion, sizing, position machine.
// Orders fill at the decision bar's close adjusted by the configured
// slippage, so a run is a deterministic function of the bars and the
// config.
type Engine struct {
	cfg      *config.Config
	logger   zerolog.Logger
	voters   []voter.Voter
	detector *regime.Detector
	fuser    *fusion.Engine
	sizer    *risk.Sizer
}

func New(cfg *config.Config, logger zerolog.Logger) *Engine {
	logger = logger.With().Str("component", "Backtest").Logger()
	return &Engine{
		cfg:    cfg,
		logger: logger,
		voters: []voter.Voter{
			voter.NewCrossover(cfg.VoterConfig),
			voter.NewRSIBounce(cfg.IndicatorConfig, cfg.VoterConfig),
			voter.NewBollingerContrarian(),
			voter.NewVolumeConfirmation(cfg.VoterConfig),
		},
		detector: regime.NewDetector(cfg.RegimeConfig, cfg.IndicatorConfig),
		fuser:    fusion.NewEngine(cfg.FusionConfig, logger),
		sizer:    risk.NewSizer(cfg.SizingConfig),
	}
}

// EquityPoint is the account balance after a trade closed.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Result aggregates one replay. Rate fields are percentages.
type Result struct {
	Symbol        string                `json:"symbol"`
	Bars          int                   `json:"bars"`
	InitialEquity float64               `json:"initial_equity"`
	FinalEquity   float64               `json:"final_equity"`
	TotalTrades   int                   `json:"total_trades"`
	WinningTrades int                   `json:"winning_trades"`
	LosingTrades  int                   `json:"losing_trades"`
	WinRate       float64               `json:"win_rate"`
	TotalProfit   float64               `json:"total_profit"`
	TotalLoss     float64               `json:"total_loss"`
	NetProfit     float64               `json:"net_profit"`
	ROI           float64               `json:"roi"`
	ProfitFactor  float64               `json:"profit_factor"`
	MaxDrawdown   float64               `json:"max_drawdown"`
	AverageWin    float64               `json:"average_win"`
	AverageLoss   float64               `json:"average_loss"`
	SharpeRatio   float64               `json:"sharpe_ratio"`
	Trades        []position.ClosedTrade `json:"trades"`
	EquityCurve   []EquityPoint         `json:"equity_curve"`
}

// Run replays bars for symbol. Bars must be in ascending time order; the
// loader guarantees that for CSV input.
func (e *Engine) Run(symbol string, bars []exchange.PriceBar) (*Result, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("backtest: no bars for %s", symbol)
	}

	equity := e.cfg.ExchangeConfig.PaperEquity
	if equity <= 0 {
		equity = 10000
	}
	slippage := e.cfg.ExchangeConfig.PaperSlippage

	window := indicator.NewWindow(e.cfg.TradingConfig.WindowSize)
	machine := position.NewMachine(symbol, e.cfg.RiskConfig, e.cfg.TradingConfig.MaxFillChecks)
	riskState := risk.NewState()

	result := &Result{
		Symbol:        symbol,
		Bars:          len(bars),
		InitialEquity: equity,
		EquityCurve:   []EquityPoint{{Time: closeTime(bars[0]), Equity: equity}},
	}

	var orderID int64
	for _, bar := range bars {
		window.Push(bar)
		price := bar.Close
		now := closeTime(bar)

		sig := fusion.FusedSignal{Direction: voter.DirectionHold}
		snap, err := indicator.Compute(symbol, window.Bars(), e.cfg.IndicatorConfig)
		if err != nil {
			var insufficient *indicator.InsufficientDataError
			if !errors.As(err, &insufficient) {
				return nil, fmt.Errorf("backtest: indicators for %s: %w", symbol, err)
			}
			// Window still filling; exits below stay live regardless.
		} else {
			reg := e.detector.Detect(window.Bars())
			votes := make([]voter.Vote, 0, len(e.voters))
			for _, v := range e.voters {
				votes = append(votes, v.Vote(snap, window.Bars()))
			}
			sig = e.fuser.Fuse(votes, reg)
		}

		switch machine.State() {
		case position.StateFlat:
			if sig.Direction != voter.DirectionBuy {
				continue
			}
			if ok, _ := riskState.Admits(now, equity, e.cfg.RiskConfig); !ok {
				continue
			}
			volFactor := risk.VolatilityFactor(sig.Regime, e.cfg.SizingConfig)
			size := e.sizer.Size(equity, price, sig.Confidence, riskState.ConsecutiveLosses, volFactor)
			if size.Quantity <= 0 {
				continue
			}
			fill := price * (1 + slippage)
			orderID++
			if err := machine.BeginEntry(orderID); err != nil {
				return nil, fmt.Errorf("backtest: %w", err)
			}
			if err := machine.ConfirmEntry(fill, size.Notional/fill, now); err != nil {
				return nil, fmt.Errorf("backtest: %w", err)
			}

		case position.StateHolding:
			tick, err := machine.Tick(price, now)
			if err != nil {
				return nil, fmt.Errorf("backtest: %w", err)
			}
			if tick.ExitReason == risk.ExitNone {
				continue
			}
			trade, err := e.closePosition(machine, &orderID, tick.ExitReason, price*(1-slippage), now)
			if err != nil {
				return nil, err
			}
			equity += trade.RealizedPnL
			riskState.RecordTrade(trade.RealizedPnL, now, e.cfg.RiskConfig)
			result.Trades = append(result.Trades, trade)
			result.EquityCurve = append(result.EquityCurve, EquityPoint{Time: now, Equity: equity})
		}
	}

	// A position still open when the data runs out is closed at the last
	// bar so the report covers every unit of exposure.
	if machine.State() == position.StateHolding {
		last := bars[len(bars)-1]
		now := closeTime(last)
		trade, err := e.closePosition(machine, &orderID, ExitEndOfData, last.Close*(1-slippage), now)
		if err != nil {
			return nil, err
		}
		equity += trade.RealizedPnL
		result.Trades = append(result.Trades, trade)
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Time: now, Equity: equity})
	}

	e.finalize(result, equity)
	e.logger.Info().
		Str("symbol", symbol).
		Int("bars", result.Bars).
		Int("trades", result.TotalTrades).
		Float64("net_profit", result.NetProfit).
		Float64("win_rate", result.WinRate).
		Msg("Backtest finished")
	return result, nil
}

func (e *Engine) closePosition(machine *position.Machine, orderID *int64, reason risk.ExitReason, fill float64, now time.Time) (position.ClosedTrade, error) {
	*orderID++
	if err := machine.BeginExit(*orderID, reason); err != nil {
		return position.ClosedTrade{}, fmt.Errorf("backtest: %w", err)
	}
	trade, err := machine.ConfirmExit(fill, now)
	if err != nil {
		return position.ClosedTrade{}, fmt.Errorf("backtest: %w", err)
	}
	return trade, nil
}

func (e *Engine) finalize(result *Result, finalEquity float64) {
	result.FinalEquity = finalEquity
	result.TotalTrades = len(result.Trades)

	for _, trade := range result.Trades {
		if trade.RealizedPnL > 0 {
			result.WinningTrades++
			result.TotalProfit += trade.RealizedPnL
		} else {
			result.LosingTrades++
			result.TotalLoss += -trade.RealizedPnL
		}
	}

	if result.TotalTrades > 0 {
		result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	}
	if result.WinningTrades > 0 {
		result.AverageWin = result.TotalProfit / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AverageLoss = result.TotalLoss / float64(result.LosingTrades)
	}

	result.NetProfit = finalEquity - result.InitialEquity
	if result.InitialEquity > 0 {
		result.ROI = result.NetProfit / result.InitialEquity * 100
	}
	if result.TotalLoss > 0 {
		result.ProfitFactor = result.TotalProfit / result.TotalLoss
	}
	result.MaxDrawdown = maxDrawdown(result.EquityCurve)
	result.SharpeRatio = sharpeRatio(result.Trades)
}

// maxDrawdown is the deepest percentage fall from a running equity peak.
func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	worst := 0.0
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - point.Equity) / peak * 100
		if drawdown > worst {
			worst = drawdown
		}
	}
	return worst
}

// sharpeRatio is the mean per-trade percentage return over its standard
// deviation, risk-free rate taken as zero.
func sharpeRatio(trades []position.ClosedTrade) float64 {
	if len(trades) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(trades))
	for _, trade := range trades {
		committed := trade.EntryPrice * trade.Quantity
		if committed <= 0 {
			continue
		}
		returns = append(returns, trade.RealizedPnL/committed*100)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

func closeTime(bar exchange.PriceBar) time.Time {
	if bar.CloseTime > 0 {
		return time.UnixMilli(bar.CloseTime)
	}
	return time.UnixMilli(bar.OpenTime)
}
