package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/backtest"
	"fusion-trading-bot/internal/logging"
)

func main() {
	var (
		csvPath    = flag.String("csv", "", "bar history CSV: open_time,open,high,low,close,volume,close_time")
		symbol     = flag.String("symbol", "", "symbol the bars belong to (default: first configured symbol)")
		configPath = flag.String("config", "", "config file; environment variables override it")
		equity     = flag.Float64("equity", 0, "starting equity (default: paper equity from config)")
		withTrades = flag.Bool("trades", false, "print every closed trade")
	)
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -csv bars.csv [-symbol BTCUSDT]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *equity > 0 {
		cfg.ExchangeConfig.PaperEquity = *equity
	}
	sym := *symbol
	if sym == "" {
		sym = cfg.TradingConfig.Symbols[0]
	}

	logger := logging.New(cfg.LoggingConfig)

	bars, err := backtest.LoadCSV(*csvPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Bar history load failed")
	}

	result, err := backtest.New(cfg, logger).Run(sym, bars)
	if err != nil {
		logger.Fatal().Err(err).Str("symbol", sym).Msg("Backtest failed")
	}

	printResult(result, *withTrades)
}

func printResult(result *backtest.Result, withTrades bool) {
	fmt.Println()
	fmt.Println("=== BACKTEST RESULTS ===")
	fmt.Printf("Symbol:          %s\n", result.Symbol)
	fmt.Printf("Bars:            %d\n", result.Bars)
	fmt.Printf("Initial Equity:  $%.2f\n", result.InitialEquity)
	fmt.Printf("Final Equity:    $%.2f\n", result.FinalEquity)
	fmt.Printf("Total Trades:    %d\n", result.TotalTrades)
	fmt.Printf("Winning Trades:  %d (%.1f%%)\n", result.WinningTrades, result.WinRate)
	fmt.Printf("Losing Trades:   %d\n", result.LosingTrades)
	fmt.Printf("Net Profit:      $%.2f (%.2f%%)\n", result.NetProfit, result.ROI)
	fmt.Printf("Profit Factor:   %.2f\n", result.ProfitFactor)
	fmt.Printf("Max Drawdown:    %.2f%%\n", result.MaxDrawdown)
	fmt.Printf("Average Win:     $%.2f\n", result.AverageWin)
	fmt.Printf("Average Loss:    $%.2f\n", result.AverageLoss)
	fmt.Printf("Sharpe Ratio:    %.2f\n", result.SharpeRatio)

	if !withTrades || len(result.Trades) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("=== TRADES ===")
	for i, trade := range result.Trades {
		fmt.Printf("%3d  %s  entry $%.4f  exit $%.4f  qty %.6f  pnl $%+.2f  %s\n",
			i+1,
			trade.ClosedAt.Format("2006-01-02 15:04"),
			trade.EntryPrice,
			trade.ExitPrice,
			trade.Quantity,
			trade.RealizedPnL,
			trade.Reason,
		)
	}
}
