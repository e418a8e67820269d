package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/logging"
	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/risk"
	"fusion-trading-bot/internal/store"
)

// symbolStats aggregates the closed trades of one symbol.
type symbolStats struct {
	Symbol   string
	Total    int
	Wins     int
	Losses   int
	WinRate  float64
	NetPnL   float64
	AvgWin   float64
	AvgLoss  float64
	Best     float64
	Worst    float64
	ByReason map[risk.ExitReason]int
}

func main() {
	var (
		configPath = flag.String("config", "", "config file; environment variables override it")
		symbol     = flag.String("symbol", "", "single symbol (default: all configured symbols)")
		limit      = flag.Int("limit", 200, "trades per symbol, newest first")
	)
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LoggingConfig)

	ctx := context.Background()

	var st store.Store
	if cfg.StorageConfig.Backend == "postgres" {
		st, err = store.NewPostgresStore(ctx, cfg.StorageConfig, logger)
	} else {
		st, err = store.NewFileStore(cfg.StorageConfig, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Store setup failed")
	}
	defer st.Close()

	symbols := cfg.TradingConfig.Symbols
	if *symbol != "" {
		symbols = []string{*symbol}
	}

	fmt.Println()
	fmt.Println("=== TRADE HISTORY ===")

	var overall []position.ClosedTrade
	for _, sym := range symbols {
		trades, err := st.RecentTrades(ctx, sym, *limit)
		if err != nil {
			logger.Fatal().Err(err).Str("symbol", sym).Msg("Trade history read failed")
		}
		if len(trades) == 0 {
			fmt.Printf("\n%s: no closed trades\n", sym)
			continue
		}
		overall = append(overall, trades...)
		printStats(aggregate(sym, trades))
	}

	if len(symbols) > 1 && len(overall) > 0 {
		printStats(aggregate("TOTAL", overall))
	}
}

func aggregate(symbol string, trades []position.ClosedTrade) symbolStats {
	stats := symbolStats{
		Symbol:   symbol,
		Total:    len(trades),
		ByReason: make(map[risk.ExitReason]int),
	}

	var winSum, lossSum float64
	for i, trade := range trades {
		stats.NetPnL += trade.RealizedPnL
		stats.ByReason[trade.Reason]++
		if trade.RealizedPnL > 0 {
			stats.Wins++
			winSum += trade.RealizedPnL
		} else {
			stats.Losses++
			lossSum += -trade.RealizedPnL
		}
		if i == 0 || trade.RealizedPnL > stats.Best {
			stats.Best = trade.RealizedPnL
		}
		if i == 0 || trade.RealizedPnL < stats.Worst {
			stats.Worst = trade.RealizedPnL
		}
	}

	stats.WinRate = float64(stats.Wins) / float64(stats.Total) * 100
	if stats.Wins > 0 {
		stats.AvgWin = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLoss = lossSum / float64(stats.Losses)
	}
	return stats
}

func printStats(stats symbolStats) {
	fmt.Printf("\n%s\n", stats.Symbol)
	fmt.Printf("  Trades:    %d (%d wins / %d losses, %.1f%%)\n", stats.Total, stats.Wins, stats.Losses, stats.WinRate)
	fmt.Printf("  Net PnL:   $%+.2f\n", stats.NetPnL)
	fmt.Printf("  Avg Win:   $%.2f   Avg Loss: $%.2f\n", stats.AvgWin, stats.AvgLoss)
	fmt.Printf("  Best:      $%+.2f   Worst:    $%+.2f\n", stats.Best, stats.Worst)

	reasons := make([]string, 0, len(stats.ByReason))
	for reason := range stats.ByReason {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	fmt.Printf("  Exits:    ")
	for _, reason := range reasons {
		fmt.Printf(" %s=%d", reason, stats.ByReason[risk.ExitReason(reason)])
	}
	fmt.Println()
}
