package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/api"
	"fusion-trading-bot/internal/bot"
	"fusion-trading-bot/internal/cache"
	"fusion-trading-bot/internal/events"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/logging"
	"fusion-trading-bot/internal/metrics"
	"fusion-trading-bot/internal/notification"
	"fusion-trading-bot/internal/provider"
	"fusion-trading-bot/internal/secrets"
	"fusion-trading-bot/internal/store"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().
		Str("mode", cfg.ExchangeConfig.Mode).
		Strs("symbols", cfg.TradingConfig.Symbols).
		Str("interval", cfg.TradingConfig.Interval).
		Msg("Fusion trading bot starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := buildExchangeClient(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Exchange client setup failed")
	}

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("State store setup failed")
	}
	defer st.Close()

	// Redis accelerates provider scores and status reads; the bot trades
	// without it.
	var scoreCache *cache.Cache
	if cfg.RedisConfig.Enabled {
		scoreCache, err = cache.New(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
			scoreCache = nil
		}
	}

	bus := events.NewEventBus()

	m := metrics.New()
	m.AttachBus(bus)

	notifier := notification.NewManager(cfg.NotificationConfig.Enabled)
	notifier.AddNotifier(notification.NewLogNotifier(logging.Component(logger, "Notify")))
	if cfg.NotificationConfig.Webhook.Enabled {
		notifier.AddNotifier(notification.NewWebhookNotifier(cfg.NotificationConfig.Webhook))
	}
	notifier.AttachBus(bus)

	providers := provider.FromConfig(cfg.ProviderConfigs, scoreCache, logger)

	engine := bot.New(cfg, client, st, bus, m, scoreCache, providers, logger)
	if err := engine.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Engine start failed")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig, engine, st, m, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	engine.Stop()

	if server != nil {
		timeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown failed")
		}
	}

	logger.Info().Msg("Shutdown complete")
}

// buildExchangeClient returns the in-memory simulator in paper mode or a
// REST client with credentials from Vault (environment fallback) in live
// mode.
func buildExchangeClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (exchange.Client, error) {
	if cfg.ExchangeConfig.Mode == "paper" {
		return exchange.NewPaperClient(cfg.ExchangeConfig, cfg.TradingConfig.Symbols, logger), nil
	}

	loader, err := secrets.NewLoader(cfg.VaultConfig, logger)
	if err != nil {
		return nil, err
	}
	creds, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return exchange.NewRESTClient(cfg.ExchangeConfig, creds.APIKey, creds.SecretKey, "", logger), nil
}

// buildStore selects the persistence backend: Postgres when configured,
// JSON files in the state directory otherwise.
func buildStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Store, error) {
	if cfg.StorageConfig.Backend == "postgres" {
		return store.NewPostgresStore(ctx, cfg.StorageConfig, logger)
	}
	return store.NewFileStore(cfg.StorageConfig, logger)
}
