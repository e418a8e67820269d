package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/api"
	"fusion-trading-bot/internal/cache"
	"fusion-trading-bot/internal/events"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/fusion"
	"fusion-trading-bot/internal/metrics"
	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/provider"
	"fusion-trading-bot/internal/store"
)

// Engine owns one symbolWorker per configured symbol plus the optional
// kline stream feeding them. All trading state lives inside the workers;
// the engine only starts, stops, and snapshots them.
type Engine struct {
	cfg       *config.Config
	client    exchange.Client
	store     store.Store
	bus       *events.EventBus
	metrics   *metrics.Metrics
	cache     *cache.Cache
	providers []provider.Provider
	logger    zerolog.Logger

	mu        sync.RWMutex
	workers   map[string]*symbolWorker
	stream    *exchange.KlineStream
	running   bool
	startedAt time.Time
	wg        sync.WaitGroup
}

// The status server reads the engine through this interface.
var _ api.BotAPI = (*Engine)(nil)

// New wires the engine. The cache may be nil when Redis is disabled;
// providers may be empty.
func New(cfg *config.Config, client exchange.Client, st store.Store, bus *events.EventBus, m *metrics.Metrics, c *cache.Cache, providers []provider.Provider, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		client:    client,
		store:     st,
		bus:       bus,
		metrics:   m,
		cache:     c,
		providers: providers,
		logger:    logger.With().Str("component", "Engine").Logger(),
		workers:   make(map[string]*symbolWorker),
	}
}

// Start acquires every symbol's state lock, restores persisted state, and
// launches the workers. A lock held elsewhere fails the whole start: two
// processes trading the same symbol is an operator error, not a condition
// to work around.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("bot: engine already started")
	}
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	for _, symbol := range e.cfg.TradingConfig.Symbols {
		worker := newSymbolWorker(symbol, e)
		if err := worker.init(ctx); err != nil {
			e.releaseLocks()
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return err
		}
		e.mu.Lock()
		e.workers[symbol] = worker
		e.mu.Unlock()
	}

	if e.cfg.ExchangeConfig.UseWebsocket {
		e.stream = exchange.NewKlineStream(
			e.cfg.ExchangeConfig.WSBaseURL,
			e.cfg.TradingConfig.Symbols,
			e.cfg.TradingConfig.Interval,
			e.dispatchBar,
			e.logger,
		)
		e.stream.Start()
	}

	for _, worker := range e.workers {
		e.wg.Add(1)
		go func(w *symbolWorker) {
			defer e.wg.Done()
			w.run(ctx)
		}(worker)
	}

	e.logger.Info().
		Int("symbols", len(e.workers)).
		Str("mode", e.cfg.ExchangeConfig.Mode).
		Msg("Trading engine started")
	return nil
}

// Stop waits for every worker to exit and releases the symbol locks.
// Cancel the context passed to Start first; workers stop before their next
// iteration.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stream := e.stream
	e.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	e.wg.Wait()
	e.releaseLocks()
	e.logger.Info().Msg("Trading engine stopped")
}

func (e *Engine) releaseLocks() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()
	for symbol := range e.workers {
		if err := e.store.ReleaseLock(ctx, symbol); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("Lock release failed")
		}
	}
}

// dispatchBar routes a streamed closed candle to its worker without ever
// blocking the stream reader; a full channel is fine, the polling path
// refreshes the window anyway.
func (e *Engine) dispatchBar(symbol string, bar exchange.PriceBar) {
	e.mu.RLock()
	worker, ok := e.workers[symbol]
	e.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case worker.bars <- bar:
	default:
	}
}

// Status reports the engine state and one snapshot per symbol.
func (e *Engine) Status() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	symbols := make(map[string]interface{}, len(e.workers))
	for symbol, worker := range e.workers {
		symbols[symbol] = worker.snapshotCopy()
	}
	return map[string]interface{}{
		"running": e.running,
		"mode":    e.cfg.ExchangeConfig.Mode,
		"uptime":  time.Since(e.startedAt).Round(time.Second).String(),
		"symbols": symbols,
	}
}

// Symbols returns the configured symbols in configuration order.
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.cfg.TradingConfig.Symbols))
	copy(out, e.cfg.TradingConfig.Symbols)
	return out
}

// Positions returns every open position, configuration order.
func (e *Engine) Positions() []position.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]position.Position, 0, len(e.workers))
	for _, symbol := range e.cfg.TradingConfig.Symbols {
		worker, ok := e.workers[symbol]
		if !ok {
			continue
		}
		snap := worker.snapshotCopy()
		if snap.Position != nil {
			out = append(out, *snap.Position)
		}
	}
	return out
}

// Signals returns the last fused signal per symbol.
func (e *Engine) Signals() map[string]fusion.FusedSignal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]fusion.FusedSignal, len(e.workers))
	for symbol, worker := range e.workers {
		out[symbol] = worker.snapshotCopy().Signal
	}
	return out
}
