package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
)

// PaperClient simulates the exchange in memory. Prices follow a seeded
// random walk, orders fill instantly at the walked price plus slippage, and
// the quote balance moves with every fill so sizing sees realistic equity.
type PaperClient struct {
	mu           sync.RWMutex
	prices       map[string]float64
	quoteBalance float64
	baseBalances map[string]float64
	orders       map[int64]*OrderResult
	nextOrderID  int64
	slippage     float64
	fillFraction float64
	rng          *rand.Rand
	lastWalk     time.Time
	logger       zerolog.Logger
}

// NewPaperClient seeds the simulation from config. A zero seed falls back
// to the wall clock so repeated paper runs diverge.
func NewPaperClient(cfg config.ExchangeConfig, symbols []string, logger zerolog.Logger) *PaperClient {
	seed := cfg.PaperSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	prices := make(map[string]float64, len(symbols))
	baseBalances := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		prices[symbol] = defaultStartPrice(symbol)
		baseBalances[symbol] = 0
	}

	return &PaperClient{
		prices:       prices,
		quoteBalance: cfg.PaperEquity,
		baseBalances: baseBalances,
		orders:       make(map[int64]*OrderResult),
		nextOrderID:  1,
		slippage:     cfg.PaperSlippage,
		fillFraction: 1.0,
		rng:          rand.New(rand.NewSource(seed)),
		lastWalk:     time.Now(),
		logger:       logger.With().Str("component", "PaperClient").Logger(),
	}
}

func defaultStartPrice(symbol string) float64 {
	switch symbol {
	case "BTCUSDT":
		return 45000.0
	case "ETHUSDT":
		return 3000.0
	case "BNBUSDT":
		return 300.0
	default:
		return 100.0
	}
}

// SetPrice pins a symbol's price, bypassing the random walk. Used by the
// loop tests to drive deterministic scenarios.
func (c *PaperClient) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// SetPartialFill makes subsequent orders fill only the given fraction and
// report PARTIALLY_FILLED. Fraction 1 restores full fills.
func (c *PaperClient) SetPartialFill(fraction float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fraction <= 0 || fraction > 1 {
		fraction = 1.0
	}
	c.fillFraction = fraction
}

// walkPrices advances every symbol by up to ±0.5% per elapsed second.
// Callers must hold the write lock.
func (c *PaperClient) walkPrices() {
	elapsed := time.Since(c.lastWalk).Seconds()
	if elapsed < 1 {
		return
	}
	steps := int(elapsed)
	for symbol, price := range c.prices {
		for i := 0; i < steps; i++ {
			price *= 1 + (c.rng.Float64()-0.5)*0.01
		}
		c.prices[symbol] = price
	}
	c.lastWalk = time.Now()
}

// FetchRecentBars generates a synthetic history ending at the current
// walked price, oldest bar first.
func (c *PaperClient) FetchRecentBars(ctx context.Context, symbol, interval string, limit int) ([]PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.walkPrices()

	price, ok := c.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}

	barDur := intervalDuration(interval)
	now := time.Now().Truncate(barDur)
	bars := make([]PriceBar, limit)

	// Walk backwards from the live price so the newest bar matches it.
	closePrice := price
	for i := limit - 1; i >= 0; i-- {
		change := (c.rng.Float64() - 0.5) * 0.02
		openPrice := closePrice / (1 + change)
		high := math.Max(openPrice, closePrice) * (1 + c.rng.Float64()*0.005)
		low := math.Min(openPrice, closePrice) * (1 - c.rng.Float64()*0.005)
		openTime := now.Add(time.Duration(i-limit) * barDur)
		bars[i] = PriceBar{
			OpenTime:  openTime.UnixMilli(),
			Open:      openPrice,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    1000 + c.rng.Float64()*9000,
			CloseTime: openTime.Add(barDur).UnixMilli() - 1,
		}
		closePrice = openPrice
	}
	return bars, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func (c *PaperClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.walkPrices()

	price, ok := c.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	return price, nil
}

func (c *PaperClient) GetQuoteBalance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quoteBalance, nil
}

// GetBaseBalance returns the simulated base-asset holding for the symbol.
func (c *PaperClient) GetBaseBalance(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	balance, ok := c.baseBalances[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	return balance, nil
}

// PlaceOrder fills immediately at the current price adjusted for slippage.
// Orders that would overdraw the quote balance are rejected the way the
// live venue rejects them.
func (c *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.walkPrices()

	price, ok := c.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, req.Symbol)
	}
	if req.Quantity <= 0 {
		return nil, &RejectedError{Code: codeOrderRejected, Reason: "quantity must be positive"}
	}

	fillPrice := price
	if req.Side == SideBuy {
		fillPrice *= 1 + c.slippage
	} else {
		fillPrice *= 1 - c.slippage
	}

	fillQty := req.Quantity * c.fillFraction
	status := OrderStatusFilled
	if c.fillFraction < 1 {
		status = OrderStatusPartiallyFilled
	}

	cost := fillQty * fillPrice
	switch req.Side {
	case SideBuy:
		if cost > c.quoteBalance {
			return nil, &RejectedError{Code: codeOrderRejected, Reason: "insufficient balance"}
		}
		c.quoteBalance -= cost
		c.baseBalances[req.Symbol] += fillQty
	case SideSell:
		c.quoteBalance += cost
		c.baseBalances[req.Symbol] -= fillQty
	default:
		return nil, &RejectedError{Code: codeOrderRejected, Reason: fmt.Sprintf("unsupported side %q", req.Side)}
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.New().String()
	}

	orderID := c.nextOrderID
	c.nextOrderID++

	result := &OrderResult{
		OrderID:       orderID,
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        status,
		FillPrice:     fillPrice,
		FillQuantity:  fillQty,
		TransactTime:  time.Now().UnixMilli(),
	}
	c.orders[orderID] = result

	c.logger.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("qty", fillQty).
		Float64("price", fillPrice).
		Str("status", string(status)).
		Msg("paper order filled")
	return result, nil
}

func (c *PaperClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.orders[orderID]
	if !ok || result.Symbol != symbol {
		return nil, fmt.Errorf("%w: order %d", ErrOrderNotFound, orderID)
	}
	copied := *result
	return &copied, nil
}

func (c *PaperClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.orders[orderID]
	if !ok || result.Symbol != symbol {
		return fmt.Errorf("%w: order %d", ErrOrderNotFound, orderID)
	}
	if result.Terminal() {
		return fmt.Errorf("%w: order %d already %s", ErrOrderNotFound, orderID, result.Status)
	}
	result.Status = OrderStatusCanceled
	return nil
}
