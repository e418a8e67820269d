package exchange

import (
	"context"
	"errors"
	"math"
	"testing"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/logging"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func newTestPaperClient(seed int64) *PaperClient {
	cfg := config.Default().ExchangeConfig
	cfg.PaperSeed = seed
	cfg.PaperEquity = 10000
	cfg.PaperSlippage = 0
	return NewPaperClient(cfg, []string{"BTCUSDT"}, logging.Nop())
}

// TestPaperOrderMovesBalance verifies fills debit and credit the quote balance
func TestPaperOrderMovesBalance(t *testing.T) {
	client := newTestPaperClient(42)
	ctx := context.Background()

	client.SetPrice("BTCUSDT", 50000)

	result, err := client.PlaceOrder(ctx, OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     "MARKET",
		Quantity: 0.1,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if result.Status != OrderStatusFilled {
		t.Errorf("Expected FILLED, got %s", result.Status)
	}
	if !floatEquals(result.FillQuantity, 0.1, 1e-9) {
		t.Errorf("Expected fill quantity 0.1, got %f", result.FillQuantity)
	}

	balance, err := client.GetQuoteBalance(ctx)
	if err != nil {
		t.Fatalf("GetQuoteBalance failed: %v", err)
	}
	expected := 10000 - 0.1*50000
	if !floatEquals(balance, expected, 0.01) {
		t.Errorf("Expected balance %f after buy, got %f", expected, balance)
	}

	// Sell it back at the same pinned price, balance returns to start.
	client.SetPrice("BTCUSDT", 50000)
	if _, err := client.PlaceOrder(ctx, OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideSell,
		Type:     "MARKET",
		Quantity: 0.1,
	}); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	balance, _ = client.GetQuoteBalance(ctx)
	if !floatEquals(balance, 10000, 0.01) {
		t.Errorf("Expected balance restored to 10000, got %f", balance)
	}
}

// TestPaperOrderRejectsOverdraw verifies a buy beyond equity is rejected
func TestPaperOrderRejectsOverdraw(t *testing.T) {
	client := newTestPaperClient(42)
	client.SetPrice("BTCUSDT", 50000)

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     "MARKET",
		Quantity: 1.0, // 50000 > 10000 equity
	})
	if err == nil {
		t.Fatal("Expected rejection for overdraw")
	}

	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected *RejectedError, got %T: %v", err, err)
	}
	if rejected.Reason != "insufficient balance" {
		t.Errorf("Unexpected rejection reason: %s", rejected.Reason)
	}
}

// TestPaperPartialFill verifies the partial-fill hook reports PARTIALLY_FILLED
func TestPaperPartialFill(t *testing.T) {
	client := newTestPaperClient(42)
	client.SetPrice("BTCUSDT", 50000)
	client.SetPartialFill(0.5)

	result, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     "MARKET",
		Quantity: 0.1,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if result.Status != OrderStatusPartiallyFilled {
		t.Errorf("Expected PARTIALLY_FILLED, got %s", result.Status)
	}
	if !floatEquals(result.FillQuantity, 0.05, 1e-9) {
		t.Errorf("Expected half fill 0.05, got %f", result.FillQuantity)
	}
	if !result.HasFill() {
		t.Error("Partial fill should report a fill")
	}
	if result.Terminal() {
		t.Error("Partial fill is still working, not terminal")
	}
}

// TestPaperUnknownSymbol verifies unknown symbols map to ErrInvalidSymbol
func TestPaperUnknownSymbol(t *testing.T) {
	client := newTestPaperClient(42)
	ctx := context.Background()

	if _, err := client.GetPrice(ctx, "DOGEUSDT"); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("GetPrice: expected ErrInvalidSymbol, got %v", err)
	}
	if _, err := client.FetchRecentBars(ctx, "DOGEUSDT", "1m", 10); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("FetchRecentBars: expected ErrInvalidSymbol, got %v", err)
	}
	if _, err := client.PlaceOrder(ctx, OrderRequest{Symbol: "DOGEUSDT", Side: SideBuy, Quantity: 1}); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("PlaceOrder: expected ErrInvalidSymbol, got %v", err)
	}
}

// TestPaperGetOrder verifies placed orders can be fetched back by ID
func TestPaperGetOrder(t *testing.T) {
	client := newTestPaperClient(42)
	client.SetPrice("BTCUSDT", 50000)
	ctx := context.Background()

	placed, err := client.PlaceOrder(ctx, OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     "MARKET",
		Quantity: 0.01,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	fetched, err := client.GetOrder(ctx, "BTCUSDT", placed.OrderID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if fetched.OrderID != placed.OrderID || fetched.Status != placed.Status {
		t.Errorf("Fetched order differs: %+v vs %+v", fetched, placed)
	}
	if fetched.ClientOrderID == "" {
		t.Error("Expected generated client order ID")
	}

	if _, err := client.GetOrder(ctx, "BTCUSDT", 9999); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound for unknown ID, got %v", err)
	}
}

// TestPaperBarsAreConsistent verifies generated history is well formed
func TestPaperBarsAreConsistent(t *testing.T) {
	client := newTestPaperClient(7)
	bars, err := client.FetchRecentBars(context.Background(), "BTCUSDT", "1m", 50)
	if err != nil {
		t.Fatalf("FetchRecentBars failed: %v", err)
	}
	if len(bars) != 50 {
		t.Fatalf("Expected 50 bars, got %d", len(bars))
	}

	for i, bar := range bars {
		if bar.High < bar.Open || bar.High < bar.Close {
			t.Errorf("Bar %d: high %f below open/close", i, bar.High)
		}
		if bar.Low > bar.Open || bar.Low > bar.Close {
			t.Errorf("Bar %d: low %f above open/close", i, bar.Low)
		}
		if bar.Volume <= 0 {
			t.Errorf("Bar %d: non-positive volume", i)
		}
		if i > 0 && bars[i-1].OpenTime >= bar.OpenTime {
			t.Errorf("Bar %d: open times not increasing", i)
		}
	}
}

// TestParseKlines verifies the venue array payload decodes into bars
func TestParseKlines(t *testing.T) {
	body := []byte(`[
		[1700000000000,"100.5","101.2","99.8","100.9","1234.5",1700000059999,"0","0","0","0","0"],
		[1700000060000,"100.9","102.0","100.7","101.8","2345.6",1700000119999,"0","0","0","0","0"]
	]`)

	bars, err := parseKlines(body)
	if err != nil {
		t.Fatalf("parseKlines failed: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("Expected 2 bars, got %d", len(bars))
	}
	if bars[0].OpenTime != 1700000000000 {
		t.Errorf("Wrong open time: %d", bars[0].OpenTime)
	}
	if !floatEquals(bars[0].Close, 100.9, 1e-9) {
		t.Errorf("Wrong close: %f", bars[0].Close)
	}
	if !floatEquals(bars[1].Volume, 2345.6, 1e-9) {
		t.Errorf("Wrong volume: %f", bars[1].Volume)
	}

	if _, err := parseKlines([]byte(`[[1]]`)); err == nil {
		t.Error("Expected error for short kline row")
	}
}

// TestStreamURLNaming verifies combined stream names use lowercase symbols
func TestStreamURLNaming(t *testing.T) {
	stream := NewKlineStream("wss://stream.example.com:9443", []string{"BTCUSDT", "ETHUSDT"}, "1m", nil, logging.Nop())
	url := stream.streamURL()

	expected := "wss://stream.example.com:9443/stream?streams=btcusdt@kline_1m/ethusdt@kline_1m"
	if url != expected {
		t.Errorf("Expected %s, got %s", expected, url)
	}
}

// TestStreamDeliversClosedBarsOnly verifies open candles are dropped
func TestStreamDeliversClosedBarsOnly(t *testing.T) {
	var delivered []PriceBar
	var symbols []string
	stream := NewKlineStream("wss://x", []string{"BTCUSDT"}, "1m", func(symbol string, bar PriceBar) {
		symbols = append(symbols, symbol)
		delivered = append(delivered, bar)
	}, logging.Nop())

	openBar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"i":"1m","o":"100","c":"101","h":"102","l":"99","v":"500","x":false}}}`)
	closedBar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"i":"1m","o":"100","c":"101","h":"102","l":"99","v":"500","x":true}}}`)

	stream.handleMessage(openBar)
	if len(delivered) != 0 {
		t.Fatal("Open candle should not be delivered")
	}

	stream.handleMessage(closedBar)
	if len(delivered) != 1 {
		t.Fatal("Closed candle should be delivered")
	}
	if symbols[0] != "BTCUSDT" {
		t.Errorf("Wrong symbol: %s", symbols[0])
	}
	if !floatEquals(delivered[0].Close, 101, 1e-9) {
		t.Errorf("Wrong close: %f", delivered[0].Close)
	}
	if !floatEquals(delivered[0].Volume, 500, 1e-9) {
		t.Errorf("Wrong volume: %f", delivered[0].Volume)
	}
}
