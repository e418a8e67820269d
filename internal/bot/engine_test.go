package bot

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/events"
	"fusion-trading-bot/internal/exchange"
	"fusion-trading-bot/internal/metrics"
	"fusion-trading-bot/internal/store"
	"fusion-trading-bot/internal/voter"
)

func newTestEngine(t *testing.T) (*Engine, *fakeExchange, string) {
	t.Helper()

	dir := t.TempDir()
	client := newFakeExchange()
	st, err := store.NewFileStore(config.StorageConfig{StateDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(st.Close)

	engine := New(testConfig(), client, st, events.NewEventBus(), metrics.New(), nil, nil, zerolog.Nop())
	return engine, client, dir
}

// TestEngineStartStop verifies the full lifecycle: workers launched, status
// visible, locks released on shutdown.
func TestEngineStartStop(t *testing.T) {
	engine, _, dir := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	status := engine.Status()
	if status["running"] != true {
		t.Errorf("status = %+v, want running", status)
	}
	if status["mode"] != "paper" {
		t.Errorf("mode = %v, want paper", status["mode"])
	}
	if got := engine.Symbols(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Errorf("Symbols() = %v", got)
	}
	if got := engine.Positions(); len(got) != 0 {
		t.Errorf("Positions() = %v, want none before any trade", got)
	}
	if sig, ok := engine.Signals()["BTCUSDT"]; !ok || sig.Direction != voter.DirectionHold {
		t.Errorf("Signals() = %+v, want initial HOLD", engine.Signals())
	}

	cancel()
	engine.Stop()

	if engine.Status()["running"] != false {
		t.Error("engine should report stopped")
	}

	// The symbol lock must be free for the next process.
	other, err := store.NewFileStore(config.StorageConfig{StateDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(other.Close)
	if err := other.AcquireLock(context.Background(), "BTCUSDT"); err != nil {
		t.Errorf("AcquireLock() after Stop error = %v, want released lock", err)
	}
}

// TestEngineStartTwice verifies a second Start is refused.
func TestEngineStartTwice(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		cancel()
		engine.Stop()
	}()

	if err := engine.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}
}

// TestEngineStartFailsOnHeldLock verifies startup aborts when another
// process owns a symbol.
func TestEngineStartFailsOnHeldLock(t *testing.T) {
	engine, _, dir := newTestEngine(t)

	other, err := store.NewFileStore(config.StorageConfig{StateDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	t.Cleanup(other.Close)
	if err := other.AcquireLock(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	if err := engine.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail when the symbol lock is held elsewhere")
	}
	if engine.Status()["running"] != false {
		t.Error("failed start should leave the engine stopped")
	}
}

// TestEngineDispatchBar verifies streamed candles reach the right worker
// and unknown symbols are dropped.
func TestEngineDispatchBar(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	worker := newSymbolWorker("BTCUSDT", engine)
	engine.workers["BTCUSDT"] = worker

	bar := exchange.PriceBar{OpenTime: time.Now().UnixMilli(), Close: 101}
	engine.dispatchBar("BTCUSDT", bar)
	engine.dispatchBar("ETHUSDT", bar)

	select {
	case got := <-worker.bars:
		if got.Close != 101 {
			t.Errorf("bar = %+v", got)
		}
	default:
		t.Error("bar was not routed to the worker")
	}
	select {
	case got := <-worker.bars:
		t.Errorf("unexpected extra bar %+v", got)
	default:
	}
}
