package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/position"
)

// FileStore keeps one JSON document per symbol under a state directory, plus
// an append-only trades.jsonl history. It serves paper and standalone
// deployments where no database is available. State writes go through a
// temp-file rename so a crash never leaves a torn document.
type FileStore struct {
	dir    string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]string
}

// NewFileStore creates the state directory if needed.
func NewFileStore(cfg config.StorageConfig, logger zerolog.Logger) (*FileStore, error) {
	dir := cfg.StateDir
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "store").Str("backend", "file").Logger(),
		locks:  make(map[string]string),
	}, nil
}

func (s *FileStore) statePath(symbol string) string {
	return filepath.Join(s.dir, symbol+".json")
}

func (s *FileStore) tradesPath() string {
	return filepath.Join(s.dir, "trades.jsonl")
}

// SaveState writes the document to a temp file and renames it into place.
func (s *FileStore) SaveState(ctx context.Context, state BotState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", state.Symbol, err)
	}

	path := s.statePath(state.Symbol)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state for %s: %w", state.Symbol, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit state for %s: %w", state.Symbol, err)
	}
	return nil
}

// LoadState reads the document for symbol; found is false when no file
// exists.
func (s *FileStore) LoadState(ctx context.Context, symbol string) (BotState, bool, error) {
	if err := ctx.Err(); err != nil {
		return BotState{}, false, err
	}

	data, err := os.ReadFile(s.statePath(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return BotState{}, false, nil
	}
	if err != nil {
		return BotState{}, false, fmt.Errorf("read state for %s: %w", symbol, err)
	}

	var state BotState
	if err := json.Unmarshal(data, &state); err != nil {
		return BotState{}, false, fmt.Errorf("unmarshal state for %s: %w", symbol, err)
	}
	return state, true, nil
}

// RecordTrade appends one JSON line to the trade history file.
func (s *FileStore) RecordTrade(ctx context.Context, trade position.ClosedTrade) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.tradesPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trade history: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(trade); err != nil {
		return fmt.Errorf("append trade for %s: %w", trade.Symbol, err)
	}
	return nil
}

// RecentTrades scans the history file and returns up to limit trades for
// symbol, newest first.
func (s *FileStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]position.ClosedTrade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	f, err := os.Open(s.tradesPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open trade history: %w", err)
	}
	defer f.Close()

	var matched []position.ClosedTrade
	dec := json.NewDecoder(f)
	for {
		var t position.ClosedTrade
		if err := dec.Decode(&t); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode trade history: %w", err)
		}
		if t.Symbol == symbol {
			matched = append(matched, t)
		}
	}

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	// File order is oldest first; flip to newest first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

// AcquireLock creates symbol.json.lock with O_EXCL. An existing lock file
// means another process owns the symbol.
func (s *FileStore) AcquireLock(ctx context.Context, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, held := s.locks[symbol]; held {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	lockPath := s.statePath(symbol) + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrLockHeld, symbol)
	}
	if err != nil {
		return fmt.Errorf("create lock for %s: %w", symbol, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	s.mu.Lock()
	s.locks[symbol] = lockPath
	s.mu.Unlock()

	s.logger.Debug().Str("symbol", symbol).Msg("acquired state lock")
	return nil
}

// ReleaseLock removes the lock file for symbol.
func (s *FileStore) ReleaseLock(ctx context.Context, symbol string) error {
	s.mu.Lock()
	lockPath, held := s.locks[symbol]
	delete(s.locks, symbol)
	s.mu.Unlock()
	if !held {
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock for %s: %w", symbol, err)
	}
	return nil
}

// Close removes any lock files still held.
func (s *FileStore) Close() {
	s.mu.Lock()
	for symbol, lockPath := range s.locks {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to remove lock file")
		}
		delete(s.locks, symbol)
	}
	s.mu.Unlock()
}
