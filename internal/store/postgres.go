package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/risk"
)

// PostgresStore keeps bot state in a bot_state table and trade history in a
// trades table. Advisory locks are session scoped, so each acquired lock pins
// a pool connection until it is released.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*pgxpool.Conn
}

// NewPostgresStore connects, tunes the pool and runs schema migrations.
func NewPostgresStore(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	minConns := cfg.MinConns
	if minConns <= 0 {
		minConns = 2
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "store").Str("backend", "postgres").Logger(),
		locks:  make(map[string]*pgxpool.Conn),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info().Msg("connected to PostgreSQL state store")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bot_state (
			symbol VARCHAR(20) PRIMARY KEY,
			machine_state VARCHAR(16) NOT NULL,
			position JSONB,
			risk_state JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			realized_pnl DECIMAL(20, 8) NOT NULL,
			reason VARCHAR(20) NOT NULL,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at)`,
	}

	for i, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// SaveState upserts the per-symbol document. The position column is NULL
// while flat.
func (s *PostgresStore) SaveState(ctx context.Context, state BotState) error {
	var posJSON []byte
	if state.Position != nil {
		b, err := json.Marshal(state.Position)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		posJSON = b
	}
	riskJSON, err := json.Marshal(state.Risk)
	if err != nil {
		return fmt.Errorf("marshal risk state: %w", err)
	}

	query := `
		INSERT INTO bot_state (symbol, machine_state, position, risk_state, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (symbol) DO UPDATE
		SET machine_state = $2, position = $3, risk_state = $4, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.pool.Exec(ctx, query, state.Symbol, string(state.Machine), posJSON, riskJSON); err != nil {
		return fmt.Errorf("save state for %s: %w", state.Symbol, err)
	}
	return nil
}

// LoadState reads the document for symbol; found is false when no row exists.
func (s *PostgresStore) LoadState(ctx context.Context, symbol string) (BotState, bool, error) {
	query := `
		SELECT machine_state, position, risk_state, updated_at
		FROM bot_state
		WHERE symbol = $1
	`
	var (
		machineState string
		posJSON      []byte
		riskJSON     []byte
		updatedAt    time.Time
	)
	err := s.pool.QueryRow(ctx, query, symbol).Scan(&machineState, &posJSON, &riskJSON, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BotState{}, false, nil
	}
	if err != nil {
		return BotState{}, false, fmt.Errorf("load state for %s: %w", symbol, err)
	}

	state := BotState{
		Symbol:    symbol,
		Machine:   position.State(machineState),
		UpdatedAt: updatedAt,
	}
	if len(posJSON) > 0 {
		pos := &position.Position{}
		if err := json.Unmarshal(posJSON, pos); err != nil {
			return BotState{}, false, fmt.Errorf("unmarshal position for %s: %w", symbol, err)
		}
		state.Position = pos
	}
	if err := json.Unmarshal(riskJSON, &state.Risk); err != nil {
		return BotState{}, false, fmt.Errorf("unmarshal risk state for %s: %w", symbol, err)
	}
	return state, true, nil
}

// RecordTrade appends one closed trade to the history table.
func (s *PostgresStore) RecordTrade(ctx context.Context, trade position.ClosedTrade) error {
	query := `
		INSERT INTO trades (symbol, entry_price, exit_price, quantity, realized_pnl, reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(
		ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.RealizedPnL, string(trade.Reason), trade.OpenedAt, trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("record trade for %s: %w", trade.Symbol, err)
	}
	return nil
}

// RecentTrades returns up to limit closed trades for symbol, newest first.
func (s *PostgresStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]position.ClosedTrade, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT symbol, entry_price, exit_price, quantity, realized_pnl, reason, opened_at, closed_at
		FROM trades
		WHERE symbol = $1
		ORDER BY closed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	var trades []position.ClosedTrade
	for rows.Next() {
		var t position.ClosedTrade
		var reason string
		if err := rows.Scan(
			&t.Symbol, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&t.RealizedPnL, &reason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Reason = risk.ExitReason(reason)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

// AcquireLock takes pg_try_advisory_lock on a hash of the symbol. The lock is
// session scoped, so the connection that holds it stays checked out of the
// pool until ReleaseLock.
func (s *PostgresStore) AcquireLock(ctx context.Context, symbol string) error {
	s.mu.Lock()
	if _, held := s.locks[symbol]; held {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey(symbol)).Scan(&acquired); err != nil {
		conn.Release()
		return fmt.Errorf("acquire lock for %s: %w", symbol, err)
	}
	if !acquired {
		conn.Release()
		return fmt.Errorf("%w: %s", ErrLockHeld, symbol)
	}

	s.mu.Lock()
	s.locks[symbol] = conn
	s.mu.Unlock()

	s.logger.Debug().Str("symbol", symbol).Msg("acquired state lock")
	return nil
}

// ReleaseLock unlocks the symbol and returns its connection to the pool.
func (s *PostgresStore) ReleaseLock(ctx context.Context, symbol string) error {
	s.mu.Lock()
	conn, held := s.locks[symbol]
	delete(s.locks, symbol)
	s.mu.Unlock()
	if !held {
		return nil
	}

	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, lockKey(symbol))
	conn.Release()
	if err != nil {
		return fmt.Errorf("release lock for %s: %w", symbol, err)
	}
	return nil
}

// Close releases held lock connections and the pool.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	for symbol, conn := range s.locks {
		conn.Release()
		delete(s.locks, symbol)
	}
	s.mu.Unlock()

	s.pool.Close()
	s.logger.Info().Msg("state store closed")
}

// lockKey maps a symbol onto the 64-bit advisory lock space.
func lockKey(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}
