// Package cache provides Redis-backed caching for provider scores and bot
// status snapshots, with graceful degradation when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fusion-trading-bot/config"
)

var (
	// ErrCacheUnavailable is returned while the health circuit is open.
	ErrCacheUnavailable = errors.New("cache unavailable: redis is not healthy")

	// ErrCacheMiss is returned when a key does not exist.
	ErrCacheMiss = errors.New("cache miss")
)

// Key formats. Provider scores carry a TTL from config; status snapshots are
// refreshed every tick.
const (
	prefixProviderScore = "provider:%s:score:%s" // provider name, symbol
	prefixStatus        = "bot:status:%s"        // symbol
)

const statusTTL = 5 * time.Minute

// Cache wraps a Redis client with a small health circuit. A run of failed
// operations marks the client unhealthy and short-circuits calls until a
// background ping succeeds; callers treat any error as a miss and fall
// through to the underlying source.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// New connects to Redis. A failed initial ping returns the cache in degraded
// mode rather than an error; the circuit recovers once Redis is reachable.
func New(cfg config.RedisConfig, logger zerolog.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := &Cache{
		client:        client,
		logger:        logger.With().Str("component", "cache").Logger(),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("initial redis connection failed, cache degraded")
		return c, nil
	}

	c.healthy = true
	c.lastCheck = time.Now()
	c.logger.Info().Str("address", cfg.Address).Msg("redis connected")
	return c, nil
}

// IsHealthy reports whether Redis is currently usable.
func (c *Cache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Cache) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	if c.failureCount >= c.maxFailures {
		if c.healthy {
			c.logger.Warn().Int("failures", c.failureCount).Msg("redis marked unhealthy")
		}
		c.healthy = false
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		c.logger.Info().Msg("redis recovered")
	}
	c.healthy = true
	c.failureCount = 0
	c.lastCheck = time.Now()
}

// checkHealth pings in the background once the check interval has passed
// while unhealthy.
func (c *Cache) checkHealth() {
	c.mu.RLock()
	shouldCheck := !c.healthy && time.Since(c.lastCheck) >= c.checkInterval
	c.mu.RUnlock()
	if !shouldCheck {
		return
	}

	c.mu.Lock()
	c.lastCheck = time.Now()
	c.mu.Unlock()

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := c.client.Ping(pingCtx).Err(); err == nil {
			c.recordSuccess()
		}
	}()
}

// Get retrieves a raw value. ErrCacheMiss for absent keys.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	c.checkHealth()

	if !c.IsHealthy() {
		return "", ErrCacheUnavailable
	}

	result, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		c.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	c.recordSuccess()
	return result, nil
}

// Set stores a value with a TTL; ttl 0 means no expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.checkHealth()

	if !c.IsHealthy() {
		return ErrCacheUnavailable
	}

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	c.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a cached JSON value.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a JSON value.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.checkHealth()

	if !c.IsHealthy() {
		return ErrCacheUnavailable
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	c.recordSuccess()
	return nil
}

// SetStatus caches a per-symbol status snapshot for external consumers.
func (c *Cache) SetStatus(ctx context.Context, symbol string, status interface{}) error {
	return c.SetJSON(ctx, StatusKey(symbol), status, statusTTL)
}

// Ping checks connectivity and updates the health circuit.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.recordFailure()
		return err
	}
	c.recordSuccess()
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ProviderScoreKey is the cache key for one provider's score on one symbol.
func ProviderScoreKey(provider, symbol string) string {
	return fmt.Sprintf(prefixProviderScore, provider, symbol)
}

// StatusKey is the cache key for a symbol's status snapshot.
func StatusKey(symbol string) string {
	return fmt.Sprintf(prefixStatus, symbol)
}
