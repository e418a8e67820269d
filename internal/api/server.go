package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"fusion-trading-bot/config"
	"fusion-trading-bot/internal/fusion"
	"fusion-trading-bot/internal/metrics"
	"fusion-trading-bot/internal/position"
	"fusion-trading-bot/internal/store"
)

// RateLimiter provides simple in-memory rate limiting per client IP
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// BotAPI is the read-only view the bot engine exposes to the API server.
// Nothing here mutates trading state.
type BotAPI interface {
	Status() map[string]interface{}
	Symbols() []string
	Positions() []position.Position
	Signals() map[string]fusion.FusedSignal
}

// Server represents the HTTP status API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         config.ServerConfig
	botAPI      BotAPI
	store       store.Store
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	rateLimiter *RateLimiter
	authEnabled bool
	startedAt   time.Time
}

// NewServer creates the API server. metricsReg may be nil when metrics are
// disabled.
func NewServer(cfg config.ServerConfig, botAPI BotAPI, st store.Store, metricsReg *metrics.Metrics, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		var origins []string
		for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 60
	}

	server := &Server{
		router:      router,
		cfg:         cfg,
		botAPI:      botAPI,
		store:       st,
		metrics:     metricsReg,
		logger:      logger.With().Str("component", "api").Logger(),
		rateLimiter: NewRateLimiter(limit, time.Minute),
		authEnabled: cfg.AuthTokenHash != "",
		startedAt:   time.Now(),
	}

	router.Use(server.requestLogger())
	server.setupRoutes()
	return server
}

// requestLogger logs each request through the structured log.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// rateLimitMiddleware limits requests per client IP.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// authMiddleware compares the bearer token against the configured bcrypt
// hash. An empty hash disables auth entirely.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authEnabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			errorResponse(c, http.StatusUnauthorized, "missing bearer token")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthTokenHash), []byte(token)); err != nil {
			errorResponse(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.metrics != nil && s.cfg.ExposeMetrics {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api/v1")
	api.Use(s.rateLimitMiddleware())
	api.Use(s.authMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/signals", s.handleSignals)
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	readTimeout := time.Duration(s.cfg.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
