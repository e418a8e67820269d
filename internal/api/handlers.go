package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fusion-trading-bot/internal/position"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus returns the bot engine's status document
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.botAPI.Status())
}

// handlePositions returns all open positions
func (s *Server) handlePositions(c *gin.Context) {
	positions := s.botAPI.Positions()
	if positions == nil {
		positions = []position.Position{}
	}
	successResponse(c, positions)
}

// handleTrades returns closed trade history, optionally for one symbol
func (s *Server) handleTrades(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	symbols := s.botAPI.Symbols()
	if symbol := c.Query("symbol"); symbol != "" {
		symbols = []string{symbol}
	}

	trades := []position.ClosedTrade{}
	for _, symbol := range symbols {
		recent, err := s.store.RecentTrades(c.Request.Context(), symbol, limit)
		if err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("trade history query failed")
			errorResponse(c, http.StatusInternalServerError, "trade history unavailable")
			return
		}
		trades = append(trades, recent...)
	}
	successResponse(c, trades)
}

// handleSignals returns the last fused signal per symbol
func (s *Server) handleSignals(c *gin.Context) {
	successResponse(c, s.botAPI.Signals())
}
