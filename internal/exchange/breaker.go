package exchange

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// newFeedBreaker builds the circuit breaker guarding market data calls. When
// open, feed calls short-circuit to ErrFeedUnavailable and the loop backs
// off instead of hammering a failing endpoint.
func newFeedBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return errorRate >= 0.6 || counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("feed circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}
