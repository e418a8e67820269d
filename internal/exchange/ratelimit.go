package exchange

import (
	"context"

	"golang.org/x/time/rate"
)

// Request weights in the exchange's units. Heavier endpoints consume more of
// the budget, matching how the venue meters them.
const (
	weightKlines  = 2
	weightTicker  = 2
	weightOrder   = 1
	weightAccount = 20
)

// RateLimiter is a client-side token bucket over request weights. It keeps
// the bot below the venue's budget so throttling never surfaces as bans.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows roughly rps weight units per second with the given
// burst headroom.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until weight units are available or the context is done.
func (rl *RateLimiter) Wait(ctx context.Context, weight int) error {
	if weight < 1 {
		weight = 1
	}
	if weight > rl.limiter.Burst() {
		weight = rl.limiter.Burst()
	}
	return rl.limiter.WaitN(ctx, weight)
}
