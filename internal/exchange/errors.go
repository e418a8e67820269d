package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedUnavailable marks transient market data failures. The decision
	// loop holds and retries with backoff; it never trades through it.
	ErrFeedUnavailable = errors.New("exchange: feed unavailable")

	// ErrInvalidSymbol is fatal for the symbol's loop, not retried.
	ErrInvalidSymbol = errors.New("exchange: invalid symbol")

	// ErrOrderNotFound is returned by order status lookups for unknown IDs.
	ErrOrderNotFound = errors.New("exchange: order not found")

	// ErrFillTimeout means an order stayed unconfirmed through the allowed
	// number of status checks. The caller must reconcile, never assume.
	ErrFillTimeout = errors.New("exchange: fill confirmation timed out")
)

// RejectedError reports an order the exchange refused, e.g. below the
// minimum notional.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("exchange: order rejected (code %d): %s", e.Code, e.Reason)
}

// IsTransient reports whether an error is worth retrying on the next tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFeedUnavailable)
}
