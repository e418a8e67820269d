package exchange

import "context"

// Client is the boundary to the exchange. The decision loop only talks to
// this interface; live REST and paper simulation both implement it.
type Client interface {
	// FetchRecentBars returns up to limit bars in ascending time order, the
	// last one being the most recent closed bar.
	FetchRecentBars(ctx context.Context, symbol, interval string, limit int) ([]PriceBar, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetQuoteBalance returns the free quote-currency balance used as equity
	// by the position sizer.
	GetQuoteBalance(ctx context.Context) (float64, error)
	// GetBaseBalance returns the free base-asset balance for a symbol.
	// Startup reconciliation uses it to verify a persisted position is
	// actually covered by the account.
	GetBaseBalance(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// Ensure both implementations satisfy the interface.
var _ Client = (*RESTClient)(nil)
var _ Client = (*PaperClient)(nil)
