package exchange

import "time"

// PriceBar is one OHLCV candle. Bars are immutable once recorded; the
// indicator window appends them in time order and evicts the oldest.
type PriceBar struct {
	OpenTime  int64   `json:"open_time"` // Unix milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// OpenedAt returns the bar open time as a time.Time.
func (b PriceBar) OpenedAt() time.Time {
	return time.UnixMilli(b.OpenTime)
}

// TypicalPrice is (high + low + close) / 3, used by VWAP.
func (b PriceBar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// OrderRequest describes a new order. Quantity is in the base asset.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          string // "MARKET"
	Quantity      float64
	ClientOrderID string
}

// OrderResult is the exchange's view of an order. FillQuantity is the
// executed quantity, which may be below the requested quantity on a partial
// fill; position tracking always uses FillQuantity, never the request.
type OrderResult struct {
	OrderID       int64       `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Status        OrderStatus `json:"status"`
	FillPrice     float64     `json:"fill_price"` // average price of the filled part
	FillQuantity  float64     `json:"fill_quantity"`
	TransactTime  int64       `json:"transact_time"`
}

// Filled reports whether the order is completely filled.
func (r *OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}

// HasFill reports whether any quantity executed, including partial fills.
func (r *OrderResult) HasFill() bool {
	return r.FillQuantity > 0 &&
		(r.Status == OrderStatusFilled || r.Status == OrderStatusPartiallyFilled)
}

// Terminal reports whether the exchange will not change this order further.
func (r *OrderResult) Terminal() bool {
	switch r.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}
