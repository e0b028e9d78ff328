package domain

import "time"

type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusFailed    OrderStatus = "failed"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Order is the audit record for one accepted signal. Created exactly once per
// submission; immutable except fill fields and status.
type Order struct {
	OrderID       string // exchange-assigned
	ClientOrderID string // locally generated idempotency key
	StrategyID    string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Amount        float64
	Price         float64
	FilledAmount  float64
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      map[string]string
}

// MarketOrderRequest is what the engine hands to the exchange adapter.
// Amounts and prices are raw; the adapter normalizes them to the symbol's
// lot and tick grids before submission.
type MarketOrderRequest struct {
	Symbol        string
	Side          OrderSide
	Amount        float64
	ReduceOnly    bool
	SlippagePct   float64
	ClientOrderID string
	StopLoss      float64 // 0 = none
	TakeProfit    float64 // 0 = none
	EntryPrice    float64 // reference price for TP/SL validation
}

// OrderAck is the exchange's confirmation of an accepted order. Amount is
// the size the venue accepted after lot-grid normalization, which may be
// smaller than requested.
type OrderAck struct {
	OrderID string
	Status  OrderStatus
	Amount  float64
}
