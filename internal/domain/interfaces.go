package domain

import (
	"context"
	"time"
)

// Exchange defines the operations the engine consumes from the venue.
type Exchange interface {
	CreateMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (*OrderAck, error)
	GetPositions(ctx context.Context) ([]*ExchangePosition, error)
	GetPosition(ctx context.Context, symbol string) (*ExchangePosition, error)
	SetPositionTPSL(ctx context.Context, symbol string, side OrderSide, entryPrice, stopLoss, takeProfit float64) error
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// MarketData serves the latest snapshot per symbol. The boolean is false when
// no data has been seen for the symbol yet.
type MarketData interface {
	Snapshot(symbol string) (*MarketSnapshot, bool)
}

// Strategy produces trading signals. Signal arithmetic is the strategy's
// business; the engine treats the result as opaque.
type Strategy interface {
	StrategyID() string
	Symbol() string
	GenerateSignal(ctx context.Context, snapshot *MarketSnapshot, position *Position) (*TradingSignal, error)
}

// OrderRepository defines storage operations for orders.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	UpdateOrderStatus(ctx context.Context, clientOrderID string, status OrderStatus) error
	ListOrders(ctx context.Context, strategyID string, limit int) ([]*Order, error)
}

// PositionRepository defines storage operations for the local position ledger.
// GetPosition returns (nil, nil) when no row exists.
type PositionRepository interface {
	UpsertPosition(ctx context.Context, pos *Position) error
	GetPosition(ctx context.Context, strategyID, symbol string) (*Position, error)
	ListPositions(ctx context.Context, strategyID string) ([]*Position, error)
	DeletePosition(ctx context.Context, strategyID, symbol string) error
	SumUnrealizedPnL(ctx context.Context, strategyID string) (float64, error)
	SumRealizedPnL(ctx context.Context, strategyID string) (float64, error)
	SumRealizedPnLSince(ctx context.Context, strategyID string, since time.Time) (float64, error)
}
