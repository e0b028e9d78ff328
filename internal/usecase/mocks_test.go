package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// mockPositionRepo is an in-memory domain.PositionRepository.
type mockPositionRepo struct {
	mu        sync.Mutex
	positions map[string]*domain.Position // keyed by symbol, single strategy
	failAll   bool
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{positions: make(map[string]*domain.Position)}
}

func (m *mockPositionRepo) UpsertPosition(_ context.Context, pos *domain.Position) error {
	if m.failAll {
		return fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.positions[strings.ToUpper(pos.Symbol)] = &cp
	return nil
}

func (m *mockPositionRepo) GetPosition(_ context.Context, _, symbol string) (*domain.Position, error) {
	if m.failAll {
		return nil, fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (m *mockPositionRepo) ListPositions(_ context.Context, _ string) ([]*domain.Position, error) {
	if m.failAll {
		return nil, fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockPositionRepo) DeletePosition(_ context.Context, _, symbol string) error {
	if m.failAll {
		return fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, strings.ToUpper(symbol))
	return nil
}

func (m *mockPositionRepo) SumUnrealizedPnL(_ context.Context, _ string) (float64, error) {
	if m.failAll {
		return 0, fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, pos := range m.positions {
		sum += pos.UnrealizedPnL
	}
	return sum, nil
}

func (m *mockPositionRepo) SumRealizedPnL(_ context.Context, _ string) (float64, error) {
	if m.failAll {
		return 0, fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, pos := range m.positions {
		sum += pos.RealizedPnL
	}
	return sum, nil
}

func (m *mockPositionRepo) SumRealizedPnLSince(_ context.Context, _ string, since time.Time) (float64, error) {
	if m.failAll {
		return 0, fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, pos := range m.positions {
		if !pos.UpdatedAt.Before(since) {
			sum += pos.RealizedPnL
		}
	}
	return sum, nil
}

// mockOrderRepo records saved orders.
type mockOrderRepo struct {
	mu     sync.Mutex
	orders []*domain.Order
	fail   bool
}

func (m *mockOrderRepo) SaveOrder(_ context.Context, order *domain.Order) error {
	if m.fail {
		return fmt.Errorf("repo unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	m.orders = append(m.orders, &cp)
	return nil
}

func (m *mockOrderRepo) UpdateOrderStatus(_ context.Context, clientOrderID string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ClientOrderID == clientOrderID {
			o.Status = status
			return nil
		}
	}
	return fmt.Errorf("order not found: %s", clientOrderID)
}

func (m *mockOrderRepo) ListOrders(_ context.Context, _ string, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Order, 0, len(m.orders))
	for i := len(m.orders) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *m.orders[i]
		out = append(out, &cp)
	}
	return out, nil
}

// mockExchange is a scriptable domain.Exchange.
type mockExchange struct {
	mu sync.Mutex

	positions    []*domain.ExchangePosition
	positionsErr error

	createdOrders []domain.MarketOrderRequest
	createErr     error
	nextOrderID   int
	ackAmount     float64 // nonzero simulates lot-grid flooring on the venue side

	tpslCalls []tpslCall
	tpslErr   error

	candles    []domain.Candle
	candlesErr error
}

type tpslCall struct {
	Symbol     string
	Side       domain.OrderSide
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

func (m *mockExchange) CreateMarketOrder(_ context.Context, req domain.MarketOrderRequest) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createdOrders = append(m.createdOrders, req)
	m.nextOrderID++
	accepted := req.Amount
	if m.ackAmount > 0 {
		accepted = m.ackAmount
	}
	return &domain.OrderAck{
		OrderID: fmt.Sprintf("ex-%d", m.nextOrderID),
		Status:  domain.OrderStatusSubmitted,
		Amount:  accepted,
	}, nil
}

func (m *mockExchange) CancelOrder(_ context.Context, _ string) error { return nil }

func (m *mockExchange) GetOrderStatus(_ context.Context, orderID string) (*domain.OrderAck, error) {
	return &domain.OrderAck{OrderID: orderID, Status: domain.OrderStatusFilled}, nil
}

func (m *mockExchange) GetPositions(_ context.Context) ([]*domain.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positionsErr != nil {
		return nil, m.positionsErr
	}
	out := make([]*domain.ExchangePosition, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockExchange) GetPosition(_ context.Context, symbol string) (*domain.ExchangePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.Symbol == symbol && p.Amount > 0 {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockExchange) SetPositionTPSL(_ context.Context, symbol string, side domain.OrderSide, entryPrice, stopLoss, takeProfit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tpslErr != nil {
		return m.tpslErr
	}
	m.tpslCalls = append(m.tpslCalls, tpslCall{Symbol: symbol, Side: side, EntryPrice: entryPrice, StopLoss: stopLoss, TakeProfit: takeProfit})
	return nil
}

func (m *mockExchange) GetCandles(_ context.Context, _, _ string, _ int) ([]domain.Candle, error) {
	if m.candlesErr != nil {
		return nil, m.candlesErr
	}
	return m.candles, nil
}

// mockMarket serves canned snapshots.
type mockMarket struct {
	snapshots map[string]*domain.MarketSnapshot
}

func (m *mockMarket) Snapshot(symbol string) (*domain.MarketSnapshot, bool) {
	snap, ok := m.snapshots[strings.ToUpper(symbol)]
	return snap, ok
}

// stubStrategy emits a fixed signal once per call.
type stubStrategy struct {
	id     string
	symbol string
	signal *domain.TradingSignal
	err    error
	calls  int
}

func (s *stubStrategy) StrategyID() string { return s.id }
func (s *stubStrategy) Symbol() string     { return s.symbol }

func (s *stubStrategy) GenerateSignal(_ context.Context, _ *domain.MarketSnapshot, _ *domain.Position) (*domain.TradingSignal, error) {
	s.calls++
	return s.signal, s.err
}
