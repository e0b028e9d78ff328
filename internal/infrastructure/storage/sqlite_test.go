package storage

import (
	"context"
	"testing"
	"time"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOrders_SaveListUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := &domain.Order{
		OrderID:       "ex-1",
		ClientOrderID: "client-1",
		StrategyID:    "test",
		Symbol:        "BTC",
		Side:          domain.OrderSideBid,
		Type:          domain.OrderTypeMarket,
		Amount:        0.1,
		Price:         50000,
		Status:        domain.OrderStatusSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      map[string]string{"signal_type": "buy"},
	}
	if err := store.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder failed: %v", err)
	}

	// Duplicate client IDs are rejected by the schema
	if err := store.SaveOrder(ctx, order); err == nil {
		t.Error("expected duplicate client_order_id to fail")
	}

	if err := store.UpdateOrderStatus(ctx, "client-1", domain.OrderStatusFilled); err != nil {
		t.Fatalf("UpdateOrderStatus failed: %v", err)
	}
	if err := store.UpdateOrderStatus(ctx, "missing", domain.OrderStatusFilled); err == nil {
		t.Error("expected update of missing order to fail")
	}

	orders, err := store.ListOrders(ctx, "test", 10)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	got := orders[0]
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("expected filled status, got %s", got.Status)
	}
	if got.Metadata["signal_type"] != "buy" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}
}

func TestPositions_UpsertAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pos := &domain.Position{
		StrategyID:   "test",
		Symbol:       "BTC",
		Side:         domain.SideLong,
		Amount:       0.5,
		EntryPrice:   50000,
		CurrentPrice: 50000,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	if err := store.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("UpsertPosition failed: %v", err)
	}

	// Second upsert for the same (strategy, symbol) updates in place
	pos.Amount = 0.7
	pos.CurrentPrice = 52000
	pos.UnrealizedPnL = 1400
	if err := store.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("second UpsertPosition failed: %v", err)
	}

	got, err := store.GetPosition(ctx, "test", "BTC")
	if err != nil {
		t.Fatalf("GetPosition failed: %v", err)
	}
	if got == nil || got.Amount != 0.7 || got.CurrentPrice != 52000 {
		t.Errorf("unexpected position: %+v", got)
	}

	all, err := store.ListPositions(ctx, "test")
	if err != nil {
		t.Fatalf("ListPositions failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 position after upsert, got %d", len(all))
	}

	// Absent rows are (nil, nil), not an error
	missing, err := store.GetPosition(ctx, "test", "ETH")
	if err != nil {
		t.Fatalf("GetPosition for absent symbol failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for absent position, got %+v", missing)
	}

	if err := store.DeletePosition(ctx, "test", "BTC"); err != nil {
		t.Fatalf("DeletePosition failed: %v", err)
	}
	got, _ = store.GetPosition(ctx, "test", "BTC")
	if got != nil {
		t.Errorf("expected position gone after delete, got %+v", got)
	}
}

func TestPositions_PnLSums(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	positions := []*domain.Position{
		{StrategyID: "test", Symbol: "BTC", Side: domain.SideLong, Amount: 1, EntryPrice: 50000,
			UnrealizedPnL: 500, RealizedPnL: 100, OpenedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-36 * time.Hour)},
		{StrategyID: "test", Symbol: "ETH", Side: domain.SideShort, Amount: 2, EntryPrice: 3000,
			UnrealizedPnL: -200, RealizedPnL: -50, OpenedAt: now, UpdatedAt: now},
		{StrategyID: "other", Symbol: "SOL", Side: domain.SideLong, Amount: 5, EntryPrice: 150,
			UnrealizedPnL: 999, RealizedPnL: 999, OpenedAt: now, UpdatedAt: now},
	}
	for _, p := range positions {
		if err := store.UpsertPosition(ctx, p); err != nil {
			t.Fatalf("UpsertPosition failed: %v", err)
		}
	}

	unrealized, err := store.SumUnrealizedPnL(ctx, "test")
	if err != nil {
		t.Fatalf("SumUnrealizedPnL failed: %v", err)
	}
	if unrealized != 300 {
		t.Errorf("expected unrealized 300, got %f", unrealized)
	}

	realized, err := store.SumRealizedPnL(ctx, "test")
	if err != nil {
		t.Fatalf("SumRealizedPnL failed: %v", err)
	}
	if realized != 50 {
		t.Errorf("expected realized 50, got %f", realized)
	}

	// Only rows touched since the cutoff count
	since, err := store.SumRealizedPnLSince(ctx, "test", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SumRealizedPnLSince failed: %v", err)
	}
	if since != -50 {
		t.Errorf("expected realized since -50, got %f", since)
	}

	// Empty strategy sums to zero, not NULL
	empty, err := store.SumUnrealizedPnL(ctx, "nobody")
	if err != nil {
		t.Fatalf("SumUnrealizedPnL for empty strategy failed: %v", err)
	}
	if empty != 0 {
		t.Errorf("expected 0, got %f", empty)
	}
}
