package usecase_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/domain"
	"github.com/vitos/perp_trade_agent/internal/usecase"
)

func TestReconciler_ConvergesOntoExchange(t *testing.T) {
	ctx := context.Background()
	repo := newMockPositionRepo()
	ex := &mockExchange{}

	// Local store: BTC (ghost, not on exchange) and SOL with a stale amount.
	repo.UpsertPosition(ctx, &domain.Position{
		StrategyID: "test", Symbol: "BTC", Side: domain.SideLong,
		Amount: 1, EntryPrice: 50000, CurrentPrice: 50000,
	})
	repo.UpsertPosition(ctx, &domain.Position{
		StrategyID: "test", Symbol: "SOL", Side: domain.SideLong,
		Amount: 5, EntryPrice: 150, CurrentPrice: 150,
	})

	// Exchange: ETH the store never saw, and SOL grown to 7.
	ex.positions = []*domain.ExchangePosition{
		{Symbol: "ETH", Side: domain.SideLong, Amount: 2, EntryPrice: 3000},
		{Symbol: "SOL", Side: domain.SideLong, Amount: 7, EntryPrice: 150},
	}

	r := usecase.NewReconciler(ex, repo, zap.NewNop())
	stats, err := r.Sync(ctx, "test")
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if stats.Created != 1 || stats.Updated != 1 || stats.Deleted != 1 {
		t.Fatalf("expected 1/1/1, got created=%d updated=%d deleted=%d",
			stats.Created, stats.Updated, stats.Deleted)
	}

	// BTC ghost is gone
	if pos, _ := repo.GetPosition(ctx, "test", "BTC"); pos != nil {
		t.Error("expected BTC ghost to be deleted")
	}

	// ETH created with entry as the initial mark
	eth, _ := repo.GetPosition(ctx, "test", "ETH")
	if eth == nil {
		t.Fatal("expected ETH to be created")
	}
	if eth.Amount != 2 || eth.EntryPrice != 3000 || eth.CurrentPrice != 3000 {
		t.Errorf("unexpected ETH position: %+v", eth)
	}

	// SOL overwritten with the exchange's amount
	sol, _ := repo.GetPosition(ctx, "test", "SOL")
	if sol == nil || sol.Amount != 7 {
		t.Errorf("expected SOL amount 7, got %+v", sol)
	}
}

func TestReconciler_SecondPassIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newMockPositionRepo()
	ex := &mockExchange{positions: []*domain.ExchangePosition{
		{Symbol: "ETH", Side: domain.SideLong, Amount: 2, EntryPrice: 3000},
		{Symbol: "SOL", Side: domain.SideShort, Amount: 10, EntryPrice: 150},
	}}

	r := usecase.NewReconciler(ex, repo, zap.NewNop())

	if _, err := r.Sync(ctx, "test"); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	stats, err := r.Sync(ctx, "test")
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if stats.Created != 0 || stats.Updated != 0 || stats.Deleted != 0 {
		t.Fatalf("expected no-op second pass, got created=%d updated=%d deleted=%d",
			stats.Created, stats.Updated, stats.Deleted)
	}
}

func TestReconciler_IgnoresZeroAmountRows(t *testing.T) {
	ctx := context.Background()
	repo := newMockPositionRepo()

	// Fully closed local row kept for realized-PnL history
	repo.UpsertPosition(ctx, &domain.Position{
		StrategyID: "test", Symbol: "BTC", Side: domain.SideLong,
		Amount: 0, RealizedPnL: 120, UpdatedAt: time.Now(),
	})

	// Exchange reports a settled remnant at zero amount
	ex := &mockExchange{positions: []*domain.ExchangePosition{
		{Symbol: "ETH", Side: domain.SideLong, Amount: 0, EntryPrice: 3000},
	}}

	r := usecase.NewReconciler(ex, repo, zap.NewNop())
	stats, err := r.Sync(ctx, "test")
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if stats.Created != 0 || stats.Updated != 0 || stats.Deleted != 0 {
		t.Fatalf("expected zero-amount rows to be ignored, got %+v", stats)
	}

	// Realized history survives
	btc, _ := repo.GetPosition(ctx, "test", "BTC")
	if btc == nil || btc.RealizedPnL != 120 {
		t.Errorf("expected closed BTC row to survive, got %+v", btc)
	}
}

func TestReconciler_ExchangeFailureAbortsWithoutWrites(t *testing.T) {
	ctx := context.Background()
	repo := newMockPositionRepo()
	repo.UpsertPosition(ctx, &domain.Position{
		StrategyID: "test", Symbol: "BTC", Side: domain.SideLong,
		Amount: 1, EntryPrice: 50000, CurrentPrice: 50000,
	})

	ex := &mockExchange{positionsErr: context.DeadlineExceeded}
	r := usecase.NewReconciler(ex, repo, zap.NewNop())

	if _, err := r.Sync(ctx, "test"); err == nil {
		t.Fatal("expected Sync to fail when the exchange fetch fails")
	}

	// Local ledger untouched
	btc, _ := repo.GetPosition(ctx, "test", "BTC")
	if btc == nil || btc.Amount != 1 {
		t.Errorf("expected local position untouched, got %+v", btc)
	}
}
