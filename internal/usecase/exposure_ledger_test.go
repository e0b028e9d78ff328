package usecase_test

import (
	"testing"

	"github.com/vitos/perp_trade_agent/internal/domain"
	"github.com/vitos/perp_trade_agent/internal/usecase"
)

func TestExposureLedger_Aggregates(t *testing.T) {
	l := usecase.NewExposureLedger(100000)

	l.UpdatePosition(&domain.Position{
		Symbol: "BTC", Side: domain.SideLong, Amount: 1, EntryPrice: 50000, CurrentPrice: 60000,
	})
	l.UpdatePosition(&domain.Position{
		Symbol: "ETH", Side: domain.SideShort, Amount: 5, EntryPrice: 3000, CurrentPrice: 3000,
	})

	state := l.State()
	if state.LongExposure != 60000 {
		t.Errorf("expected long exposure 60000, got %f", state.LongExposure)
	}
	if state.ShortExposure != 15000 {
		t.Errorf("expected short exposure 15000, got %f", state.ShortExposure)
	}
	if state.NetExposure != 45000 {
		t.Errorf("expected net exposure 45000, got %f", state.NetExposure)
	}
	if state.NetLong != 0.45 {
		t.Errorf("expected net long 0.45, got %f", state.NetLong)
	}

	// Updating a symbol replaces, not accumulates
	l.UpdatePosition(&domain.Position{
		Symbol: "BTC", Side: domain.SideLong, Amount: 1, EntryPrice: 50000, CurrentPrice: 50000,
	})
	if got := l.State().LongExposure; got != 50000 {
		t.Errorf("expected long exposure 50000 after update, got %f", got)
	}

	l.RemovePosition("btc")
	if got := l.State().LongExposure; got != 0 {
		t.Errorf("expected long exposure 0 after removal, got %f", got)
	}
}

func TestExposureLedger_ZeroPortfolio(t *testing.T) {
	l := usecase.NewExposureLedger(0)
	l.UpdatePosition(&domain.Position{
		Symbol: "BTC", Side: domain.SideLong, Amount: 1, EntryPrice: 50000, CurrentPrice: 50000,
	})
	if got := l.State().NetLong; got != 0 {
		t.Errorf("expected net long 0 for worthless portfolio, got %f", got)
	}
}
