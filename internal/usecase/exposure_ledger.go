package usecase

import (
	"strings"
	"sync"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// ExposureState is an immutable snapshot of directional exposure. NetLong is
// net exposure (long minus short) as a fraction of portfolio value, zero when
// the portfolio is worthless.
type ExposureState struct {
	NetExposure   float64 `json:"net_exposure"`
	LongExposure  float64 `json:"long_exposure"`
	ShortExposure float64 `json:"short_exposure"`
	NetLong       float64 `json:"net_long"`
	LongPnLPct    float64 `json:"long_pnl_pct"`
}

// ExposureLedger tracks per-symbol directional exposure in memory. It is fed
// by the engine after every mark-to-market pass and read by the hedge
// coordinator; aggregates are recomputed on each mutation so reads are cheap.
type ExposureLedger struct {
	portfolioValueUSD float64

	mu        sync.RWMutex
	positions map[string]*domain.Position
	state     ExposureState
}

func NewExposureLedger(portfolioValueUSD float64) *ExposureLedger {
	return &ExposureLedger{
		portfolioValueUSD: portfolioValueUSD,
		positions:         make(map[string]*domain.Position),
	}
}

// UpdatePosition records or replaces the tracked position for a symbol.
func (e *ExposureLedger) UpdatePosition(pos *domain.Position) {
	if pos == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *pos
	e.positions[strings.ToUpper(pos.Symbol)] = &cp
	e.recompute()
}

// RemovePosition drops a symbol from the ledger, e.g. after a close or a
// reconciliation delete.
func (e *ExposureLedger) RemovePosition(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, strings.ToUpper(symbol))
	e.recompute()
}

// SetLongPnLPct publishes the aggregate PnL of the long book as a fraction of
// its notional. Computed by the engine during mark-to-market.
func (e *ExposureLedger) SetLongPnLPct(pct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LongPnLPct = pct
}

// Symbols lists the symbols currently tracked, upper-cased.
func (e *ExposureLedger) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.positions))
	for s := range e.positions {
		out = append(out, s)
	}
	return out
}

// State returns the current snapshot.
func (e *ExposureLedger) State() ExposureState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// recompute rebuilds the aggregate view. Caller holds e.mu.
func (e *ExposureLedger) recompute() {
	var long, short float64
	for _, pos := range e.positions {
		notional := pos.Notional()
		switch pos.Side {
		case domain.SideLong:
			long += notional
		case domain.SideShort:
			short += notional
		}
	}

	e.state.LongExposure = long
	e.state.ShortExposure = short
	e.state.NetExposure = long - short
	if e.portfolioValueUSD > 0 {
		e.state.NetLong = e.state.NetExposure / e.portfolioValueUSD
	} else {
		e.state.NetLong = 0
	}
}
