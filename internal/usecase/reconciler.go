package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// SyncStats summarizes one reconciliation pass.
type SyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// Reconciler converges the local position ledger onto the exchange's view.
// The exchange is authoritative: ghosts in the local store are deleted,
// positions the store never saw are inserted, and mismatched fields are
// overwritten. A matching position is left untouched, so running a sync
// twice in a row reports zero changes on the second pass.
type Reconciler struct {
	exchange  domain.Exchange
	positions domain.PositionRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(exchange domain.Exchange, positions domain.PositionRepository, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		exchange:  exchange,
		positions: positions,
		logger:    logger,
		now:       time.Now,
	}
}

const floatTolerance = 1e-9

func floatsDiffer(a, b float64) bool {
	d := a - b
	return d > floatTolerance || d < -floatTolerance
}

// Sync runs one reconciliation pass for a strategy. A failed exchange fetch
// aborts the pass with no local writes.
func (r *Reconciler) Sync(ctx context.Context, strategyID string) (SyncStats, error) {
	var stats SyncStats

	remote, err := r.exchange.GetPositions(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch exchange positions: %w", err)
	}

	// Zero-amount rows are settled remnants, not open positions.
	remoteBySymbol := make(map[string]domain.ExchangePosition)
	for _, p := range remote {
		if p.Amount > 0 {
			remoteBySymbol[strings.ToUpper(p.Symbol)] = *p
		}
	}

	local, err := r.positions.ListPositions(ctx, strategyID)
	if err != nil {
		return stats, fmt.Errorf("failed to list local positions: %w", err)
	}

	// Rows with zero amount are closed positions kept for realized-PnL
	// history; they are neither ghosts nor candidates for conflict checks.
	localBySymbol := make(map[string]*domain.Position, len(local))
	for _, p := range local {
		if p.Amount > 0 {
			localBySymbol[strings.ToUpper(p.Symbol)] = p
		}
	}

	now := r.now()

	for symbol, remotePos := range remoteBySymbol {
		localPos, ok := localBySymbol[symbol]
		if !ok {
			created := &domain.Position{
				StrategyID:   strategyID,
				Symbol:       symbol,
				Side:         remotePos.Side,
				Amount:       remotePos.Amount,
				EntryPrice:   remotePos.EntryPrice,
				CurrentPrice: remotePos.EntryPrice,
				OpenedAt:     now,
				UpdatedAt:    now,
				Metadata:     map[string]string{"source": "reconciliation"},
			}
			if err := r.positions.UpsertPosition(ctx, created); err != nil {
				return stats, fmt.Errorf("failed to create position %s: %w", symbol, err)
			}
			r.logger.Info("reconciliation created missing position",
				zap.String("symbol", symbol),
				zap.String("side", string(remotePos.Side)),
				zap.Float64("amount", remotePos.Amount))
			stats.Created++
			continue
		}

		if localPos.Side == remotePos.Side &&
			!floatsDiffer(localPos.Amount, remotePos.Amount) &&
			!floatsDiffer(localPos.EntryPrice, remotePos.EntryPrice) {
			continue
		}

		r.logger.Warn("reconciliation overwriting local position",
			zap.String("symbol", symbol),
			zap.String("local_side", string(localPos.Side)),
			zap.String("remote_side", string(remotePos.Side)),
			zap.Float64("local_amount", localPos.Amount),
			zap.Float64("remote_amount", remotePos.Amount),
			zap.Float64("local_entry", localPos.EntryPrice),
			zap.Float64("remote_entry", remotePos.EntryPrice))

		localPos.Side = remotePos.Side
		localPos.Amount = remotePos.Amount
		localPos.EntryPrice = remotePos.EntryPrice
		localPos.UpdatedAt = now
		if err := r.positions.UpsertPosition(ctx, localPos); err != nil {
			return stats, fmt.Errorf("failed to update position %s: %w", symbol, err)
		}
		stats.Updated++
	}

	for symbol := range localBySymbol {
		if _, ok := remoteBySymbol[symbol]; ok {
			continue
		}
		if err := r.positions.DeletePosition(ctx, strategyID, symbol); err != nil {
			return stats, fmt.Errorf("failed to delete ghost position %s: %w", symbol, err)
		}
		r.logger.Info("reconciliation deleted ghost position", zap.String("symbol", symbol))
		stats.Deleted++
	}

	if stats.Created > 0 || stats.Updated > 0 || stats.Deleted > 0 {
		r.logger.Info("reconciliation pass complete",
			zap.Int("created", stats.Created),
			zap.Int("updated", stats.Updated),
			zap.Int("deleted", stats.Deleted))
	}
	return stats, nil
}
