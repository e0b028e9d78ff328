package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/config"
	"github.com/vitos/perp_trade_agent/internal/domain"
)

// StrategySet groups the strategy instances by family. The regime detector
// picks which momentum family is live each cycle; the hedge families only
// run when the hedge coordinator activates them.
type StrategySet struct {
	MomentumLong  []domain.Strategy
	MomentumShort []domain.Strategy
	MRLongHedge   []domain.Strategy
	MRShortHedge  []domain.Strategy
}

// Engine drives the trading cycle: reconcile, mark to market, detect the
// regime, run the live strategies through the risk gate, and re-check
// exposure for hedge activation. One cycle is single-threaded; every
// external call gets its own timeout so a stuck venue cannot wedge the loop.
type Engine struct {
	exchange   domain.Exchange
	market     domain.MarketData
	orders     domain.OrderRepository
	positions  domain.PositionRepository
	gate       *RiskGate
	ledger     *ExposureLedger
	hedges     *HedgeCoordinator
	reconciler *Reconciler
	regime     *RegimeDetector
	loader     *config.Loader
	strategies StrategySet
	logger     *zap.Logger

	strategyID    string
	cycleInterval time.Duration
	callTimeout   time.Duration

	newID func() string
	now   func() time.Time

	// stateMu guards the last-cycle snapshot read by the web handlers
	// while the cycle goroutine is writing it.
	stateMu    sync.RWMutex
	lastRegime MarketRegime
	lastSync   SyncStats
}

type EngineParams struct {
	Exchange   domain.Exchange
	Market     domain.MarketData
	Orders     domain.OrderRepository
	Positions  domain.PositionRepository
	Gate       *RiskGate
	Ledger     *ExposureLedger
	Hedges     *HedgeCoordinator
	Reconciler *Reconciler
	Regime     *RegimeDetector
	Loader     *config.Loader
	Strategies StrategySet
	Logger     *zap.Logger

	StrategyID    string
	CycleInterval time.Duration
	CallTimeout   time.Duration
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		exchange:      p.Exchange,
		market:        p.Market,
		orders:        p.Orders,
		positions:     p.Positions,
		gate:          p.Gate,
		ledger:        p.Ledger,
		hedges:        p.Hedges,
		reconciler:    p.Reconciler,
		regime:        p.Regime,
		loader:        p.Loader,
		strategies:    p.Strategies,
		logger:        p.Logger,
		strategyID:    p.StrategyID,
		cycleInterval: p.CycleInterval,
		callTimeout:   p.CallTimeout,
		newID:         uuid.NewString,
		now:           time.Now,
		lastRegime:    RegimeSideways,
	}
}

// SetIDGenerator overrides client order ID generation. Test hook.
func (e *Engine) SetIDGenerator(newID func() string) { e.newID = newID }

// LastRegime returns the regime from the most recent cycle.
func (e *Engine) LastRegime() MarketRegime {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lastRegime
}

// LastSync returns the reconciliation stats from the most recent cycle.
func (e *Engine) LastSync() SyncStats {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.lastSync
}

// Run executes cycles on the configured interval until the context is
// canceled. The first cycle runs immediately.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		zap.String("strategy_id", e.strategyID),
		zap.Duration("cycle_interval", e.cycleInterval))

	ticker := time.NewTicker(e.cycleInterval)
	defer ticker.Stop()

	e.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return ctx.Err()
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full trading cycle. Faults in one step are logged
// and the cycle moves on; only context cancellation stops it.
func (e *Engine) RunCycle(ctx context.Context) {
	start := e.now()

	// 1. Pick up risk limit edits without a restart.
	if reloaded, err := e.loader.ReloadIfChanged(); err != nil {
		e.logger.Warn("config reload failed, keeping previous limits", zap.Error(err))
	} else if reloaded {
		e.logger.Info("risk limits reloaded")
	}

	// 2. Converge the local ledger onto the exchange before trading on it.
	syncCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	stats, err := e.reconciler.Sync(syncCtx, e.strategyID)
	cancel()
	if err != nil {
		e.logger.Error("reconciliation failed, trading on stale ledger", zap.Error(err))
	} else {
		e.stateMu.Lock()
		e.lastSync = stats
		e.stateMu.Unlock()
	}

	// 3. Refresh marks and the exposure view.
	if err := e.markToMarket(ctx); err != nil {
		e.logger.Error("mark-to-market failed", zap.Error(err))
	}

	// 4. Regime selects the live momentum family.
	regimeCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	regime := e.regime.Detect(regimeCtx)
	cancel()
	e.stateMu.Lock()
	e.lastRegime = regime
	e.stateMu.Unlock()

	// 5. Run the live strategies.
	for _, strat := range e.activeStrategies(regime) {
		if ctx.Err() != nil {
			return
		}
		e.processStrategy(ctx, strat)
	}

	// 6. Hedge re-pass on the post-trade exposure snapshot.
	action := e.hedges.EvaluateWithCircuitBreaker(e.ledger.State())
	for _, strat := range e.hedgeStrategies(action) {
		if ctx.Err() != nil {
			return
		}
		e.processStrategy(ctx, strat)
	}

	e.logger.Info("cycle complete",
		zap.String("regime", string(regime)),
		zap.String("hedge_action", string(action)),
		zap.Duration("elapsed", e.now().Sub(start)))
}

// activeStrategies returns the momentum strategies live under the given
// regime. Sideways markets run both directions.
func (e *Engine) activeStrategies(regime MarketRegime) []domain.Strategy {
	switch regime {
	case RegimeBull:
		return e.strategies.MomentumLong
	case RegimeBear:
		return e.strategies.MomentumShort
	default:
		out := make([]domain.Strategy, 0, len(e.strategies.MomentumLong)+len(e.strategies.MomentumShort))
		out = append(out, e.strategies.MomentumLong...)
		out = append(out, e.strategies.MomentumShort...)
		return out
	}
}

func (e *Engine) hedgeStrategies(action HedgeAction) []domain.Strategy {
	switch action {
	case HedgeActivateMRLongs:
		return e.strategies.MRLongHedge
	case HedgeActivateMRShorts:
		return e.strategies.MRShortHedge
	default:
		return nil
	}
}

// markToMarket refreshes current prices and unrealized PnL for all open
// positions from the market cache, persists them, and rebuilds the exposure
// ledger, including the long book's aggregate PnL fraction.
func (e *Engine) markToMarket(ctx context.Context) error {
	positions, err := e.positions.ListPositions(ctx, e.strategyID)
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}

	var longNotional, longPnL float64
	seen := make(map[string]bool)

	for _, pos := range positions {
		if pos.Amount <= 0 {
			continue
		}
		seen[strings.ToUpper(pos.Symbol)] = true

		if snap, ok := e.market.Snapshot(pos.Symbol); ok {
			pos.CurrentPrice = snap.Price
			pos.UnrealizedPnL = unrealizedPnL(pos)
			pos.UpdatedAt = e.now()
			if err := e.positions.UpsertPosition(ctx, pos); err != nil {
				e.logger.Error("failed to persist mark", zap.String("symbol", pos.Symbol), zap.Error(err))
			}
		}

		e.ledger.UpdatePosition(pos)
		if pos.Side == domain.SideLong {
			longNotional += pos.EntryPrice * pos.Amount
			longPnL += pos.UnrealizedPnL
		}
	}

	// Drop ledger entries for symbols no longer open.
	for _, symbol := range e.ledger.Symbols() {
		if !seen[symbol] {
			e.ledger.RemovePosition(symbol)
		}
	}

	if longNotional > 0 {
		e.ledger.SetLongPnLPct(longPnL / longNotional)
	} else {
		e.ledger.SetLongPnLPct(0)
	}
	return nil
}

func unrealizedPnL(pos *domain.Position) float64 {
	if pos.Side == domain.SideShort {
		return (pos.EntryPrice - pos.CurrentPrice) * pos.Amount
	}
	return (pos.CurrentPrice - pos.EntryPrice) * pos.Amount
}

// processStrategy runs substeps for one strategy: snapshot, position load,
// signal generation, risk evaluation, submission, persistence, and TP/SL
// attachment. Any failure is logged and skips only this strategy.
func (e *Engine) processStrategy(ctx context.Context, strat domain.Strategy) {
	symbol := strat.Symbol()
	log := e.logger.With(zap.String("strategy", strat.StrategyID()), zap.String("symbol", symbol))

	snap, ok := e.market.Snapshot(symbol)
	if !ok {
		log.Debug("no market data yet, skipping")
		return
	}

	pos, err := e.positions.GetPosition(ctx, e.strategyID, symbol)
	if err != nil {
		log.Error("failed to load position", zap.Error(err))
		return
	}
	if pos != nil && pos.Amount <= 0 {
		pos = nil
	}

	sigCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	signal, err := strat.GenerateSignal(sigCtx, snap, pos)
	cancel()
	if err != nil {
		log.Error("signal generation failed", zap.Error(err))
		return
	}
	if signal == nil {
		return
	}

	e.executeSignal(ctx, log, signal)
}

// executeSignal takes a validated signal through the gate and, on approval,
// to the exchange. The client order ID is generated before any network call
// so a retry after an ambiguous failure reuses the same idempotency key.
func (e *Engine) executeSignal(ctx context.Context, log *zap.Logger, signal *domain.TradingSignal) {
	side := signal.OrderSide()

	decision, err := e.gate.Evaluate(ctx, e.strategyID, signal.Symbol, side, signal.Amount, signal.Price, domain.OrderTypeMarket)
	if err != nil {
		// Fail closed: an unevaluable order is a rejected order.
		log.Error("risk evaluation failed, rejecting order", zap.Error(err))
		return
	}
	log.Info("risk decision",
		zap.Bool("approved", decision.Approved),
		zap.String("reason", decision.Reason),
		zap.String("signal", string(signal.Type)),
		zap.Float64("amount", signal.Amount),
		zap.Float64("price", signal.Price))
	if !decision.Approved {
		return
	}

	clientOrderID := e.newID()
	req := domain.MarketOrderRequest{
		Symbol:        signal.Symbol,
		Side:          side,
		Amount:        signal.Amount,
		ReduceOnly:    signal.IsClosing(),
		ClientOrderID: clientOrderID,
	}

	orderCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	ack, err := e.exchange.CreateMarketOrder(orderCtx, req)
	cancel()

	now := e.now()
	record := &domain.Order{
		ClientOrderID: clientOrderID,
		StrategyID:    e.strategyID,
		Symbol:        signal.Symbol,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Amount:        signal.Amount,
		Price:         signal.Price,
		CreatedAt:     now,
		UpdatedAt:     now,
		Metadata:      map[string]string{"signal_type": string(signal.Type)},
	}

	if err != nil {
		log.Error("order submission failed", zap.String("client_order_id", clientOrderID), zap.Error(err))
		record.Status = domain.OrderStatusFailed
		if saveErr := e.orders.SaveOrder(ctx, record); saveErr != nil {
			log.Error("PERSISTENCE FAULT: failed order not recorded", zap.Error(saveErr))
		}
		return
	}

	// The adapter floors the amount to the lot grid, so the venue may hold
	// less than the signal asked for. The audit trail and the local ledger
	// record what was actually accepted.
	filled := ack.Amount
	if filled <= 0 {
		filled = signal.Amount
	}

	record.OrderID = ack.OrderID
	record.Status = ack.Status
	record.Amount = filled
	if err := e.orders.SaveOrder(ctx, record); err != nil {
		// The order is live on the exchange but missing from the audit trail.
		log.Error("PERSISTENCE FAULT: live order not recorded",
			zap.String("order_id", ack.OrderID),
			zap.String("client_order_id", clientOrderID),
			zap.Error(err))
	}

	// Budget is only consumed once the venue accepted the order.
	e.gate.RecordTrade(signal.Symbol)

	if err := e.applyFill(ctx, signal, filled); err != nil {
		log.Error("PERSISTENCE FAULT: position not updated after fill", zap.Error(err))
	}

	if !signal.IsClosing() && (signal.StopLoss > 0 || signal.TakeProfit > 0) {
		if err := e.attachTPSL(ctx, signal, side); err != nil {
			log.Warn("TP/SL attach failed, position is unprotected", zap.Error(err))
		}
	}

	log.Info("order submitted",
		zap.String("order_id", ack.OrderID),
		zap.String("client_order_id", clientOrderID),
		zap.String("side", string(side)))
}

// attachTPSL waits for the position to appear on the exchange, then sets the
// protective orders. Polling is bounded; a position that never materializes
// leaves the attach to the next cycle's reconciliation-aware retry.
func (e *Engine) attachTPSL(ctx context.Context, signal *domain.TradingSignal, side domain.OrderSide) error {
	const (
		pollAttempts = 5
		pollInterval = 500 * time.Millisecond
	)

	var pos *domain.ExchangePosition
	for i := 0; i < pollAttempts; i++ {
		posCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		p, err := e.exchange.GetPosition(posCtx, signal.Symbol)
		cancel()
		if err == nil && p != nil {
			pos = p
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if pos == nil {
		return fmt.Errorf("position for %s not visible after %d polls", signal.Symbol, pollAttempts)
	}

	// The adapter validates the levels against the entry the exchange
	// actually reports, so a wrong-side leg never reaches the venue.
	tpslCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.exchange.SetPositionTPSL(tpslCtx, signal.Symbol, side, pos.EntryPrice, signal.StopLoss, signal.TakeProfit)
}

// applyFill updates the local position ledger optimistically after a
// submission. The next reconciliation pass corrects any drift against the
// exchange.
func (e *Engine) applyFill(ctx context.Context, signal *domain.TradingSignal, amount float64) error {
	pos, err := e.positions.GetPosition(ctx, e.strategyID, signal.Symbol)
	if err != nil {
		return err
	}
	now := e.now()

	if signal.IsClosing() {
		if pos == nil || pos.Amount <= 0 {
			return nil
		}
		closed := amount
		if closed > pos.Amount {
			closed = pos.Amount
		}
		var realized float64
		if pos.Side == domain.SideShort {
			realized = (pos.EntryPrice - signal.Price) * closed
		} else {
			realized = (signal.Price - pos.EntryPrice) * closed
		}
		pos.Amount -= closed
		pos.RealizedPnL += realized
		pos.CurrentPrice = signal.Price
		pos.UpdatedAt = now
		if pos.Amount <= 0 {
			pos.Amount = 0
			pos.UnrealizedPnL = 0
			e.ledger.RemovePosition(signal.Symbol)
		} else {
			pos.UnrealizedPnL = unrealizedPnL(pos)
			e.ledger.UpdatePosition(pos)
		}
		return e.positions.UpsertPosition(ctx, pos)
	}

	side := domain.SideLong
	if signal.Type == domain.SignalSell {
		side = domain.SideShort
	}

	if pos == nil || pos.Amount <= 0 {
		var opened time.Time
		var realized float64
		if pos != nil {
			opened = pos.OpenedAt
			realized = pos.RealizedPnL
		} else {
			opened = now
		}
		pos = &domain.Position{
			StrategyID:   e.strategyID,
			Symbol:       signal.Symbol,
			Side:         side,
			Amount:       amount,
			EntryPrice:   signal.Price,
			CurrentPrice: signal.Price,
			RealizedPnL:  realized,
			OpenedAt:     opened,
			UpdatedAt:    now,
			Metadata:     map[string]string{"signal_type": string(signal.Type)},
		}
	} else if pos.Side == side {
		// Scale in: volume-weighted entry.
		total := pos.Amount + amount
		pos.EntryPrice = (pos.EntryPrice*pos.Amount + signal.Price*amount) / total
		pos.Amount = total
		pos.CurrentPrice = signal.Price
		pos.UnrealizedPnL = unrealizedPnL(pos)
		pos.UpdatedAt = now
	} else {
		// Opposite-side opens without a close signal are a strategy bug;
		// reconciliation will surface what the exchange actually holds.
		return fmt.Errorf("refusing to flip %s position via %s signal", pos.Side, signal.Type)
	}

	e.ledger.UpdatePosition(pos)
	return e.positions.UpsertPosition(ctx, pos)
}
