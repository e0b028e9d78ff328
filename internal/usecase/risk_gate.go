package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/config"
	"github.com/vitos/perp_trade_agent/internal/domain"
)

// takerFeeRate is the venue's taker fee, applied twice for a round trip.
const takerFeeRate = 0.0004

// Decision is the outcome of a risk evaluation. A rejection is an expected
// business outcome, not an error.
type Decision struct {
	Approved bool
	Reason   string
	Details  map[string]float64
}

func reject(reason string, details map[string]float64) Decision {
	return Decision{Approved: false, Reason: reason, Details: details}
}

// RiskGate validates candidate orders against the current limit snapshot.
// Checks run in a fixed order and short-circuit on the first failure; the
// ordering is part of the contract because it decides which reason surfaces
// for an order violating several rules at once.
//
// Evaluate is read-only. Cooldown and daily-cap budget is only consumed by an
// explicit RecordTrade after the submission actually succeeded, so a rejected
// or failed order never burns budget.
type RiskGate struct {
	limits         func() *config.RiskLimits
	positions      domain.PositionRepository
	initialCashUSD float64
	logger         *zap.Logger
	now            func() time.Time

	mu              sync.Mutex
	lastTradeTime   map[string]time.Time
	dailyTradeCount map[string]int
	lastResetDay    time.Time
}

func NewRiskGate(limits func() *config.RiskLimits, positions domain.PositionRepository, initialCashUSD float64, logger *zap.Logger) *RiskGate {
	// Frequency state is in-memory: a restart resets cooldowns and daily
	// counters. Surface that at construction so it is a visible reset, not a
	// silent one.
	logger.Warn("risk gate frequency state starts empty; cooldowns and daily counters reset on restart")
	return &RiskGate{
		limits:          limits,
		positions:       positions,
		initialCashUSD:  initialCashUSD,
		logger:          logger,
		now:             time.Now,
		lastTradeTime:   make(map[string]time.Time),
		dailyTradeCount: make(map[string]int),
	}
}

// SetClock overrides the gate's clock. Test hook.
func (g *RiskGate) SetClock(now func() time.Time) { g.now = now }

// Evaluate runs the full check pipeline for a candidate order. Internal
// faults propagate as errors and must be treated as rejections by the caller
// (fail-closed); they are never mapped to approval.
func (g *RiskGate) Evaluate(ctx context.Context, strategyID, symbol string, side domain.OrderSide, amount, price float64, orderType domain.OrderType) (Decision, error) {
	limits := g.limits()
	symbolUpper := strings.ToUpper(symbol)

	// 1. Blacklist
	if limits.Blacklist()[symbolUpper] {
		return reject(fmt.Sprintf("symbol %s is blacklisted", symbol), nil), nil
	}

	// 2. Trade frequency: cooldown, then daily cap
	if d := g.checkTradeFrequency(symbolUpper, limits); !d.Approved {
		return d, nil
	}

	// 3. Daily loss limit
	d, err := g.checkDailyLossLimit(ctx, strategyID, limits)
	if err != nil {
		return Decision{}, fmt.Errorf("daily loss check failed: %w", err)
	}
	if !d.Approved {
		return d, nil
	}

	notional := amount * price

	// 4. Notional bounds
	if notional < limits.MinOrderSizeUSD {
		return reject(fmt.Sprintf("order size too small: $%.2f < $%.2f", notional, limits.MinOrderSizeUSD),
			map[string]float64{"order_size_usd": notional}), nil
	}
	if notional > limits.MaxOrderSizeUSD {
		return reject(fmt.Sprintf("order size too large: $%.2f > $%.2f", notional, limits.MaxOrderSizeUSD),
			map[string]float64{"order_size_usd": notional}), nil
	}

	// 5. Profit viability
	if d := checkProfitViability(notional, limits); !d.Approved {
		return d, nil
	}

	// 6. Per-symbol position cap
	d, err = g.checkPositionLimit(ctx, strategyID, symbolUpper, notional, limits)
	if err != nil {
		return Decision{}, fmt.Errorf("position limit check failed: %w", err)
	}
	if !d.Approved {
		return d, nil
	}

	// 7. Portfolio leverage
	d, err = g.checkLeverage(ctx, strategyID, notional, limits)
	if err != nil {
		return Decision{}, fmt.Errorf("leverage check failed: %w", err)
	}
	if !d.Approved {
		return d, nil
	}

	return Decision{
		Approved: true,
		Reason:   "all risk checks passed",
		Details: map[string]float64{
			"order_size_usd": notional,
			"amount":         amount,
			"price":          price,
		},
	}, nil
}

// RecordTrade commits cooldown and daily-cap budget for a symbol. Call only
// after the exchange confirmed the submission.
func (g *RiskGate) RecordTrade(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyCountsIfNeeded()

	symbolUpper := strings.ToUpper(symbol)
	g.lastTradeTime[symbolUpper] = g.now()
	g.dailyTradeCount[symbolUpper]++

	g.logger.Debug("trade recorded",
		zap.String("symbol", symbolUpper),
		zap.Int("count_today", g.dailyTradeCount[symbolUpper]),
		zap.Int("daily_cap", g.limits().MaxTradesPerSymbolPerDay))
}

// resetDailyCountsIfNeeded clears daily counters at UTC midnight. Caller
// holds g.mu.
func (g *RiskGate) resetDailyCountsIfNeeded() {
	today := g.now().UTC().Truncate(24 * time.Hour)
	if !g.lastResetDay.Equal(today) {
		if !g.lastResetDay.IsZero() {
			g.logger.Info("resetting daily trade counts", zap.Time("day", today))
		}
		g.dailyTradeCount = make(map[string]int)
		g.lastResetDay = today
	}
}

func (g *RiskGate) checkTradeFrequency(symbolUpper string, limits *config.RiskLimits) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetDailyCountsIfNeeded()

	if last, ok := g.lastTradeTime[symbolUpper]; ok {
		elapsed := g.now().Sub(last)
		cooldown := time.Duration(limits.TradeCooldownSeconds) * time.Second
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return reject(
				fmt.Sprintf("trade cooldown active for %s: %.0fs remaining", symbolUpper, remaining.Seconds()),
				map[string]float64{"remaining_sec": remaining.Seconds()})
		}
	}

	if count := g.dailyTradeCount[symbolUpper]; count >= limits.MaxTradesPerSymbolPerDay {
		return reject(
			fmt.Sprintf("daily trade limit reached for %s: %d/%d", symbolUpper, count, limits.MaxTradesPerSymbolPerDay),
			map[string]float64{"count": float64(count)})
	}

	return Decision{Approved: true, Reason: "trade frequency OK"}
}

// portfolioValue is initial cash plus cumulative realized and current
// unrealized PnL, floored at zero.
func (g *RiskGate) portfolioValue(ctx context.Context, strategyID string) (float64, error) {
	unrealized, err := g.positions.SumUnrealizedPnL(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	realized, err := g.positions.SumRealizedPnL(ctx, strategyID)
	if err != nil {
		return 0, err
	}
	value := g.initialCashUSD + unrealized + realized
	if value < 0 {
		value = 0
	}
	return value, nil
}

func (g *RiskGate) checkDailyLossLimit(ctx context.Context, strategyID string, limits *config.RiskLimits) (Decision, error) {
	todayStart := g.now().UTC().Truncate(24 * time.Hour)
	realizedToday, err := g.positions.SumRealizedPnLSince(ctx, strategyID, todayStart)
	if err != nil {
		return Decision{}, err
	}
	unrealized, err := g.positions.SumUnrealizedPnL(ctx, strategyID)
	if err != nil {
		return Decision{}, err
	}
	portfolio, err := g.portfolioValue(ctx, strategyID)
	if err != nil {
		return Decision{}, err
	}
	if portfolio <= 0 {
		return reject("invalid portfolio value", nil), nil
	}

	dailyPnL := realizedToday + unrealized
	dailyPnLPct := dailyPnL / portfolio * 100

	if dailyPnLPct <= -limits.DailyLossLimitPct {
		return reject(
			fmt.Sprintf("daily loss limit exceeded: %.2f%% <= -%.2f%%", dailyPnLPct, limits.DailyLossLimitPct),
			map[string]float64{"daily_pnl": dailyPnL, "daily_pnl_pct": dailyPnLPct}), nil
	}
	return Decision{Approved: true, Reason: "daily loss limit OK"}, nil
}

func checkProfitViability(notional float64, limits *config.RiskLimits) Decision {
	estimatedFees := notional * takerFeeRate * 2
	minProfitNeeded := limits.MinProfitTargetUSD + estimatedFees
	requiredMovePct := minProfitNeeded / notional * 100

	// A trade needing >5% just to clear fees plus the minimum target is not
	// realistic for these strategies.
	if requiredMovePct > 5.0 {
		return reject(
			fmt.Sprintf("trade requires unrealistic %.2f%% price move for $%.2f profit after fees", requiredMovePct, limits.MinProfitTargetUSD),
			map[string]float64{
				"order_size_usd":    notional,
				"estimated_fees":    estimatedFees,
				"min_profit_needed": minProfitNeeded,
				"required_move_pct": requiredMovePct,
			})
	}
	return Decision{Approved: true, Reason: "profit target viable"}
}

func (g *RiskGate) checkPositionLimit(ctx context.Context, strategyID, symbolUpper string, newNotional float64, limits *config.RiskLimits) (Decision, error) {
	positions, err := g.positions.ListPositions(ctx, strategyID)
	if err != nil {
		return Decision{}, err
	}

	total := newNotional
	for _, pos := range positions {
		if strings.ToUpper(pos.Symbol) == symbolUpper {
			total += pos.Notional()
		}
	}

	if total > limits.MaxPositionSizeUSD {
		return reject(
			fmt.Sprintf("position limit exceeded for %s: $%.0f > $%.0f", symbolUpper, total, limits.MaxPositionSizeUSD),
			map[string]float64{"current": total - newNotional, "total": total}), nil
	}
	return Decision{Approved: true, Reason: "position limit OK"}, nil
}

func (g *RiskGate) checkLeverage(ctx context.Context, strategyID string, newNotional float64, limits *config.RiskLimits) (Decision, error) {
	portfolio, err := g.portfolioValue(ctx, strategyID)
	if err != nil {
		return Decision{}, err
	}
	positions, err := g.positions.ListPositions(ctx, strategyID)
	if err != nil {
		return Decision{}, err
	}

	exposure := newNotional
	for _, pos := range positions {
		exposure += pos.Notional()
	}

	var leverage float64
	if portfolio > 0 {
		leverage = exposure / portfolio
	}

	// Strictly-greater-than rejection: exactly max leverage is approved.
	if leverage > limits.MaxLeverage {
		return reject(
			fmt.Sprintf("leverage too high: %.2fx > %.2fx", leverage, limits.MaxLeverage),
			map[string]float64{"leverage": leverage, "exposure": exposure, "portfolio": portfolio}), nil
	}
	return Decision{Approved: true, Reason: fmt.Sprintf("leverage OK: %.2fx", leverage)}, nil
}
