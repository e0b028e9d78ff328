package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HedgeAction tells the engine which mean-reversion hedge family, if any,
// should be activated this cycle.
type HedgeAction string

const (
	HedgeNone             HedgeAction = "NONE"
	HedgeActivateMRShorts HedgeAction = "ACTIVATE_MR_SHORTS"
	HedgeActivateMRLongs  HedgeAction = "ACTIVATE_MR_LONGS"
)

// Family returns the hedge family a non-NONE action belongs to.
func (a HedgeAction) Family() string {
	switch a {
	case HedgeActivateMRShorts:
		return "mr_short_hedge"
	case HedgeActivateMRLongs:
		return "mr_long_hedge"
	default:
		return ""
	}
}

// HedgeConfig mirrors the hedge section of the config file.
type HedgeConfig struct {
	ProfitThreshold           float64
	HighLongExposureThreshold float64
	ShortExposureThreshold    float64
	MaxActivations            int
	CoolOffSec                int
}

type breakerPhase int

const (
	breakerIdle breakerPhase = iota
	breakerActive
	breakerCooldown
)

type breakerState struct {
	phase        breakerPhase
	activations  int
	coolOffUntil time.Time
}

// HedgeCoordinator decides when to activate a mean-reversion hedge family
// based on the exposure snapshot. Evaluate is a pure function of the
// snapshot; the circuit breaker wraps it with per-family activation budgets
// so a flapping exposure signal cannot churn hedges indefinitely.
type HedgeCoordinator struct {
	cfg               HedgeConfig
	portfolioValueUSD float64
	logger            *zap.Logger
	now               func() time.Time

	mu       sync.Mutex
	breakers map[string]*breakerState
}

func NewHedgeCoordinator(cfg HedgeConfig, portfolioValueUSD float64, logger *zap.Logger) *HedgeCoordinator {
	return &HedgeCoordinator{
		cfg:               cfg,
		portfolioValueUSD: portfolioValueUSD,
		logger:            logger,
		now:               time.Now,
		breakers:          make(map[string]*breakerState),
	}
}

// SetClock overrides the coordinator's clock. Test hook.
func (h *HedgeCoordinator) SetClock(now func() time.Time) { h.now = now }

// Evaluate maps an exposure snapshot to a hedge action.
//
// Shorting into a profitable, heavily long book takes priority: when the long
// book is both large and in profit it activates short hedges. Otherwise a
// short book above its own threshold activates long hedges.
func (h *HedgeCoordinator) Evaluate(state ExposureState) HedgeAction {
	if state.NetLong > h.cfg.HighLongExposureThreshold && state.LongPnLPct > h.cfg.ProfitThreshold {
		return HedgeActivateMRShorts
	}

	var shortFrac float64
	if h.portfolioValueUSD > 0 {
		shortFrac = state.ShortExposure / h.portfolioValueUSD
	}
	if shortFrac > h.cfg.ShortExposureThreshold {
		return HedgeActivateMRLongs
	}

	return HedgeNone
}

// EvaluateWithCircuitBreaker applies the per-family circuit breaker on top
// of Evaluate. Each family may fire MaxActivations times before it enters a
// cool-off window; the window must fully elapse before the family can fire
// again. A family that stops being requested resets to idle without
// touching its activation budget mid-window.
func (h *HedgeCoordinator) EvaluateWithCircuitBreaker(state ExposureState) HedgeAction {
	action := h.Evaluate(state)
	if action == HedgeNone {
		h.settleInactive()
		return HedgeNone
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	family := action.Family()
	b := h.breakers[family]
	if b == nil {
		b = &breakerState{}
		h.breakers[family] = b
	}

	now := h.now()
	if b.phase == breakerCooldown {
		if now.Before(b.coolOffUntil) {
			h.logger.Info("hedge suppressed by circuit breaker",
				zap.String("family", family),
				zap.String("action", string(action)),
				zap.Time("cool_off_until", b.coolOffUntil))
			return HedgeNone
		}
		b.phase = breakerIdle
		b.activations = 0
	}

	b.phase = breakerActive
	b.activations++
	h.logger.Info("hedge activation",
		zap.String("family", family),
		zap.String("action", string(action)),
		zap.Int("activations", b.activations),
		zap.Int("max_activations", h.cfg.MaxActivations))

	if b.activations >= h.cfg.MaxActivations {
		b.phase = breakerCooldown
		b.coolOffUntil = now.Add(time.Duration(h.cfg.CoolOffSec) * time.Second)
		h.logger.Warn("hedge family entering cool-off",
			zap.String("family", family),
			zap.Time("cool_off_until", b.coolOffUntil))
	}

	return action
}

// settleInactive moves ACTIVE families back to IDLE when no action is
// requested. Cooldown windows are left to expire on their own.
func (h *HedgeCoordinator) settleInactive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.breakers {
		if b.phase == breakerActive {
			b.phase = breakerIdle
		}
	}
}
