// Package strategy holds the signal generators wired into the engine. The
// engine treats them as opaque domain.Strategy implementations; everything
// here is deliberately simple trend and reversion arithmetic over a rolling
// price window.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// Direction selects which side of the market a strategy instance trades.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Momentum opens in the direction of a sustained move: when price runs past
// the rolling average by the entry threshold it opens, and it closes when
// the move gives back half the threshold. One instance trades one symbol in
// one direction.
type Momentum struct {
	strategyID     string
	symbol         string
	direction      Direction
	entryThreshold float64 // fractional move vs rolling average
	orderSizeUSD   float64
	stopLossPct    float64
	takeProfitPct  float64

	mu     sync.Mutex
	window *priceWindow
}

func NewMomentum(strategyID, symbol string, direction Direction, entryThreshold, orderSizeUSD, stopLossPct, takeProfitPct float64) *Momentum {
	return &Momentum{
		strategyID:     strategyID,
		symbol:         symbol,
		direction:      direction,
		entryThreshold: entryThreshold,
		orderSizeUSD:   orderSizeUSD,
		stopLossPct:    stopLossPct,
		takeProfitPct:  takeProfitPct,
		window:         newPriceWindow(60),
	}
}

func (m *Momentum) StrategyID() string { return m.strategyID }
func (m *Momentum) Symbol() string     { return m.symbol }

func (m *Momentum) GenerateSignal(_ context.Context, snapshot *domain.MarketSnapshot, position *domain.Position) (*domain.TradingSignal, error) {
	if snapshot == nil || snapshot.Price <= 0 {
		return nil, fmt.Errorf("momentum %s: invalid snapshot", m.symbol)
	}

	m.mu.Lock()
	m.window.push(snapshot.Price)
	avg, ready := m.window.average()
	m.mu.Unlock()
	if !ready {
		return nil, nil
	}

	deviation := (snapshot.Price - avg) / avg
	if m.direction == DirectionShort {
		deviation = -deviation
	}

	if position == nil {
		if deviation < m.entryThreshold {
			return nil, nil
		}
		sigType := domain.SignalBuy
		if m.direction == DirectionShort {
			sigType = domain.SignalSell
		}
		amount := m.orderSizeUSD / snapshot.Price
		sig, err := domain.NewTradingSignal(sigType, m.symbol, snapshot.Price, amount, clampConfidence(deviation/m.entryThreshold))
		if err != nil {
			return nil, err
		}
		sig.StopLoss, sig.TakeProfit = protectiveLevels(snapshot.Price, m.direction, m.stopLossPct, m.takeProfitPct)
		return sig, nil
	}

	// Exit when the move decays below half the entry threshold.
	if deviation > m.entryThreshold/2 {
		return nil, nil
	}
	sigType := domain.SignalCloseLong
	if position.Side == domain.SideShort {
		sigType = domain.SignalCloseShort
	}
	return domain.NewTradingSignal(sigType, m.symbol, snapshot.Price, position.Amount, 1.0)
}

func protectiveLevels(price float64, dir Direction, slPct, tpPct float64) (stopLoss, takeProfit float64) {
	if dir == DirectionShort {
		if slPct > 0 {
			stopLoss = price * (1 + slPct)
		}
		if tpPct > 0 {
			takeProfit = price * (1 - tpPct)
		}
		return stopLoss, takeProfit
	}
	if slPct > 0 {
		stopLoss = price * (1 - slPct)
	}
	if tpPct > 0 {
		takeProfit = price * (1 + tpPct)
	}
	return stopLoss, takeProfit
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// priceWindow is a fixed-size rolling window of observed prices.
type priceWindow struct {
	prices []float64
	size   int
}

func newPriceWindow(size int) *priceWindow {
	return &priceWindow{size: size}
}

func (w *priceWindow) push(price float64) {
	w.prices = append(w.prices, price)
	if len(w.prices) > w.size {
		w.prices = w.prices[len(w.prices)-w.size:]
	}
}

// average requires a quarter of the window before it reports ready.
func (w *priceWindow) average() (float64, bool) {
	min := w.size / 4
	if min < 2 {
		min = 2
	}
	if len(w.prices) < min {
		return 0, false
	}
	var sum float64
	for _, p := range w.prices {
		sum += p
	}
	return sum / float64(len(w.prices)), true
}
