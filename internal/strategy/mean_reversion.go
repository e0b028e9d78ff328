package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// MeanReversionHedge fades stretched prices: the short variant sells when
// price is extended above its rolling average, the long variant buys when it
// is extended below. These run only when the hedge coordinator activates
// their family, so they size small and always carry protective levels.
type MeanReversionHedge struct {
	strategyID    string
	symbol        string
	direction     Direction
	bandPct       float64 // deviation from average that counts as stretched
	orderSizeUSD  float64
	stopLossPct   float64
	takeProfitPct float64

	mu     sync.Mutex
	window *priceWindow
}

func NewMeanReversionHedge(strategyID, symbol string, direction Direction, bandPct, orderSizeUSD, stopLossPct, takeProfitPct float64) *MeanReversionHedge {
	return &MeanReversionHedge{
		strategyID:    strategyID,
		symbol:        symbol,
		direction:     direction,
		bandPct:       bandPct,
		orderSizeUSD:  orderSizeUSD,
		stopLossPct:   stopLossPct,
		takeProfitPct: takeProfitPct,
		window:        newPriceWindow(120),
	}
}

func (m *MeanReversionHedge) StrategyID() string { return m.strategyID }
func (m *MeanReversionHedge) Symbol() string     { return m.symbol }

func (m *MeanReversionHedge) GenerateSignal(_ context.Context, snapshot *domain.MarketSnapshot, position *domain.Position) (*domain.TradingSignal, error) {
	if snapshot == nil || snapshot.Price <= 0 {
		return nil, fmt.Errorf("mean reversion %s: invalid snapshot", m.symbol)
	}

	m.mu.Lock()
	m.window.push(snapshot.Price)
	avg, ready := m.window.average()
	m.mu.Unlock()
	if !ready {
		return nil, nil
	}

	stretch := (snapshot.Price - avg) / avg

	if position != nil {
		// Close once price reverts through the average.
		reverted := (position.Side == domain.SideShort && stretch <= 0) ||
			(position.Side == domain.SideLong && stretch >= 0)
		if !reverted {
			return nil, nil
		}
		sigType := domain.SignalCloseLong
		if position.Side == domain.SideShort {
			sigType = domain.SignalCloseShort
		}
		return domain.NewTradingSignal(sigType, m.symbol, snapshot.Price, position.Amount, 1.0)
	}

	var sigType domain.SignalType
	switch {
	case m.direction == DirectionShort && stretch >= m.bandPct:
		sigType = domain.SignalSell
	case m.direction == DirectionLong && stretch <= -m.bandPct:
		sigType = domain.SignalBuy
	default:
		return nil, nil
	}

	amount := m.orderSizeUSD / snapshot.Price
	conf := stretch / m.bandPct
	if conf < 0 {
		conf = -conf
	}
	sig, err := domain.NewTradingSignal(sigType, m.symbol, snapshot.Price, amount, clampConfidence(conf))
	if err != nil {
		return nil, err
	}
	sig.StopLoss, sig.TakeProfit = protectiveLevels(snapshot.Price, m.direction, m.stopLossPct, m.takeProfitPct)
	return sig, nil
}
