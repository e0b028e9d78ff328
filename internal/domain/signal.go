package domain

import "fmt"

type SignalType string

const (
	SignalBuy        SignalType = "buy"
	SignalSell       SignalType = "sell"
	SignalCloseLong  SignalType = "close_long"
	SignalCloseShort SignalType = "close_short"
)

// TradingSignal is an order intent produced by a strategy. Construct through
// NewTradingSignal so required fields are validated up front instead of
// surfacing as zero values deep in the order path.
type TradingSignal struct {
	Type       SignalType
	Symbol     string
	Price      float64
	Amount     float64
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
	Confidence float64
	Metadata   map[string]string
}

func NewTradingSignal(sigType SignalType, symbol string, price, amount, confidence float64) (*TradingSignal, error) {
	switch sigType {
	case SignalBuy, SignalSell, SignalCloseLong, SignalCloseShort:
	default:
		return nil, fmt.Errorf("invalid signal type: %q", sigType)
	}
	if symbol == "" {
		return nil, fmt.Errorf("signal symbol is required")
	}
	if price <= 0 {
		return nil, fmt.Errorf("signal price must be positive, got %f", price)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("signal amount must be positive, got %f", amount)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("signal confidence must be in [0,1], got %f", confidence)
	}
	return &TradingSignal{
		Type:       sigType,
		Symbol:     symbol,
		Price:      price,
		Amount:     amount,
		Confidence: confidence,
	}, nil
}

// OrderSide maps the signal intent to the book side submitted to the
// exchange: buys and short-closes lift the bid, sells and long-closes hit
// the ask.
func (s *TradingSignal) OrderSide() OrderSide {
	switch s.Type {
	case SignalBuy, SignalCloseShort:
		return OrderSideBid
	default:
		return OrderSideAsk
	}
}

// IsClosing reports whether the signal reduces an existing position. Closing
// orders are submitted reduce-only so a miscalculated close can never flip
// into a new opposite position.
func (s *TradingSignal) IsClosing() bool {
	return s.Type == SignalCloseLong || s.Type == SignalCloseShort
}
