package domain

import "time"

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide is the exchange-level side. The exchange speaks in book sides
// (bid/ask), not position sides.
type OrderSide string

const (
	OrderSideBid OrderSide = "bid"
	OrderSideAsk OrderSide = "ask"
)

// Position is the local copy of an open position. The exchange is the source
// of truth; this record is a cache reconciled every cycle.
type Position struct {
	StrategyID    string
	Symbol        string
	Side          Side
	Amount        float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	RealizedPnL   float64
	OpenedAt      time.Time
	UpdatedAt     time.Time
	Metadata      map[string]string
}

// Notional returns the marked position value in quote currency, falling back
// to the entry price when no mark has been recorded yet.
func (p *Position) Notional() float64 {
	price := p.CurrentPrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Amount * price
}

// ExchangePosition is a position as reported by the exchange.
type ExchangePosition struct {
	Symbol     string
	Side       Side
	Amount     float64
	EntryPrice float64
}
