package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitos/perp_trade_agent/internal/domain"
)

// Per-symbol price ticks. The venue rejects prices off the grid, so anything
// unknown falls back to a conservative default.
var tickSizes = map[string]float64{
	"BTC":  0.01,
	"ETH":  0.01,
	"SOL":  0.01,
	"BNB":  0.01,
	"ZEC":  0.01,
	"LTC":  0.01,
	"AAVE": 0.01,
	"PAXG": 0.01,
	"TAO":  0.01,

	"HYPE": 0.001,
	"LINK": 0.001,
	"UNI":  0.001,
	"AVAX": 0.001,
	"SUI":  0.001,

	"DOGE":     0.00001,
	"XRP":      0.00001,
	"MON":      0.00001,
	"PENGU":    0.00001,
	"WLFI":     0.00001,
	"PUMP":     0.00001,
	"ENA":      0.0001,
	"VIRTUAL":  0.0001,
	"FARTCOIN": 0.0001,
	"ASTER":    0.0001,
	"XPL":      0.0001,
	"LDO":      0.0001,
	"CRV":      0.0001,
	"2Z":       0.0001,
	"KBONK":    0.0001,

	"KPEPE": 0.000001,
}

// Per-symbol amount lots.
var lotSizes = map[string]float64{
	"BTC": 0.0001,
	"ETH": 0.001,
	"SOL": 0.01,

	"HYPE": 0.1,
	"ZEC":  0.01,
	"BNB":  0.01,
	"XRP":  1.0,
	"PUMP": 1.0,
	"AAVE": 0.01,

	"ENA":      0.1,
	"ASTER":    0.1,
	"KBONK":    0.1,
	"KPEPE":    0.1,
	"LTC":      1.0,
	"PAXG":     0.001,
	"VIRTUAL":  0.1,
	"SUI":      0.1,
	"FARTCOIN": 0.1,
	"TAO":      0.01,
	"DOGE":     1.0,
	"XPL":      1.0,
	"AVAX":     0.1,
	"LINK":     0.1,
	"UNI":      1.0,
	"WLFI":     1.0,

	"PENGU": 1.0,
	"2Z":    0.1,
	"MON":   1.0,
	"LDO":   0.1,
	"CRV":   0.1,
}

func TickSize(symbol string) float64 {
	if t, ok := tickSizes[strings.ToUpper(symbol)]; ok {
		return t
	}
	return 0.0001
}

func LotSize(symbol string) float64 {
	if l, ok := lotSizes[strings.ToUpper(symbol)]; ok {
		return l
	}
	return 1.0
}

// RoundToTick rounds a price to the nearest tick, half away from zero.
// decimal arithmetic keeps 0.1-style ticks exact.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	rounded := p.Div(t).Round(0).Mul(t)
	f, _ := rounded.Float64()
	return f
}

// FloorToLot rounds an amount down to the lot grid. Always toward zero: a
// rounded-up amount could exceed the balance the sizer budgeted for.
func FloorToLot(amount, lot float64) float64 {
	if lot <= 0 {
		return amount
	}
	a := decimal.NewFromFloat(amount)
	l := decimal.NewFromFloat(lot)
	floored := a.Div(l).Floor().Mul(l)
	f, _ := floored.Float64()
	return f
}

// ValidateTPSL rounds stop-loss and take-profit to the tick grid and enforces
// side correctness: a long's stop must sit below entry and its target above,
// mirrored for shorts. A requested level on the wrong side of entry is
// dropped (returned as 0), never silently accepted. A level that lands on
// entry only through rounding is nudged one further tick away instead.
func ValidateTPSL(symbol string, side domain.OrderSide, entryPrice, stopLoss, takeProfit float64) (validSL, validTP float64) {
	tick := TickSize(symbol)
	isLong := side == domain.OrderSideBid

	if stopLoss > 0 {
		if isLong {
			if stopLoss >= entryPrice {
				validSL = 0
			} else {
				validSL = RoundToTick(stopLoss, tick)
				if validSL >= entryPrice {
					validSL = RoundToTick(entryPrice-tick, tick)
				}
			}
		} else {
			if stopLoss <= entryPrice {
				validSL = 0
			} else {
				validSL = RoundToTick(stopLoss, tick)
				if validSL <= entryPrice {
					validSL = RoundToTick(entryPrice+tick, tick)
				}
			}
		}
	}

	if takeProfit > 0 {
		if isLong {
			if takeProfit <= entryPrice {
				validTP = 0
			} else {
				validTP = RoundToTick(takeProfit, tick)
				if validTP <= entryPrice {
					validTP = RoundToTick(entryPrice+tick, tick)
				}
			}
		} else {
			if takeProfit >= entryPrice {
				validTP = 0
			} else {
				validTP = RoundToTick(takeProfit, tick)
				if validTP >= entryPrice {
					validTP = RoundToTick(entryPrice-tick, tick)
				}
			}
		}
	}

	return validSL, validTP
}
