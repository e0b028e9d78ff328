package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// MarketRegime classifies the broad market from the BTC daily trend.
type MarketRegime string

const (
	RegimeBull     MarketRegime = "BULL"
	RegimeBear     MarketRegime = "BEAR"
	RegimeSideways MarketRegime = "SIDEWAYS"
)

const (
	regimeSymbol   = "BTC"
	regimeInterval = "1d"
	fastWindow     = 20
	slowWindow     = 50
)

// RegimeDetector derives the market regime from BTC daily candles: the 20-day
// moving average above the 50-day is BULL, below is BEAR, and insufficient
// history or a fetch failure degrades to SIDEWAYS rather than blocking the
// cycle.
type RegimeDetector struct {
	exchange domain.Exchange
	logger   *zap.Logger
}

func NewRegimeDetector(exchange domain.Exchange, logger *zap.Logger) *RegimeDetector {
	return &RegimeDetector{exchange: exchange, logger: logger}
}

func (d *RegimeDetector) Detect(ctx context.Context) MarketRegime {
	candles, err := d.exchange.GetCandles(ctx, regimeSymbol, regimeInterval, slowWindow+1)
	if err != nil {
		d.logger.Warn("regime detection failed, assuming sideways", zap.Error(err))
		return RegimeSideways
	}
	if len(candles) < slowWindow {
		d.logger.Debug("insufficient candle history for regime detection",
			zap.Int("candles", len(candles)), zap.Int("required", slowWindow))
		return RegimeSideways
	}

	fast := movingAverage(candles, fastWindow)
	slow := movingAverage(candles, slowWindow)

	regime := RegimeSideways
	switch {
	case fast > slow:
		regime = RegimeBull
	case fast < slow:
		regime = RegimeBear
	}

	d.logger.Debug("market regime detected",
		zap.String("regime", string(regime)),
		zap.Float64("ma_fast", fast),
		zap.Float64("ma_slow", slow))
	return regime
}

// movingAverage averages the closes of the last n candles.
func movingAverage(candles []domain.Candle, n int) float64 {
	if n <= 0 || len(candles) < n {
		return 0
	}
	var sum float64
	for _, c := range candles[len(candles)-n:] {
		sum += c.Close
	}
	return sum / float64(n)
}
