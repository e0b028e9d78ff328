package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

func TestMarketCache(t *testing.T) {
	c := NewMarketCache()

	_, ok := c.Snapshot("BTC")
	assert.False(t, ok, "empty cache must report no data")

	c.Put(domain.MarketSnapshot{Symbol: "BTC", Price: 50000, Bid: 49999, Ask: 50001, Timestamp: time.Now()})

	snap, ok := c.Snapshot("BTC")
	assert.True(t, ok)
	assert.Equal(t, 50000.0, snap.Price)

	// Returned snapshot is a copy; mutating it must not poison the cache
	snap.Price = 1
	again, _ := c.Snapshot("BTC")
	assert.Equal(t, 50000.0, again.Price)

	// Newer data replaces older
	c.Put(domain.MarketSnapshot{Symbol: "BTC", Price: 51000})
	latest, _ := c.Snapshot("BTC")
	assert.Equal(t, 51000.0, latest.Price)
}
