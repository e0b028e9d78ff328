package exchange

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/domain"
)

// MarketCache holds the latest snapshot per symbol. It implements
// domain.MarketData for the engine and is fed by the price stream.
type MarketCache struct {
	mu        sync.RWMutex
	snapshots map[string]domain.MarketSnapshot
}

func NewMarketCache() *MarketCache {
	return &MarketCache{snapshots: make(map[string]domain.MarketSnapshot)}
}

func (c *MarketCache) Snapshot(symbol string) (*domain.MarketSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[symbol]
	if !ok {
		return nil, false
	}
	copied := snap
	return &copied, true
}

func (c *MarketCache) Put(snap domain.MarketSnapshot) {
	c.mu.Lock()
	c.snapshots[snap.Symbol] = snap
	c.mu.Unlock()
}

// PriceStream subscribes to the venue's public price feed and keeps a
// MarketCache current.
type PriceStream struct {
	wsURL  string
	cache  *MarketCache
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewPriceStream(wsURL string, cache *MarketCache, logger *zap.Logger) *PriceStream {
	if wsURL == "" {
		wsURL = PacificaWSURL
	}
	return &PriceStream{wsURL: wsURL, cache: cache, logger: logger}
}

func (s *PriceStream) Connect(symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return s.subscribe(symbols)
	}

	c, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return err
	}
	s.conn = c

	go s.readLoop()

	return s.subscribe(symbols)
}

func (s *PriceStream) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	msg := map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"source":  "prices",
			"symbols": symbols,
		},
	}
	return s.conn.WriteJSON(msg)
}

func (s *PriceStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

type priceEvent struct {
	Channel string `json:"channel"`
	Data    []struct {
		Symbol    string `json:"symbol"`
		Bid       string `json:"bid"`
		Ask       string `json:"ask"`
		Volume    string `json:"volume"`
		Timestamp int64  `json:"timestamp"`
	} `json:"data"`
}

func (s *PriceStream) readLoop() {
	defer func() {
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		conn := s.conn
		closed := s.closed
		s.mu.Unlock()
		if conn == nil || closed {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if !closed {
				s.logger.Warn("price stream read error", zap.Error(err))
			}
			return
		}

		var event priceEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.logger.Debug("price stream unmarshal error", zap.Error(err))
			continue
		}
		if event.Channel != "prices" {
			continue
		}

		for _, d := range event.Data {
			bid, _ := strconv.ParseFloat(d.Bid, 64)
			ask, _ := strconv.ParseFloat(d.Ask, 64)
			if bid <= 0 || ask <= 0 {
				continue
			}
			volume, _ := strconv.ParseFloat(d.Volume, 64)
			s.cache.Put(domain.MarketSnapshot{
				Symbol:    d.Symbol,
				Price:     (bid + ask) / 2,
				Bid:       bid,
				Ask:       ask,
				Volume:    volume,
				Timestamp: time.UnixMilli(d.Timestamp),
			})
		}
	}
}
