package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":      "running",
		"strategy_id": s.strategyID,
		"regime":      string(s.engine.LastRegime()),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.posRepo.ListPositions(r.Context(), s.strategyID)
	if err != nil {
		s.logger.Error("Failed to list positions", zap.Error(err))
		http.Error(w, "Failed to list positions", http.StatusInternalServerError)
		return
	}

	type positionView struct {
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Amount        float64 `json:"amount"`
		EntryPrice    float64 `json:"entry_price"`
		CurrentPrice  float64 `json:"current_price"`
		UnrealizedPnL float64 `json:"unrealized_pnl"`
		RealizedPnL   float64 `json:"realized_pnl"`
		OpenedAt      string  `json:"opened_at"`
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		if p.Amount <= 0 {
			continue
		}
		views = append(views, positionView{
			Symbol:        p.Symbol,
			Side:          string(p.Side),
			Amount:        p.Amount,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			RealizedPnL:   p.RealizedPnL,
			OpenedAt:      p.OpenedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	orders, err := s.orderRepo.ListOrders(r.Context(), s.strategyID, limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		http.Error(w, "Failed to list orders", http.StatusInternalServerError)
		return
	}

	type orderView struct {
		OrderID       string  `json:"order_id"`
		ClientOrderID string  `json:"client_order_id"`
		Symbol        string  `json:"symbol"`
		Side          string  `json:"side"`
		Type          string  `json:"type"`
		Amount        float64 `json:"amount"`
		Price         float64 `json:"price"`
		Status        string  `json:"status"`
		CreatedAt     string  `json:"created_at"`
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			Type:          string(o.Type),
			Amount:        o.Amount,
			Price:         o.Price,
			Status:        string(o.Status),
			CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.ledger.State())
}

func (s *Server) handleRiskLimits(w http.ResponseWriter, r *http.Request) {
	limits := s.loader.Limits()
	s.writeJSON(w, map[string]any{
		"symbol_blacklist":              limits.SymbolBlacklist,
		"min_order_size_usd":            limits.MinOrderSizeUSD,
		"max_order_size_usd":            limits.MaxOrderSizeUSD,
		"max_position_size_usd":         limits.MaxPositionSizeUSD,
		"max_leverage":                  limits.MaxLeverage,
		"daily_loss_limit_pct":          limits.DailyLossLimitPct,
		"trade_cooldown_seconds":        limits.TradeCooldownSeconds,
		"max_trades_per_symbol_per_day": limits.MaxTradesPerSymbolPerDay,
		"min_profit_target_usd":         limits.MinProfitTargetUSD,
	})
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.LastSync())
}
