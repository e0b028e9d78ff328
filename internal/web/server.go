package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/config"
	"github.com/vitos/perp_trade_agent/internal/domain"
	"github.com/vitos/perp_trade_agent/internal/usecase"
)

// Server exposes a read-only JSON view of the agent's state for operators.
type Server struct {
	router     *http.ServeMux
	server     *http.Server
	orderRepo  domain.OrderRepository
	posRepo    domain.PositionRepository
	ledger     *usecase.ExposureLedger
	engine     *usecase.Engine
	loader     *config.Loader
	strategyID string
	logger     *zap.Logger
}

func NewServer(
	port int,
	orderRepo domain.OrderRepository,
	posRepo domain.PositionRepository,
	ledger *usecase.ExposureLedger,
	engine *usecase.Engine,
	loader *config.Loader,
	strategyID string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		orderRepo:  orderRepo,
		posRepo:    posRepo,
		ledger:     ledger,
		engine:     engine,
		loader:     loader,
		strategyID: strategyID,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handlePositions)

	// Orders
	s.router.HandleFunc("GET /api/orders", s.handleOrders)

	// Exposure
	s.router.HandleFunc("GET /api/exposure", s.handleExposure)

	// Risk limits
	s.router.HandleFunc("GET /api/risk-limits", s.handleRiskLimits)

	// Reconciliation
	s.router.HandleFunc("GET /api/reconciliation", s.handleReconciliation)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
