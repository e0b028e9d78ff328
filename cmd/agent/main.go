package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/perp_trade_agent/internal/config"
	"github.com/vitos/perp_trade_agent/internal/infrastructure/exchange"
	"github.com/vitos/perp_trade_agent/internal/infrastructure/logger"
	"github.com/vitos/perp_trade_agent/internal/infrastructure/storage"
	"github.com/vitos/perp_trade_agent/internal/strategy"
	"github.com/vitos/perp_trade_agent/internal/usecase"
	"github.com/vitos/perp_trade_agent/internal/web"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// 1. Load Config
	cfg, loader, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	storagePath := cfg.Storage.Path
	if storagePath == "" {
		storagePath = "agent.db"
	}
	store, err := storage.NewSQLiteStore(storagePath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange (Pacifica)
	adapter, err := exchange.NewPacificaAdapter(
		cfg.Exchange.APIURL,
		cfg.Exchange.APIKey,
		cfg.Exchange.AgentWalletPrivkey,
		log,
	)
	if err != nil {
		log.Fatal("Failed to init exchange adapter", zap.Error(err))
	}

	symbols := cfg.SymbolList()
	if len(symbols) == 0 {
		log.Fatal("No symbols configured")
	}

	// 5. Price Stream (own log file, it is chatty at debug)
	streamLogger, err := logger.NewFileLogger("price_stream.log", cfg.Logging.Level)
	if err != nil {
		log.Error("Failed to init stream logger, using default", zap.Error(err))
		streamLogger = log
	}
	cache := exchange.NewMarketCache()
	stream := exchange.NewPriceStream(cfg.Exchange.WSURL, cache, streamLogger)
	if err := stream.Connect(symbols); err != nil {
		log.Fatal("Failed to connect price stream", zap.Error(err))
	}
	defer stream.Close()

	// 6. Core services
	strategyID := cfg.Engine.StrategyID
	if strategyID == "" {
		strategyID = "perp-agent"
	}

	gate := usecase.NewRiskGate(loader.Limits, store, cfg.Engine.PortfolioValueUSD, log)
	ledger := usecase.NewExposureLedger(cfg.Engine.PortfolioValueUSD)
	hedges := usecase.NewHedgeCoordinator(usecase.HedgeConfig{
		ProfitThreshold:           cfg.Hedge.ProfitThreshold,
		HighLongExposureThreshold: cfg.Hedge.HighLongExposureThreshold,
		ShortExposureThreshold:    cfg.Hedge.ShortExposureThreshold,
		MaxActivations:            cfg.Hedge.MaxActivations,
		CoolOffSec:                cfg.Hedge.CoolOffSec,
	}, cfg.Engine.PortfolioValueUSD, log)
	reconciler := usecase.NewReconciler(adapter, store, log)
	regime := usecase.NewRegimeDetector(adapter, log)

	engine := usecase.NewEngine(usecase.EngineParams{
		Exchange:      adapter,
		Market:        cache,
		Orders:        store,
		Positions:     store,
		Gate:          gate,
		Ledger:        ledger,
		Hedges:        hedges,
		Reconciler:    reconciler,
		Regime:        regime,
		Loader:        loader,
		Strategies:    buildStrategies(symbols),
		Logger:        log,
		StrategyID:    strategyID,
		CycleInterval: time.Duration(cfg.Engine.CycleIntervalSec) * time.Second,
		CallTimeout:   time.Duration(cfg.Engine.CallTimeoutSec) * time.Second,
	})

	// 7. Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, store, store, ledger, engine, loader, strategyID, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Run Engine
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Error("Engine stopped", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// buildStrategies wires one momentum pair and one hedge pair per symbol.
// Sizing here is intentionally modest; the risk gate is the real control.
func buildStrategies(symbols []string) usecase.StrategySet {
	var set usecase.StrategySet
	for _, sym := range symbols {
		set.MomentumLong = append(set.MomentumLong,
			strategy.NewMomentum("momentum-long", sym, strategy.DirectionLong, 0.01, 500, 0.02, 0.04))
		set.MomentumShort = append(set.MomentumShort,
			strategy.NewMomentum("momentum-short", sym, strategy.DirectionShort, 0.01, 500, 0.02, 0.04))
		set.MRLongHedge = append(set.MRLongHedge,
			strategy.NewMeanReversionHedge("mr-long-hedge", sym, strategy.DirectionLong, 0.015, 250, 0.015, 0.02))
		set.MRShortHedge = append(set.MRShortHedge,
			strategy.NewMeanReversionHedge("mr-short-hedge", sym, strategy.DirectionShort, 0.015, 250, 0.015, 0.02))
	}
	return set
}
