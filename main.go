package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pairs-trading-core/internal/api"
	"pairs-trading-core/internal/events"
	"pairs-trading-core/internal/market"
	"pairs-trading-core/internal/monitor"
	"pairs-trading-core/internal/order"
	"pairs-trading-core/internal/persistence"
	"pairs-trading-core/internal/risk"
	"pairs-trading-core/internal/strategy"
	"pairs-trading-core/pkg/cache"
	"pairs-trading-core/pkg/config"
	"pairs-trading-core/pkg/db"
	"pairs-trading-core/pkg/exchanges/binance/wsapi"
	"pairs-trading-core/pkg/logging"
	binance "pairs-trading-core/pkg/market/binance"
)

const (
	shutdownTimeout = 10 * time.Second
	quoteMaxAge     = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	params, err := pairParams(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting",
		zap.String("version", cfg.Version),
		zap.String("pair", params.SymbolA+"/"+params.SymbolB),
		zap.Float64("beta", params.Beta),
		zap.Int("window", params.Window),
		zap.Bool("mock_feed", cfg.UseMockFeed),
		zap.Bool("execution", cfg.ExecutionEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitor.NewMetrics()
	bus := events.NewBus()
	quotes := cache.NewQuotes()

	// Market data
	var source market.Source
	if cfg.UseMockFeed {
		source = &market.MockFeed{Symbols: cfg.MarketSymbols, Interval: 500 * time.Millisecond}
	} else {
		source = market.NewFeed(market.Config{
			Host:    cfg.MarketHost,
			Port:    cfg.MarketPort,
			Symbols: cfg.MarketSymbols,
		}, market.WithLogger(logger), market.WithMetrics(metrics))
	}

	// Order entry
	gateway := order.NewGateway(order.Config{
		Host:      cfg.OrderHost,
		Port:      cfg.OrderPort,
		Path:      cfg.OrderPath,
		UserAgent: "pairs-trading-core/" + cfg.Version,
		RateLimit: cfg.OrderRateLimit,
		Signer:    wsapi.Signer{APIKey: cfg.OrderAPIKey, Secret: cfg.OrderAPISecret},
	}, order.WithLogger(logger), order.WithMetrics(metrics))

	guard := risk.NewGuard(gateway, risk.Config{
		MaxPositionPerSymbol: cfg.RiskMaxPosition,
		MaxTotalNotional:     cfg.RiskMaxNotional,
	}, logger)
	defer guard.Close()

	strat, err := strategy.NewPairsMeanReversion(params, guard, gateway,
		strategy.WithLogger(logger),
		strategy.WithRejectHandler(func(leg strategy.Leg, d risk.Decision) {
			bus.Publish(events.TopicRiskReject, events.RiskReject{
				Symbol:   leg.Symbol,
				Side:     string(leg.Side),
				Quantity: leg.Quantity,
				Price:    leg.Price,
				Reason:   d.Reason,
			})
		}),
		strategy.WithSignalHandler(func(sig strategy.Signal) {
			bus.Publish(events.TopicSignal, sig)
		}),
	)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	// Fan-out: cache and bus first so the API sees the book the strategy acted on.
	source.Subscribe(func(u binance.Update) { quotes.Put(u) })
	source.Subscribe(func(u binance.Update) { bus.Publish(events.TopicDepthUpdate, u) })
	source.Subscribe(strat.OnMarketData)

	defer order.PublishUpdates(gateway, bus)()
	if cfg.ConsoleOrders {
		defer gateway.Subscribe(func(o order.Order) { order.Render(os.Stdout, o) })()
	}

	// Optional SQLite journal of order updates and fills.
	var (
		journal api.JournalView
		writer  api.JournalStats
	)
	if cfg.JournalPath != "" {
		database, err := db.New(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer database.Close()
		if err := db.ApplyMigrations(database); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		bw := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond, logger)
		defer bw.Close()
		defer persistence.NewJournal(bw, gateway.SessionID()).Attach(gateway)()
		journal, writer = database.Queries(), bw
		logger.Info("order journal enabled", zap.String("path", cfg.JournalPath))
	}

	mon := &monitor.Monitor{
		Bus:     bus,
		Sink:    monitor.LogSink{Logger: logger},
		Metrics: metrics,
		Logger:  logger,
	}
	monDone := mon.Start(ctx)

	go pruneQuotes(ctx, quotes, logger)

	if cfg.ExecutionEnabled {
		gateway.Start(ctx)
	} else {
		logger.Warn("execution disabled; orders stay queued locally")
	}
	source.Start(ctx)

	// Operator API
	var server *api.Server
	apiErr := make(chan error, 1)
	if cfg.APIPort != "" {
		server = api.NewServer(api.Deps{
			Bus:      bus,
			Orders:   gateway,
			Risk:     guard,
			Feed:     source,
			Quotes:   quotes,
			Journal:  journal,
			Writer:   writer,
			Strategy: strat,
			Metrics:  metrics,
			Logger:   logger,
		}, api.SystemMeta{
			Venue:       venueName(cfg),
			Symbols:     cfg.MarketSymbols,
			UseMockFeed: cfg.UseMockFeed,
			Execution:   cfg.ExecutionEnabled,
			Pair:        params,
			Version:     cfg.Version,
		}, cfg.JWTSecret)
		go func() { apiErr <- server.Start(":" + cfg.APIPort) }()
		if cfg.JWTSecret == "" {
			logger.Warn("JWT_SECRET is empty; protected API routes are open")
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiErr:
		if err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
		stop()
	}

	source.Stop()
	gateway.Stop()
	<-monDone

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api shutdown", zap.Error(err))
		}
	}

	snap := guard.Snapshot()
	logger.Info("stopped",
		zap.Any("positions", snap.Positions),
		zap.Float64("notional", snap.Notional),
		zap.Uint64("orders_submitted", metrics.Snapshot().OrdersSubmitted),
	)
	return nil
}

// pairParams starts from the environment and overlays PAIR_CONFIG when set.
func pairParams(cfg *config.Config) (strategy.Params, error) {
	params := strategy.Params{
		SymbolA: cfg.PairSymbolA,
		SymbolB: cfg.PairSymbolB,
		Beta:    cfg.PairBeta,
		Window:  cfg.PairWindow,
		EntryZ:  cfg.PairEntryZ,
		ExitZ:   cfg.PairExitZ,
	}
	if cfg.PairConfig == "" {
		return params, params.Validate()
	}
	loaded, err := strategy.LoadParams(cfg.PairConfig, params)
	if err != nil {
		return params, fmt.Errorf("pair config: %w", err)
	}
	return loaded, nil
}

func pruneQuotes(ctx context.Context, quotes *cache.Quotes, logger *zap.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := quotes.Prune(quoteMaxAge); n > 0 {
				logger.Debug("pruned stale quotes", zap.Int("count", n))
			}
		}
	}
}

func venueName(cfg *config.Config) string {
	if cfg.UseMockFeed {
		return "mock"
	}
	return cfg.MarketHost
}
