package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"pairs-trading-core/internal/events"
	"pairs-trading-core/internal/monitor"
	"pairs-trading-core/internal/order"
	"pairs-trading-core/internal/persistence"
	"pairs-trading-core/internal/risk"
	"pairs-trading-core/internal/strategy"
	"pairs-trading-core/pkg/cache"
	"pairs-trading-core/pkg/db"
	"pairs-trading-core/pkg/logging"
	"pairs-trading-core/pkg/wsconn"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderBook is the slice of the order gateway the API reads and drives.
type OrderBook interface {
	SessionID() string
	Phase() wsconn.Phase
	Order(clientID string) (order.Order, bool)
	Orders() []order.Order
	Pending() int
	Cancel(clientID string)
}

// RiskView exposes the risk ledgers.
type RiskView interface {
	Snapshot() risk.Snapshot
}

// QuoteView exposes the last quote per symbol.
type QuoteView interface {
	All() map[string]cache.Quote
}

// JournalView reads the order journal. Empty session arguments match every
// session.
type JournalView interface {
	GetOrder(ctx context.Context, sessionID, clientID string) (db.OrderRecord, error)
	ListOrders(ctx context.Context, sessionID string, limit int) ([]db.OrderRecord, error)
	ListFills(ctx context.Context, sessionID, symbol string, limit int) ([]db.FillRecord, error)
	NetPositions(ctx context.Context, sessionID string) (map[string]float64, error)
	TradedNotional(ctx context.Context, sessionID string) (float64, error)
}

// JournalStats reports the journal writer counters.
type JournalStats interface {
	GetMetrics() persistence.BatchWriterMetrics
}

// StrategyView exposes the live strategy state.
type StrategyView interface {
	State() strategy.State
}

// FeedStatus reports the market-data connection state.
type FeedStatus interface {
	Phase() wsconn.Phase
	Err() error
}

// Server wires HTTP endpoints around the trading pipeline and the event bus.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Orders    OrderBook
	Risk      RiskView
	Feed      FeedStatus
	Quotes    QuoteView
	Journal   JournalView
	Writer    JournalStats
	Strategy  StrategyView
	Metrics   *monitor.Metrics
	JWTSecret string
	Meta      SystemMeta

	logger *zap.Logger
	mu     sync.Mutex
	http   *http.Server
}

// SystemMeta describes runtime settings exposed on /api/status.
type SystemMeta struct {
	Venue       string          `json:"venue"`
	Symbols     []string        `json:"symbols"`
	UseMockFeed bool            `json:"use_mock_feed"`
	Execution   bool            `json:"execution_enabled"`
	Pair        strategy.Params `json:"pair"`
	Version     string          `json:"version"`
}

// Deps groups the components served by the API. Nil members disable the
// routes that need them.
type Deps struct {
	Bus      *events.Bus
	Orders   OrderBook
	Risk     RiskView
	Feed     FeedStatus
	Quotes   QuoteView
	Journal  JournalView
	Writer   JournalStats
	Strategy StrategyView
	Metrics  *monitor.Metrics
	Logger   *zap.Logger
}

func NewServer(deps Deps, meta SystemMeta, jwtSecret string) *Server {
	logger := logging.OrNop(deps.Logger).Named("api")

	r := gin.New()

	// Middleware stack (order matters!)
	limiter := newIPLimiter(20, 50, 5*time.Minute)
	r.Use(gin.Recovery())                       // Panic recovery (first)
	r.Use(RequestIDMiddleware())                // Request ID tracking
	r.Use(RequestLogger(logger))                // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(limiter, logger)) // Rate limiting
	r.Use(CORSMiddleware())                     // CORS (last before routes)

	s := &Server{
		Router:    r,
		Bus:       deps.Bus,
		Orders:    deps.Orders,
		Risk:      deps.Risk,
		Feed:      deps.Feed,
		Quotes:    deps.Quotes,
		Journal:   deps.Journal,
		Writer:    deps.Writer,
		Strategy:  deps.Strategy,
		Metrics:   deps.Metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.JWTSecret), s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/quotes", s.getQuotes)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/orders", s.getOrders)
			protected.GET("/orders/:id", s.getOrder)
			protected.POST("/orders/:id/cancel", s.cancelOrder)
			protected.GET("/positions", s.getPositions)
			protected.GET("/fills", s.getFills)
			protected.GET("/journal/orders", s.getJournalOrders)
			protected.GET("/journal/orders/:session/:id", s.getJournalOrder)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("api listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
