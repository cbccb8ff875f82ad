package order

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pairs-trading-core/internal/monitor"
	"pairs-trading-core/pkg/exchanges/binance/wsapi"
	"pairs-trading-core/pkg/exchanges/common"
	"pairs-trading-core/pkg/logging"
	"pairs-trading-core/pkg/observer"
	"pairs-trading-core/pkg/wsconn"
)

// DefaultPath is the order-entry endpoint of the WebSocket API.
const DefaultPath = "/ws-api/v3"

const (
	defaultUserAgent    = "pairs-trading-core/1.0"
	defaultQueueSize    = 256
	defaultPingInterval = 20 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultWriteWait    = 10 * time.Second
)

var (
	// ErrUnknownOrder is returned for acknowledgements of ids the ledger never issued.
	ErrUnknownOrder = errors.New("order: unknown client id")
	// ErrTerminalOrder is returned when an order has already reached a final status.
	ErrTerminalOrder = errors.New("order: order is in a terminal status")
)

// Config selects the order-entry endpoint and connection behaviour.
type Config struct {
	Host string
	Port string
	Path string

	TLSConfig *tls.Config
	Resolver  *net.Resolver

	UserAgent string
	// QueueSize bounds requests waiting for the writer.
	QueueSize int
	// RateLimit paces outgoing requests per second; 0 disables pacing.
	RateLimit float64

	// Keep-alive. A negative PingInterval or PongWait disables it.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	// Signer authenticates requests when it carries credentials.
	Signer wsapi.Signer
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongWait == 0 {
		c.PongWait = defaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics records order counters and ack latency into m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

type record struct {
	order       Order
	seq         uint64
	submittedAt time.Time
	acked       bool
}

// Gateway submits orders over one WebSocket connection, keeps the ledger of
// every order it issued and applies acknowledgements to it.
type Gateway struct {
	cfg     Config
	machine *wsconn.Machine
	session string
	logger  *zap.Logger
	metrics *monitor.Metrics
	limiter *rate.Limiter
	outbox  *outbox
	subs    observer.List[Order]

	seq atomic.Uint64

	mu     sync.Mutex
	ledger map[string]*record

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	life      sync.Mutex
	cancel    context.CancelFunc
	started   bool
	writing   bool
	readErr   error
	done      chan struct{}
	writeDone chan struct{}
}

// NewGateway builds a gateway in the Disconnected phase. Requests submitted
// before Start are held until the connection is streaming.
func NewGateway(cfg Config, opts ...Option) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		cfg:       cfg,
		session:   uuid.NewString(),
		outbox:    newOutbox(cfg.QueueSize),
		ledger:    make(map[string]*record),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger).Named("gateway")
	if g.metrics == nil {
		g.metrics = monitor.NewMetrics()
	}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	header := http.Header{}
	header.Set("User-Agent", cfg.UserAgent)
	header.Set("X-Client-Session", g.session)
	g.machine = wsconn.NewMachine(wsconn.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Path:      cfg.Path,
		TLSConfig: cfg.TLSConfig,
		Header:    header,
		Resolver:  cfg.Resolver,
	}, g.logger)
	return g
}

// SessionID identifies this process to the exchange.
func (g *Gateway) SessionID() string { return g.session }

// Target returns the request path of the order-entry endpoint.
func (g *Gateway) Target() string { return g.cfg.Path }

// Phase returns the connection phase.
func (g *Gateway) Phase() wsconn.Phase { return g.machine.Phase() }

// Err returns the error that halted the connection, if any.
func (g *Gateway) Err() error {
	if err := g.machine.Err(); err != nil {
		return err
	}
	g.life.Lock()
	defer g.life.Unlock()
	return g.readErr
}

// Subscribe registers fn for every order status change. Callbacks run on the
// gateway's read goroutine, or on the caller of Acknowledge, in registration
// order. They receive copies.
func (g *Gateway) Subscribe(fn func(Order)) (cancel func()) {
	return g.subs.Add(fn)
}

// Submit records a new limit order and queues it for sending. It returns the
// client id immediately.
func (g *Gateway) Submit(side common.Side, quantity, price float64, symbol string) string {
	n := g.seq.Add(1)
	id := "client_" + strconv.FormatUint(n, 10)
	now := time.Now()

	g.mu.Lock()
	g.ledger[id] = &record{
		order: Order{
			ClientID:     id,
			Symbol:       symbol,
			Side:         side,
			Quantity:     quantity,
			OrigQuantity: quantity,
			Price:        price,
			Status:       StatusNew,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		seq:         n,
		submittedAt: now,
	}
	g.mu.Unlock()

	g.metrics.IncSubmitted()
	g.logger.Info("submit",
		zap.String("id", id),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price))

	g.send(wsapi.NewPlaceOrder(wsapi.PlaceOrder{
		ClientID: id,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
	}))
	return id
}

// Cancel queues a cancel request for clientID. The ledger is not consulted
// beyond looking up the symbol, and no status changes until the exchange
// confirms.
func (g *Gateway) Cancel(clientID string) {
	var symbol string
	g.mu.Lock()
	if rec, ok := g.ledger[clientID]; ok {
		symbol = rec.order.Symbol
	}
	g.mu.Unlock()

	g.metrics.IncCanceled()
	g.logger.Info("cancel", zap.String("id", clientID))
	g.send(wsapi.NewCancelOrder(clientID, symbol))
}

func (g *Gateway) send(req wsapi.Request) {
	g.cfg.Signer.Sign(&req)
	msg, err := req.Encode()
	if err != nil {
		g.logger.Error("encode request", zap.String("id", req.ID), zap.Error(err))
		return
	}
	if g.stopped.Load() {
		g.metrics.IncDroppedWrites()
		g.logger.Warn("gateway stopped; dropping request", zap.String("id", req.ID))
		return
	}
	if !g.outbox.tryPush(msg) {
		g.metrics.IncDroppedWrites()
		g.logger.Error("write queue full; dropping request",
			zap.String("id", req.ID),
			zap.Int("queue_size", g.cfg.QueueSize))
	}
}

// Acknowledge applies an exchange response to the order with clientID:
//
//	success=false                       -> REJECTED
//	success, filledQty == 0             -> ACKED
//	success, 0 < filledQty < remaining  -> PARTIAL, remaining -= filledQty
//	success, filledQty >= remaining     -> FILLED, remaining = 0
//
// Unknown ids and orders already in a terminal status are left untouched and
// subscribers are not called.
func (g *Gateway) Acknowledge(clientID string, filledQty, filledPrice float64, success bool) error {
	now := time.Now()

	g.mu.Lock()
	rec, ok := g.ledger[clientID]
	if !ok {
		g.mu.Unlock()
		g.logger.Warn("ack for unknown order", zap.String("id", clientID))
		return fmt.Errorf("%w: %s", ErrUnknownOrder, clientID)
	}
	o := &rec.order
	if o.Status.Terminal() {
		status := o.Status
		g.mu.Unlock()
		g.logger.Warn("ack for finished order ignored",
			zap.String("id", clientID),
			zap.String("status", string(status)))
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, clientID, status)
	}

	switch {
	case !success:
		o.Status = StatusRejected
	case filledQty == 0:
		o.Status = StatusAcked
	case filledQty < o.Quantity:
		o.Status = StatusPartial
		o.Quantity -= filledQty
	default:
		o.Status = StatusFilled
		o.Quantity = 0
	}
	o.LastFillQuantity = filledQty
	o.LastFillPrice = filledPrice
	o.UpdatedAt = now

	var latency time.Duration
	firstAck := !rec.acked
	if firstAck {
		rec.acked = true
		latency = now.Sub(rec.submittedAt)
	}
	snapshot := *o
	g.mu.Unlock()

	if firstAck {
		g.metrics.AckLatency.RecordDuration(latency)
	}
	g.metrics.IncAcks()
	switch snapshot.Status {
	case StatusRejected:
		g.metrics.IncRejects()
	case StatusPartial, StatusFilled:
		g.metrics.IncFills()
	}
	g.logger.Info("order update",
		zap.String("id", clientID),
		zap.String("status", string(snapshot.Status)),
		zap.Float64("remaining", snapshot.Quantity),
		zap.Float64("last_fill_qty", filledQty),
		zap.Float64("last_fill_price", filledPrice))

	g.subs.Notify(snapshot)
	return nil
}

// confirmCancel moves an open order to CANCELED after the exchange confirmed it.
func (g *Gateway) confirmCancel(clientID string) error {
	g.mu.Lock()
	rec, ok := g.ledger[clientID]
	if !ok {
		g.mu.Unlock()
		g.logger.Warn("cancel confirmation for unknown order", zap.String("id", clientID))
		return fmt.Errorf("%w: %s", ErrUnknownOrder, clientID)
	}
	o := &rec.order
	if o.Status.Terminal() {
		status := o.Status
		g.mu.Unlock()
		g.logger.Warn("cancel confirmation for finished order ignored",
			zap.String("id", clientID),
			zap.String("status", string(status)))
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, clientID, status)
	}
	o.Status = StatusCanceled
	o.LastFillQuantity = 0
	o.LastFillPrice = 0
	o.UpdatedAt = time.Now()
	snapshot := *o
	g.mu.Unlock()

	g.logger.Info("order canceled", zap.String("id", clientID), zap.Float64("remaining", snapshot.Quantity))
	g.subs.Notify(snapshot)
	return nil
}

// Order returns a copy of the order with clientID.
func (g *Gateway) Order(clientID string) (Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.ledger[clientID]
	if !ok {
		return Order{}, false
	}
	return rec.order, true
}

// Orders returns copies of every order in submission order.
func (g *Gateway) Orders() []Order {
	g.mu.Lock()
	recs := make([]*record, 0, len(g.ledger))
	for _, rec := range g.ledger {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]Order, len(recs))
	for i, rec := range recs {
		out[i] = rec.order
	}
	g.mu.Unlock()
	return out
}

// Pending returns the number of requests waiting for the writer.
func (g *Gateway) Pending() int {
	return g.outbox.len()
}

// Start connects and runs the read loop on a worker goroutine and the writer
// on another. Only the first call has an effect. Cancelling ctx stops the
// gateway.
func (g *Gateway) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		g.life.Lock()
		if g.cancel != nil {
			g.life.Unlock()
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		g.cancel = cancel
		g.started = true
		g.life.Unlock()

		context.AfterFunc(runCtx, g.Stop)
		go g.run(runCtx)
	})
}

// Stop closes the connection layer by layer and waits for both goroutines. The
// close runs on the writer goroutine when it is running. Safe to call more
// than once; later submissions are dropped.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.stopped.Store(true)

		g.life.Lock()
		cancel, started, writing := g.cancel, g.started, g.writing
		if cancel == nil {
			g.cancel = func() {}
		}
		g.life.Unlock()

		if cancel != nil {
			cancel()
		}
		if writing {
			<-g.writeDone
		} else {
			g.closeConn()
		}
		if started {
			<-g.done
		}
		g.logger.Info("stopped", zap.Int("unsent", g.outbox.len()))
	})
}

func (g *Gateway) closeConn() {
	if err := g.machine.Close(); err != nil {
		g.logger.Warn("close", zap.Error(err))
	}
}

func (g *Gateway) run(ctx context.Context) {
	defer close(g.done)

	g.logger.Info("connecting",
		zap.String("host", g.cfg.Host),
		zap.String("path", g.cfg.Path),
		zap.String("session", g.session))
	conn, err := g.machine.Connect(ctx)
	if err != nil {
		return
	}

	g.life.Lock()
	if g.stopped.Load() {
		g.life.Unlock()
		return
	}
	g.writing = true
	g.life.Unlock()

	go g.writeLoop(ctx, conn)
	g.readLoop(ctx, conn)
}

func (g *Gateway) writeLoop(ctx context.Context, conn *wsconn.Conn) {
	defer close(g.writeDone)
	defer g.closeConn()

	var ping <-chan time.Time
	if g.cfg.PingInterval > 0 {
		t := time.NewTicker(g.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-g.outbox.ch:
			if g.limiter != nil {
				if err := g.limiter.Wait(ctx); err != nil {
					return
				}
			}
			_ = conn.WS.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WS.WriteMessage(websocket.TextMessage, msg); err != nil {
				g.metrics.IncDroppedWrites()
				g.logger.Error("write failed", zap.Error(err), zap.Int("bytes", len(msg)))
				continue
			}
			g.logger.Debug("sent", zap.ByteString("message", msg))
		case <-ping:
			deadline := time.Now().Add(g.cfg.WriteWait)
			if err := conn.WS.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				g.logger.Warn("ping failed", zap.Error(err))
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *wsconn.Conn) {
	if g.cfg.PongWait > 0 {
		_ = conn.WS.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		conn.WS.SetPongHandler(func(string) error {
			return conn.WS.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		})
	}

	for {
		_, msg, err := conn.WS.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || g.stopped.Load() {
				return
			}
			if wsconn.IsExpectedClose(err) {
				g.logger.Info("connection closed by peer", zap.Error(err))
			} else {
				g.logger.Error("read error", zap.Error(err))
			}
			g.life.Lock()
			g.readErr = err
			g.life.Unlock()
			return
		}
		if g.cfg.PongWait > 0 {
			_ = conn.WS.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
		}
		g.handle(msg)
	}
}

func (g *Gateway) handle(msg []byte) {
	resp, err := wsapi.ParseResponse(msg)
	if err != nil {
		g.metrics.IncDecodeErrors()
		g.logger.Warn("dropping response", zap.Error(err), zap.Int("bytes", len(msg)))
		return
	}
	if resp.ID == "" {
		g.logger.Debug("frame without id ignored", zap.ByteString("message", msg))
		return
	}
	if resp.Failed {
		g.logger.Error("exchange error",
			zap.String("id", resp.ID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
	}

	if resp.IsCancel() {
		if resp.Success() && resp.Status == string(StatusCanceled) {
			_ = g.confirmCancel(resp.OrigID())
			return
		}
		g.logger.Warn("cancel not confirmed",
			zap.String("id", resp.OrigID()),
			zap.String("status", resp.Status))
		return
	}
	_ = g.Acknowledge(resp.ID, resp.ExecutedQty, resp.Price, resp.Success())
}
