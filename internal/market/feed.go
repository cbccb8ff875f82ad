package market

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pairs-trading-core/internal/monitor"
	"pairs-trading-core/pkg/logging"
	binance "pairs-trading-core/pkg/market/binance"
	"pairs-trading-core/pkg/observer"
	"pairs-trading-core/pkg/wsconn"
)

// Config selects the depth stream endpoint and symbols.
type Config struct {
	Host    string
	Port    string
	Symbols []string

	// TLSConfig overrides the default roots; ServerName defaults to Host.
	TLSConfig *tls.Config
	Resolver  *net.Resolver
}

// Option customises a Feed.
type Option func(*Feed)

// WithLogger sets the feed logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Feed) { f.logger = l }
}

// WithMetrics counts frames and decode errors into m.
func WithMetrics(m *monitor.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// WithConsole sets where updates are rendered when nobody is subscribed.
func WithConsole(w io.Writer) Option {
	return func(f *Feed) { f.console = w }
}

// Feed streams top-of-book depth for a set of symbols over one WebSocket
// connection and hands every decoded update to its subscribers.
type Feed struct {
	target   string
	fallback string
	machine  *wsconn.Machine

	logger  *zap.Logger
	metrics *monitor.Metrics
	console io.Writer
	subs    observer.List[binance.Update]

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	cancel    context.CancelFunc
	started   bool
	readErr   error
	done      chan struct{}
}

// NewFeed builds a feed in the Disconnected phase.
func NewFeed(cfg Config, opts ...Option) *Feed {
	f := &Feed{
		target:   binance.StreamTarget(cfg.Symbols),
		fallback: binance.TargetFallbackSymbol(cfg.Symbols),
		console:  os.Stdout,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrNop(f.logger).Named("feed")
	if f.metrics == nil {
		f.metrics = monitor.NewMetrics()
	}
	f.machine = wsconn.NewMachine(wsconn.Config{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Path:      f.target,
		TLSConfig: cfg.TLSConfig,
		Resolver:  cfg.Resolver,
	}, f.logger)
	return f
}

// Subscribe registers fn for every decoded update. Callbacks run on the feed's
// read goroutine in registration order and must not call Stop.
func (f *Feed) Subscribe(fn func(binance.Update)) (cancel func()) {
	return f.subs.Add(fn)
}

// Target returns the request path of the stream subscription.
func (f *Feed) Target() string { return f.target }

// Phase returns the connection phase.
func (f *Feed) Phase() wsconn.Phase { return f.machine.Phase() }

// Err returns the error that halted the feed, if any.
func (f *Feed) Err() error {
	if err := f.machine.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr
}

// Start connects and streams on a worker goroutine. Only the first call has
// an effect. Cancelling ctx stops the feed.
func (f *Feed) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		f.mu.Lock()
		if f.cancel != nil {
			// Stopped before it started.
			f.mu.Unlock()
			return
		}
		runCtx, cancel := context.WithCancel(ctx)
		f.cancel = cancel
		f.started = true
		f.mu.Unlock()

		context.AfterFunc(runCtx, f.Stop)
		go f.run(runCtx)
	})
}

// Stop aborts whatever step is in progress, closes the connection layer by
// layer and waits for the worker to exit. It is safe to call more than once.
func (f *Feed) Stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		cancel, started := f.cancel, f.started
		if cancel == nil {
			f.cancel = func() {}
		}
		f.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := f.machine.Close(); err != nil {
			f.logger.Warn("close", zap.Error(err))
		}
		if started {
			<-f.done
		}
		f.logger.Info("stopped")
	})
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	f.logger.Info("connecting", zap.String("target", f.target))
	conn, err := f.machine.Connect(ctx)
	if err != nil {
		return
	}

	for {
		_, msg, err := conn.WS.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || f.machine.Phase() == wsconn.PhaseClosed {
				return
			}
			if wsconn.IsExpectedClose(err) {
				f.logger.Info("stream closed by peer", zap.Error(err))
			} else {
				f.logger.Error("read error", zap.Error(err))
			}
			f.mu.Lock()
			f.readErr = err
			f.mu.Unlock()
			return
		}
		f.handle(msg)
	}
}

func (f *Feed) handle(msg []byte) {
	f.metrics.IncFrames()
	update, err := binance.DecodeDepth(msg, f.fallback)
	if err != nil {
		f.metrics.IncDecodeErrors()
		f.logger.Warn("dropping frame", zap.Error(err), zap.Int("bytes", len(msg)))
		return
	}
	if !f.subs.Notify(update) && f.console != nil {
		Render(f.console, update)
	}
}

// normalizeSymbols upper-cases and trims a configured symbol list.
func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
