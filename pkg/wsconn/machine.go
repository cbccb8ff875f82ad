package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairs-trading-core/pkg/logging"
)

// closeWait bounds the write of the close frame during shutdown.
const closeWait = time.Second

// Config describes the endpoint of one connection.
type Config struct {
	Host string
	Port string
	Path string // request path, may carry a query string

	// TLSConfig is cloned per attempt. ServerName defaults to Host.
	TLSConfig *tls.Config
	// Header is sent with the WebSocket upgrade request.
	Header http.Header
	// Resolver defaults to net.DefaultResolver.
	Resolver *net.Resolver
}

// URL returns the wss URL requested during the protocol handshake.
func (c Config) URL() string {
	path := c.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "wss://" + net.JoinHostPort(c.Host, c.Port) + path
}

// Conn is an established connection with each layer kept reachable so it can
// be shut down in order.
type Conn struct {
	WS  *websocket.Conn
	TLS *tls.Conn
	TCP net.Conn
}

// Machine drives resolve, connect, TLS handshake and WebSocket handshake in
// sequence. A failing step leaves the machine in that phase; there is no retry.
type Machine struct {
	cfg    Config
	logger *zap.Logger

	phase atomic.Int32

	mu     sync.Mutex
	err    error
	tcp    net.Conn
	tlsc   *tls.Conn
	ws     *websocket.Conn
	closed bool
}

// NewMachine returns a machine in PhaseDisconnected.
func NewMachine(cfg Config, logger *zap.Logger) *Machine {
	return &Machine{cfg: cfg, logger: logging.OrNop(logger)}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return Phase(m.phase.Load())
}

// Err returns the error that halted the machine, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Config returns the endpoint configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// enter moves to p unless the machine has already been closed.
func (m *Machine) enter(p Phase) {
	for {
		cur := m.phase.Load()
		if Phase(cur) == PhaseClosed {
			return
		}
		if m.phase.CompareAndSwap(cur, int32(p)) {
			m.logger.Debug("phase", zap.Stringer("phase", p))
			return
		}
	}
}

func (m *Machine) fail(p Phase, err error) error {
	perr := &PhaseError{Phase: p, Err: err}
	m.mu.Lock()
	m.err = perr
	closed := m.closed
	m.mu.Unlock()
	if closed {
		m.logger.Debug("connection attempt abandoned", zap.Stringer("phase", p), zap.Error(err))
		return perr
	}
	m.logger.Error("connection step failed",
		zap.Stringer("phase", p),
		zap.String("host", m.cfg.Host),
		zap.Error(err))
	return perr
}

// Connect runs every step in order and returns the established connection.
func (m *Machine) Connect(ctx context.Context) (*Conn, error) {
	if m.Phase() == PhaseClosed {
		return nil, &PhaseError{Phase: PhaseClosed, Err: net.ErrClosed}
	}
	cfg := m.cfg

	m.enter(PhaseResolving)
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, cfg.Host)
	if err != nil {
		return nil, m.fail(PhaseResolving, err)
	}
	if len(addrs) == 0 {
		return nil, m.fail(PhaseResolving, fmt.Errorf("no addresses for %s", cfg.Host))
	}

	m.enter(PhaseConnecting)
	var (
		raw     net.Conn
		dialErr error
		dialer  net.Dialer
	)
	for _, addr := range addrs {
		raw, dialErr = dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, cfg.Port))
		if dialErr == nil {
			break
		}
	}
	if dialErr != nil {
		return nil, m.fail(PhaseConnecting, dialErr)
	}
	if !m.track(raw, nil, nil) {
		_ = raw.Close()
		return nil, m.fail(PhaseConnecting, net.ErrClosed)
	}

	m.enter(PhaseTLSHandshake)
	tlsCfg := &tls.Config{}
	if cfg.TLSConfig != nil {
		tlsCfg = cfg.TLSConfig.Clone()
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = cfg.Host
	}
	tlsConn := tls.Client(raw, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, m.fail(PhaseTLSHandshake, err)
	}
	m.track(raw, tlsConn, nil)

	m.enter(PhaseProtocolHandshake)
	wsDialer := websocket.Dialer{
		// The TLS session is already established; hand it to the upgrader as is.
		NetDialTLSContext: func(context.Context, string, string) (net.Conn, error) {
			return tlsConn, nil
		},
	}
	ws, resp, err := wsDialer.DialContext(ctx, cfg.URL(), cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		_ = raw.Close()
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, m.fail(PhaseProtocolHandshake, err)
	}
	if !m.track(raw, tlsConn, ws) {
		_ = ws.Close()
		return nil, m.fail(PhaseProtocolHandshake, net.ErrClosed)
	}

	m.enter(PhaseStreaming)
	m.logger.Info("connected", zap.String("url", cfg.URL()))
	return &Conn{WS: ws, TLS: tlsConn, TCP: raw}, nil
}

// track records the live layers; it reports false once Close has run.
func (m *Machine) track(raw net.Conn, tlsConn *tls.Conn, ws *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.tcp, m.tlsc, m.ws = raw, tlsConn, ws
	return true
}

// Close shuts down whatever layers exist: close frame with code 1000, TLS
// close_notify, TCP shutdown in both directions, then the socket. It moves the
// machine to PhaseClosed and is safe to call more than once. Errors expected
// during shutdown are dropped; the rest are returned joined.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	raw, tlsConn, ws := m.tcp, m.tlsc, m.ws
	m.mu.Unlock()

	var errs []error
	keep := func(err error) {
		if err != nil && !IsExpectedClose(err) {
			errs = append(errs, err)
		}
	}

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		keep(ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)))
	}
	if tlsConn != nil && ws != nil {
		keep(tlsConn.CloseWrite())
	}
	if tcp, ok := raw.(interface {
		CloseRead() error
		CloseWrite() error
	}); ok {
		keep(tcp.CloseRead())
		keep(tcp.CloseWrite())
	}
	if raw != nil {
		keep(raw.Close())
	}

	m.phase.Store(int32(PhaseClosed))
	m.logger.Debug("phase", zap.Stringer("phase", PhaseClosed))
	return errors.Join(errs...)
}

// IsExpectedClose reports errors that are normal while tearing a connection
// down or when the peer has gone away.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, syscall.ENOTCONN),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
