// Package wstest runs TLS WebSocket endpoints for tests.
package wstest

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Handler serves one upgraded connection. The connection is closed when it returns.
type Handler func(conn *websocket.Conn, r *http.Request)

// Server is a TLS WebSocket server on the loopback interface.
type Server struct {
	*httptest.Server
	host string
	port string
}

// NewServer starts a server that upgrades every request and hands it to h.
func NewServer(t testing.TB, h Handler) *Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		h(conn, r)
	}))
	t.Cleanup(srv.Close)
	return Wrap(t, srv)
}

// Wrap exposes host, port and a trusting client TLS config for srv.
func Wrap(t testing.TB, srv *httptest.Server) *Server {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return &Server{Server: srv, host: host, port: port}
}

func (s *Server) Host() string { return s.host }
func (s *Server) Port() string { return s.port }

// TLSConfig trusts the server's self-signed certificate.
func (s *Server) TLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(s.Certificate())
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	return port
}
