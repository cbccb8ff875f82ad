package market

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pairs-trading-core/internal/monitor"
	binance "pairs-trading-core/pkg/market/binance"
	"pairs-trading-core/pkg/wsconn"
	"pairs-trading-core/pkg/wsconn/wstest"
)

const (
	btcFrame = `{"stream":"btcusdt@depth5","data":{"b":[["100","1"],["99","2"]],"a":[["101","1"]]}}`
	ethFrame = `{"stream":"ethusdt@depth5","data":{"bids":[["10","3"]],"asks":[["11","4"]]}}`
)

type collector struct {
	mu      sync.Mutex
	updates []binance.Update
}

func (c *collector) add(u binance.Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) snapshot() []binance.Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]binance.Update(nil), c.updates...)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// streamServer sends frames after the upgrade, then waits for the client to
// close. It reports the request URI and the close code it saw.
func streamServer(t *testing.T, frames ...string) (*wstest.Server, <-chan string, <-chan int) {
	t.Helper()
	uris := make(chan string, 1)
	codes := make(chan int, 1)
	srv := wstest.NewServer(t, func(conn *websocket.Conn, r *http.Request) {
		uris <- r.URL.RequestURI()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					codes <- ce.Code
				}
				return
			}
		}
	})
	return srv, uris, codes
}

func newTestFeed(t *testing.T, srv *wstest.Server, symbols []string, opts ...Option) *Feed {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	f := NewFeed(Config{
		Host:      srv.Host(),
		Port:      srv.Port(),
		Symbols:   symbols,
		TLSConfig: srv.TLSConfig(),
	}, opts...)
	t.Cleanup(f.Stop)
	return f
}

func TestFeedDeliversDecodedUpdates(t *testing.T) {
	srv, uris, codes := streamServer(t, btcFrame, `{"stream":"btcusdt@depth5","data":`, ethFrame)
	metrics := monitor.NewMetrics()
	f := newTestFeed(t, srv, []string{"BTCUSDT", "ethusdt"}, WithMetrics(metrics))
	assert.Equal(t, "/stream?streams=btcusdt@depth5/ethusdt@depth5", f.Target())
	assert.Equal(t, wsconn.PhaseDisconnected, f.Phase())

	var got collector
	f.Subscribe(got.add)
	f.Start(context.Background())

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, wsconn.PhaseStreaming, f.Phase())
	assert.Equal(t, "/stream?streams=btcusdt@depth5/ethusdt@depth5", <-uris)

	updates := got.snapshot()
	assert.Equal(t, "BTCUSDT", updates[0].Symbol)
	assert.Equal(t, []binance.Level{{Price: 100, Quantity: 1}, {Price: 99, Quantity: 2}}, updates[0].Bids)
	mid, ok := updates[0].MidPrice()
	require.True(t, ok)
	assert.InDelta(t, 100.5, mid, 1e-12)
	assert.Equal(t, "ETHUSDT", updates[1].Symbol)
	assert.Equal(t, []binance.Level{{Price: 11, Quantity: 4}}, updates[1].Asks)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(3), snap.FramesReceived)
	assert.Equal(t, uint64(1), snap.DecodeErrors)

	f.Stop()
	f.Stop()
	assert.Equal(t, wsconn.PhaseClosed, f.Phase())
	assert.NoError(t, f.Err())
	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a close frame")
	}
}

func TestFeedSubscribersRunInRegistrationOrder(t *testing.T) {
	srv, _, _ := streamServer(t, btcFrame)
	f := newTestFeed(t, srv, []string{"btcusdt"})

	var mu sync.Mutex
	var order []string
	f.Subscribe(func(binance.Update) { mu.Lock(); order = append(order, "risk"); mu.Unlock() })
	cancel := f.Subscribe(func(binance.Update) { mu.Lock(); order = append(order, "removed"); mu.Unlock() })
	f.Subscribe(func(binance.Update) { mu.Lock(); order = append(order, "strategy"); mu.Unlock() })
	cancel()

	f.Start(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"risk", "strategy"}, order)
}

func TestFeedRendersToConsoleWithoutSubscribers(t *testing.T) {
	srv, _, _ := streamServer(t, btcFrame)
	var out lockedBuffer
	f := newTestFeed(t, srv, []string{"btcusdt"}, WithConsole(&out))
	f.Start(context.Background())

	require.Eventually(t, func() bool { return bytes.Contains([]byte(out.String()), []byte("===================")) },
		5*time.Second, 10*time.Millisecond)
	text := out.String()
	assert.Contains(t, text, "Symbol: BTCUSDT")
	assert.Contains(t, text, "Mid Price: 100.5000")
	assert.Contains(t, text, "Best Bid: 100 (1)")
	assert.Contains(t, text, "Spread: 1.0000")
}

func TestFeedHaltsWhenConnectionRefused(t *testing.T) {
	f := NewFeed(Config{Host: "127.0.0.1", Port: wstest.ClosedPort(t)}, WithLogger(zaptest.NewLogger(t)))
	assert.Equal(t, "/ws/btcusdt@depth5", f.Target())
	f.Start(context.Background())

	require.Eventually(t, func() bool { return f.Err() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, wsconn.PhaseConnecting, f.Phase())
	var perr *wsconn.PhaseError
	require.ErrorAs(t, f.Err(), &perr)
	assert.Equal(t, wsconn.PhaseConnecting, perr.Phase)

	f.Stop()
	f.Stop()
	assert.Equal(t, wsconn.PhaseClosed, f.Phase())
}

func TestFeedStopBeforeStart(t *testing.T) {
	f := NewFeed(Config{Host: "127.0.0.1", Port: "1"})
	f.Stop()
	f.Start(context.Background())
	assert.Equal(t, wsconn.PhaseClosed, f.Phase())
}

func TestFeedKeepsReadErrorWhenPeerCloses(t *testing.T) {
	srv := wstest.NewServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
	})
	f := newTestFeed(t, srv, nil)
	f.Start(context.Background())

	require.Eventually(t, func() bool { return f.Err() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, wsconn.PhaseStreaming, f.Phase())
	assert.True(t, websocket.IsCloseError(f.Err(), websocket.CloseGoingAway))
}

func TestFeedStopsWhenContextCancelled(t *testing.T) {
	srv, _, codes := streamServer(t)
	f := newTestFeed(t, srv, []string{"btcusdt"})
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	require.Eventually(t, func() bool { return f.Phase() == wsconn.PhaseStreaming }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return f.Phase() == wsconn.PhaseClosed }, 5*time.Second, 10*time.Millisecond)
	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw a close frame")
	}
}

func TestMockFeedEmitsBooksForEverySymbol(t *testing.T) {
	m := &MockFeed{Symbols: []string{"btcusdt", "ethusdt"}, Interval: 5 * time.Millisecond, Seed: 7}
	var got collector
	m.Subscribe(got.add)
	m.Start(context.Background())
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return len(got.snapshot()) >= 4 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, wsconn.PhaseStreaming, m.Phase())

	seen := map[string]bool{}
	for _, u := range got.snapshot() {
		seen[u.Symbol] = true
		require.Len(t, u.Bids, binance.MaxLevels)
		require.Len(t, u.Asks, binance.MaxLevels)
		assert.Less(t, u.Bids[0].Price, u.Asks[0].Price)
	}
	assert.True(t, seen["BTCUSDT"])
	assert.True(t, seen["ETHUSDT"])

	m.Stop()
	m.Stop()
	assert.Equal(t, wsconn.PhaseClosed, m.Phase())
	assert.NoError(t, m.Err())
}
