package market

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	binance "pairs-trading-core/pkg/market/binance"
	"pairs-trading-core/pkg/observer"
	"pairs-trading-core/pkg/wsconn"
)

// Source is anything that produces depth updates for the strategy.
type Source interface {
	Subscribe(fn func(binance.Update)) (cancel func())
	Start(ctx context.Context)
	Stop()
	Phase() wsconn.Phase
	Err() error
}

var (
	_ Source = (*Feed)(nil)
	_ Source = (*MockFeed)(nil)
)

// MockFeed generates synthetic books from a random walk for local development.
type MockFeed struct {
	Symbols    []string
	StartPrice float64
	Step       float64
	Tick       float64
	Interval   time.Duration
	// Seed fixes the random walk; zero uses the current time.
	Seed int64

	subs     observer.List[binance.Update]
	phase    atomic.Int32
	stopOnce sync.Once
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

func (m *MockFeed) Subscribe(fn func(binance.Update)) (cancel func()) {
	return m.subs.Add(fn)
}

func (m *MockFeed) Phase() wsconn.Phase { return wsconn.Phase(m.phase.Load()) }

func (m *MockFeed) Err() error { return nil }

// Start emits one update per symbol every Interval until stopped.
func (m *MockFeed) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	symbols := normalizeSymbols(m.Symbols)
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Tick == 0 {
		m.Tick = 0.01
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.phase.Store(int32(wsconn.PhaseStreaming))

	prices := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		// Spread the legs apart so a pair does not start on identical prices.
		prices[sym] = m.StartPrice * float64(i+1)
	}

	go func() {
		defer close(m.done)
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-t.C:
				for _, sym := range symbols {
					prices[sym] += (rng.Float64()*2 - 1) * m.Step
					if prices[sym] <= m.Tick {
						prices[sym] = m.Tick * 2
					}
					m.subs.Notify(syntheticBook(sym, prices[sym], m.Tick, rng))
				}
			}
		}
	}()
}

// Stop halts the generator and waits for it. Safe to call more than once.
func (m *MockFeed) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		cancel, done := m.cancel, m.done
		if cancel == nil {
			m.cancel = func() {}
		}
		m.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		m.phase.Store(int32(wsconn.PhaseClosed))
	})
}

func syntheticBook(symbol string, mid, tick float64, rng *rand.Rand) binance.Update {
	u := binance.Update{
		Symbol: symbol,
		Bids:   make([]binance.Level, binance.MaxLevels),
		Asks:   make([]binance.Level, binance.MaxLevels),
	}
	for i := range binance.MaxLevels {
		off := tick * float64(i+1)
		u.Bids[i] = binance.Level{Price: mid - off, Quantity: 0.1 + rng.Float64()}
		u.Asks[i] = binance.Level{Price: mid + off, Quantity: 0.1 + rng.Float64()}
	}
	return u
}
