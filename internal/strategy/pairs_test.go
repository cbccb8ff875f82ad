package strategy

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pairs-trading-core/internal/order"
	"pairs-trading-core/internal/risk"
	"pairs-trading-core/internal/stats"
	"pairs-trading-core/pkg/exchanges/common"
	binance "pairs-trading-core/pkg/market/binance"
)

type approveCall struct {
	Symbol   string
	Side     common.Side
	Quantity float64
	Price    float64
}

type fakeRisk struct {
	mu     sync.Mutex
	calls  []approveCall
	reject map[string]string
}

func (f *fakeRisk) Approve(symbol string, side common.Side, quantity, price float64) risk.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, approveCall{symbol, side, quantity, price})
	if reason, ok := f.reject[symbol]; ok {
		return risk.Decision{Reason: reason}
	}
	return risk.Decision{Allowed: true}
}

type fakeOrders struct {
	mu    sync.Mutex
	calls []approveCall
}

func (f *fakeOrders) Submit(side common.Side, quantity, price float64, symbol string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, approveCall{symbol, side, quantity, price})
	return "client_test"
}

func book(symbol string, mid float64) binance.Update {
	return binance.Update{
		Symbol: symbol,
		Bids:   []binance.Level{{Price: mid - 0.5, Quantity: 1}},
		Asks:   []binance.Level{{Price: mid + 0.5, Quantity: 1}},
	}
}

func testParams() Params {
	return Params{SymbolA: "BTCUSDT", SymbolB: "ETHUSDT", Beta: 0.5, Window: 10, EntryZ: 2, ExitZ: 0.5}
}

// warmUp feeds nine A/B pairs whose spread alternates between 50 and 51.
func warmUp(s *PairsMeanReversion) {
	for i := range 9 {
		s.OnMarketData(book("BTCUSDT", 100+float64(i%2)))
		s.OnMarketData(book("ETHUSDT", 100))
	}
}

func TestSpreadAboveBandSellsAAndBuysB(t *testing.T) {
	r, o := &fakeRisk{}, &fakeOrders{}
	s, err := NewPairsMeanReversion(testParams(), r, o, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	warmUp(s)
	assert.Empty(t, r.calls)
	assert.Equal(t, 9, s.State().Samples)

	s.OnMarketData(book("BTCUSDT", 200))
	assert.Empty(t, r.calls, "A alone must not take a sample")
	s.OnMarketData(book("ETHUSDT", 100))

	want := []approveCall{
		{"BTCUSDT", common.SideSell, 1, 200},
		{"ETHUSDT", common.SideBuy, 0.5, 100},
	}
	assert.Equal(t, want, r.calls)
	assert.Equal(t, want, o.calls)

	st := s.State()
	assert.True(t, st.Ready)
	assert.Equal(t, 150.0, st.LastSpread)
	assert.Greater(t, st.LastZ, 2.0)
	assert.Equal(t, uint64(1), st.Signals)
}

func TestSpreadBelowBandBuysAAndSellsB(t *testing.T) {
	r, o := &fakeRisk{}, &fakeOrders{}
	var signals []Signal
	s, err := NewPairsMeanReversion(testParams(), r, o,
		WithLogger(zaptest.NewLogger(t)),
		WithSignalHandler(func(sig Signal) { signals = append(signals, sig) }))
	require.NoError(t, err)

	warmUp(s)
	s.OnMarketData(book("ETHUSDT", 100))
	s.OnMarketData(book("BTCUSDT", 10))

	want := []approveCall{
		{"BTCUSDT", common.SideBuy, 1, 10},
		{"ETHUSDT", common.SideSell, 0.5, 100},
	}
	assert.Equal(t, want, o.calls)
	require.Len(t, signals, 1)
	assert.Less(t, signals[0].Z, -2.0)
	assert.Equal(t, -40.0, signals[0].Spread)
}

func TestNoSignalInsideBand(t *testing.T) {
	r, o := &fakeRisk{}, &fakeOrders{}
	s, err := NewPairsMeanReversion(testParams(), r, o)
	require.NoError(t, err)

	warmUp(s)
	s.OnMarketData(book("BTCUSDT", 100))
	s.OnMarketData(book("ETHUSDT", 100))
	assert.Empty(t, r.calls)
	assert.Empty(t, o.calls)
	assert.True(t, s.State().Ready)
}

func TestFlatSpreadNeverSignals(t *testing.T) {
	r, o := &fakeRisk{}, &fakeOrders{}
	s, err := NewPairsMeanReversion(testParams(), r, o)
	require.NoError(t, err)

	for range 30 {
		s.OnMarketData(book("BTCUSDT", 100))
		s.OnMarketData(book("ETHUSDT", 100))
	}
	assert.Empty(t, r.calls)
}

func TestOneSamplePerFreshPair(t *testing.T) {
	s, err := NewPairsMeanReversion(testParams(), &fakeRisk{}, &fakeOrders{})
	require.NoError(t, err)

	s.OnMarketData(book("BTCUSDT", 100))
	s.OnMarketData(book("BTCUSDT", 101))
	s.OnMarketData(book("BTCUSDT", 102))
	assert.Equal(t, 0, s.State().Samples)

	s.OnMarketData(book("ETHUSDT", 100))
	assert.Equal(t, 1, s.State().Samples)
	assert.Equal(t, 52.0, s.State().LastSpread)

	s.OnMarketData(book("ETHUSDT", 90))
	s.OnMarketData(book("ETHUSDT", 80))
	assert.Equal(t, 1, s.State().Samples)

	s.OnMarketData(book("BTCUSDT", 100))
	assert.Equal(t, 2, s.State().Samples)
	assert.Equal(t, 60.0, s.State().LastSpread)
	assert.Equal(t, []float64{52, 60}, s.State().Spreads)
}

func TestIgnoresOtherSymbolsAndEmptyBooks(t *testing.T) {
	s, err := NewPairsMeanReversion(testParams(), &fakeRisk{}, &fakeOrders{})
	require.NoError(t, err)

	s.OnMarketData(book("XRPUSDT", 1))
	s.OnMarketData(binance.Update{Symbol: "BTCUSDT", Bids: []binance.Level{{Price: 1, Quantity: 1}}})
	s.OnMarketData(binance.Update{Symbol: "ETHUSDT"})

	st := s.State()
	assert.Zero(t, st.PriceA)
	assert.Zero(t, st.PriceB)
	assert.Zero(t, st.Samples)
}

func TestRejectedLegIsNotSubmitted(t *testing.T) {
	r := &fakeRisk{reject: map[string]string{"ETHUSDT": "total notional cap exceeded"}}
	o := &fakeOrders{}
	var rejected []Leg
	s, err := NewPairsMeanReversion(testParams(), r, o,
		WithRejectHandler(func(leg Leg, d risk.Decision) {
			assert.Equal(t, "total notional cap exceeded", d.Reason)
			rejected = append(rejected, leg)
		}))
	require.NoError(t, err)

	warmUp(s)
	s.OnMarketData(book("BTCUSDT", 200))
	s.OnMarketData(book("ETHUSDT", 100))

	assert.Len(t, r.calls, 2)
	require.Len(t, o.calls, 1)
	assert.Equal(t, "BTCUSDT", o.calls[0].Symbol)
	require.Len(t, rejected, 1)
	assert.Equal(t, Leg{Symbol: "ETHUSDT", Side: common.SideBuy, Quantity: 0.5, Price: 100}, rejected[0])
}

func TestSignalFlowsThroughRiskIntoGateway(t *testing.T) {
	gw := order.NewGateway(order.Config{Host: "127.0.0.1", Port: "1"}, order.WithLogger(zaptest.NewLogger(t)))
	guard := risk.NewGuard(gw, risk.DefaultConfig(), zaptest.NewLogger(t))
	defer guard.Close()

	s, err := NewPairsMeanReversion(testParams(), guard, gw, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	warmUp(s)
	s.OnMarketData(book("BTCUSDT", 200))
	s.OnMarketData(book("ETHUSDT", 100))

	orders := gw.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "client_1", orders[0].ClientID)
	assert.Equal(t, common.SideSell, orders[0].Side)
	assert.Equal(t, 1.0, orders[0].Quantity)
	assert.Equal(t, common.SideBuy, orders[1].Side)
	assert.Equal(t, 0.5, orders[1].Quantity)
	assert.Equal(t, 2, gw.Pending())

	require.NoError(t, gw.Acknowledge(orders[0].ClientID, 1, 200, true))
	assert.Equal(t, -1.0, guard.Position("BTCUSDT"))
	assert.Equal(t, 200.0, guard.Notional())
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		is     error
	}{
		{"missing symbol", func(p *Params) { p.SymbolB = "" }, nil},
		{"same symbol", func(p *Params) { p.SymbolB = p.SymbolA }, nil},
		{"zero window", func(p *Params) { p.Window = 0 }, stats.ErrInvalidWindow},
		{"negative entry", func(p *Params) { p.EntryZ = -1 }, nil},
		{"zero beta", func(p *Params) { p.Beta = 0 }, nil},
		{"negative beta", func(p *Params) { p.Beta = -0.065 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			_, err = NewPairsMeanReversion(p, &fakeRisk{}, &fakeOrders{})
			assert.Error(t, err)
		})
	}
	assert.NoError(t, DefaultParams().Validate())
}

func TestExitThresholdIsExposed(t *testing.T) {
	s, err := NewPairsMeanReversion(DefaultParams(), &fakeRisk{}, &fakeOrders{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.Params().ExitZ)
	assert.Equal(t, 0.065, s.Params().Beta)
}

func TestLoadParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pair.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pair:\n  symbol_a: SOLUSDT\n  window: 30\n  exit_z: 0.25\n"), 0o600))

	p, err := LoadParams(path, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", p.SymbolA)
	assert.Equal(t, "ETHUSDT", p.SymbolB)
	assert.Equal(t, 30, p.Window)
	assert.Equal(t, 0.065, p.Beta)
	assert.Equal(t, 0.25, p.ExitZ)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pair:\n  window: 0\n"), 0o600))
	_, err = LoadParams(bad, DefaultParams())
	assert.ErrorIs(t, err, stats.ErrInvalidWindow)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("pair: [unclosed"), 0o600))
	_, err = LoadParams(broken, DefaultParams())
	assert.Error(t, err)

	_, err = LoadParams(filepath.Join(dir, "missing.yaml"), DefaultParams())
	assert.Error(t, err)
}

func TestLoadParamsNormalizesSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pair:\n  symbol_a: \" solusdt\"\n  symbol_b: avaxusdt\n"), 0o600))

	p, err := LoadParams(path, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", p.SymbolA)
	assert.Equal(t, "AVAXUSDT", p.SymbolB)

	r := &fakeRisk{}
	s, err := NewPairsMeanReversion(p, r, &fakeOrders{})
	require.NoError(t, err)
	s.OnMarketData(book("SOLUSDT", 150))
	s.OnMarketData(book("AVAXUSDT", 30))
	assert.Equal(t, 1, s.State().Samples)
}
