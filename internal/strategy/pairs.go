package strategy

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"pairs-trading-core/internal/risk"
	"pairs-trading-core/internal/stats"
	"pairs-trading-core/pkg/exchanges/common"
	"pairs-trading-core/pkg/logging"
	binance "pairs-trading-core/pkg/market/binance"
)

// Option customises a PairsMeanReversion.
type Option func(*PairsMeanReversion)

// WithLogger sets the strategy logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *PairsMeanReversion) { s.logger = l }
}

// WithRejectHandler is called for every leg the risk check refuses.
func WithRejectHandler(fn func(Leg, risk.Decision)) Option {
	return func(s *PairsMeanReversion) { s.onReject = fn }
}

// WithSignalHandler is called for every signal that produced legs.
func WithSignalHandler(fn func(Signal)) Option {
	return func(s *PairsMeanReversion) { s.onSignal = fn }
}

// PairsMeanReversion trades the spread priceA - beta*priceB back towards its
// rolling mean. One spread sample is taken each time both legs have a price
// newer than the previous sample.
type PairsMeanReversion struct {
	params Params
	risk   Approver
	orders Submitter
	logger *zap.Logger

	onReject func(Leg, risk.Decision)
	onSignal func(Signal)

	mu      sync.Mutex
	window  *stats.Rolling
	priceA  float64
	priceB  float64
	freshA  bool
	freshB  bool
	spread  float64
	z       float64
	signals uint64
}

// NewPairsMeanReversion validates params and builds the strategy.
func NewPairsMeanReversion(params Params, approver Approver, submitter Submitter, opts ...Option) (*PairsMeanReversion, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	window, err := stats.NewRolling(params.Window)
	if err != nil {
		return nil, err
	}
	s := &PairsMeanReversion{
		params: params,
		risk:   approver,
		orders: submitter,
		window: window,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("strategy")
	return s, nil
}

// Params returns the configured parameters, including the exit threshold,
// which no rule acts on.
func (s *PairsMeanReversion) Params() Params {
	return s.params
}

// OnMarketData consumes one depth update. Updates for other symbols and books
// without a mid price are ignored.
func (s *PairsMeanReversion) OnMarketData(u binance.Update) {
	if u.Symbol != s.params.SymbolA && u.Symbol != s.params.SymbolB {
		return
	}
	mid, ok := u.MidPrice()
	if !ok || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return
	}

	sig, ok := s.sample(u.Symbol, mid)
	if !ok || len(sig.Legs) == 0 {
		return
	}

	s.logger.Info("signal",
		zap.Float64("spread", sig.Spread),
		zap.Float64("z", sig.Z),
		zap.Int("legs", len(sig.Legs)))
	if s.onSignal != nil {
		s.onSignal(sig)
	}
	for _, leg := range sig.Legs {
		s.propose(leg)
	}
}

// sample records the leg price and, on a fresh pair, adds a spread sample and
// evaluates the entry rule. ok is false when no sample was taken.
func (s *PairsMeanReversion) sample(symbol string, mid float64) (sig Signal, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if symbol == s.params.SymbolA {
		s.priceA, s.freshA = mid, true
	} else {
		s.priceB, s.freshB = mid, true
	}
	if !s.freshA || !s.freshB {
		return Signal{}, false
	}
	s.freshA, s.freshB = false, false

	spread := s.priceA - s.params.Beta*s.priceB
	s.window.Add(spread)
	s.spread = spread
	if !s.window.Ready() {
		return Signal{Spread: spread}, true
	}

	mean, err := s.window.Mean()
	if err != nil {
		return Signal{Spread: spread}, true
	}
	sd, err := s.window.StdDev()
	if err != nil || sd <= 0 {
		return Signal{Spread: spread}, true
	}
	z := (spread - mean) / sd
	s.z = z

	sig = Signal{Spread: spread, Z: z}
	a, b := s.params.SymbolA, s.params.SymbolB
	switch {
	case z < -s.params.EntryZ:
		sig.Legs = []Leg{
			{Symbol: a, Side: common.SideBuy, Quantity: 1, Price: s.priceA},
			{Symbol: b, Side: common.SideSell, Quantity: s.params.Beta, Price: s.priceB},
		}
	case z > s.params.EntryZ:
		sig.Legs = []Leg{
			{Symbol: a, Side: common.SideSell, Quantity: 1, Price: s.priceA},
			{Symbol: b, Side: common.SideBuy, Quantity: s.params.Beta, Price: s.priceB},
		}
	}
	if len(sig.Legs) > 0 {
		s.signals++
	}
	return sig, true
}

func (s *PairsMeanReversion) propose(leg Leg) {
	d := s.risk.Approve(leg.Symbol, leg.Side, leg.Quantity, leg.Price)
	if !d.Allowed {
		s.logger.Warn("risk rejected leg",
			zap.String("symbol", leg.Symbol),
			zap.String("side", string(leg.Side)),
			zap.Float64("quantity", leg.Quantity),
			zap.Float64("price", leg.Price),
			zap.String("reason", d.Reason))
		if s.onReject != nil {
			s.onReject(leg, d)
		}
		return
	}
	id := s.orders.Submit(leg.Side, leg.Quantity, leg.Price, leg.Symbol)
	s.logger.Info("leg submitted",
		zap.String("id", id),
		zap.String("symbol", leg.Symbol),
		zap.String("side", string(leg.Side)))
}

// State is a point-in-time view of the strategy.
type State struct {
	Params     Params    `json:"params"`
	PriceA     float64   `json:"price_a"`
	PriceB     float64   `json:"price_b"`
	LastSpread float64   `json:"last_spread"`
	LastZ      float64   `json:"last_z"`
	Samples    int       `json:"samples"`
	Ready      bool      `json:"ready"`
	Signals    uint64    `json:"signals"`
	Spreads    []float64 `json:"spreads"` // window contents, oldest first
}

// State returns the latest prices, spread, z-score and the spread window.
func (s *PairsMeanReversion) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Params:     s.params,
		PriceA:     s.priceA,
		PriceB:     s.priceB,
		LastSpread: s.spread,
		LastZ:      s.z,
		Samples:    s.window.Len(),
		Ready:      s.window.Ready(),
		Signals:    s.signals,
		Spreads:    s.window.Values(),
	}
}
