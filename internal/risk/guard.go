package risk

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"pairs-trading-core/internal/order"
	"pairs-trading-core/pkg/exchanges/common"
	"pairs-trading-core/pkg/logging"
)

// OrderUpdates is the source of order status changes, normally the gateway.
type OrderUpdates interface {
	Subscribe(fn func(order.Order)) (cancel func())
}

// Guard keeps net positions and traded notional from confirmed fills and
// checks proposed orders against the configured limits.
//
// Approve does not reserve capacity: two proposals checked before either
// fills can both pass and together overshoot a limit.
type Guard struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	positions map[string]float64
	notional  float64

	checks     atomic.Uint64
	rejections atomic.Uint64

	unsubscribe func()
}

// NewGuard creates a guard and subscribes it to updates. updates may be nil
// when fills are fed through OnOrderUpdate directly.
func NewGuard(updates OrderUpdates, cfg Config, logger *zap.Logger) *Guard {
	g := &Guard{
		cfg:         cfg,
		logger:      logging.OrNop(logger).Named("risk"),
		positions:   make(map[string]float64),
		unsubscribe: func() {},
	}
	if updates != nil {
		g.unsubscribe = updates.Subscribe(g.OnOrderUpdate)
	}
	g.logger.Info("risk limits",
		zap.Float64("max_position_per_symbol", cfg.MaxPositionPerSymbol),
		zap.Float64("max_total_notional", cfg.MaxTotalNotional))
	return g
}

// Close stops listening for order updates.
func (g *Guard) Close() {
	g.unsubscribe()
}

// Approve checks whether an order would keep the symbol's position and the
// total notional within limits. Reaching a limit exactly is allowed.
func (g *Guard) Approve(symbol string, side common.Side, quantity, price float64) Decision {
	g.checks.Add(1)

	if !finite(quantity) || !finite(price) || quantity <= 0 {
		g.rejections.Add(1)
		return Decision{Reason: ReasonInvalidOrder}
	}

	g.mu.Lock()
	position := g.positions[symbol] + side.Sign()*quantity
	notional := g.notional + math.Abs(quantity*price)
	g.mu.Unlock()

	var d Decision
	switch {
	case math.Abs(position) > g.cfg.MaxPositionPerSymbol:
		d.Reason = ReasonPositionLimit + symbol
	case notional > g.cfg.MaxTotalNotional:
		d.Reason = ReasonNotionalCap
	default:
		d.Allowed = true
		return d
	}
	g.rejections.Add(1)
	return d
}

// OnOrderUpdate applies the last fill increment of PARTIAL and FILLED updates.
func (g *Guard) OnOrderUpdate(o order.Order) {
	if !o.Status.Filled() {
		return
	}
	g.mu.Lock()
	g.positions[o.Symbol] += o.Side.Sign() * o.LastFillQuantity
	g.notional += math.Abs(o.LastFillQuantity * o.LastFillPrice)
	position, notional := g.positions[o.Symbol], g.notional
	g.mu.Unlock()

	g.logger.Info("fill",
		zap.String("id", o.ClientID),
		zap.String("symbol", o.Symbol),
		zap.Float64("qty", o.LastFillQuantity),
		zap.Float64("price", o.LastFillPrice),
		zap.Float64("position", position),
		zap.Float64("notional", notional))
}

// Position returns the net position in symbol.
func (g *Guard) Position(symbol string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[symbol]
}

// Positions returns a copy of every net position.
func (g *Guard) Positions() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]float64, len(g.positions))
	for k, v := range g.positions {
		out[k] = v
	}
	return out
}

// Notional returns the cumulative traded notional.
func (g *Guard) Notional() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notional
}

// Limits returns the configured limits.
func (g *Guard) Limits() Config {
	return g.cfg
}

// Snapshot returns ledgers, limits and check counters together.
func (g *Guard) Snapshot() Snapshot {
	return Snapshot{
		Positions:  g.Positions(),
		Notional:   g.Notional(),
		Limits:     g.cfg,
		Checks:     g.checks.Load(),
		Rejections: g.rejections.Load(),
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
