package risk

// Rejection reasons.
const (
	ReasonPositionLimit = "position limit exceeded for "
	ReasonNotionalCap   = "total notional cap exceeded"
	ReasonInvalidOrder  = "quantity and price must be finite and quantity positive"
)

// Config defines the hard limits enforced by the guard.
type Config struct {
	// MaxPositionPerSymbol bounds |net position| in each symbol.
	MaxPositionPerSymbol float64 `json:"max_position_per_symbol"`
	// MaxTotalNotional bounds the cumulative traded notional.
	MaxTotalNotional float64 `json:"max_total_notional"`
}

// DefaultConfig returns 5 units per symbol and 500k total notional.
func DefaultConfig() Config {
	return Config{
		MaxPositionPerSymbol: 5,
		MaxTotalNotional:     500_000,
	}
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Snapshot is a point-in-time view of the ledgers.
type Snapshot struct {
	Positions  map[string]float64 `json:"positions"`
	Notional   float64            `json:"notional"`
	Limits     Config             `json:"limits"`
	Checks     uint64             `json:"checks_total"`
	Rejections uint64             `json:"rejections_total"`
}
