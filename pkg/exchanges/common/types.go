package common

import "fmt"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns SELL for BUY and BUY for SELL.
func (s Side) Opposite() Side {
	if s == SideSell {
		return SideBuy
	}
	return SideSell
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide maps a wire string to a Side.
func ParseSide(v string) (Side, error) {
	switch Side(v) {
	case SideBuy, SideSell:
		return Side(v), nil
	default:
		return "", fmt.Errorf("unknown side %q", v)
	}
}

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)
