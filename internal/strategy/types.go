package strategy

import (
	"pairs-trading-core/internal/risk"
	"pairs-trading-core/pkg/exchanges/common"
)

// Approver checks a proposed order against risk limits.
type Approver interface {
	Approve(symbol string, side common.Side, quantity, price float64) risk.Decision
}

// Submitter sends an order and returns its client id.
type Submitter interface {
	Submit(side common.Side, quantity, price float64, symbol string) string
}

// Leg is one side of a pair trade.
type Leg struct {
	Symbol   string      `json:"symbol"`
	Side     common.Side `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
}

// Signal is the decision taken on one spread sample.
type Signal struct {
	Spread float64 `json:"spread"`
	Z      float64 `json:"z"`
	Legs   []Leg   `json:"legs"`
}
