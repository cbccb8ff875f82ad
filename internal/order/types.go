package order

import (
	"time"

	"pairs-trading-core/pkg/exchanges/common"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusAcked    Status = "ACKED"
	StatusPartial  Status = "PARTIAL"
	StatusFilled   Status = "FILLED"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
)

// Terminal reports whether no further transition is accepted.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Filled reports whether the status carries a fill increment.
func (s Status) Filled() bool {
	return s == StatusPartial || s == StatusFilled
}

// Label is the console name of the status.
func (s Status) Label() string {
	switch s {
	case StatusAcked:
		return "ACKNOWLEDGED"
	case StatusPartial:
		return "PARTIALLY_FILLED"
	default:
		return string(s)
	}
}

// Order is a limit order tracked by the gateway. Quantity is what remains
// open; LastFill* describe the most recent increment only.
type Order struct {
	ClientID         string      `json:"client_id"`
	Symbol           string      `json:"symbol"`
	Side             common.Side `json:"side"`
	Quantity         float64     `json:"quantity"`
	OrigQuantity     float64     `json:"orig_quantity"`
	Price            float64     `json:"price"`
	Status           Status      `json:"status"`
	LastFillQuantity float64     `json:"last_fill_quantity"`
	LastFillPrice    float64     `json:"last_fill_price"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// FilledQuantity returns how much of the original quantity has executed.
func (o Order) FilledQuantity() float64 {
	return o.OrigQuantity - o.Quantity
}
