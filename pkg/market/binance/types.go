package market

// MaxLevels is the number of book levels kept per side.
const MaxLevels = 5

// Level is one side-of-book entry.
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Update is a top-of-book depth snapshot for one symbol, best level first.
type Update struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// MidPrice returns (bestBid+bestAsk)/2. ok is false when either side is empty.
func (u Update) MidPrice() (mid float64, ok bool) {
	if len(u.Bids) == 0 || len(u.Asks) == 0 {
		return 0, false
	}
	return (u.Bids[0].Price + u.Asks[0].Price) / 2, true
}

// Spread returns bestAsk-bestBid. ok is false when either side is empty.
func (u Update) Spread() (spread float64, ok bool) {
	if len(u.Bids) == 0 || len(u.Asks) == 0 {
		return 0, false
	}
	return u.Asks[0].Price - u.Bids[0].Price, true
}
