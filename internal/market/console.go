package market

import (
	"fmt"
	"io"

	binance "pairs-trading-core/pkg/market/binance"
)

// Render writes a human-readable summary of u.
func Render(w io.Writer, u binance.Update) {
	fmt.Fprintln(w, "=== MARKET DATA ===")
	fmt.Fprintf(w, "Symbol: %s\n", u.Symbol)
	if mid, ok := u.MidPrice(); ok {
		fmt.Fprintf(w, "Mid Price: %.4f\n", mid)
	}
	if len(u.Bids) > 0 {
		fmt.Fprintf(w, "Best Bid: %g (%g)\n", u.Bids[0].Price, u.Bids[0].Quantity)
	}
	if len(u.Asks) > 0 {
		fmt.Fprintf(w, "Best Ask: %g (%g)\n", u.Asks[0].Price, u.Asks[0].Quantity)
	}
	if spread, ok := u.Spread(); ok {
		fmt.Fprintf(w, "Spread: %.4f\n", spread)
	}
	fmt.Fprintln(w, "===================")
	fmt.Fprintln(w)
}
