package order

import (
	"fmt"
	"io"
)

// Render writes a human-readable summary of o.
func Render(w io.Writer, o Order) {
	fmt.Fprintln(w, "=== ORDER UPDATE ===")
	fmt.Fprintf(w, "ID: %s\n", o.ClientID)
	fmt.Fprintf(w, "Symbol: %s\n", o.Symbol)
	fmt.Fprintf(w, "Side: %s\n", o.Side)
	fmt.Fprintf(w, "Quantity: %g\n", o.Quantity)
	fmt.Fprintf(w, "Price: %.4f\n", o.Price)
	fmt.Fprintf(w, "Status: %s\n", o.Status.Label())
	if o.Status.Filled() {
		fmt.Fprintf(w, "Last fill %g at %.4f\n", o.LastFillQuantity, o.LastFillPrice)
		fmt.Fprintf(w, "Filled: %g of %g\n", o.FilledQuantity(), o.OrigQuantity)
	}
	fmt.Fprintln(w, "===================")
	fmt.Fprintln(w)
}
