package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// DepthChannel is the partial book stream suffix for the top 5 levels.
	DepthChannel = "depth5"
	// DefaultSymbol is streamed when no symbols are configured.
	DefaultSymbol = "btcusdt"
)

// ErrMalformedFrame is returned for depth frames that cannot be decoded.
var ErrMalformedFrame = errors.New("malformed depth frame")

// StreamTarget builds the request path for a combined depth stream.
// Symbols are lowercased; an empty list yields the single default stream.
func StreamTarget(symbols []string) string {
	if len(symbols) == 0 {
		return "/ws/" + DefaultSymbol + "@" + DepthChannel
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@"+DepthChannel)
	}
	return "/stream?streams=" + strings.Join(streams, "/")
}

// TargetFallbackSymbol returns the symbol implied by a raw single-stream
// target, or "" for combined streams whose frames name their stream.
func TargetFallbackSymbol(symbols []string) string {
	if len(symbols) == 0 {
		return strings.ToUpper(DefaultSymbol)
	}
	return ""
}

type depthPayload struct {
	B    [][]decimal.Decimal `json:"b"`
	A    [][]decimal.Decimal `json:"a"`
	Bids [][]decimal.Decimal `json:"bids"`
	Asks [][]decimal.Decimal `json:"asks"`
}

// DecodeDepth parses a combined-stream frame
// {"stream":"<sym>@<channel>","data":{"b":[[p,q],...],"a":[[p,q],...]}}.
// Levels may also arrive as "bids"/"asks". Frames without a stream envelope
// are accepted when fallback names the symbol of a raw single stream.
func DecodeDepth(msg []byte, fallback string) (Update, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		symbol string
		data   = env.Data
	)
	switch {
	case env.Stream != "":
		at := strings.IndexByte(env.Stream, '@')
		if at <= 0 {
			return Update{}, fmt.Errorf("%w: stream %q has no channel", ErrMalformedFrame, env.Stream)
		}
		symbol = strings.ToUpper(env.Stream[:at])
		if len(data) == 0 {
			return Update{}, fmt.Errorf("%w: stream %q has no data", ErrMalformedFrame, env.Stream)
		}
	case fallback != "":
		symbol = fallback
		data = msg
	default:
		return Update{}, fmt.Errorf("%w: missing stream", ErrMalformedFrame)
	}

	var p depthPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	bids, asks := p.B, p.A
	if bids == nil {
		bids = p.Bids
	}
	if asks == nil {
		asks = p.Asks
	}
	if env.Stream == "" && bids == nil && asks == nil {
		return Update{}, fmt.Errorf("%w: no book levels", ErrMalformedFrame)
	}

	return Update{
		Symbol: symbol,
		Bids:   toLevels(bids),
		Asks:   toLevels(asks),
	}, nil
}

func toLevels(raw [][]decimal.Decimal) []Level {
	n := len(raw)
	if n > MaxLevels {
		n = MaxLevels
	}
	out := make([]Level, 0, n)
	for _, row := range raw {
		if len(out) == MaxLevels {
			break
		}
		if len(row) < 2 {
			continue
		}
		out = append(out, Level{
			Price:    row[0].InexactFloat64(),
			Quantity: row[1].InexactFloat64(),
		})
	}
	return out
}
