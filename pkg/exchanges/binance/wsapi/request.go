// Package wsapi encodes order-entry requests for the Binance WebSocket API
// and decodes its responses.
package wsapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pairs-trading-core/pkg/exchanges/common"
)

const (
	MethodOrderPlace  = "order.place"
	MethodOrderCancel = "order.cancel"

	// CancelSuffix is appended to a client id to form its cancel request id.
	CancelSuffix = "_cancel"
)

// Request is one WebSocket API call.
type Request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Encode renders the request as JSON text.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// PlaceOrder describes a limit order.
type PlaceOrder struct {
	ClientID string
	Symbol   string
	Side     common.Side
	Quantity float64
	Price    float64
}

// NewPlaceOrder builds a GTC limit order request whose id and
// newClientOrderId are both the client id.
func NewPlaceOrder(o PlaceOrder) Request {
	return Request{
		ID:     o.ClientID,
		Method: MethodOrderPlace,
		Params: map[string]any{
			"symbol":           o.Symbol,
			"side":             string(o.Side),
			"type":             string(common.OrderTypeLimit),
			"timeInForce":      string(common.TIFGTC),
			"quantity":         FormatDecimal(o.Quantity),
			"price":            FormatDecimal(o.Price),
			"newClientOrderId": o.ClientID,
		},
	}
}

// NewCancelOrder builds a cancel request for clientID. symbol is included
// only when known.
func NewCancelOrder(clientID, symbol string) Request {
	params := map[string]any{"origClientOrderId": clientID}
	if symbol != "" {
		params["symbol"] = symbol
	}
	return Request{
		ID:     CancelID(clientID),
		Method: MethodOrderCancel,
		Params: params,
	}
}

// CancelID returns the request id used to cancel clientID.
func CancelID(clientID string) string {
	return clientID + CancelSuffix
}

// FormatDecimal renders v as the shortest decimal string that round-trips.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// Signer adds API-key authentication to requests. A zero Signer leaves
// requests untouched.
type Signer struct {
	APIKey string
	Secret string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Enabled reports whether requests will be signed.
func (s Signer) Enabled() bool {
	return s.APIKey != "" && s.Secret != ""
}

// Sign sets apiKey, timestamp and an HMAC-SHA256 signature over the
// alphabetically ordered parameters.
func (s Signer) Sign(r *Request) {
	if !s.Enabled() {
		return
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	r.Params["apiKey"] = s.APIKey
	r.Params["timestamp"] = now().UnixMilli()
	delete(r.Params, "signature")
	r.Params["signature"] = sign(canonicalQuery(r.Params), s.Secret)
}

func canonicalQuery(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + fmt.Sprint(params[k])
	}
	return strings.Join(parts, "&")
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
