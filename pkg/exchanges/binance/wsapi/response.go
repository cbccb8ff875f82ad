package wsapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedResponse is returned for frames that are not JSON objects.
var ErrMalformedResponse = errors.New("wsapi: malformed response")

// StatusRejected is the only execution status treated as failure.
const StatusRejected = "REJECTED"

// Response is a decoded reply to a request.
type Response struct {
	// ID is empty for frames that do not answer a request.
	ID string

	Failed bool
	Code   int
	Msg    string

	Status      string
	ExecutedQty float64
	Price       float64
}

// Success reports whether the reply acknowledges the request.
func (r Response) Success() bool {
	return !r.Failed && r.Status != StatusRejected
}

// IsCancel reports whether the reply answers a cancel request.
func (r Response) IsCancel() bool {
	return strings.HasSuffix(r.ID, CancelSuffix)
}

// OrigID returns the client id a cancel reply refers to.
func (r Response) OrigID() string {
	return strings.TrimSuffix(r.ID, CancelSuffix)
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type execution struct {
	Status      json.RawMessage `json:"status"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	Price       decimal.Decimal `json:"price"`
}

type envelope struct {
	execution
	ID     json.RawMessage `json:"id"`
	Code   *int            `json:"code"`
	Msg    string          `json:"msg"`
	Error  *apiError       `json:"error"`
	Result *execution      `json:"result"`
}

// ParseResponse decodes a reply. Errors are reported either as a top-level
// code/msg pair or as an error object; execution fields are read from the top
// level or from a nested result object.
func ParseResponse(msg []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp := Response{ID: rawID(env.ID)}
	switch {
	case env.Code != nil:
		resp.Failed, resp.Code, resp.Msg = true, *env.Code, env.Msg
		return resp, nil
	case env.Error != nil:
		resp.Failed, resp.Code, resp.Msg = true, env.Error.Code, env.Error.Msg
		return resp, nil
	}

	exec := env.execution
	if env.Result != nil {
		exec = *env.Result
	}
	resp.Status = rawString(exec.Status)
	resp.ExecutedQty = exec.ExecutedQty.InexactFloat64()
	resp.Price = exec.Price.InexactFloat64()
	return resp, nil
}

// rawID accepts string or numeric ids.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if s := rawString(raw); s != "" {
		return s
	}
	if raw[0] == '"' {
		return ""
	}
	return string(raw)
}

// rawString returns raw as a string if it is a JSON string. Numeric HTTP-style
// statuses are ignored.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
