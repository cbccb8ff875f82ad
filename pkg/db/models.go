package db

import "time"

// OrderRecord is the latest known state of one order. Client ids restart
// every session, so an order is identified by (SessionID, ClientID).
type OrderRecord struct {
	ClientID     string    `json:"client_id"`
	SessionID    string    `json:"session_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Price        float64   `json:"price"`
	OrigQty      float64   `json:"orig_qty"`
	RemainingQty float64   `json:"remaining_qty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FillRecord is one fill increment reported by the exchange.
type FillRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertOrderSQL inserts an order or refreshes its mutable columns.
const UpsertOrderSQL = `
	INSERT INTO orders (client_id, session_id, symbol, side, price, orig_qty, remaining_qty, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, client_id) DO UPDATE SET
		remaining_qty = excluded.remaining_qty,
		status = excluded.status,
		updated_at = excluded.updated_at
`

// UpsertArgs returns the arguments for UpsertOrderSQL.
func (r OrderRecord) UpsertArgs() []any {
	return []any{r.ClientID, r.SessionID, r.Symbol, r.Side, r.Price, r.OrigQty, r.RemainingQty, r.Status, r.CreatedAt.UTC(), r.UpdatedAt.UTC()}
}

// InsertFillSQL appends a fill.
const InsertFillSQL = `
	INSERT INTO fills (session_id, client_id, symbol, side, qty, price, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertArgs returns the arguments for InsertFillSQL.
func (f FillRecord) InsertArgs() []any {
	return []any{f.SessionID, f.ClientID, f.Symbol, f.Side, f.Qty, f.Price, f.Status, f.CreatedAt.UTC()}
}
