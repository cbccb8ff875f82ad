package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Queries provides read access to the order journal.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

const orderColumns = `client_id, session_id, symbol, side, price, orig_qty, remaining_qty, status, created_at, updated_at`

func scanOrder(s interface{ Scan(...any) error }) (OrderRecord, error) {
	var o OrderRecord
	err := s.Scan(&o.ClientID, &o.SessionID, &o.Symbol, &o.Side, &o.Price, &o.OrigQty, &o.RemainingQty, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// GetOrder returns the journaled state of one order of a session.
func (q *Queries) GetOrder(ctx context.Context, sessionID, clientID string) (OrderRecord, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE session_id = ? AND client_id = ?`, sessionID, clientID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderRecord{}, ErrNotFound
	}
	if err != nil {
		return OrderRecord{}, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

// ListOrders returns the most recently updated orders first. An empty
// sessionID matches every session.
func (q *Queries) ListOrders(ctx context.Context, sessionID string, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ? = '' OR session_id = ?
		ORDER BY updated_at DESC, client_id DESC
		LIMIT ?
	`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ----------------------------------------
// Fill Queries
// ----------------------------------------

// ListFills returns fills newest first. Empty sessionID or symbol filters
// match everything.
func (q *Queries) ListFills(ctx context.Context, sessionID, symbol string, limit int) ([]FillRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, client_id, symbol, side, qty, price, status, created_at
		FROM fills
		WHERE (? = '' OR session_id = ?) AND (? = '' OR symbol = ?)
		ORDER BY id DESC
		LIMIT ?
	`, sessionID, sessionID, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var f FillRecord
		if err := rows.Scan(&f.ID, &f.SessionID, &f.ClientID, &f.Symbol, &f.Side, &f.Qty, &f.Price, &f.Status, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// NetPositions sums signed fill quantities per symbol for one session, or
// for every session when sessionID is empty.
func (q *Queries) NetPositions(ctx context.Context, sessionID string) (map[string]float64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT symbol, SUM(CASE side WHEN 'BUY' THEN qty ELSE -qty END)
		FROM fills
		WHERE ? = '' OR session_id = ?
		GROUP BY symbol
	`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			symbol string
			qty    float64
		)
		if err := rows.Scan(&symbol, &qty); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out[symbol] = qty
	}
	return out, rows.Err()
}

// TradedNotional sums |qty * price| over the fills of one session, or of
// every session when sessionID is empty.
func (q *Queries) TradedNotional(ctx context.Context, sessionID string) (float64, error) {
	var total float64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ABS(qty * price)), 0)
		FROM fills
		WHERE ? = '' OR session_id = ?
	`, sessionID, sessionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query notional: %w", err)
	}
	return total, nil
}
