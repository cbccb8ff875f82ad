package persistence

import (
	"pairs-trading-core/internal/order"
	"pairs-trading-core/pkg/db"
)

// OrderUpdates is the subscription side of the order gateway.
type OrderUpdates interface {
	Subscribe(fn func(order.Order)) (cancel func())
}

// Journal records order updates through a BatchWriter: every update refreshes
// the order row, and every fill increment appends a fill row in the same batch.
type Journal struct {
	writer  *BatchWriter
	session string
}

// NewJournal tags every order and fill row with session.
func NewJournal(writer *BatchWriter, session string) *Journal {
	return &Journal{writer: writer, session: session}
}

// Attach records every update published by updates until cancel is called.
func (j *Journal) Attach(updates OrderUpdates) (cancel func()) {
	return updates.Subscribe(j.Record)
}

// Record queues o for the next flush.
func (j *Journal) Record(o order.Order) {
	ops := []WriteOp{{
		Query: db.UpsertOrderSQL,
		Args: db.OrderRecord{
			ClientID:     o.ClientID,
			SessionID:    j.session,
			Symbol:       o.Symbol,
			Side:         string(o.Side),
			Price:        o.Price,
			OrigQty:      o.OrigQuantity,
			RemainingQty: o.Quantity,
			Status:       string(o.Status),
			CreatedAt:    o.CreatedAt,
			UpdatedAt:    o.UpdatedAt,
		}.UpsertArgs(),
	}}
	if o.Status.Filled() && o.LastFillQuantity > 0 {
		ops = append(ops, WriteOp{
			Query: db.InsertFillSQL,
			Args: db.FillRecord{
				SessionID: j.session,
				ClientID:  o.ClientID,
				Symbol:    o.Symbol,
				Side:      string(o.Side),
				Qty:       o.LastFillQuantity,
				Price:     o.LastFillPrice,
				Status:    string(o.Status),
				CreatedAt: o.UpdatedAt,
			}.InsertArgs(),
		})
	}
	j.writer.Write(ops...)
}
