package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"pairs-trading-core/internal/order"
	"pairs-trading-core/pkg/db"
	"pairs-trading-core/pkg/exchanges/common"
)

func openJournalDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return database
}

func newWriter(t *testing.T, database *db.Database, maxSize int) *BatchWriter {
	t.Helper()
	bw := NewBatchWriter(database.DB, maxSize, time.Hour, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = bw.Close() })
	return bw
}

func TestJournalRecordsOrdersAndFills(t *testing.T) {
	database := openJournalDB(t)
	bw := newWriter(t, database, 100)

	gw := order.NewGateway(order.Config{Host: "127.0.0.1", Port: "1"}, order.WithLogger(zaptest.NewLogger(t)))
	j := NewJournal(bw, gw.SessionID())
	cancel := j.Attach(gw)
	defer cancel()

	buy := gw.Submit(common.SideBuy, 2, 100, "BTCUSDT")
	sell := gw.Submit(common.SideSell, 1, 50, "ETHUSDT")
	if err := gw.Acknowledge(buy, 0, 0, true); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := gw.Acknowledge(buy, 0.5, 100, true); err != nil {
		t.Fatalf("partial: %v", err)
	}
	if err := gw.Acknowledge(buy, 1.5, 101, true); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := gw.Acknowledge(sell, 0, 0, false); err != nil {
		t.Fatalf("reject: %v", err)
	}

	// ACKED, PARTIAL, FILLED, REJECTED plus two fill rows.
	if got := bw.Pending(); got != 6 {
		t.Fatalf("pending=%d, expected 6", got)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ctx := context.Background()
	q := database.Queries()
	rec, err := q.GetOrder(ctx, gw.SessionID(), buy)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if rec.Status != "FILLED" || rec.RemainingQty != 0 || rec.OrigQty != 2 {
		t.Fatalf("order=%+v, expected FILLED with 0 of 2 remaining", rec)
	}
	if rec.SessionID != gw.SessionID() {
		t.Fatalf("session=%q, expected %q", rec.SessionID, gw.SessionID())
	}

	rej, err := q.GetOrder(ctx, gw.SessionID(), sell)
	if err != nil {
		t.Fatalf("GetOrder rejected: %v", err)
	}
	if rej.Status != "REJECTED" {
		t.Fatalf("status=%s, expected REJECTED", rej.Status)
	}

	pos, err := q.NetPositions(ctx, gw.SessionID())
	if err != nil {
		t.Fatalf("NetPositions: %v", err)
	}
	if pos["BTCUSDT"] != 2 {
		t.Fatalf("BTCUSDT=%v, expected 2", pos["BTCUSDT"])
	}
	if _, ok := pos["ETHUSDT"]; ok {
		t.Fatalf("rejected order must not produce a fill")
	}

	notional, err := q.TradedNotional(ctx, gw.SessionID())
	if err != nil {
		t.Fatalf("TradedNotional: %v", err)
	}
	if want := 0.5*100 + 1.5*101; notional != want {
		t.Fatalf("notional=%v, expected %v", notional, want)
	}
}

func TestJournalKeepsSessionsApart(t *testing.T) {
	database := openJournalDB(t)
	bw := newWriter(t, database, 100)
	logger := zaptest.NewLogger(t)

	// Each gateway numbers its orders from client_1.
	first := order.NewGateway(order.Config{Host: "127.0.0.1", Port: "1"}, order.WithLogger(logger))
	cancelFirst := NewJournal(bw, "session-A").Attach(first)
	defer cancelFirst()
	idA := first.Submit(common.SideBuy, 1, 100, "BTCUSDT")
	if err := first.Acknowledge(idA, 1, 100, true); err != nil {
		t.Fatalf("fill A: %v", err)
	}

	second := order.NewGateway(order.Config{Host: "127.0.0.1", Port: "1"}, order.WithLogger(logger))
	cancelSecond := NewJournal(bw, "session-B").Attach(second)
	defer cancelSecond()
	idB := second.Submit(common.SideSell, 0.065, 3000, "ETHUSDT")
	if idA != idB {
		t.Fatalf("ids %s and %s, expected both gateways to start at the same id", idA, idB)
	}
	if err := second.Acknowledge(idB, 0, 0, true); err != nil {
		t.Fatalf("ack B: %v", err)
	}
	if err := bw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ctx := context.Background()
	q := database.Queries()
	a, err := q.GetOrder(ctx, "session-A", idA)
	if err != nil {
		t.Fatalf("GetOrder A: %v", err)
	}
	if a.Symbol != "BTCUSDT" || a.Side != "BUY" || a.Price != 100 || a.Status != "FILLED" || a.RemainingQty != 0 {
		t.Fatalf("session-A order=%+v, expected the filled BTCUSDT buy", a)
	}
	b, err := q.GetOrder(ctx, "session-B", idB)
	if err != nil {
		t.Fatalf("GetOrder B: %v", err)
	}
	if b.Symbol != "ETHUSDT" || b.Side != "SELL" || b.Price != 3000 || b.Status != "ACKED" || b.RemainingQty != 0.065 {
		t.Fatalf("session-B order=%+v, expected the acked ETHUSDT sell", b)
	}

	fills, err := q.ListFills(ctx, "session-A", "", 10)
	if err != nil {
		t.Fatalf("ListFills: %v", err)
	}
	if len(fills) != 1 || fills[0].SessionID != "session-A" {
		t.Fatalf("fills=%+v, expected one session-A fill", fills)
	}
	if none, _ := q.ListFills(ctx, "session-B", "", 10); len(none) != 0 {
		t.Fatalf("session-B fills=%+v, expected none", none)
	}
}

func TestBatchWriterFlushesAtMaxSize(t *testing.T) {
	database := openJournalDB(t)
	bw := newWriter(t, database, 2)

	now := time.Now()
	for i, id := range []string{"client_1", "client_2"} {
		bw.Write(WriteOp{Query: db.InsertFillSQL, Args: db.FillRecord{
			SessionID: "s1", ClientID: id, Symbol: "BTCUSDT", Side: "BUY", Qty: float64(i + 1), Price: 10, Status: "FILLED", CreatedAt: now,
		}.InsertArgs()})
	}

	if got := bw.Pending(); got != 0 {
		t.Fatalf("pending=%d, expected 0 after size-triggered flush", got)
	}
	m := bw.GetMetrics()
	if m.TotalBatches != 1 || m.TotalWrites != 2 || m.LastBatchSize != 2 {
		t.Fatalf("metrics=%+v, expected one batch of two", m)
	}
	if m.LastFlushTime.IsZero() {
		t.Fatalf("expected LastFlushTime to be set")
	}
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	database := openJournalDB(t)
	bw := newWriter(t, database, 100)

	good := db.FillRecord{SessionID: "s1", ClientID: "client_1", Symbol: "BTCUSDT", Side: "BUY", Qty: 1, Price: 10, Status: "FILLED", CreatedAt: time.Now()}
	bw.Write(
		WriteOp{Query: db.InsertFillSQL, Args: good.InsertArgs()},
		WriteOp{Query: "INSERT INTO missing_table VALUES (1)"},
	)
	if err := bw.Flush(); err == nil {
		t.Fatalf("expected flush error")
	}

	fills, err := database.Queries().ListFills(context.Background(), "", "", 10)
	if err != nil {
		t.Fatalf("ListFills: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("fills=%d, expected rollback to leave 0", len(fills))
	}
	if bw.GetMetrics().TotalErrors != 1 {
		t.Fatalf("expected one error recorded")
	}
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	database := openJournalDB(t)
	bw := NewBatchWriter(database.DB, 100, time.Hour, zaptest.NewLogger(t))

	bw.Write(WriteOp{Query: db.InsertFillSQL, Args: db.FillRecord{
		SessionID: "s1", ClientID: "client_9", Symbol: "ETHUSDT", Side: "SELL", Qty: 3, Price: 1, Status: "FILLED", CreatedAt: time.Now(),
	}.InsertArgs()})
	if err := bw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	pos, err := database.Queries().NetPositions(context.Background(), "s1")
	if err != nil {
		t.Fatalf("NetPositions: %v", err)
	}
	if pos["ETHUSDT"] != -3 {
		t.Fatalf("ETHUSDT=%v, expected -3", pos["ETHUSDT"])
	}
	_, err = database.Queries().GetOrder(context.Background(), "s1", "client_9")
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for fill-only id, got %v", err)
	}
}
