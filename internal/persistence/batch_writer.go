package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pairs-trading-core/pkg/logging"
)

// WriteOp represents a database write operation.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter batches database writes and commits them in one transaction per
// flush. Ops submitted together by Write stay in the same batch.
type BatchWriter struct {
	db          *sql.DB
	logger      *zap.Logger
	buffer      []WriteOp
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup

	totalWrites   atomic.Uint64
	totalBatches  atomic.Uint64
	totalErrors   atomic.Uint64
	lastBatchSize atomic.Int64
	lastFlush     atomic.Int64
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer with specified parameters.
// maxSize: max operations before auto-flush
// interval: time-based flush interval
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, logger *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          db,
		logger:      logging.OrNop(logger).Named("journal"),
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds operations to the batch.
func (bw *BatchWriter) Write(ops ...WriteOp) {
	if len(ops) == 0 {
		return
	}
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, ops...)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(); err != nil {
			bw.logger.Warn("size-triggered flush failed", zap.Error(err))
		}
	}
}

// Flush immediately writes all buffered operations to the database.
func (bw *BatchWriter) Flush() error {
	// One transaction at a time keeps batches in submission order.
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

// executeBatch runs a batch of operations in a transaction.
func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	bw.totalWrites.Add(uint64(len(ops)))
	bw.totalBatches.Add(1)
	bw.lastBatchSize.Store(int64(len(ops)))
	bw.lastFlush.Store(time.Now().UnixNano())

	ctx := context.Background()
	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		bw.totalErrors.Add(1)
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, op := range ops {
		if _, err := tx.ExecContext(ctx, op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			bw.totalErrors.Add(1)
			return fmt.Errorf("exec batch of %d, rolled back: %w", len(ops), err)
		}
	}

	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		return fmt.Errorf("commit: %w", err)
	}

	bw.logger.Debug("flushed", zap.Int("ops", len(ops)))
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				bw.logger.Warn("background flush failed", zap.Error(err))
			}
		case <-bw.done:
			// Final flush before shutdown
			if err := bw.Flush(); err != nil {
				bw.logger.Error("final flush failed", zap.Error(err))
			}
			return
		}
	}
}

// Pending returns the number of pending operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.totalWrites.Load(),
		TotalBatches:  bw.totalBatches.Load(),
		TotalErrors:   bw.totalErrors.Load(),
		LastBatchSize: int(bw.lastBatchSize.Load()),
	}
	if ns := bw.lastFlush.Load(); ns != 0 {
		m.LastFlushTime = time.Unix(0, ns)
	}
	return m
}

// Close flushes what is buffered and stops the background loop. Safe to call
// more than once.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
