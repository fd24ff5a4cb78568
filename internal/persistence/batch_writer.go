// Package persistence batches ledger writes into SQLite transactions so the
// tick path never waits on disk.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"autotrade-core/pkg/logging"
)

// WriteOp is one statement to run inside a batch.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriter buffers statements and flushes them in a single transaction
// when the buffer fills or the flush interval elapses.
type BatchWriter struct {
	db       *sql.DB
	log      *zap.Logger
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []WriteOp
	failed []WriteOp // kept for the next flush after a failed batch

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	totalWrites  atomic.Uint64
	totalBatches atomic.Uint64
	totalErrors  atomic.Uint64
	lastFlush    atomic.Int64 // unix millis
}

// Metrics are cumulative batch statistics.
type Metrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Pending       int       `json:"pending"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts a writer. maxSize <= 0 uses 50, interval <= 0 uses 500ms.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, logger *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	bw := &BatchWriter{
		db:       db,
		log:      logging.OrNop(logger).Named("batch_writer"),
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]WriteOp, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write queues op and flushes when the buffer is full.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		if err := bw.Flush(); err != nil {
			bw.log.Warn("size-triggered flush failed", zap.Error(err))
		}
	}
}

// WriteQuery queues a single statement.
func (bw *BatchWriter) WriteQuery(query string, args ...any) {
	bw.Write(WriteOp{Query: query, Args: args})
}

// Flush writes everything buffered. On failure the operations are kept
// and retried by the next flush.
func (bw *BatchWriter) Flush() error {
	bw.mu.Lock()
	ops := append(bw.failed, bw.buffer...)
	bw.failed = nil
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	if err := bw.executeBatch(ops); err != nil {
		bw.mu.Lock()
		bw.failed = append(ops, bw.failed...)
		bw.mu.Unlock()
		return err
	}
	return nil
}

func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	bw.totalBatches.Add(1)
	bw.lastFlush.Store(time.Now().UnixMilli())

	tx, err := bw.db.Begin()
	if err != nil {
		bw.totalErrors.Add(1)
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			_ = tx.Rollback()
			bw.totalErrors.Add(1)
			return fmt.Errorf("batch statement failed, rolled back: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		bw.totalErrors.Add(1)
		return fmt.Errorf("commit batch: %w", err)
	}

	bw.totalWrites.Add(uint64(len(ops)))
	bw.log.Debug("💾 flushed batch", zap.Int("ops", len(ops)))
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				bw.log.Warn("background flush error", zap.Error(err))
			}
		case <-bw.done:
			return
		}
	}
}

// Pending returns the number of operations not yet committed.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer) + len(bw.failed)
}

// GetMetrics returns cumulative statistics.
func (bw *BatchWriter) GetMetrics() Metrics {
	m := Metrics{
		TotalWrites:  bw.totalWrites.Load(),
		TotalBatches: bw.totalBatches.Load(),
		TotalErrors:  bw.totalErrors.Load(),
		Pending:      bw.Pending(),
	}
	if ms := bw.lastFlush.Load(); ms > 0 {
		m.LastFlushTime = time.UnixMilli(ms)
	}
	return m
}

// Close stops the background loop and performs a final flush.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return bw.Flush()
}
