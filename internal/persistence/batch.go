// Package persistence buffers audit writes so a submission burst is absorbed
// into a few transactions instead of one insert per order.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/order"
	"execution-core/pkg/db"
)

// BatchAuditor implements the dispatcher's Auditor by buffering results and
// flushing them to the store in one transaction, on size or on a timer.
type BatchAuditor struct {
	store *db.Store

	mu      sync.Mutex
	buffer  []db.ResultEntry
	maxSize int

	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup

	writes  atomic.Uint64
	batches atomic.Uint64
	errs    atomic.Uint64

	log zerolog.Logger
}

// Metrics is the batch auditor's counter snapshot.
type Metrics struct {
	TotalWrites  uint64 `json:"total_writes"`
	TotalBatches uint64 `json:"total_batches"`
	TotalErrors  uint64 `json:"total_errors"`
	Pending      int    `json:"pending"`
}

// NewBatchAuditor starts the background flusher. Close must be called on
// shutdown to flush the tail.
func NewBatchAuditor(store *db.Store, maxSize int, interval time.Duration, log zerolog.Logger) *BatchAuditor {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ba := &BatchAuditor{
		store:    store,
		buffer:   make([]db.ResultEntry, 0, maxSize),
		maxSize:  maxSize,
		interval: interval,
		done:     make(chan struct{}),
		log:      log.With().Str("component", "batch_auditor").Logger(),
	}
	ba.wg.Add(1)
	go ba.backgroundFlush()
	return ba
}

// RecordResult buffers one outcome. The write itself is asynchronous; a full
// buffer triggers an immediate flush.
func (ba *BatchAuditor) RecordResult(ctx context.Context, o *order.Order, res order.Result) error {
	ba.mu.Lock()
	ba.buffer = append(ba.buffer, db.ResultEntry{Order: o, Result: res})
	full := len(ba.buffer) >= ba.maxSize
	ba.mu.Unlock()

	if full {
		return ba.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered entries in one transaction.
func (ba *BatchAuditor) Flush(ctx context.Context) error {
	ba.mu.Lock()
	if len(ba.buffer) == 0 {
		ba.mu.Unlock()
		return nil
	}
	entries := ba.buffer
	ba.buffer = make([]db.ResultEntry, 0, ba.maxSize)
	ba.mu.Unlock()

	ba.writes.Add(uint64(len(entries)))
	ba.batches.Add(1)
	if err := ba.store.RecordBatch(ctx, entries); err != nil {
		ba.errs.Add(1)
		ba.log.Error().Err(err).Int("entries", len(entries)).Msg("audit batch flush failed")
		return err
	}
	ba.log.Debug().Int("entries", len(entries)).Msg("audit batch flushed")
	return nil
}

func (ba *BatchAuditor) backgroundFlush() {
	defer ba.wg.Done()
	ticker := time.NewTicker(ba.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = ba.Flush(context.Background())
		case <-ba.done:
			_ = ba.Flush(context.Background())
			return
		}
	}
}

// Pending returns the number of buffered entries.
func (ba *BatchAuditor) Pending() int {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return len(ba.buffer)
}

// Metrics returns the counter snapshot.
func (ba *BatchAuditor) Metrics() Metrics {
	return Metrics{
		TotalWrites:  ba.writes.Load(),
		TotalBatches: ba.batches.Load(),
		TotalErrors:  ba.errs.Load(),
		Pending:      ba.Pending(),
	}
}

// Close flushes the tail and stops the background flusher.
func (ba *BatchAuditor) Close() error {
	close(ba.done)
	ba.wg.Wait()
	return nil
}
