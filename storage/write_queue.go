// Single writer queue for shard ingestion.
//
// DECAF requires exactly one writer per shard file at any time: SQLite
// tolerates concurrent readers but a second concurrent writer risks torn
// commits and WAL corruption, and DECAF's append-only Add semantics
// depend on IDs being assigned in a strict, serial order. Parallel
// ingestion workers therefore never write to a Shard directly — they
// enqueue a batch on the active shard's WriteQueue and block on its
// result, while the queue's single worker goroutine applies batches to
// the shard one at a time.
//
// Same queue/worker/Done-channel shape as a generic single-writer
// queue, retargeted from per-entity CRUD operations to whole ingestion
// batches (literals + structures + hierarchy edges) committed as one
// Shard.Add transaction.
package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nlpnorth/decaf/logger"
	"github.com/nlpnorth/decaf/models"
)

// WriteBatch is one unit of work submitted to a WriteQueue.
type WriteBatch struct {
	Literals   []*models.Literal
	Structures []*models.Structure
	Hierarchies []models.PendingHierarchy

	done    chan error
	context context.Context
}

// WriteQueue serializes WriteBatch application against a single shard.
type WriteQueue struct {
	shard *Shard

	queue    chan *WriteBatch
	stopChan chan struct{}
	wg       sync.WaitGroup

	queueDepth int64
	processed  int64
	errors     int64

	maxQueueSize int
	timeout      time.Duration

	running int32
}

// NewWriteQueue creates a queue that applies batches to shard.
func NewWriteQueue(shard *Shard, queueSize int) *WriteQueue {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &WriteQueue{
		shard:        shard,
		queue:        make(chan *WriteBatch, queueSize),
		stopChan:     make(chan struct{}),
		maxQueueSize: queueSize,
		timeout:      30 * time.Second,
	}
}

// Start begins processing batches.
func (q *WriteQueue) Start() error {
	if !atomic.CompareAndSwapInt32(&q.running, 0, 1) {
		return fmt.Errorf("write queue already running")
	}
	q.wg.Add(1)
	go q.processQueue()
	logger.Info("write queue started for shard %d (size %d)", q.shard.Index, q.maxQueueSize)
	return nil
}

// Stop drains and stops the queue, blocking until it has or the timeout
// elapses.
func (q *WriteQueue) Stop() error {
	if !atomic.CompareAndSwapInt32(&q.running, 1, 0) {
		return fmt.Errorf("write queue not running")
	}

	close(q.stopChan)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("write queue stopped for shard %d", q.shard.Index)
		return nil
	case <-time.After(q.timeout):
		logger.Warn("write queue stop timeout for shard %d - forcing shutdown", q.shard.Index)
		return fmt.Errorf("shutdown timeout")
	}
}

func (q *WriteQueue) processQueue() {
	defer q.wg.Done()

	for {
		select {
		case batch := <-q.queue:
			if batch == nil {
				continue
			}
			atomic.AddInt64(&q.queueDepth, -1)

			err := q.shard.Add(batch.Literals, batch.Structures, batch.Hierarchies)

			select {
			case batch.done <- err:
			case <-time.After(100 * time.Millisecond):
				logger.Warn("failed to deliver write result for shard %d - caller timed out", q.shard.Index)
			}

			atomic.AddInt64(&q.processed, 1)
			if err != nil {
				atomic.AddInt64(&q.errors, 1)
			}

		case <-q.stopChan:
			remaining := len(q.queue)
			if remaining > 0 {
				logger.Info("draining %d remaining batches for shard %d", remaining, q.shard.Index)
				for i := 0; i < remaining; i++ {
					batch := <-q.queue
					if batch != nil {
						batch.done <- fmt.Errorf("write queue shutting down")
					}
				}
			}
			return
		}
	}
}

// Submit enqueues a batch and blocks until it has been applied.
func (q *WriteQueue) Submit(ctx context.Context, batch *WriteBatch) error {
	if atomic.LoadInt32(&q.running) == 0 {
		return fmt.Errorf("write queue not running")
	}

	if atomic.LoadInt64(&q.queueDepth) >= int64(q.maxQueueSize) {
		return fmt.Errorf("write queue full (%d batches)", q.maxQueueSize)
	}

	batch.done = make(chan error, 1)
	batch.context = ctx

	select {
	case q.queue <- batch:
		atomic.AddInt64(&q.queueDepth, 1)
	case <-time.After(100 * time.Millisecond):
		return fmt.Errorf("failed to enqueue write batch - timeout")
	}

	select {
	case err := <-batch.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(q.timeout):
		return fmt.Errorf("write batch timeout")
	}
}

// Stats reports queue depth, processed batch count, and error count.
func (q *WriteQueue) Stats() (depth, processed, errs int64) {
	return atomic.LoadInt64(&q.queueDepth), atomic.LoadInt64(&q.processed), atomic.LoadInt64(&q.errors)
}
