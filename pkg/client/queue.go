package client

import (
	"context"
	"sync"

	"github.com/sparkleshare/sparkleshare-go/internal/metrics"
)

// job runs on a queue worker. ctx is cancelled when the queue closes.
type job func(ctx context.Context)

// workQueue runs submitted jobs in FIFO order on a fixed number of
// workers. Submission never blocks; concurrency is capped by the worker
// count.
type workQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWorkQueue(workers int) *workQueue {
	if workers <= 0 {
		workers = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &workQueue{ctx: ctx, cancel: cancel}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// submit enqueues j. It fails with ErrClosed once close has been called.
func (q *workQueue) submit(j job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pending = append(q.pending, j)
	metrics.AddQueueDepth(1)
	q.cond.Signal()
	return nil
}

func (q *workQueue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		metrics.AddQueueDepth(-1)
		j(q.ctx)
	}
}

// close cancels running jobs, lets workers drain what is still queued
// (each job sees a cancelled context) and waits for them to exit.
// It must not be called from a job.
func (q *workQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	q.cancel()
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}
