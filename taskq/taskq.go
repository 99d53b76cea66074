// Package taskq runs submitted closures sequentially on a single worker goroutine.
package taskq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/arloliu/footrig/internal/queue"
	"github.com/arloliu/footrig/logger"
)

var (
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("task queue closed")
	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("task queue not started")
)

// Func is a unit of work.
type Func func()

type job struct {
	name string
	fn   Func
}

// Queue is a FIFO task queue with one consumer.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    queue.Queue[job]
	started bool
	closing bool
	done    chan struct{}

	log      logger.Logger
	executed atomic.Uint64
	panicked atomic.Uint64
}

// New creates a stopped Queue.
func New(l logger.Logger) *Queue {
	if l == nil {
		l = logger.GetLogger()
	}
	q := &Queue{
		jobs: queue.NewSliceQueue[job](16),
		done: make(chan struct{}),
		log:  l.With("component", "taskq"),
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// Start launches the worker goroutine. Calling it twice is a no-op.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing {
		return ErrClosed
	}
	if q.started {
		return nil
	}
	q.started = true
	go q.worker()

	return nil
}

// Submit enqueues fn. name identifies the task in logs.
func (q *Queue) Submit(name string, fn Func) error {
	if fn == nil {
		return errors.New("nil task")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closing {
		return ErrClosed
	}
	if !q.started {
		return ErrNotStarted
	}
	q.jobs.Enqueue(job{name: name, fn: fn})
	q.cond.Signal()

	return nil
}

// Pending returns the number of queued tasks not yet started.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.jobs.Length()
}

// Executed returns the number of finished tasks, including those that panicked.
func (q *Queue) Executed() uint64 {
	return q.executed.Load()
}

// Shutdown stops accepting tasks, lets queued tasks drain and waits for the worker, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.closing = true
		q.mu.Unlock()
		return nil
	}
	q.closing = true
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.jobs.IsEmpty() && !q.closing {
			q.cond.Wait()
		}
		j, ok := q.jobs.Dequeue()
		q.mu.Unlock()

		if !ok {
			// closing and drained
			return
		}
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer func() {
		q.executed.Add(1)
		if r := recover(); r != nil {
			q.panicked.Add(1)
			q.log.Error("panic in task", "name", j.name, "panic", r)
		}
	}()

	j.fn()
}
