// Package pool provides a fixed-size worker pool for running opaque work
// items (func()) off the caller's goroutine.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/vk/taskmesh/internal/ctxlog"
)

// ErrClosed is returned by Enqueue once the pool has been closed.
var ErrClosed = errors.New("pool: enqueue on closed pool")

// Pool is a fixed set of worker goroutines draining a shared, unbounded
// FIFO queue of work items. It is safe for concurrent use.
//
// The queue is a plain slice guarded by mu/cond rather than a Go channel:
// a job's own callback may enqueue further work on this same pool from
// inside a worker (the DAG scheduler does exactly this when a finished
// node schedules its successors), and an unbuffered channel send in that
// position would block forever once every worker is itself busy send-ing.
// A buffered slice queue makes Enqueue append-and-return, never rendezvous
// with a consumer.
type Pool struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	wg     sync.WaitGroup
}

// DefaultSize returns max(1, runtime.NumCPU()-1), the pool's default worker
// count when the caller does not pick one explicitly.
func DefaultSize() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

// New starts a Pool with size worker goroutines. If size is less than 1,
// DefaultSize is used instead. The returned Pool is ready to accept work
// via Enqueue.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = DefaultSize()
	}

	p := &Pool{
		logger: ctxlog.FromContext(ctx),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		job, ok := p.dequeue()
		if !ok {
			return
		}
		p.runJob(id, job)
	}
}

// dequeue blocks until either a job is available or the pool has been
// closed with an empty queue, in which case it returns ok=false.
func (p *Pool) dequeue() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}

	job := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return job, true
}

// runJob invokes job, recovering any panic so that a single bad work item
// cannot kill a worker goroutine.
func (p *Pool) runJob(workerID int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool: work item panicked", "workerID", workerID, "panic", r)
		}
	}()
	job()
}

// Enqueue appends job to the pool's queue and returns immediately; it never
// waits for a worker to pick the job up. Enqueue returns ErrClosed if the
// pool has already been closed.
func (p *Pool) Enqueue(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return nil
}

// Close stops accepting new work, waits for every already-enqueued job to
// finish, and joins every worker goroutine before returning. Close is safe
// to call only once; calling it twice panics, matching Go's own close
// semantics.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("pool: Close called twice")
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()

	p.wg.Wait()
}
