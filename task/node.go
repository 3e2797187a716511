// Package task implements a DAG task scheduler: value-bearing tasks linked
// by conditional ("Then") and unconditional ("Finally") edges, scheduled
// onto a worker pool once every predecessor has finished.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/vk/taskmesh/pool"
)

// node is the type-erased scheduling core shared by every Task[R]. Go
// methods cannot introduce new type parameters beyond their receiver's, so
// the untyped bookkeeping (predecessor counting, one-shot scheduling,
// exception propagation, successor lists) lives here, and Task[R] is a
// thin generic view over it.
type node struct {
	callback func() (any, error) // nil means an empty-bodied task, e.g. a WhenAll aggregate.

	predecessorCount atomic.Int64
	scheduled        atomic.Bool
	done             chan struct{}

	mu     sync.Mutex
	result any
	err    error

	edgesMu               sync.Mutex
	successorsUnconditional []*node // Finally: always notified, never receive the propagated error.
	successorsConditional   []*node // Then: skipped and notified with the propagated error if the predecessor failed.
}

func newNode(callback func() (any, error)) *node {
	return &node{
		callback: callback,
		done:     make(chan struct{}),
	}
}

// addSuccessor records next as a successor of n, incrementing next's
// predecessor count. It must be called before either node is scheduled.
func (n *node) addSuccessor(next *node, conditional bool) {
	next.predecessorCount.Add(1)

	n.edgesMu.Lock()
	defer n.edgesMu.Unlock()
	if conditional {
		n.successorsConditional = append(n.successorsConditional, next)
	} else {
		n.successorsUnconditional = append(n.successorsUnconditional, next)
	}
}

// onPredecessorFinished is called by a finished predecessor for each edge
// it holds. predecessorErr is non-nil only along conditional edges whose
// source failed (or was itself skipped due to an upstream failure).
func (n *node) onPredecessorFinished(p *pool.Pool, predecessorErr error) {
	if predecessorErr != nil {
		n.mu.Lock()
		if n.err == nil {
			n.err = predecessorErr
		}
		n.mu.Unlock()
	}

	if n.predecessorCount.Add(-1) == 0 {
		n.trySchedule(p)
	}
}

// trySchedule schedules n for execution exactly once, and only once every
// predecessor has finished.
func (n *node) trySchedule(p *pool.Pool) {
	if n.predecessorCount.Load() != 0 {
		return
	}
	if !n.scheduled.CompareAndSwap(false, true) {
		return
	}
	n.execute(p)
}

// execute runs n's callback on the pool, or if a conditional predecessor
// already propagated a failure, skips the callback and finishes
// immediately while still carrying that failure onward.
func (n *node) execute(p *pool.Pool) {
	n.mu.Lock()
	preErr := n.err
	n.mu.Unlock()

	if preErr != nil {
		n.finish(nil, preErr, p)
		return
	}

	err := p.Enqueue(func() {
		var result any
		var err error
		if n.callback != nil {
			result, err = n.callback()
		}
		n.finish(result, err, p)
	})
	if err != nil {
		// The pool refused the job (already closed): finish now with that
		// error instead of leaving Wait/GetResult blocked on a job that
		// will never run.
		n.finish(nil, err, p)
	}
}

// finish records n's outcome, unblocks Wait/GetResult, and notifies
// successors.
func (n *node) finish(result any, err error, p *pool.Pool) {
	n.mu.Lock()
	n.result = result
	if err != nil && n.err == nil {
		n.err = err
	}
	finalErr := n.err
	n.mu.Unlock()

	close(n.done)
	n.notifySuccessors(p, finalErr)
}

func (n *node) notifySuccessors(p *pool.Pool, err error) {
	n.edgesMu.Lock()
	unconditional := n.successorsUnconditional
	conditional := n.successorsConditional
	n.edgesMu.Unlock()

	for _, next := range unconditional {
		next.onPredecessorFinished(p, nil)
	}
	for _, next := range conditional {
		next.onPredecessorFinished(p, err)
	}
}

// wait blocks until n has finished and returns its stored result and error.
func (n *node) wait() (any, error) {
	<-n.done
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.result, n.err
}
