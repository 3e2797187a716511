package task

import (
	"github.com/vk/taskmesh/pool"
)

// Unit stands in for "no meaningful result", the Go analogue of the
// original system's Task<void>.
type Unit = struct{}

// Task is a value-bearing node in the task graph. A Task starts Pending: it
// becomes Scheduled once every predecessor has finished, then either Runs
// its callback or is Skipped (if a conditional predecessor failed), and
// finally reaches Done, at which point GetResult unblocks.
type Task[R any] struct {
	n *node
}

// New wraps callback in a Task with no predecessors. The task will not run
// until Schedule is called on it directly, or until every predecessor
// attached via Then/Finally has finished.
func New[R any](callback func() (R, error)) *Task[R] {
	var wrapped func() (any, error)
	if callback != nil {
		wrapped = func() (any, error) {
			return callback()
		}
	}
	return &Task[R]{n: newNode(wrapped)}
}

// Schedule attempts to run t now. It is a no-op unless t has no outstanding
// predecessors, which makes it the entry point for root tasks; tasks
// reached only through Then/Finally are scheduled automatically once their
// last predecessor finishes. Schedule returns t for chaining.
func (t *Task[R]) Schedule(p *pool.Pool) *Task[R] {
	t.n.trySchedule(p)
	return t
}

// GetResult blocks until t has finished and returns its result, or the
// error it (or an upstream conditional predecessor) failed with.
func (t *Task[R]) GetResult() (R, error) {
	result, err := t.n.wait()
	var zero R
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	return result.(R), nil
}

// Wait blocks until t has finished, discarding its result.
func (t *Task[R]) Wait() {
	<-t.n.done
}

// Then attaches next as a conditional successor: next runs only if t
// succeeds, and is skipped (carrying t's error onward) if t fails. Then
// returns next so calls can be chained.
func (t *Task[R]) Then(next *Task[R]) *Task[R] {
	t.n.addSuccessor(next.n, true)
	return next
}

// Finally attaches next as an unconditional successor: next always runs,
// whether or not t succeeded, and never observes t's error directly.
// Finally returns next so calls can be chained.
func (t *Task[R]) Finally(next *Task[R]) *Task[R] {
	t.n.addSuccessor(next.n, false)
	return next
}

// Then attaches next, a task of a possibly different result type, as a
// conditional successor of parent. Free-standing because Go methods cannot
// introduce type parameters beyond their receiver's.
func Then[P, S any](parent *Task[P], next *Task[S]) *Task[S] {
	parent.n.addSuccessor(next.n, true)
	return next
}

// Finally attaches next, a task of a possibly different result type, as an
// unconditional successor of parent.
func Finally[P, S any](parent *Task[P], next *Task[S]) *Task[S] {
	parent.n.addSuccessor(next.n, false)
	return next
}

// ErasedTask is a type-erased handle to a Task[R], used to aggregate tasks
// of different result types (see WhenAllErased).
type ErasedTask struct {
	n *node
}

// Erase discards t's static result type, yielding a handle usable with
// WhenAllErased alongside tasks of other result types.
func (t *Task[R]) Erase() *ErasedTask {
	return &ErasedTask{n: t.n}
}

// Then attaches next as a conditional successor of t, both type-erased.
func (t *ErasedTask) Then(next *ErasedTask) *ErasedTask {
	t.n.addSuccessor(next.n, true)
	return next
}

// Finally attaches next as an unconditional successor of t, both
// type-erased.
func (t *ErasedTask) Finally(next *ErasedTask) *ErasedTask {
	t.n.addSuccessor(next.n, false)
	return next
}

// Schedule attempts to run t now; see Task.Schedule.
func (t *ErasedTask) Schedule(p *pool.Pool) *ErasedTask {
	t.n.trySchedule(p)
	return t
}

// Wait blocks until t has finished.
func (t *ErasedTask) Wait() {
	<-t.n.done
}

// GetResult blocks until t has finished and returns its untyped result and
// error.
func (t *ErasedTask) GetResult() (any, error) {
	return t.n.wait()
}

// hasPendingPredecessors reports whether t still has outstanding
// predecessors, i.e. whether it is not a root of whatever graph it belongs
// to.
func (t *ErasedTask) hasPendingPredecessors() bool {
	return t.n.predecessorCount.Load() != 0
}
