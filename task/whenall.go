package task

import (
	"github.com/vk/taskmesh/cancel"
	"github.com/vk/taskmesh/pool"
)

// WhenAll returns a Task that finishes once every task in tasks has
// finished. Each input is attached as a conditional predecessor of the
// aggregate, so the aggregate carries the first input error it observes
// (see GetResult); the aggregate has no callback of its own. WhenAll also
// schedules every input that has no other predecessors, matching the
// common case of aggregating independently-created root tasks; inputs that
// are themselves successors of other tasks are left for their own
// predecessor chain to schedule.
func WhenAll[R any](p *pool.Pool, tasks ...*Task[R]) *Task[Unit] {
	aggregate := New[Unit](nil)
	if len(tasks) == 0 {
		aggregate.n.trySchedule(p)
		return aggregate
	}
	for _, t := range tasks {
		Then(t, aggregate)
	}
	for _, t := range tasks {
		t.n.trySchedule(p)
	}
	return aggregate
}

// WhenAllErased is WhenAll for tasks of heterogeneous result types.
func WhenAllErased(p *pool.Pool, tasks []*ErasedTask) *Task[Unit] {
	aggregate := New[Unit](nil)
	if len(tasks) == 0 {
		aggregate.n.trySchedule(p)
		return aggregate
	}
	for _, t := range tasks {
		t.n.addSuccessor(aggregate.n, true)
	}
	for _, t := range tasks {
		t.n.trySchedule(p)
	}
	return aggregate
}

// WhenAllWithCancellation behaves like WhenAll, but the aggregate itself
// fails with cancel.ErrCancelled if token is already cancelled by the time
// every input has finished, even if every input succeeded.
func WhenAllWithCancellation[R any](p *pool.Pool, tasks []*Task[R], token *cancel.Token) *Task[Unit] {
	if token.IsCancelled() {
		failed := New[Unit](func() (Unit, error) {
			return Unit{}, cancel.ErrCancelled
		})
		failed.Schedule(p)
		return failed
	}

	if len(tasks) == 0 {
		aggregate := New[Unit](nil)
		aggregate.n.trySchedule(p)
		return aggregate
	}

	aggregate := New[Unit](func() (Unit, error) {
		if err := token.ThrowIfCancelled(); err != nil {
			return Unit{}, err
		}
		return Unit{}, nil
	})
	for _, t := range tasks {
		Then(t, aggregate)
	}
	for _, t := range tasks {
		t.n.trySchedule(p)
	}
	return aggregate
}
