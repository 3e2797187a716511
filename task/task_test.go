package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskmesh/cancel"
	"github.com/vk/taskmesh/pool"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New(context.Background(), 4)
	t.Cleanup(p.Close)
	return p
}

func TestSingleTaskRunsAndReturnsResult(t *testing.T) {
	p := newPool(t)

	tk := New(func() (int, error) { return 42, nil })
	tk.Schedule(p)

	result, err := tk.GetResult()
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestThenRunsAfterPredecessorSucceeds(t *testing.T) {
	p := newPool(t)

	var order []int
	first := New(func() (int, error) { order = append(order, 1); return 1, nil })
	second := first.Then(New(func() (int, error) { order = append(order, 2); return 2, nil }))
	first.Schedule(p)

	result, err := second.GetResult()
	require.NoError(t, err)
	assert.Equal(t, 2, result)
	assert.Equal(t, []int{1, 2}, order)
}

func TestThenSkipsWhenPredecessorFails(t *testing.T) {
	p := newPool(t)

	boom := errors.New("boom")
	first := New(func() (int, error) { return 0, boom })
	ran := false
	second := first.Then(New(func() (int, error) { ran = true; return 0, nil }))
	first.Schedule(p)

	_, err := second.GetResult()
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran, "conditional successor must not run when its predecessor failed")
}

func TestFinallyRunsRegardlessOfPredecessorOutcome(t *testing.T) {
	p := newPool(t)

	boom := errors.New("boom")
	first := New(func() (int, error) { return 0, boom })
	ran := false
	second := first.Finally(New(func() (int, error) { ran = true; return 7, nil }))
	first.Schedule(p)

	result, err := second.GetResult()
	require.NoError(t, err, "an unconditional successor's own error, not its predecessor's, decides its outcome")
	assert.True(t, ran)
	assert.Equal(t, 7, result)
}

func TestFinallyDoesNotCarryPredecessorErrorForward(t *testing.T) {
	p := newPool(t)

	boom := errors.New("boom")
	first := New(func() (int, error) { return 0, boom })
	second := first.Finally(New(func() (int, error) { return 1, nil }))
	third := second.Then(New(func() (int, error) { return 2, nil }))
	first.Schedule(p)

	result, err := third.GetResult()
	require.NoError(t, err)
	assert.Equal(t, 2, result)
}

func TestScheduleIsOneShot(t *testing.T) {
	p := newPool(t)

	var runs atomic.Int32
	tk := New(func() (int, error) { runs.Add(1); return 0, nil })
	tk.Schedule(p)
	tk.Schedule(p)
	tk.Schedule(p)
	tk.Wait()

	assert.Equal(t, int32(1), runs.Load())
}

func TestDiamondFanInWaitsForAllPredecessors(t *testing.T) {
	p := newPool(t)

	var left, right atomic.Bool
	root := New(func() (int, error) { return 0, nil })
	leftBranch := Then(root, New(func() (int, error) { left.Store(true); return 0, nil }))
	rightBranch := Then(root, New(func() (int, error) { right.Store(true); return 0, nil }))

	join := New[int](nil)
	Then(leftBranch, join)
	Then(rightBranch, join)

	root.Schedule(p)
	join.Wait()

	assert.True(t, left.Load())
	assert.True(t, right.Load())
}

func TestErrorFromEitherFanInBranchPropagates(t *testing.T) {
	p := newPool(t)

	boom := errors.New("boom")
	root := New(func() (int, error) { return 0, nil })
	leftBranch := Then(root, New(func() (int, error) { return 0, nil }))
	rightBranch := Then(root, New(func() (int, error) { return 0, boom }))

	join := New[int](nil)
	Then(leftBranch, join)
	Then(rightBranch, join)

	root.Schedule(p)
	_, err := join.GetResult()
	assert.ErrorIs(t, err, boom)
}

func TestWhenAllWaitsForEveryTask(t *testing.T) {
	p := newPool(t)

	var count atomic.Int32
	tasks := make([]*Task[int], 5)
	for i := range tasks {
		tasks[i] = New(func() (int, error) { count.Add(1); return 0, nil })
	}

	agg := WhenAll(p, tasks...)
	_, err := agg.GetResult()

	require.NoError(t, err)
	assert.Equal(t, int32(5), count.Load())
}

func TestWhenAllSurfacesFirstError(t *testing.T) {
	p := newPool(t)

	boom := errors.New("boom")
	tasks := []*Task[int]{
		New(func() (int, error) { return 0, nil }),
		New(func() (int, error) { return 0, boom }),
		New(func() (int, error) { return 0, nil }),
	}

	agg := WhenAll(p, tasks...)
	_, err := agg.GetResult()
	assert.ErrorIs(t, err, boom)
}

func TestWhenAllWithCancellationFailsWhenTokenAlreadyCancelled(t *testing.T) {
	p := newPool(t)

	tok := cancel.New()
	tok.Cancel()

	tasks := []*Task[int]{New(func() (int, error) { return 0, nil })}
	agg := WhenAllWithCancellation(p, tasks, tok)

	_, err := agg.GetResult()
	assert.ErrorIs(t, err, cancel.ErrCancelled)
}

func TestWhenAllWithNoTasksFinishesImmediately(t *testing.T) {
	p := newPool(t)

	agg := WhenAll[int](p)
	_, err := agg.GetResult()
	assert.NoError(t, err)
}

func TestWhenAllErasedWithNoTasksFinishesImmediately(t *testing.T) {
	p := newPool(t)

	agg := WhenAllErased(p, nil)
	_, err := agg.GetResult()
	assert.NoError(t, err)
}

func TestWhenAllWithCancellationAndNoTasksFinishesImmediately(t *testing.T) {
	p := newPool(t)

	tok := cancel.New()
	agg := WhenAllWithCancellation(p, []*Task[int]{}, tok)
	_, err := agg.GetResult()
	assert.NoError(t, err)
}

func TestWhenAllWithCancellationAndNoTasksFailsWhenTokenAlreadyCancelled(t *testing.T) {
	p := newPool(t)

	tok := cancel.New()
	tok.Cancel()

	agg := WhenAllWithCancellation(p, []*Task[int]{}, tok)
	_, err := agg.GetResult()
	assert.ErrorIs(t, err, cancel.ErrCancelled, "cancellation takes priority over the empty-input guard")
}

func TestWithTimeoutCancelsCooperativeWork(t *testing.T) {
	var out *cancel.Token
	result, err := WithTimeout(10*time.Millisecond, &out, func() (int, error) {
		for i := 0; i < 100; i++ {
			if out.IsCancelled() {
				return 0, cancel.ErrCancelled
			}
			time.Sleep(5 * time.Millisecond)
		}
		return 1, nil
	})

	assert.Equal(t, 0, result)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
}

func TestWithTimeoutWritesOutToken(t *testing.T) {
	var out *cancel.Token
	_, err := WithTimeout(50*time.Millisecond, &out, func() (int, error) {
		return 5, nil
	})

	require.NoError(t, err)
	require.NotNil(t, out)
}

func TestWithCancellationRefusesWhenAlreadyCancelled(t *testing.T) {
	tok := cancel.New()
	tok.Cancel()

	_, err := WithCancellation(tok, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, cancel.ErrCancelled)
}

func TestErasedGraphWhenAll(t *testing.T) {
	p := newPool(t)

	a := New(func() (int, error) { return 1, nil }).Erase()
	b := New(func() (string, error) { return "ok", nil }).Erase()

	agg := WhenAllErased(p, []*ErasedTask{a, b})
	_, err := agg.GetResult()
	require.NoError(t, err)
}
