package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vk/taskmesh/pool"
)

func TestScopeCloseUnsubscribesSyncHandlers(t *testing.T) {
	p := pool.New(context.Background(), 2)
	defer p.Close()
	b := New(context.Background(), p)

	scope := NewScope()
	var calls int
	SubscribeScoped(scope, b, func(damageEvent) { calls++ })

	scope.Close()
	Emit(b, damageEvent{Amount: 1})

	assert.Equal(t, 0, calls)
}

func TestScopeAsyncHandlerSkipsAfterClose(t *testing.T) {
	p := pool.New(context.Background(), 1)
	defer p.Close()
	b := New(context.Background(), p)

	scope := NewScope()
	var ran atomic.Bool
	SubscribeAsync(scope, b, func(damageEvent) { ran.Store(true) })

	// Occupy the single worker so the emitted handler is still queued,
	// not yet running, when Close cancels the scope's token.
	block := make(chan struct{})
	_ = p.Enqueue(func() { <-block })

	EmitAsync(b, damageEvent{Amount: 1})
	scope.Close()
	close(block)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load(), "handler enqueued before Close must observe the cancelled token and skip")
}

func TestScopeTargetedAsyncSkipsAfterClose(t *testing.T) {
	p := pool.New(context.Background(), 1)
	defer p.Close()
	b := New(context.Background(), p)

	scope := NewScope()
	var ran atomic.Bool
	target := NewSubjectID(9)
	SubscribeTargetedAsync(scope, b, target, func(damageEvent) { ran.Store(true) })

	block := make(chan struct{})
	_ = p.Enqueue(func() { <-block })

	EmitTargetedAsync(b, target, damageEvent{Amount: 1})
	scope.Close()
	close(block)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestScopeCancelDoesNotUnsubscribe(t *testing.T) {
	p := pool.New(context.Background(), 1)
	defer p.Close()
	b := New(context.Background(), p)

	scope := NewScope()
	var calls int
	SubscribeScoped(scope, b, func(damageEvent) { calls++ })

	scope.Cancel()
	Emit(b, damageEvent{Amount: 1})

	assert.Equal(t, 1, calls, "Cancel alone must not unsubscribe sync handlers")
	assert.True(t, scope.IsCancelled())
}
