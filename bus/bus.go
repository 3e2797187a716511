// Package bus implements a typed, thread-safe publish/subscribe event bus
// with broadcast and per-subject targeted dispatch, synchronous and
// worker-pool-backed asynchronous emission, and scoped subscriptions that
// are safe to tear down while async handlers may still be in flight.
package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/vk/taskmesh/cancel"
	"github.com/vk/taskmesh/internal/ctxlog"
	"github.com/vk/taskmesh/pool"
	"github.com/vk/taskmesh/task"
)

// erasedHandler receives an event value erased to any; it is responsible
// for asserting it back to its concrete type.
type erasedHandler func(any)

// Bus is a typed event bus. Handlers registered for an event type only
// ever receive events of that exact type, dispatched through reflect.Type
// identity rather than a string event name.
type Bus struct {
	pool   *pool.Pool
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	broadcast map[reflect.Type]map[uint64]erasedHandler
	targeted  map[reflect.Type]map[SubjectID]map[uint64]erasedHandler
}

// New returns a Bus that dispatches async work onto p and logs through the
// logger embedded in ctx (or slog.Default() if none was embedded).
func New(ctx context.Context, p *pool.Pool) *Bus {
	return &Bus{
		pool:      p,
		logger:    ctxlog.FromContext(ctx),
		broadcast: make(map[reflect.Type]map[uint64]erasedHandler),
		targeted:  make(map[reflect.Type]map[SubjectID]map[uint64]erasedHandler),
	}
}

func eventType[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

func (b *Bus) allocID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func wrapHandler[E any](b *Bus, name reflect.Type, handler func(E)) erasedHandler {
	return func(data any) {
		event, ok := data.(E)
		if !ok {
			b.logger.Warn("bus: type mismatch delivering event", "eventType", name.String())
			return
		}
		handler(event)
	}
}

// Subscribe registers handler for every broadcast Emit/EmitAsync of E.
func Subscribe[E any](b *Bus, handler func(E)) *Handle {
	t := eventType[E]()
	id := b.allocID()
	wrapped := wrapHandler(b, t, handler)

	b.mu.Lock()
	if b.broadcast[t] == nil {
		b.broadcast[t] = make(map[uint64]erasedHandler)
	}
	b.broadcast[t][id] = wrapped
	b.mu.Unlock()

	return &Handle{stop: func() { b.unsubscribeBroadcast(t, id) }}
}

// SubscribeTargeted registers handler for EmitTargeted/EmitTargetedAsync
// calls of E addressed to target. It does not receive broadcast events.
func SubscribeTargeted[E any](b *Bus, target SubjectID, handler func(E)) *Handle {
	t := eventType[E]()
	id := b.allocID()
	wrapped := wrapHandler(b, t, handler)

	b.mu.Lock()
	if b.targeted[t] == nil {
		b.targeted[t] = make(map[SubjectID]map[uint64]erasedHandler)
	}
	if b.targeted[t][target] == nil {
		b.targeted[t][target] = make(map[uint64]erasedHandler)
	}
	b.targeted[t][target][id] = wrapped
	b.mu.Unlock()

	return &Handle{stop: func() { b.unsubscribeTargeted(t, target, id) }}
}

func (b *Bus) unsubscribeBroadcast(t reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers, ok := b.broadcast[t]
	if !ok {
		return
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(b.broadcast, t)
	}
}

func (b *Bus) unsubscribeTargeted(t reflect.Type, target SubjectID, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bySubject, ok := b.targeted[t]
	if !ok {
		return
	}
	handlers, ok := bySubject[target]
	if !ok {
		return
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(bySubject, target)
	}
	if len(bySubject) == 0 {
		delete(b.targeted, t)
	}
}

// snapshotBroadcast copies the current broadcast handlers for t under lock
// and returns immediately, so dispatch never runs handlers while holding
// the bus lock (a handler that subscribes or unsubscribes would otherwise
// deadlock).
func (b *Bus) snapshotBroadcast(t reflect.Type) []erasedHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.broadcast[t]
	snapshot := make([]erasedHandler, 0, len(handlers))
	for _, h := range handlers {
		snapshot = append(snapshot, h)
	}
	return snapshot
}

func (b *Bus) snapshotTargeted(t reflect.Type, target SubjectID) []erasedHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.targeted[t][target]
	snapshot := make([]erasedHandler, 0, len(handlers))
	for _, h := range handlers {
		snapshot = append(snapshot, h)
	}
	return snapshot
}

func (b *Bus) invoke(name reflect.Type, handler erasedHandler, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("bus: handler panicked", "eventType", name.String(), "panic", r)
		}
	}()
	handler(data)
}

// Emit runs every broadcast handler for E synchronously, in an unspecified
// order, on the calling goroutine. A handler that panics is isolated: the
// panic is recovered and logged, and the remaining handlers still run.
func Emit[E any](b *Bus, event E) {
	t := eventType[E]()
	for _, h := range b.snapshotBroadcast(t) {
		b.invoke(t, h, event)
	}
}

// EmitTargeted is Emit for handlers registered via SubscribeTargeted for
// target; broadcast subscribers do not receive it.
func EmitTargeted[E any](b *Bus, target SubjectID, event E) {
	t := eventType[E]()
	for _, h := range b.snapshotTargeted(t, target) {
		b.invoke(t, h, event)
	}
}

// enqueue submits job to b.pool and logs at Warn if the pool has already
// been closed, so a handler that silently never runs is diagnosable.
func (b *Bus) enqueue(name reflect.Type, job func()) {
	if err := b.pool.Enqueue(job); err != nil {
		b.logger.Warn("bus: dropped async handler, pool is closed", "eventType", name.String(), "error", err)
	}
}

// EmitAsync enqueues every broadcast handler for E onto the bus's pool and
// returns without waiting for any of them to run.
func EmitAsync[E any](b *Bus, event E) {
	t := eventType[E]()
	for _, h := range b.snapshotBroadcast(t) {
		h := h
		b.enqueue(t, func() { b.invoke(t, h, event) })
	}
}

// EmitTargetedAsync is EmitAsync restricted to target's handlers.
func EmitTargetedAsync[E any](b *Bus, target SubjectID, event E) {
	t := eventType[E]()
	for _, h := range b.snapshotTargeted(t, target) {
		h := h
		b.enqueue(t, func() { b.invoke(t, h, event) })
	}
}

// EmitAsyncCancellable is EmitAsync, but stops enqueueing further handlers
// as soon as token is observed cancelled, and each already-enqueued
// closure re-checks token immediately before invoking its handler. If
// token is already cancelled when called, no handler is enqueued at all.
func EmitAsyncCancellable[E any](b *Bus, event E, token *cancel.Token) {
	if token.IsCancelled() {
		return
	}
	t := eventType[E]()
	for _, h := range b.snapshotBroadcast(t) {
		if token.IsCancelled() {
			return
		}
		h := h
		b.enqueue(t, func() {
			if token.IsCancelled() {
				return
			}
			b.invoke(t, h, event)
		})
	}
}

// EmitTargetedAsyncCancellable is EmitAsyncCancellable restricted to
// target's handlers.
func EmitTargetedAsyncCancellable[E any](b *Bus, target SubjectID, event E, token *cancel.Token) {
	if token.IsCancelled() {
		return
	}
	t := eventType[E]()
	for _, h := range b.snapshotTargeted(t, target) {
		if token.IsCancelled() {
			return
		}
		h := h
		b.enqueue(t, func() {
			if token.IsCancelled() {
				return
			}
			b.invoke(t, h, event)
		})
	}
}

// PublishAsync enqueues every broadcast handler for E, like EmitAsync, but
// returns a Task that finishes once all of them have run. If one or more
// handlers panicked, GetResult on the returned Task returns the first such
// failure; a handler that panics is still isolated from the others.
func PublishAsync[E any](b *Bus, event E) *task.Task[task.Unit] {
	t := eventType[E]()
	handlers := b.snapshotBroadcast(t)

	tasks := make([]*task.Task[task.Unit], 0, len(handlers))
	for _, h := range handlers {
		h := h
		tasks = append(tasks, task.New(func() (task.Unit, error) {
			return task.Unit{}, b.runObserved(t, h, event)
		}))
	}

	return task.WhenAll(b.pool, tasks...)
}

// PublishAsyncCancellable is PublishAsync, but the returned aggregate also
// fails with cancel.ErrCancelled if token is cancelled by the time every
// handler has run, even if every handler succeeded; if token is already
// cancelled when called, the aggregate fails immediately without any
// handler running, whether or not E has any subscribers.
func PublishAsyncCancellable[E any](b *Bus, event E, token *cancel.Token) *task.Task[task.Unit] {
	t := eventType[E]()
	handlers := b.snapshotBroadcast(t)

	tasks := make([]*task.Task[task.Unit], 0, len(handlers))
	for _, h := range handlers {
		h := h
		tasks = append(tasks, task.New(func() (task.Unit, error) {
			return task.Unit{}, b.runObserved(t, h, event)
		}))
	}

	return task.WhenAllWithCancellation(b.pool, tasks, token)
}

// runObserved invokes handler like invoke, but turns a recovered panic
// into an error instead of only logging it, so PublishAsync's aggregate
// task can surface it.
func (b *Bus) runObserved(name reflect.Type, handler erasedHandler, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("bus: handler panicked", "eventType", name.String(), "panic", r)
			err = &HandlerPanicError{EventType: name.String(), Value: r}
		}
	}()
	handler(data)
	return nil
}

// HandlerPanicError reports that a PublishAsync handler panicked instead
// of returning normally.
type HandlerPanicError struct {
	EventType string
	Value     any
}

func (e *HandlerPanicError) Error() string {
	return "bus: handler for " + e.EventType + " panicked"
}
