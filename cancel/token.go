// Package cancel provides cooperative cancellation primitives: a one-shot
// Token that can be observed and reacted to from multiple goroutines, and a
// Guard that cancels a Token once a deadline elapses.
package cancel

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is returned by ThrowIfCancelled once a Token has been
// cancelled. Callers should compare against it with errors.Is.
var ErrCancelled = errors.New("cancel: operation was cancelled")

// Token is a one-shot cancellation flag. It starts uncancelled and may be
// cancelled exactly once; the transition is observable via IsCancelled,
// ThrowIfCancelled, and registered callbacks. A Token is safe for
// concurrent use and is cheap to share by pointer.
type Token struct {
	cancelled atomic.Bool

	mu        sync.Mutex
	callbacks []func()
}

// New returns a fresh, uncancelled Token.
func New() *Token {
	return &Token{}
}

// Cancel transitions the token to the cancelled state. It is idempotent:
// only the first call has any effect. Registered callbacks run
// synchronously, in registration order, on the goroutine that performs the
// winning transition.
func (t *Token) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}

// ThrowIfCancelled returns ErrCancelled if the token has been cancelled,
// and nil otherwise.
func (t *Token) ThrowIfCancelled() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// RegisterCallback arranges for fn to run when the token is cancelled. If
// the token is already cancelled, fn runs immediately, on the calling
// goroutine, before RegisterCallback returns.
func (t *Token) RegisterCallback(fn func()) {
	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}
