package bus

import (
	"sync"

	"github.com/vk/taskmesh/cancel"
)

// Scope owns a group of subscriptions sharing one cancellation token, and
// tears every one of them down together on Close. Its sole job is
// preventing async handlers from touching state that Close's caller has
// since freed: Close cancels the shared token before it unsubscribes
// anything, so any SubscribeAsync/SubscribeTargetedAsync handler already
// enqueued on the pool observes cancellation and skips running, no matter
// how Close races with pool dispatch. Handlers added with SubscribeScoped/
// SubscribeTargetedScoped carry no token check: one already enqueued still
// runs after Close. Close does not interrupt a handler that is already executing;
// a handler that needs to be interruptible must poll the token itself.
type Scope struct {
	token *cancel.Token

	mu      sync.Mutex
	handles []*Handle
}

// NewScope returns a Scope with a fresh cancellation token.
func NewScope() *Scope {
	return &Scope{token: cancel.New()}
}

// Token returns the cancellation token shared by every handler subscribed
// through this scope's SubscribeAsync/SubscribeTargetedAsync.
func (s *Scope) Token() *cancel.Token {
	return s.token
}

// Cancel cancels the scope's token without unsubscribing anything.
func (s *Scope) Cancel() {
	s.token.Cancel()
}

// IsCancelled reports whether the scope's token has been cancelled.
func (s *Scope) IsCancelled() bool {
	return s.token.IsCancelled()
}

func (s *Scope) track(h *Handle) {
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
}

// Close cancels the scope's token, then unsubscribes every handle it
// tracks. The ordering matters: any SubscribeAsync/SubscribeTargetedAsync
// handler already enqueued sees the token cancelled by the time it runs,
// even though its Handle may not have been unsubscribed yet.
func (s *Scope) Close() {
	s.token.Cancel()

	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}
}

// SubscribeScoped registers handler on bus and ties its lifetime to scope:
// closing scope unsubscribes it.
func SubscribeScoped[E any](scope *Scope, b *Bus, handler func(E)) {
	h := Subscribe(b, handler)
	scope.track(h)
}

// SubscribeTargetedScoped is SubscribeScoped for targeted subscriptions.
func SubscribeTargetedScoped[E any](scope *Scope, b *Bus, target SubjectID, handler func(E)) {
	h := SubscribeTargeted(b, target, handler)
	scope.track(h)
}

// SubscribeAsync registers handler on bus wrapped in a closure that checks
// scope's token immediately before every invocation. This check is the
// sole mechanism preventing the handler from running after the scope
// considers itself closed; it does not stop a handler already mid-flight.
func SubscribeAsync[E any](scope *Scope, b *Bus, handler func(E)) {
	token := scope.token
	safe := func(event E) {
		if token.IsCancelled() {
			return
		}
		handler(event)
	}
	h := Subscribe(b, safe)
	scope.track(h)
}

// SubscribeTargetedAsync is SubscribeAsync for targeted subscriptions.
func SubscribeTargetedAsync[E any](scope *Scope, b *Bus, target SubjectID, handler func(E)) {
	token := scope.token
	safe := func(event E) {
		if token.IsCancelled() {
			return
		}
		handler(event)
	}
	h := SubscribeTargeted(b, target, safe)
	scope.track(h)
}
