package bus

import "sync"

// Handle is a subscription receipt returned by Subscribe/SubscribeTargeted.
// Unsubscribe is idempotent: calling it more than once, or after the bus
// itself has already dropped the handler, is a no-op.
type Handle struct {
	once sync.Once
	stop func()
}

// Unsubscribe removes the handler this Handle was returned for. Safe to
// call multiple times and safe to call from within the handler itself.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		if h.stop != nil {
			h.stop()
		}
	})
}
