package task

import (
	"time"

	"github.com/vk/taskmesh/cancel"
)

// WithCancellation runs work only if token has not been cancelled,
// returning cancel.ErrCancelled otherwise. It is meant to be called from
// inside a callback passed to New, e.g.:
//
//	task.New(func() (int, error) {
//	    return task.WithCancellation(token, func() (int, error) { return compute() })
//	})
func WithCancellation[R any](token *cancel.Token, work func() (R, error)) (R, error) {
	var zero R
	if err := token.ThrowIfCancelled(); err != nil {
		return zero, err
	}
	return work()
}

// WithPollingCancellation runs work, handing it the token so it can poll
// IsCancelled/ThrowIfCancelled at its own granularity instead of only being
// checked once up front.
func WithPollingCancellation[R any](token *cancel.Token, work func(*cancel.Token) (R, error)) (R, error) {
	return work(token)
}

// WithTimeout runs work under a fresh cancellation token that is cancelled
// if d elapses before work returns. If outToken is non-nil, the newly
// created token is written to *outToken before work starts, so the caller
// can inspect or manually cancel it. The timeout guard is joined
// deterministically before WithTimeout returns.
//
// Cancellation is cooperative: the token is checked once before work
// starts, and work already running is not interrupted. Work that does not
// poll the token (e.g. a plain time.Sleep) runs to completion and its
// result is returned even if d has elapsed.
func WithTimeout[R any](d time.Duration, outToken **cancel.Token, work func() (R, error)) (R, error) {
	token := cancel.New()
	if outToken != nil {
		*outToken = token
	}

	guard := cancel.NewGuard(token, d)
	defer guard.Close()

	var zero R
	if err := token.ThrowIfCancelled(); err != nil {
		return zero, err
	}
	return work()
}
