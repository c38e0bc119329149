// Package cancel provides a thread-safe, one-shot cancellation primitive
// with fan-out callback registration, used by every long-running operation
// in the agent runtime to check for cooperative cancellation at suspension
// points (spec.md §4.1).
package cancel

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCancelled is returned by RaiseIfCancelled once a Source has fired.
var ErrCancelled = errors.New("operation cancelled")

// Source is a one-shot cancellation signal. The zero value is not usable;
// construct one with New.
type Source struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
	callbacks map[int]func()
	nextID    int
}

// New returns a ready-to-use, not-yet-cancelled Source.
func New() *Source {
	return &Source{
		done:      make(chan struct{}),
		callbacks: make(map[int]func()),
	}
}

// Registration lets a caller detach a callback before cancellation fires.
type Registration struct {
	source *Source
	id     int
}

// Cancel fires the source. It is idempotent: only the first call runs the
// registered callbacks, and it runs each exactly once.
func (s *Source) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	callbacks := make([]func(), 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		callbacks = append(callbacks, cb)
	}
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Cancelled reports whether Cancel has already fired.
func (s *Source) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Register attaches a callback invoked exactly once when the source is
// cancelled. If the source is already cancelled, the callback runs
// synchronously on the calling goroutine before Register returns.
func (s *Source) Register(callback func()) *Registration {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		callback()
		return &Registration{source: s, id: -1}
	}
	id := s.nextID
	s.nextID++
	s.callbacks[id] = callback
	s.mu.Unlock()
	return &Registration{source: s, id: id}
}

// Dispose detaches the callback. No-op once the source has cancelled (the
// callback either already ran or was never registered).
func (r *Registration) Dispose() {
	if r == nil || r.id < 0 {
		return
	}
	r.source.mu.Lock()
	defer r.source.mu.Unlock()
	if r.source.callbacks != nil {
		delete(r.source.callbacks, r.id)
	}
}

// Wait blocks until the source cancels or the timeout elapses, returning
// true iff it returned because of cancellation.
func (s *Source) Wait(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done returns a channel closed when the source cancels, so that it can be
// selected on alongside a context.Context's own Done channel.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

// RaiseIfCancelled returns ErrCancelled if the source has fired, nil
// otherwise. Long-running operations call this before and after every
// suspension point (LLM call, tool dispatch, result merge).
func (s *Source) RaiseIfCancelled() error {
	if s.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// Context returns a context.Context that is cancelled when the source
// fires, derived from parent, for code that wants to pass cancellation
// through the standard context chain (e.g. into an HTTP client call).
func (s *Source) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	reg := s.Register(cancel)
	stop := context.CancelFunc(func() {
		reg.Dispose()
		cancel()
	})
	return ctx, stop
}
