package cancel

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCancelIsIdempotentAndFansOut(t *testing.T) {
	s := New()
	var calls int32
	s.Register(func() { atomic.AddInt32(&calls, 1) })
	s.Register(func() { atomic.AddInt32(&calls, 1) })

	s.Cancel()
	s.Cancel()
	s.Cancel()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected each callback to run exactly once, got %d calls", got)
	}
	if !s.Cancelled() {
		t.Fatal("expected source to report cancelled")
	}
}

func TestRegisterAfterCancelRunsImmediately(t *testing.T) {
	s := New()
	s.Cancel()

	ran := false
	s.Register(func() { ran = true })
	if !ran {
		t.Fatal("expected callback registered post-cancel to run synchronously")
	}
}

func TestDisposeDetachesCallback(t *testing.T) {
	s := New()
	var calls int32
	reg := s.Register(func() { atomic.AddInt32(&calls, 1) })
	reg.Dispose()

	s.Cancel()
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected disposed callback not to run, got %d calls", got)
	}
}

func TestRaiseIfCancelled(t *testing.T) {
	s := New()
	if err := s.RaiseIfCancelled(); err != nil {
		t.Fatalf("expected nil before cancel, got %v", err)
	}
	s.Cancel()
	if err := s.RaiseIfCancelled(); err != ErrCancelled {
		t.Fatalf("expected ErrCancelled after cancel, got %v", err)
	}
}

func TestWaitTimesOutWithoutCancel(t *testing.T) {
	s := New()
	if s.Wait(20 * time.Millisecond) {
		t.Fatal("expected Wait to time out, not report cancellation")
	}
}

func TestWaitReturnsOnCancel(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Cancel()
	}()
	if !s.Wait(time.Second) {
		t.Fatal("expected Wait to report cancellation")
	}
}
