// Package timers is the external timer facility the interpreter hands its
// suspensions to. A suspended execution does not occupy a worker; it is
// re-submitted by a timer callback when its wake time arrives.
package timers

import (
	"context"
	"sync"
	"time"
)

// Service tracks outstanding timers so they can be torn down together.
// Safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	closed bool
	next   int64
	timers map[int64]*time.Timer
}

// New creates an empty Service.
func New() *Service {
	return &Service{timers: make(map[int64]*time.Timer)}
}

// AfterFunc schedules fn to run once after d. It returns a cancel function
// that prevents fn from running if it has not fired yet. A non-positive d
// fires immediately (still asynchronously).
func (s *Service) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	id := s.next
	s.next++

	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		fn()
	})
	s.timers[id] = t

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// At schedules fn to run at instant t.
func (s *Service) At(t time.Time, fn func()) (cancel func()) {
	return s.AfterFunc(time.Until(t), fn)
}

// Sleep blocks until d elapses or ctx is done. Branch runners use this for
// in-branch waits; top-level executions use AfterFunc continuations instead.
func (s *Service) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every outstanding timer and rejects new ones. Callbacks that
// have not fired yet will never run.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of outstanding timers.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
