package processor

import (
	"context"
	"sync"
	"sync/atomic"
)

// versionState tracks the enqueue and dispatch counters and releases
// waiters. last and consumed only move forward. Every dispatch closes the
// current notify channel, and each waiter rechecks its own target, so any
// number of waiters can block on different targets.
type versionState struct {
	last     atomic.Uint64
	consumed atomic.Uint64

	mu      sync.Mutex
	waiters map[uint64]int // blocked waiters per target
	notify  chan struct{}
}

func newVersionState(last, consumed uint64) *versionState {
	s := &versionState{waiters: map[uint64]int{}, notify: make(chan struct{})}
	s.last.Store(last)
	s.consumed.Store(consumed)
	return s
}

// recordEnqueued publishes v as the newest assigned version. Callers
// serialize assignment themselves.
func (s *versionState) recordEnqueued(v uint64) { s.last.Store(v) }

// recordDispatched advances consumed to v and wakes waiters.
func (s *versionState) recordDispatched(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.consumed.Load() {
		s.consumed.Store(v)
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// await blocks until consumed >= target or ctx ends. It reports whether the
// target was reached. The check and the registration happen under the same
// lock as recordDispatched, so a dispatch cannot slip between them. A waiter
// is deregistered on either outcome.
func (s *versionState) await(ctx context.Context, target uint64) bool {
	s.mu.Lock()
	if s.consumed.Load() >= target {
		s.mu.Unlock()
		return true
	}
	s.waiters[target]++
	defer s.release(target)
	for {
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}

		s.mu.Lock()
		if s.consumed.Load() >= target {
			s.mu.Unlock()
			return true
		}
	}
}

func (s *versionState) release(target uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters[target] <= 1 {
		delete(s.waiters, target)
		return
	}
	s.waiters[target]--
}

// waiting returns the highest target a blocked waiter still needs, or 0
// when no one is blocked.
func (s *versionState) waiting() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	consumed := s.consumed.Load()
	var top uint64
	for t := range s.waiters {
		if t > consumed && t > top {
			top = t
		}
	}
	return top
}
