package clock

import (
	"sync"
	"time"
)

// Service tracks the offset between the local clock and the relay clock.
// Every relay response carries a server timestamp; observing it keeps
// delta = lastServerTimestamp - localNow. All peer-directed envelopes are
// stamped with ServerTime so both ends compare timestamps on the same clock.
type Service struct {
	mu    sync.RWMutex
	delta int64
	now   func() time.Time
}

// NewService creates a clock service with zero delta.
func NewService() *Service {
	return &Service{now: time.Now}
}

// NewServiceWithNow creates a clock service with an injected local clock.
// Tests use this to make ServerTime deterministic.
func NewServiceWithNow(now func() time.Time) *Service {
	return &Service{now: now}
}

// localMillis returns the local wall clock in Unix milliseconds.
func (s *Service) localMillis() int64 {
	return s.now().UnixMilli()
}

// ServerTime reports the current relay clock in Unix milliseconds.
func (s *Service) ServerTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localMillis() + s.delta
}

// Observe updates the delta from a relay response timestamp.
func (s *Service) Observe(serverTimestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delta = serverTimestamp - s.localMillis()
}

// Delta returns the current clock offset in milliseconds.
func (s *Service) Delta() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delta
}
