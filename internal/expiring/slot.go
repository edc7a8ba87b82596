package expiring

import (
	"sync"
	"time"

	"github.com/chinmina/channel-auth-bridge/internal/clock"
)

// Slot holds zero or one value together with the instant it expires. All
// operations are serialized on a single mutex, so concurrent callers observe
// one consistent order of reads, writes and clears.
//
// Get does not consider expiry: callers decide freshness with TimeRemaining.
type Slot[T any] struct {
	mu         sync.Mutex
	clock      clock.Clock
	value      T
	expiration time.Time
	present    bool
}

// NewSlot creates an empty slot that measures time with c.
func NewSlot[T any](c clock.Clock) *Slot[T] {
	return &Slot[T]{clock: c}
}

// Get returns the stored value and whether one is present.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value, s.present
}

// TimeRemaining is the time until the stored value expires. It is zero or
// negative when the slot is empty or the value has expired.
func (s *Slot[T]) TimeRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.present {
		return 0
	}

	return s.expiration.Sub(s.clock.Now())
}

// Snapshot returns the value, its remaining lifetime and presence under one
// lock acquisition.
func (s *Slot[T]) Snapshot() (T, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.present {
		var zero T
		return zero, 0, false
	}

	return s.value, s.expiration.Sub(s.clock.Now()), true
}

// Set replaces any stored value.
func (s *Slot[T]) Set(value T, expiration time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = value
	s.expiration = expiration
	s.present = true
}

// ClearIf empties the slot when a value is present and match reports true for
// it. Returns whether the slot was cleared.
func (s *Slot[T]) ClearIf(match func(T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.present || !match(s.value) {
		return false
	}

	var zero T
	s.value = zero
	s.expiration = time.Time{}
	s.present = false

	return true
}
