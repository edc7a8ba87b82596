package clocktest

import (
	"sync"
	"time"
)

// Epoch is the default starting instant for a test clock.
var Epoch = time.Date(2024, time.May, 7, 17, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock, safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New returns a clock stopped at Epoch.
func New() *Clock {
	return At(Epoch)
}

// At returns a clock stopped at the given instant.
func At(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
