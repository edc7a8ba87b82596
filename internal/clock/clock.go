package clock

import "time"

// Clock supplies the current instant. Injected so that expiry decisions can be
// tested without sleeping.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to a Clock.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f()
}

// System is the wall clock.
var System Clock = Func(time.Now)
