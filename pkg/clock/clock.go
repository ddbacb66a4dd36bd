// Package clock provides the time source used for every "now" snapshot.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a function to a Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// System returns the wall clock in UTC, truncated to microseconds so that
// timestamps round-trip through every storage backend unchanged.
func System() Clock {
	return Func(func() time.Time {
		return time.Now().UTC().Truncate(time.Microsecond)
	})
}

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Clock {
	return Func(func() time.Time { return t })
}
