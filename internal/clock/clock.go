// Package clock provides the wall-clock abstraction injected into every
// component that reads time.
//
// Components never call time.Now directly; they receive a Clock at
// construction so tests can drive freshness and expiry deterministically.
package clock

import "time"

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// Or returns c, or the system clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return System{}
	}
	return c
}
