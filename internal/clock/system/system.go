// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements cards.Clock.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// NowFunc adapts the clock for options that take a function.
func (c Clock) NowFunc() func() time.Time {
	return c.Now
}
