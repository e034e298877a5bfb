// Package system provides the wall clock used for entity timestamps.
package system

import "time"

// Clock implements store.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to the microsecond
// precision that both record backends keep.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
