// Package system provides the wall clock used for metadata timestamps.
package system

import "time"

// Clock returns UTC times truncated to microseconds, the precision of a
// Postgres timestamptz, so a stored value reads back unchanged.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
