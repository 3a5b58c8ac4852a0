// Package system provides the wall-clock Clock implementation.
package system

import "time"

// Clock reads the system time.
type Clock struct{}

// New returns a system clock.
func New() *Clock { return &Clock{} }

// Now returns the current time in UTC.
func (c *Clock) Now() time.Time { return time.Now().UTC() }
