package clock

import "time"

// Clock provides time operations that can be mocked for testing.
// Shared room records carry epoch-millisecond timestamps, so the
// interface exposes that form directly alongside time.Time.
type Clock interface {
	Now() time.Time

	// NowMillis returns the current time as epoch milliseconds, the
	// form written into shared records
	NowMillis() int64
}

// RealClock implements Clock using the system clock
type RealClock struct{}

// New creates a new RealClock
func New() *RealClock {
	return &RealClock{}
}

// Now returns the current time
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// NowMillis returns the current time as epoch milliseconds
func (c *RealClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}
