package mocks

import (
	"time"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
)

// MockClock is a mock implementation of Clock for testing. Time only
// moves when the test calls Advance, which makes the cooldown, slow
// mode and pruning windows deterministic.
type MockClock struct {
	CurrentTime time.Time
}

// Ensure MockClock implements Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a MockClock set to the given time
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{CurrentTime: t}
}

// Now returns the mocked current time
func (c *MockClock) Now() time.Time {
	return c.CurrentTime
}

// NowMillis returns the mocked current time as epoch milliseconds
func (c *MockClock) NowMillis() int64 {
	return c.CurrentTime.UnixMilli()
}

// Advance moves the clock forward by the given duration
func (c *MockClock) Advance(d time.Duration) {
	c.CurrentTime = c.CurrentTime.Add(d)
}
