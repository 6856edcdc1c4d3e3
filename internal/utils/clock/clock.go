// Package clock provides the time source used by the control plane.
// Package clock 提供控制平面使用的时间源。
package clock

import (
	"sync"
	"time"
)

// Clock is the interface for time operations.
// Clock 是时间操作接口。
type Clock interface {
	Now() time.Time
}

// RealClock returns the system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a controllable clock for tests.
// MockClock 是用于测试的可控时钟。
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock creates a mock clock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set sets the mock time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the mock time forward by d.
// Advance 将模拟时间向前推进 d。
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}
