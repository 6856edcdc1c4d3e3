package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(61 * time.Second)
	assert.Equal(t, start.Add(61*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealClock(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	assert.False(t, got.Before(before))
}
