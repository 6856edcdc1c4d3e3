package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/livp123/netxpf/internal/utils/clock"
)

func TestWindowResetAfterElapsed(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1_700_000_000, 0))
	w := New(3, 60)

	for i := 0; i < 3; i++ {
		assert.True(t, w.TryAdmit(clk.Now().Unix()), "admit %d", i)
		clk.Advance(time.Second)
	}
	assert.False(t, w.TryAdmit(clk.Now().Unix()))
	assert.Equal(t, uint32(3), w.Count)

	clk.Advance(61 * time.Second)
	assert.True(t, w.TryAdmit(clk.Now().Unix()))
	assert.Equal(t, uint32(1), w.Count)
	assert.Equal(t, clk.Now().Unix(), w.Last)
}

func TestWouldAdmitHasNoSideEffects(t *testing.T) {
	w := New(1, 10)
	assert.True(t, w.WouldAdmit(100))
	assert.Equal(t, uint32(0), w.Count)
	assert.True(t, w.TryAdmit(100))
	assert.False(t, w.WouldAdmit(105))
	assert.True(t, w.WouldAdmit(110))
}

func TestDisabledWindowAlwaysAdmits(t *testing.T) {
	var w Window
	for i := 0; i < 100; i++ {
		assert.True(t, w.TryAdmit(int64(i)))
	}
}

func TestEstimateDecays(t *testing.T) {
	w := Window{Limit: 10, Seconds: 10, Count: 10, Last: 100}
	assert.Equal(t, uint32(10), w.Estimate(100))
	assert.Equal(t, uint32(5), w.Estimate(105))
	assert.Equal(t, uint32(0), w.Estimate(110))
}
