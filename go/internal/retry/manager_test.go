package retry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedRandom(v float64) Option {
	return WithRandom(func() float64 { return v })
}

func TestScheduleRetryBackoffDoubles(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(DefaultConfig(), WithClock(clock), fixedRandom(0.5))

	var fired atomic.Int32
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, delay := range expected {
		assert.Equal(t, delay, m.NextDelay())
		require.True(t, m.ScheduleRetry(func() { fired.Add(1) }))

		clock.Advance(delay - time.Millisecond)
		require.Never(t, func() bool { return fired.Load() > int32(i) }, 20*time.Millisecond, 2*time.Millisecond)

		clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return fired.Load() == int32(i+1) }, time.Second, 2*time.Millisecond)
	}
}

func TestScheduleRetryCapsAtMaxDelay(t *testing.T) {
	m := NewManager(Config{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: 5 * time.Second}, WithClock(clockwork.NewFakeClock()))

	for range 4 {
		require.True(t, m.ScheduleRetry(func() {}))
	}
	assert.Equal(t, 5*time.Second, m.NextDelay())
}

func TestJitterStaysWithinBounds(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		m := NewManager(DefaultConfig(), WithClock(clockwork.NewFakeClock()), fixedRandom(r))
		m.attempts = 2
		delay := m.delayLocked()
		assert.GreaterOrEqual(t, delay, 2800*time.Millisecond)
		assert.LessOrEqual(t, delay, 5200*time.Millisecond)
	}
}

func TestJitterNeverNegative(t *testing.T) {
	m := NewManager(Config{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Second, JitterFactor: 2}, fixedRandom(0))
	assert.Equal(t, time.Duration(0), m.delayLocked())
}

func TestRetryExhaustion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(Config{MaxRetries: 5}, WithClock(clock))

	for range 5 {
		require.True(t, m.ScheduleRetry(func() {}))
	}
	assert.False(t, m.CanRetry())

	var sixth atomic.Bool
	assert.False(t, m.ScheduleRetry(func() { sixth.Store(true) }))
	clock.Advance(time.Hour)
	require.Never(t, sixth.Load, 20*time.Millisecond, 2*time.Millisecond)

	m.Reset()
	assert.True(t, m.CanRetry())
	assert.Equal(t, 0, m.Attempts())
}

func TestResetCancelsPendingCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(DefaultConfig(), WithClock(clock))

	var fired atomic.Bool
	require.True(t, m.ScheduleRetry(func() { fired.Store(true) }))
	m.Reset()
	m.Cleanup()
	clock.Advance(time.Minute)

	require.Never(t, fired.Load, 20*time.Millisecond, 2*time.Millisecond)
}
