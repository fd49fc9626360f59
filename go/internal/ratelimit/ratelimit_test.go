package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	args []int
}

func (r *recorder) record(arg int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = append(r.args, arg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.args)
}

func (r *recorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.args) == 0 {
		return 0
	}
	return r.args[len(r.args)-1]
}

func TestThrottleLeadingCallIsSynchronous(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	throttled := NewThrottle(rec.record, 300*time.Millisecond, WithClock(clock))

	throttled.Call(1)

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, rec.last())
}

func TestThrottleCoalescesBurstIntoTrailingCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	throttled := NewThrottle(rec.record, 300*time.Millisecond, WithClock(clock))

	for i := 1; i <= 10; i++ {
		throttled.Call(i)
		clock.Advance(5 * time.Millisecond)
	}
	require.Equal(t, 1, rec.count())

	clock.Advance(300 * time.Millisecond)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10, rec.last())
}

func TestThrottleWindowWithoutBurstHasNoTrailingCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	throttled := NewThrottle(rec.record, 100*time.Millisecond, WithClock(clock))

	throttled.Call(1)
	clock.Advance(150 * time.Millisecond)

	require.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	// Window closed, so the next call leads again.
	require.Eventually(t, func() bool {
		throttled.Call(2)
		return rec.last() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestThrottleCancelDropsTrailingCall(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	throttled := NewThrottle(rec.record, 100*time.Millisecond, WithClock(clock))

	throttled.Call(1)
	throttled.Call(2)
	throttled.Cancel()
	throttled.Cancel()
	clock.Advance(200 * time.Millisecond)

	require.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	throttled.Call(3)
	assert.Equal(t, []int{1, 3}, rec.args)
}

func TestThrottleCancelBeforeAnyCall(t *testing.T) {
	throttled := NewThrottle(func(int) { t.Fatal("must not run") }, time.Second)
	assert.NotPanics(t, throttled.Cancel)
}

func TestDebounceFiresOnceAfterQuietPeriod(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	debounced := NewDebounce(rec.record, 500*time.Millisecond, WithClock(clock))

	for i := 1; i <= 5; i++ {
		debounced.Call(i)
		clock.Advance(100 * time.Millisecond)
	}

	require.Never(t, func() bool { return rec.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, debounced.Pending())

	clock.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, rec.last())
	assert.False(t, debounced.Pending())
}

func TestDebounceCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	debounced := NewDebounce(rec.record, 100*time.Millisecond, WithClock(clock))

	debounced.Call(1)
	debounced.Cancel()
	debounced.Cancel()
	clock.Advance(time.Second)

	require.Never(t, func() bool { return rec.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDebounceFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	debounced := NewDebounce(rec.record, time.Second, WithClock(clock))

	assert.False(t, debounced.Flush())

	debounced.Call(7)
	assert.True(t, debounced.Flush())
	assert.Equal(t, []int{7}, rec.args)

	clock.Advance(2 * time.Second)
	require.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}
