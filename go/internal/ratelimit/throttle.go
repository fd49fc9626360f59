package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Throttle runs fn at most once per window. The first call of a window runs
// synchronously; later calls in the same window are coalesced into a single
// trailing call with the most recent argument.
type Throttle[T any] struct {
	fn    func(T)
	wait  time.Duration
	clock clockwork.Clock

	mu         sync.Mutex
	timer      clockwork.Timer
	generation uint64
	pending    T
	hasPending bool
}

// NewThrottle wraps fn so it runs at most once every wait.
func NewThrottle[T any](fn func(T), wait time.Duration, opts ...Option) *Throttle[T] {
	o := buildOptions(opts)
	return &Throttle[T]{fn: fn, wait: wait, clock: o.clock}
}

// Call invokes fn now if no window is open, otherwise records arg for the
// trailing edge.
func (t *Throttle[T]) Call(arg T) {
	t.mu.Lock()
	if t.timer != nil {
		t.pending = arg
		t.hasPending = true
		t.mu.Unlock()
		return
	}
	t.openWindowLocked()
	t.mu.Unlock()

	t.fn(arg)
}

// Cancel drops any pending trailing call and closes the current window. Safe
// to call any number of times.
func (t *Throttle[T]) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	stopTimer(t.timer)
	t.timer = nil
	t.clearPendingLocked()
}

func (t *Throttle[T]) openWindowLocked() {
	t.generation++
	gen := t.generation
	t.timer = t.clock.AfterFunc(t.wait, func() { t.windowElapsed(gen) })
}

func (t *Throttle[T]) windowElapsed(gen uint64) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	if !t.hasPending {
		t.timer = nil
		t.mu.Unlock()
		return
	}

	arg := t.pending
	t.clearPendingLocked()
	// The trailing call opens a fresh window so a burst that keeps going is
	// still limited to one call per wait.
	t.openWindowLocked()
	t.mu.Unlock()

	t.fn(arg)
}

func (t *Throttle[T]) clearPendingLocked() {
	var zero T
	t.pending = zero
	t.hasPending = false
}
