package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Debounce delays fn until wait has passed without another call, then runs
// it once with the last argument.
type Debounce[T any] struct {
	fn    func(T)
	wait  time.Duration
	clock clockwork.Clock

	mu         sync.Mutex
	timer      clockwork.Timer
	generation uint64
	pending    T
	hasPending bool
}

// NewDebounce wraps fn so bursts collapse into one trailing call.
func NewDebounce[T any](fn func(T), wait time.Duration, opts ...Option) *Debounce[T] {
	o := buildOptions(opts)
	return &Debounce[T]{fn: fn, wait: wait, clock: o.clock}
}

// Call restarts the quiet period and remembers arg.
func (d *Debounce[T]) Call(arg T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stopTimer(d.timer)
	d.generation++
	gen := d.generation
	d.pending = arg
	d.hasPending = true
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
}

// Cancel discards the pending call.
func (d *Debounce[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.generation++
	stopTimer(d.timer)
	d.timer = nil
	d.clearPendingLocked()
}

// Flush runs the pending call immediately, if there is one, and reports
// whether it did.
func (d *Debounce[T]) Flush() bool {
	d.mu.Lock()
	if !d.hasPending {
		d.mu.Unlock()
		return false
	}
	d.generation++
	stopTimer(d.timer)
	d.timer = nil
	arg := d.pending
	d.clearPendingLocked()
	d.mu.Unlock()

	d.fn(arg)
	return true
}

// Pending reports whether a call is waiting for the quiet period to end.
func (d *Debounce[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasPending
}

func (d *Debounce[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.generation || !d.hasPending {
		d.mu.Unlock()
		return
	}
	arg := d.pending
	d.timer = nil
	d.clearPendingLocked()
	d.mu.Unlock()

	d.fn(arg)
}

func (d *Debounce[T]) clearPendingLocked() {
	var zero T
	d.pending = zero
	d.hasPending = false
}
