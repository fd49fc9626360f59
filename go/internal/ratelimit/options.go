// Package ratelimit coalesces high-frequency calls before they reach the wire.
package ratelimit

import "github.com/jonboulle/clockwork"

type options struct {
	clock clockwork.Clock
}

// Option configures a Throttle or Debounce.
type Option func(*options)

// WithClock sets the clock used for scheduling. Tests pass a fake clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func stopTimer(timer clockwork.Timer) {
	if timer != nil {
		timer.Stop()
	}
}
