// Package retry schedules reconnect attempts with exponential backoff and
// jitter.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Config controls the reconnect backoff.
type Config struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor"`
}

// DefaultConfig returns the reconnect defaults: 5 attempts, 1s doubling up
// to 30s, ±30% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.3,
	}
}

// Manager owns at most one pending retry. Once MaxRetries attempts have been
// scheduled it refuses further attempts until Reset.
type Manager struct {
	cfg    Config
	clock  clockwork.Clock
	random func() float64

	mu       sync.Mutex
	attempts int
	timer    clockwork.Timer
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used to schedule callbacks.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithRandom sets the uniform [0,1) source used for jitter.
func WithRandom(random func() float64) Option {
	return func(m *Manager) { m.random = random }
}

// NewManager creates a Manager. Zero config fields fall back to the defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}

	m := &Manager{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanRetry reports whether another attempt may be scheduled.
func (m *Manager) CanRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts < m.cfg.MaxRetries
}

// Attempts returns how many retries have been scheduled since the last reset.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ScheduleRetry arranges for callback to run after the next backoff delay.
// It returns false, scheduling nothing, once retries are exhausted. A retry
// still pending from an earlier call is replaced.
func (m *Manager) ScheduleRetry(callback func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempts >= m.cfg.MaxRetries {
		log.Warn().
			Int("attempts", m.attempts).
			Int("max_retries", m.cfg.MaxRetries).
			Msg("reconnect retries exhausted")
		return false
	}

	delay := m.delayLocked()
	m.attempts++
	attempt := m.attempts

	if m.timer != nil {
		m.timer.Stop()
	}
	var timer clockwork.Timer
	timer = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.timer != timer {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		callback()
	})
	m.timer = timer

	log.Info().
		Int("attempt", attempt).
		Int("max_retries", m.cfg.MaxRetries).
		Dur("delay", delay).
		Msg("scheduled reconnect")
	return true
}

// NextDelay returns the un-jittered delay the next attempt would use.
func (m *Manager) NextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseDelayLocked()
}

// Reset zeroes the attempt counter and cancels any pending callback. Call it
// after a successful (re)connection.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = 0
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Cleanup releases the pending timer on teardown. Equivalent to Reset.
func (m *Manager) Cleanup() {
	m.Reset()
}

func (m *Manager) baseDelayLocked() time.Duration {
	multiplier := math.Pow(2, float64(m.attempts))
	delay := time.Duration(float64(m.cfg.InitialDelay) * multiplier)
	if delay > m.cfg.MaxDelay || delay <= 0 {
		delay = m.cfg.MaxDelay
	}
	return delay
}

func (m *Manager) delayLocked() time.Duration {
	delay := m.baseDelayLocked()
	if m.cfg.JitterFactor > 0 {
		jitter := float64(delay) * m.cfg.JitterFactor
		delay = time.Duration(float64(delay) + (m.random()*2-1)*jitter)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
