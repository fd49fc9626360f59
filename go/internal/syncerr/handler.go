package syncerr

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// HandlerConfig controls the per-context retry policy and notifications. A
// negative NotifyDedupWindow shows every repeated message.
type HandlerConfig struct {
	RetryDelayBase    time.Duration `yaml:"retry_delay_base"`
	MaxRetryAttempts  int           `yaml:"max_retry_attempts"`
	NotifyDedupWindow time.Duration `yaml:"notify_dedup_window"`
	LogCapacity       int           `yaml:"log_capacity"`
	LogTrimTo         int           `yaml:"log_trim_to"`
}

// DefaultHandlerConfig returns 1s base delay, 3 attempts per key and a 3s
// window for suppressing repeated user messages.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		RetryDelayBase:    1 * time.Second,
		MaxRetryAttempts:  3,
		NotifyDedupWindow: 3 * time.Second,
		LogCapacity:       defaultLogCapacity,
		LogTrimTo:         defaultLogTrimTo,
	}
}

// Notifier shows a user-facing status message.
type Notifier func(se *SyncError, message string)

// Handler classifies failures, records them and schedules bounded retries.
type Handler struct {
	cfg      HandlerConfig
	clock    clockwork.Clock
	log      *ErrorLog
	counters CounterStore
	onError  []func(*SyncError)

	mu          sync.Mutex
	notifiers   []Notifier
	lastNotice  map[string]time.Time
	retryTimers map[RetryKey]clockwork.Timer
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithClock(clock clockwork.Clock) HandlerOption {
	return func(h *Handler) { h.clock = clock }
}

func WithCounterStore(store CounterStore) HandlerOption {
	return func(h *Handler) { h.counters = store }
}

func WithErrorLog(l *ErrorLog) HandlerOption {
	return func(h *Handler) { h.log = l }
}

func WithNotifier(n Notifier) HandlerOption {
	return func(h *Handler) { h.notifiers = append(h.notifiers, n) }
}

// WithErrorListener registers fn to observe every classified error.
func WithErrorListener(fn func(*SyncError)) HandlerOption {
	return func(h *Handler) { h.onError = append(h.onError, fn) }
}

// NewHandler creates a Handler. Without a CounterStore it keeps counters in
// memory.
func NewHandler(cfg HandlerConfig, opts ...HandlerOption) (*Handler, error) {
	def := DefaultHandlerConfig()
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = def.RetryDelayBase
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if cfg.NotifyDedupWindow == 0 {
		cfg.NotifyDedupWindow = def.NotifyDedupWindow
	}

	h := &Handler{
		cfg:         cfg,
		clock:       clockwork.NewRealClock(),
		lastNotice:  make(map[string]time.Time),
		retryTimers: make(map[RetryKey]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = NewErrorLog(cfg.LogCapacity, cfg.LogTrimTo)
	}
	if h.counters == nil {
		store, err := NewMemoryCounterStore(0)
		if err != nil {
			return nil, err
		}
		h.counters = store
	}
	return h, nil
}

type handleOptions struct {
	fallback func() error
	retry    func()
	noRetry  bool
}

// HandleOption customizes a single Handle call.
type HandleOption func(*handleOptions)

// WithFallback runs fn to roll back local state. Its failure is logged and
// never returned.
func WithFallback(fn func() error) HandleOption {
	return func(o *handleOptions) { o.fallback = fn }
}

// WithRetry schedules fn if the error is retryable and attempts remain.
func WithRetry(fn func()) HandleOption {
	return func(o *handleOptions) { o.retry = fn }
}

// NoRetry disables retry scheduling for this call.
func NoRetry() HandleOption {
	return func(o *handleOptions) { o.noRetry = true }
}

// Handle classifies err under errContext, records it, notifies the user, runs
// the fallback and possibly schedules a retry. It returns the classified
// error; when the retry budget for its key is spent the result is marked
// non-retryable.
func (h *Handler) Handle(ctx context.Context, err error, errContext string, opts ...HandleOption) *SyncError {
	var o handleOptions
	for _, opt := range opts {
		opt(&o)
	}

	se := Classify(err, errContext, h.clock.Now())
	h.log.Add(se)

	log.Error().
		Err(err).
		Str("error_type", string(se.Type)).
		Str("context", errContext).
		Bool("retryable", se.Retry).
		Msg("sync error")

	h.notifyUser(se)

	if o.fallback != nil {
		h.runFallback(o.fallback, errContext)
	}

	if !o.noRetry && o.retry != nil && se.Retry {
		if !h.scheduleRetry(ctx, se, o.retry) {
			se = se.Permanent()
		}
	}

	for _, fn := range h.onError {
		fn(se)
	}
	return se
}

func (h *Handler) runFallback(fallback func() error, errContext string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("context", errContext).
				Interface("panic", r).
				Msg("rollback fallback panicked")
		}
	}()
	if err := fallback(); err != nil {
		log.Error().Err(err).Str("context", errContext).Msg("rollback fallback failed")
	}
}

// OnNotify adds a notifier to a handler that is already in use.
func (h *Handler) OnNotify(n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifiers = append(h.notifiers, n)
}

func (h *Handler) notifyUser(se *SyncError) {
	msg := UserMessage(se.Type)

	h.mu.Lock()
	notifiers := slices.Clone(h.notifiers)
	if len(notifiers) == 0 {
		h.mu.Unlock()
		return
	}
	now := h.clock.Now()
	last, seen := h.lastNotice[msg]
	suppress := seen && h.cfg.NotifyDedupWindow > 0 && now.Sub(last) < h.cfg.NotifyDedupWindow
	if !suppress {
		h.lastNotice[msg] = now
	}
	h.mu.Unlock()

	if suppress {
		log.Debug().Str("error_type", string(se.Type)).Msg("suppressed repeated user message")
		return
	}
	for _, notify := range notifiers {
		notify(se, msg)
	}
}

// scheduleRetry reports false when the key has no attempts left.
func (h *Handler) scheduleRetry(ctx context.Context, se *SyncError, fn func()) bool {
	key := RetryKey{Type: se.Type, Context: se.Context}

	attempts, err := h.counters.Attempts(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("retry_key", key.String()).Msg("failed to read retry counter")
		return false
	}
	if attempts >= h.cfg.MaxRetryAttempts {
		log.Warn().
			Str("retry_key", key.String()).
			Int("attempts", attempts).
			Msg("retries exhausted, giving up")
		return false
	}
	if err := h.counters.SetAttempts(ctx, key, attempts+1); err != nil {
		log.Error().Err(err).Str("retry_key", key.String()).Msg("failed to store retry counter")
		return false
	}

	delay := time.Duration(float64(h.cfg.RetryDelayBase) * math.Pow(2, float64(attempts)))

	h.mu.Lock()
	if existing, ok := h.retryTimers[key]; ok {
		existing.Stop()
	}
	var timer clockwork.Timer
	timer = h.clock.AfterFunc(delay, func() {
		h.mu.Lock()
		current := h.retryTimers[key]
		if current == timer {
			delete(h.retryTimers, key)
		}
		h.mu.Unlock()
		if current == timer {
			fn()
		}
	})
	h.retryTimers[key] = timer
	h.mu.Unlock()

	log.Info().
		Str("retry_key", key.String()).
		Int("attempt", attempts+1).
		Dur("delay", delay).
		Msg("scheduled retry")
	return true
}

// Stats returns the error statistics of the retained log.
func (h *Handler) Stats() Stats {
	return h.log.Stats()
}

// Log exposes the handler's error log.
func (h *Handler) Log() *ErrorLog {
	return h.log
}

// ClearRetryCount resets every counter of errContext and cancels its pending
// retries.
func (h *Handler) ClearRetryCount(ctx context.Context, errContext string) error {
	h.mu.Lock()
	for key, timer := range h.retryTimers {
		if key.Context == errContext {
			timer.Stop()
			delete(h.retryTimers, key)
		}
	}
	h.mu.Unlock()

	if err := h.counters.ClearContext(ctx, errContext); err != nil {
		return fmt.Errorf("clear retry count for %s: %w", errContext, err)
	}
	return nil
}

// ClearErrorQueue empties the error log.
func (h *Handler) ClearErrorQueue() {
	h.log.Reset()
}

// Close cancels every pending retry.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, timer := range h.retryTimers {
		timer.Stop()
		delete(h.retryTimers, key)
	}
}
