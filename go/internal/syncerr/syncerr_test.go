package syncerr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/normalizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyNetworkBeatsSaveContext(t *testing.T) {
	se := Classify(errors.New("Network request failed"), "save-state", time.Now())

	assert.Equal(t, ConnectionError, se.Type)
	assert.True(t, se.Retry)
	assert.Equal(t, "save-state", se.Context)
	assert.Equal(t, "Network request failed", se.Details)
}

func TestClassifyPriority(t *testing.T) {
	cases := []struct {
		msg, context string
		want         ErrorType
	}{
		{"connection reset by peer", "load", ConnectionError},
		{"Unauthorized: token expired", "save-state", PermissionError},
		{"permission denied while saving conflict", "sync", PermissionError},
		{"write conflict on version 4", "save-state", ConflictError},
		{"boom", "save-state", SaveError},
		{"boom", "resync", SyncFailure},
		{"invalid zone", "move-card", ValidationError},
		{"validation failed", "save-card", SaveError},
		{"boom", "move-card", UnknownError},
	}
	for _, tc := range cases {
		t.Run(tc.msg+"/"+tc.context, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(errors.New(tc.msg), tc.context, time.Now()).Type)
		})
	}
}

func TestClassifyTypedErrors(t *testing.T) {
	now := time.Now()

	assert.Equal(t, ConnectionError, Classify(fmt.Errorf("dial: %w", timeoutErr{}), "move-card", now).Type)
	assert.Equal(t, ConnectionError, Classify(context.DeadlineExceeded, "move-card", now).Type)

	unsupported := fmt.Errorf("%w: %q", normalizer.ErrUnsupportedGameType, "card_sorting")
	se := Classify(unsupported, "save-state", now)
	assert.Equal(t, ValidationError, se.Type)
	assert.False(t, se.Retry)
	assert.ErrorIs(t, se, normalizer.ErrUnsupportedGameType)

	// typed rejections outrank the save context that keywords alone would give
	overBudget := fmt.Errorf("merge: %w", normalizer.ErrTokenBudgetExceeded)
	assert.Equal(t, ValidationError, Classify(overBudget, "save-state", now).Type)
	full := fmt.Errorf("move: %w", normalizer.ErrCapacityExceeded)
	assert.Equal(t, ValidationError, Classify(full, "save-state", now).Type)
	assert.Equal(t, SaveError, Classify(errors.New(full.Error()), "save-state", now).Type)

	wrapped := fmt.Errorf("persist: %w", New(ConflictError, "save-state", nil))
	assert.Equal(t, ConflictError, Classify(wrapped, "other", now).Type)
}

func TestRetryPolicyAndMessages(t *testing.T) {
	for _, typ := range ErrorTypes() {
		assert.NotEmpty(t, UserMessage(typ))
	}
	assert.True(t, IsRetryable(ConnectionError))
	assert.True(t, IsRetryable(SaveError))
	assert.True(t, IsRetryable(SyncFailure))
	assert.True(t, IsRetryable(ConflictError))
	assert.False(t, IsRetryable(PermissionError))
	assert.False(t, IsRetryable(ValidationError))
	assert.False(t, IsRetryable(UnknownError))
}

func TestErrorLogTrimsOnOverflow(t *testing.T) {
	l := NewErrorLog(100, 50)
	for i := range 101 {
		l.Add(New(UnknownError, fmt.Sprintf("ctx-%d", i), nil))
	}

	require.Equal(t, 50, l.Len())
	recent := l.Recent(1)
	assert.Equal(t, "ctx-100", recent[0].Context)
	assert.Equal(t, "ctx-51", l.Recent(50)[0].Context)

	l.Reset()
	assert.Equal(t, 0, l.Len())
}

func TestStatsZeroFilled(t *testing.T) {
	l := NewErrorLog(0, 0)
	for i := range 12 {
		l.Add(New(ConnectionError, fmt.Sprintf("c%d", i), nil))
	}
	l.Add(New(SaveError, "save-state", nil))

	stats := l.Stats()
	assert.Equal(t, 13, stats.Total)
	assert.Len(t, stats.ByType, len(ErrorTypes()))
	assert.Equal(t, 12, stats.ByType[ConnectionError])
	assert.Equal(t, 1, stats.ByType[SaveError])
	assert.Equal(t, 0, stats.ByType[PermissionError])
	require.Len(t, stats.Recent, 10)
	assert.Equal(t, "save-state", stats.Recent[9].Context)
}

func newTestHandler(t *testing.T, opts ...HandlerOption) (*Handler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	h, err := NewHandler(DefaultHandlerConfig(), append([]HandlerOption{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h, clock
}

func TestHandlerRetriesWithPerKeyBackoff(t *testing.T) {
	h, clock := newTestHandler(t)
	ctx := context.Background()
	var retries atomic.Int32
	retry := WithRetry(func() { retries.Add(1) })

	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, delay := range delays {
		se := h.Handle(ctx, errors.New("boom"), "save-state", retry)
		require.True(t, se.Retry)

		clock.Advance(delay - time.Millisecond)
		require.Never(t, func() bool { return retries.Load() > int32(i) }, 20*time.Millisecond, 2*time.Millisecond)
		clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return retries.Load() == int32(i+1) }, time.Second, 2*time.Millisecond)
	}

	se := h.Handle(ctx, errors.New("boom"), "save-state", retry)
	assert.Equal(t, SaveError, se.Type)
	assert.False(t, se.Retry)
	clock.Advance(time.Minute)
	require.Never(t, func() bool { return retries.Load() > 3 }, 20*time.Millisecond, 2*time.Millisecond)

	// A different key has its own budget.
	se = h.Handle(ctx, errors.New("network down"), "save-state", retry)
	assert.True(t, se.Retry)

	require.NoError(t, h.ClearRetryCount(ctx, "save-state"))
	se = h.Handle(ctx, errors.New("boom"), "save-state", retry)
	assert.True(t, se.Retry)
}

func TestHandlerSkipsRetryWhenNotRetryable(t *testing.T) {
	h, clock := newTestHandler(t)
	var retries atomic.Int32

	se := h.Handle(context.Background(), errors.New("forbidden"), "save-state", WithRetry(func() { retries.Add(1) }))
	assert.Equal(t, PermissionError, se.Type)

	se = h.Handle(context.Background(), errors.New("boom"), "save-state", WithRetry(func() { retries.Add(1) }), NoRetry())
	assert.True(t, se.Retry)

	clock.Advance(time.Minute)
	require.Never(t, func() bool { return retries.Load() > 0 }, 20*time.Millisecond, 2*time.Millisecond)
}

func TestHandlerSwallowsFallbackFailures(t *testing.T) {
	h, _ := newTestHandler(t)
	var ran atomic.Int32

	assert.NotPanics(t, func() {
		h.Handle(context.Background(), errors.New("boom"), "save-state", WithFallback(func() error {
			ran.Add(1)
			return errors.New("rollback failed")
		}))
		h.Handle(context.Background(), errors.New("boom"), "save-state", WithFallback(func() error {
			ran.Add(1)
			panic("rollback exploded")
		}))
	})
	assert.Equal(t, int32(2), ran.Load())
	assert.Equal(t, 2, h.Stats().Total)
}

func TestHandlerDeduplicatesUserMessages(t *testing.T) {
	var mu sync.Mutex
	var shown []string
	h, clock := newTestHandler(t, WithNotifier(func(_ *SyncError, msg string) {
		mu.Lock()
		defer mu.Unlock()
		shown = append(shown, msg)
	}))
	ctx := context.Background()

	h.Handle(ctx, errors.New("network down"), "sync", NoRetry())
	h.Handle(ctx, errors.New("network down"), "sync", NoRetry())
	h.Handle(ctx, errors.New("forbidden"), "sync", NoRetry())
	clock.Advance(4 * time.Second)
	h.Handle(ctx, errors.New("network down"), "sync", NoRetry())

	assert.Equal(t, []string{
		UserMessage(ConnectionError),
		UserMessage(PermissionError),
		UserMessage(ConnectionError),
	}, shown)
}

func TestOnNotifyAttachesToRunningHandler(t *testing.T) {
	var first, second []string
	h, _ := newTestHandler(t, WithNotifier(func(_ *SyncError, msg string) { first = append(first, msg) }))
	h.OnNotify(func(_ *SyncError, msg string) { second = append(second, msg) })

	h.Handle(context.Background(), errors.New("access denied"), "save-state", NoRetry())
	h.Handle(context.Background(), errors.New("access denied"), "save-state", NoRetry())

	assert.Equal(t, []string{UserMessage(PermissionError)}, first)
	assert.Equal(t, first, second)
}

func TestHandlerNotifiesListenersAndClearsQueue(t *testing.T) {
	var seen []ErrorType
	h, _ := newTestHandler(t, WithErrorListener(func(se *SyncError) { seen = append(seen, se.Type) }))

	h.Handle(context.Background(), errors.New("invalid zone"), "move-card")
	assert.Equal(t, []ErrorType{ValidationError}, seen)
	assert.Equal(t, 1, h.Stats().ByType[ValidationError])

	h.ClearErrorQueue()
	assert.Equal(t, 0, h.Stats().Total)
}

func TestMemoryCounterStoreClearContext(t *testing.T) {
	store, err := NewMemoryCounterStore(8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.SetAttempts(ctx, RetryKey{Type: SaveError, Context: "save-state"}, 2))
	require.NoError(t, store.SetAttempts(ctx, RetryKey{Type: ConnectionError, Context: "save-state"}, 1))
	require.NoError(t, store.SetAttempts(ctx, RetryKey{Type: SyncFailure, Context: "sync"}, 3))

	require.NoError(t, store.ClearContext(ctx, "save-state"))

	n, err := store.Attempts(ctx, RetryKey{Type: SaveError, Context: "save-state"})
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.Attempts(ctx, RetryKey{Type: SyncFailure, Context: "sync"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
