package syncerr

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/mcdev12/cardsync/go/internal/normalizer"
)

var (
	connectionKeywords = []string{"network", "connection", "timeout", "timed out", "offline", "websocket", "disconnect", "unreachable"}
	permissionKeywords = []string{"permission", "unauthorized", "forbidden", "access denied"}
	conflictKeywords   = []string{"conflict", "version mismatch", "concurrent"}
	validationKeywords = []string{"validation", "invalid"}
)

var validationErrors = []error{
	normalizer.ErrUnsupportedGameType,
	normalizer.ErrGameTypeMismatch,
	normalizer.ErrCapacityExceeded,
	normalizer.ErrTokenBudgetExceeded,
	normalizer.ErrMissingVariant,
}

var retryable = map[ErrorType]bool{
	ConnectionError: true,
	SaveError:       true,
	SyncFailure:     true,
	ConflictError:   true,
	PermissionError: false,
	ValidationError: false,
	UnknownError:    false,
}

var userMessages = map[ErrorType]string{
	ConnectionError: "Connection interrupted, retrying…",
	SaveError:       "Could not save your changes, retrying…",
	SyncFailure:     "Game out of sync, refreshing…",
	PermissionError: "You do not have permission to do that.",
	ValidationError: "That change is not allowed.",
	ConflictError:   "Someone else changed the game, merging their changes…",
	UnknownError:    "Something went wrong.",
}

// IsRetryable reports the fixed retry policy for t.
func IsRetryable(t ErrorType) bool {
	return retryable[t]
}

// UserMessage returns the single human-readable status string for t.
func UserMessage(t ErrorType) string {
	if msg, ok := userMessages[t]; ok {
		return msg
	}
	return userMessages[UnknownError]
}

// Classify turns err into a SyncError for errContext.
//
// Typed errors are checked before any keyword: a wrapped *SyncError keeps its
// type, net.Error and context.DeadlineExceeded are CONNECTION_ERROR, and the
// normalizer's rejection sentinels are VALIDATION_ERROR even under a "save"
// or "sync" context, so a capacity violation during a save is never retried.
// The rest are matched on their lowercased message in priority order:
// network, permission, conflict, a "save" context, a "sync" context,
// validation.
func Classify(err error, errContext string, now time.Time) *SyncError {
	se := New(classifyType(err, errContext), errContext, err)
	se.Timestamp = now
	return se
}

func classifyType(err error, errContext string) ErrorType {
	var existing *SyncError
	if errors.As(err, &existing) {
		return existing.Type
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ConnectionError
	}
	for _, invalid := range validationErrors {
		if errors.Is(err, invalid) {
			return ValidationError
		}
	}

	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}
	ctx := strings.ToLower(errContext)

	switch {
	case containsAny(msg, connectionKeywords):
		return ConnectionError
	case containsAny(msg, permissionKeywords):
		return PermissionError
	case containsAny(msg, conflictKeywords):
		return ConflictError
	case strings.Contains(ctx, "save"):
		return SaveError
	case strings.Contains(ctx, "sync"):
		return SyncFailure
	case containsAny(msg, validationKeywords):
		return ValidationError
	default:
		return UnknownError
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
