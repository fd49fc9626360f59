package syncerr

import (
	"slices"
	"sync"
)

const (
	defaultLogCapacity = 100
	defaultLogTrimTo   = 50
	recentStatsSize    = 10
)

// ErrorLog is a bounded log of classified errors. When it grows past its
// capacity it keeps only the newest trimTo entries.
type ErrorLog struct {
	mu       sync.Mutex
	entries  []SyncError
	capacity int
	trimTo   int
}

// NewErrorLog creates a log. Non-positive sizes use 100 and 50.
func NewErrorLog(capacity, trimTo int) *ErrorLog {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	if trimTo <= 0 || trimTo > capacity {
		trimTo = min(defaultLogTrimTo, capacity)
	}
	return &ErrorLog{capacity: capacity, trimTo: trimTo}
}

// Add appends a copy of se.
func (l *ErrorLog) Add(se *SyncError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, *se)
	if len(l.entries) > l.capacity {
		l.entries = slices.Clone(l.entries[len(l.entries)-l.trimTo:])
	}
}

// Len returns the number of retained entries.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Recent returns up to n newest entries, oldest first.
func (l *ErrorLog) Recent(n int) []SyncError {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := max(len(l.entries)-n, 0)
	return slices.Clone(l.entries[start:])
}

// Reset drops every entry.
func (l *ErrorLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Stats summarizes the retained entries.
type Stats struct {
	Total  int               `json:"total"`
	ByType map[ErrorType]int `json:"byType"`
	Recent []SyncError       `json:"recent"`
}

// Stats counts retained entries per type, zero-filled for every type, and
// returns the ten newest.
func (l *ErrorLog) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	byType := make(map[ErrorType]int, len(ErrorTypes()))
	for _, t := range ErrorTypes() {
		byType[t] = 0
	}
	for _, e := range l.entries {
		byType[e.Type]++
	}
	start := max(len(l.entries)-recentStatsSize, 0)
	return Stats{
		Total:  len(l.entries),
		ByType: byType,
		Recent: slices.Clone(l.entries[start:]),
	}
}
