package gamesync

import (
	"maps"
	"time"

	"github.com/mcdev12/cardsync/go/internal/syncerr"
)

// Status is the connection and sync summary shown to the UI.
type Status struct {
	IsConnected     bool               `json:"isConnected"`
	IsRoomOwner     bool               `json:"isRoomOwner"`
	LastSyncTime    *time.Time         `json:"lastSyncTime,omitempty"`
	PendingChanges  int                `json:"pendingChanges"`
	Error           *syncerr.SyncError `json:"error,omitempty"`
	Message         string             `json:"message,omitempty"`
	Version         int                `json:"version"`
	DraggedByOthers map[string]string  `json:"draggedByOthers"`
}

// Status returns a snapshot of the session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsConnected:     s.connected,
		IsRoomOwner:     s.cfg.IsRoomOwner,
		PendingChanges:  s.pendingChanges,
		Version:         s.state.Version,
		DraggedByOthers: maps.Clone(s.draggedByOthers),
		Message:         s.message,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		st.LastSyncTime = &t
	}
	switch {
	case s.offline != nil:
		se := *s.offline
		st.Error = &se
	case s.lastErr != nil:
		se := *s.lastErr
		st.Error = &se
	}
	return st
}

// ErrorStats returns the error handler's statistics.
func (s *Session) ErrorStats() syncerr.Stats {
	return s.handler.Stats()
}
