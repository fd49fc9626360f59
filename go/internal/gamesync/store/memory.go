package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/cardsync/go/internal/models"
)

// Memory keeps states in process. Upserts follow the same version guard as
// the Postgres store.
type Memory struct {
	mu     sync.RWMutex
	states map[Key]*models.GameState
}

func NewMemory() *Memory {
	return &Memory{states: make(map[Key]*models.GameState)}
}

func (m *Memory) Get(_ context.Context, roomID, gameplayID string) (*models.GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := Key{RoomID: roomID, GameplayID: gameplayID}
	state, ok := m.states[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return state.Clone(), nil
}

func (m *Memory) Upsert(_ context.Context, roomID, gameplayID string, state *models.GameState) error {
	if err := validate(state); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{RoomID: roomID, GameplayID: gameplayID}
	if existing, ok := m.states[key]; ok && existing.Version >= state.Version {
		return conflictError(key, existing.Version, state.Version)
	}
	m.states[key] = state.Clone()
	return nil
}
