// Package store implements the persistence API for canonical game states.
package store

import (
	"errors"
	"fmt"

	"github.com/mcdev12/cardsync/go/internal/models"
)

var (
	ErrNotFound        = errors.New("game state not found")
	ErrVersionConflict = errors.New("version conflict: stored state is newer")
)

// Key identifies one persisted state.
type Key struct {
	RoomID     string
	GameplayID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.RoomID, k.GameplayID)
}

func conflictError(key Key, stored, incoming int) error {
	return fmt.Errorf("%w: %s stored version %d, incoming %d", ErrVersionConflict, key, stored, incoming)
}

func validate(state *models.GameState) error {
	if state == nil || state.Variant == nil {
		return errors.New("invalid game state: missing variant")
	}
	return nil
}
