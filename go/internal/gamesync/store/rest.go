package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/cardsync/go/clients"
	"github.com/mcdev12/cardsync/go/internal/models"
)

// REST talks to the persistence API over HTTP. The API merges the uploaded
// document into the stored one and answers 409 when it holds a newer version.
type REST struct {
	*clients.BaseClient
}

func NewREST(baseURL, token string) *REST {
	c := clients.NewBaseClient(baseURL)
	c.SetHeader("Accept", "application/json")
	if token != "" {
		c.SetHeader("Authorization", "Bearer "+token)
	}
	return &REST{BaseClient: c}
}

func stateEndpoint(roomID, gameplayID string) string {
	return fmt.Sprintf("/rooms/%s/gameplays/%s/state", url.PathEscape(roomID), url.PathEscape(gameplayID))
}

func (r *REST) Get(ctx context.Context, roomID, gameplayID string) (*models.GameState, error) {
	key := Key{RoomID: roomID, GameplayID: gameplayID}
	body, err := r.BaseClient.Get(ctx, stateEndpoint(roomID, gameplayID))
	if clients.HasStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var state models.GameState
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &state, nil
}

func (r *REST) Upsert(ctx context.Context, roomID, gameplayID string, state *models.GameState) error {
	if err := validate(state); err != nil {
		return err
	}
	key := Key{RoomID: roomID, GameplayID: gameplayID}

	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = r.Put(ctx, stateEndpoint(roomID, gameplayID), "application/json", bytes.NewReader(doc))
	switch {
	case clients.HasStatus(err, http.StatusConflict):
		return conflictError(key, -1, state.Version)
	case clients.HasStatus(err, http.StatusForbidden), clients.HasStatus(err, http.StatusUnauthorized):
		return fmt.Errorf("upsert %s: permission denied: %w", key, err)
	case err != nil:
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}
