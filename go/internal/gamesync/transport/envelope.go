package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/cardsync/go/internal/models"
)

// MessageType is the kind of a realtime message.
type MessageType string

const (
	MessageStateSnapshot MessageType = "state_snapshot"
	MessageCardMove      MessageType = "card_move"
	MessageDragStart     MessageType = "drag_start"
	MessageDragEnd       MessageType = "drag_end"
	MessageTokenAdded    MessageType = "token_added"
	MessageTokenMoved    MessageType = "token_moved"
	MessageTokenRemoved  MessageType = "token_removed"
	MessageTokensCleared MessageType = "tokens_cleared"
	MessageStateRequest  MessageType = "state_request"
)

// Envelope is the message exchanged between participants of a room.
type Envelope struct {
	ID          string          `json:"id"`
	Type        MessageType     `json:"type"`
	RoomID      string          `json:"room_id"`
	GameplayID  string          `json:"gameplay_id"`
	PerformerID string          `json:"performer_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// StateSnapshotPayload carries a full canonical state and the times the
// sender took cards off the board.
type StateSnapshotPayload struct {
	State   *models.GameState `json:"state"`
	Removed map[string]int64  `json:"removed,omitempty"`
}

// CardMovePayload carries one card placement. Version is the sender's
// canonical version after the move.
type CardMovePayload struct {
	CardID    string        `json:"card_id"`
	FromZone  string        `json:"from_zone,omitempty"`
	ToZone    string        `json:"to_zone"`
	Index     *int          `json:"index,omitempty"`
	Position  *models.Point `json:"position,omitempty"`
	Timestamp int64         `json:"timestamp"`
	Version   int           `json:"version"`
}

// DragPayload names the card a participant picked up or dropped.
type DragPayload struct {
	CardID string `json:"card_id"`
}

// TokenPayload carries a token after it was added or moved.
type TokenPayload struct {
	Token models.GameToken `json:"token"`
}

// TokenRemovedPayload names a removed token.
type TokenRemovedPayload struct {
	TokenID string `json:"token_id"`
}

// StateRequestPayload asks peers for their snapshot when they hold a newer
// version than KnownVersion.
type StateRequestPayload struct {
	KnownVersion int `json:"known_version"`
}

// NewEnvelope wraps payload in an envelope stamped with a fresh id.
func NewEnvelope(t MessageType, roomID, gameplayID, performerID string, now time.Time, payload any) (*Envelope, error) {
	env := &Envelope{
		ID:          uuid.NewString(),
		Type:        t,
		RoomID:      roomID,
		GameplayID:  gameplayID,
		PerformerID: performerID,
		Timestamp:   now,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// ParsePayload decodes env.Data into the payload struct for its type.
// Tokens cleared carries no payload and yields nil.
func ParsePayload(env *Envelope) (any, error) {
	switch env.Type {
	case MessageStateSnapshot:
		return decode[StateSnapshotPayload](env)
	case MessageCardMove:
		return decode[CardMovePayload](env)
	case MessageDragStart, MessageDragEnd:
		return decode[DragPayload](env)
	case MessageTokenAdded, MessageTokenMoved:
		return decode[TokenPayload](env)
	case MessageTokenRemoved:
		return decode[TokenRemovedPayload](env)
	case MessageStateRequest:
		return decode[StateRequestPayload](env)
	case MessageTokensCleared:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", env.Type)
	}
}

func decode[T any](env *Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return payload, nil
}
