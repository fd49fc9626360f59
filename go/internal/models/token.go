package models

// TokenType defines what a token overlay represents.
type TokenType string

const (
	TokenTypeChip   TokenType = "chip"
	TokenTypeMarker TokenType = "marker"
)

// GameToken is an ephemeral overlay drawn above the cards. Tokens are never
// part of the persisted GameState. Markers never carry a value.
type GameToken struct {
	ID       string    `json:"id"`
	Type     TokenType `json:"type"`
	Color    string    `json:"color"`
	Value    *int      `json:"value,omitempty"`
	Position Point     `json:"position"`
	ZIndex   int       `json:"zIndex"`
}
