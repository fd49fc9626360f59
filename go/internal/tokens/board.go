// Package tokens manages the ephemeral chip and marker overlay of a board.
package tokens

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/cardsync/go/internal/models"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidTokenType = errors.New("invalid token type")
)

// Bounds is the inclusive rectangle new tokens are dropped into.
type Bounds struct {
	Min models.Point
	Max models.Point
}

// DefaultBounds drops new tokens somewhere in a 200x200 square near the
// top-left of the board.
func DefaultBounds() Bounds {
	return Bounds{Min: models.Point{X: 100, Y: 100}, Max: models.Point{X: 300, Y: 300}}
}

// Board holds the tokens of one session. It is safe for concurrent use.
type Board struct {
	bounds Bounds
	random func() float64
	newID  func() string

	mu     sync.Mutex
	tokens map[string]models.GameToken
	nextZ  int
}

// Option configures a Board.
type Option func(*Board)

func WithBounds(b Bounds) Option {
	return func(board *Board) { board.bounds = b }
}

// WithRandom sets the uniform [0,1) source for initial positions.
func WithRandom(random func() float64) Option {
	return func(board *Board) { board.random = random }
}

func WithIDGenerator(newID func() string) Option {
	return func(board *Board) { board.newID = newID }
}

func NewBoard(opts ...Option) *Board {
	b := &Board{
		bounds: DefaultBounds(),
		random: rand.Float64,
		newID:  func() string { return uuid.NewString() },
		tokens: make(map[string]models.GameToken),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add creates a token at a random position on top of every other token.
// A marker's value is always dropped.
func (b *Board) Add(tokenType models.TokenType, color string, value *int) (models.GameToken, error) {
	if tokenType != models.TokenTypeChip && tokenType != models.TokenTypeMarker {
		return models.GameToken{}, fmt.Errorf("%w: %q", ErrInvalidTokenType, tokenType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextZ++
	token := models.GameToken{
		ID:       b.newID(),
		Type:     tokenType,
		Color:    color,
		Position: b.randomPosition(),
		ZIndex:   b.nextZ,
	}
	if tokenType == models.TokenTypeChip && value != nil {
		v := *value
		token.Value = &v
	}
	b.tokens[token.ID] = token
	return token, nil
}

// Put inserts or replaces a token received from a peer.
func (b *Board) Put(token models.GameToken) error {
	if token.Type != models.TokenTypeChip && token.Type != models.TokenTypeMarker {
		return fmt.Errorf("%w: %q", ErrInvalidTokenType, token.Type)
	}
	if token.Type == models.TokenTypeMarker {
		token.Value = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token.ID] = token
	b.nextZ = max(b.nextZ, token.ZIndex)
	return nil
}

// Move updates a token's position.
func (b *Board) Move(id string, pos models.Point) (models.GameToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	token, ok := b.tokens[id]
	if !ok {
		return models.GameToken{}, fmt.Errorf("%w: %s", ErrTokenNotFound, id)
	}
	token.Position = pos
	b.tokens[id] = token
	return token, nil
}

// Remove deletes a token and reports whether it existed.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.tokens[id]
	delete(b.tokens, id)
	return ok
}

// Clear removes every token.
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.tokens)
	b.nextZ = 0
}

// Get returns one token.
func (b *Board) Get(id string) (models.GameToken, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	token, ok := b.tokens[id]
	return token, ok
}

// Tokens returns every token ordered bottom to top.
func (b *Board) Tokens() []models.GameToken {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.GameToken, 0, len(b.tokens))
	for _, token := range b.tokens {
		out = append(out, token)
	}
	slices.SortFunc(out, func(a, c models.GameToken) int { return a.ZIndex - c.ZIndex })
	return out
}

func (b *Board) randomPosition() models.Point {
	width := b.bounds.Max.X - b.bounds.Min.X
	height := b.bounds.Max.Y - b.bounds.Min.Y
	return models.Point{
		X: b.bounds.Min.X + int(b.random()*float64(width+1)),
		Y: b.bounds.Min.Y + int(b.random()*float64(height+1)),
	}
}
