// Package transport carries envelopes between the participants of a room.
package transport

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
)

// EventKind is the lifecycle or data event reported by a transport.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
	EventMessage      EventKind = "message"
)

// Event is delivered on a transport's event channel.
type Event struct {
	Kind     EventKind
	Envelope *Envelope
	Err      error
}

// Transport connects one participant to a room. Implementations never
// deliver a participant's own broadcasts back to it.
type Transport interface {
	Connect(ctx context.Context) error
	Broadcast(ctx context.Context, env *Envelope) error
	Events() <-chan Event
	Close() error
}

const eventBuffer = 256

// emit delivers ev without blocking the network goroutine; a full buffer
// drops the event.
func emit(ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	default:
		log.Warn().Str("event", string(ev.Kind)).Msg("transport event buffer full, dropping event")
	}
}
