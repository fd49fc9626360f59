package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Hub is an in-process room relay. Transports joined to the same room see
// each other's broadcasts.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Loopback]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Loopback]bool)}
}

// Join returns a disconnected transport for participantID in roomID.
func (h *Hub) Join(roomID, participantID string) *Loopback {
	return &Loopback{
		hub:         h,
		roomID:      roomID,
		participant: participantID,
		events:      make(chan Event, eventBuffer),
	}
}

func (h *Hub) register(l *Loopback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[l.roomID] == nil {
		h.rooms[l.roomID] = make(map[*Loopback]bool)
	}
	h.rooms[l.roomID][l] = true
}

func (h *Hub) unregister(l *Loopback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[l.roomID]; ok {
		delete(members, l)
		if len(members) == 0 {
			delete(h.rooms, l.roomID)
		}
	}
}

func (h *Hub) deliver(from *Loopback, env *Envelope) {
	h.mu.Lock()
	var targets []*Loopback
	for member := range h.rooms[from.roomID] {
		if member != from {
			targets = append(targets, member)
		}
	}
	h.mu.Unlock()

	for _, member := range targets {
		member.push(Event{Kind: EventMessage, Envelope: env})
	}
}

// Loopback is a Transport attached to a Hub.
type Loopback struct {
	hub         *Hub
	roomID      string
	participant string
	events      chan Event

	mu           sync.Mutex
	connected    bool
	closed       bool
	failConnects int
}

func (l *Loopback) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.failConnects > 0 {
		l.failConnects--
		return errors.New("connection refused")
	}
	if l.connected {
		return nil
	}
	l.connected = true
	l.hub.register(l)
	emit(l.events, Event{Kind: EventConnected})
	return nil
}

func (l *Loopback) Broadcast(_ context.Context, env *Envelope) error {
	l.mu.Lock()
	connected := l.connected
	l.mu.Unlock()

	if !connected {
		return fmt.Errorf("broadcast %s: %w", env.Type, ErrNotConnected)
	}
	l.hub.deliver(l, env)
	return nil
}

func (l *Loopback) Events() <-chan Event {
	return l.events
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.connected = false
	l.hub.unregister(l)
	close(l.events)
	return nil
}

func (l *Loopback) push(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	emit(l.events, ev)
}

// Drop simulates a lost connection: the transport leaves the room and
// reports a disconnect.
func (l *Loopback) Drop(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return
	}
	l.connected = false
	l.hub.unregister(l)
	emit(l.events, Event{Kind: EventDisconnected, Err: err})
}

// FailNextConnects makes the next n Connect calls fail.
func (l *Loopback) FailNextConnects(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failConnects = n
}

// Connected reports whether the transport is currently in its room.
func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}
