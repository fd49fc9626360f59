package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	idx := 2
	env, err := NewEnvelope(MessageCardMove, "room-1", "gp-1", "alice", time.Now(), CardMovePayload{
		CardID: "c1", ToZone: "like", Index: &idx, Timestamp: 42, Version: 3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)

	payload, err := ParsePayload(env)
	require.NoError(t, err)
	move := payload.(CardMovePayload)
	assert.Equal(t, "c1", move.CardID)
	assert.Equal(t, 2, *move.Index)
	assert.Equal(t, 3, move.Version)

	_, err = ParsePayload(&Envelope{Type: "bogus"})
	require.Error(t, err)

	cleared, err := ParsePayload(&Envelope{Type: MessageTokensCleared})
	require.NoError(t, err)
	assert.Nil(t, cleared)
}

func TestSnapshotPayloadCarriesVariant(t *testing.T) {
	state := &models.GameState{
		Cards:    map[string]models.CardPosition{},
		GameType: models.GameTypeCareerCollector,
		Version:  2,
		Variant:  &models.CareerCollectorState{Collected: []string{"k1"}, MaxCards: 15},
	}
	env, err := NewEnvelope(MessageStateSnapshot, "room-1", "gp-1", "alice", time.Now(), StateSnapshotPayload{State: state})
	require.NoError(t, err)

	payload, err := ParsePayload(env)
	require.NoError(t, err)
	got := payload.(StateSnapshotPayload).State
	assert.Equal(t, state.Variant, got.Variant)
	assert.Equal(t, 2, got.Version)
}

func TestLoopbackDeliversToOtherMembersOnly(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	alice := hub.Join("room-1", "alice")
	bob := hub.Join("room-1", "bob")
	eve := hub.Join("room-2", "eve")
	for _, tr := range []*Loopback{alice, bob, eve} {
		require.NoError(t, tr.Connect(ctx))
		assert.Equal(t, EventConnected, nextEvent(t, tr.Events()).Kind)
	}

	env, err := NewEnvelope(MessageDragStart, "room-1", "gp-1", "alice", time.Now(), DragPayload{CardID: "c1"})
	require.NoError(t, err)
	require.NoError(t, alice.Broadcast(ctx, env))

	ev := nextEvent(t, bob.Events())
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, env.ID, ev.Envelope.ID)
	assert.Empty(t, alice.Events())
	assert.Empty(t, eve.Events())
}

func TestLoopbackDropAndReconnect(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	alice := hub.Join("room-1", "alice")
	require.NoError(t, alice.Connect(ctx))
	nextEvent(t, alice.Events())

	alice.Drop(errors.New("network unreachable"))
	ev := nextEvent(t, alice.Events())
	assert.Equal(t, EventDisconnected, ev.Kind)
	require.ErrorIs(t, alice.Broadcast(ctx, &Envelope{Type: MessageDragEnd}), ErrNotConnected)

	alice.FailNextConnects(1)
	require.Error(t, alice.Connect(ctx))
	require.NoError(t, alice.Connect(ctx))
	assert.Equal(t, EventConnected, nextEvent(t, alice.Events()).Kind)

	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())
	require.ErrorIs(t, alice.Connect(ctx), ErrClosed)
}

func TestWebSocketRelaysBetweenParticipants(t *testing.T) {
	relay, srv := newRelay(t)
	ctx := context.Background()

	newClient := func(participant string) *WebSocket {
		cfg := DefaultWebSocketConfig()
		cfg.URL = wsURL(srv)
		cfg.RoomID = "room-1"
		cfg.ParticipantID = participant
		ws := NewWebSocket(cfg)
		t.Cleanup(func() { ws.Close() })
		require.NoError(t, ws.Connect(ctx))
		assert.Equal(t, EventConnected, nextEvent(t, ws.Events()).Kind)
		return ws
	}
	alice := newClient("alice")
	bob := newClient("bob")
	require.Eventually(t, func() bool { return relay.members("room-1") == 2 }, 2*time.Second, 10*time.Millisecond)

	env, err := NewEnvelope(MessageTokenRemoved, "room-1", "gp-1", "alice", time.Now(), TokenRemovedPayload{TokenID: "t1"})
	require.NoError(t, err)
	require.NoError(t, alice.Broadcast(ctx, env))

	ev := nextEvent(t, bob.Events())
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, env.ID, ev.Envelope.ID)

	// The relay echoes to the sender, which filters its own envelopes.
	select {
	case ev := <-alice.Events():
		t.Fatalf("unexpected event for sender: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebSocketReportsDisconnect(t *testing.T) {
	relay, srv := newRelay(t)
	ctx := context.Background()

	cfg := DefaultWebSocketConfig()
	cfg.URL = wsURL(srv)
	cfg.RoomID = "room-9"
	cfg.ParticipantID = "alice"
	ws := NewWebSocket(cfg)
	require.NoError(t, ws.Connect(ctx))
	nextEvent(t, ws.Events())
	require.Eventually(t, func() bool { return relay.members("room-9") == 1 }, 2*time.Second, 10*time.Millisecond)

	relay.kick("room-9")

	ev := nextEvent(t, ws.Events())
	assert.Equal(t, EventDisconnected, ev.Kind)
	require.Error(t, ev.Err)
	require.ErrorIs(t, ws.Broadcast(ctx, &Envelope{Type: MessageDragEnd}), ErrNotConnected)

	require.NoError(t, ws.Connect(ctx))
	assert.Equal(t, EventConnected, nextEvent(t, ws.Events()).Kind)
	require.NoError(t, ws.Close())
}

func TestRoomSubjectSanitizesTokens(t *testing.T) {
	assert.Equal(t, "cardsync.rooms.room_1_a", RoomSubject("cardsync.rooms", "room.1 a"))
}
