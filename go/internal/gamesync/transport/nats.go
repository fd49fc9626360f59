package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS core pub/sub transport.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	RoomID        string        `yaml:"-"`
	ParticipantID string        `yaml:"-"`
	Timeout       time.Duration `yaml:"timeout"`
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "cardsync.rooms",
		Timeout:       5 * time.Second,
	}
}

// NATS publishes envelopes on one subject per room. The client library's own
// reconnect loop is disabled; reconnecting is left to the session's retry
// policy.
type NATS struct {
	cfg    NATSConfig
	events chan Event

	mu     sync.Mutex
	nc     *nats.Conn
	sub    *nats.Subscription
	closed bool
}

func NewNATS(cfg NATSConfig) *NATS {
	def := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &NATS{cfg: cfg, events: make(chan Event, eventBuffer)}
}

// RoomSubject returns the subject envelopes for roomID are published on.
func RoomSubject(prefix, roomID string) string {
	token := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(roomID)
	return prefix + "." + token
}

func (n *NATS) subject() string {
	return RoomSubject(n.cfg.SubjectPrefix, n.cfg.RoomID)
}

func (n *NATS) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.nc != nil && n.nc.IsConnected() {
		return nil
	}

	timeout := n.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	opts := []nats.Option{
		nats.Name("cardsync-" + n.cfg.ParticipantID),
		nats.NoEcho(),
		nats.Timeout(timeout),
		nats.MaxReconnects(0),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Str("room_id", n.cfg.RoomID).Msg("NATS disconnected")
			n.lost(nc, err)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
			n.mu.Lock()
			defer n.mu.Unlock()
			if !n.closed {
				emit(n.events, Event{Kind: EventError, Err: err})
			}
		}),
	}

	nc, err := nats.Connect(n.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := nc.Subscribe(n.subject(), n.handleMsg)
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe %s: %w", n.subject(), err)
	}

	n.nc = nc
	n.sub = sub
	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject", n.subject()).
		Msg("NATS connected")
	emit(n.events, Event{Kind: EventConnected})
	return nil
}

func (n *NATS) handleMsg(msg *nats.Msg) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed envelope")
		return
	}
	if env.PerformerID == n.cfg.ParticipantID {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		emit(n.events, Event{Kind: EventMessage, Envelope: &env})
	}
}

func (n *NATS) lost(nc *nats.Conn, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.nc != nc || n.closed {
		return
	}
	n.nc = nil
	n.sub = nil
	if err == nil {
		err = nats.ErrConnectionClosed
	}
	emit(n.events, Event{Kind: EventDisconnected, Err: fmt.Errorf("NATS connection lost: %w", err)})
}

func (n *NATS) Broadcast(_ context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	n.mu.Lock()
	nc := n.nc
	n.mu.Unlock()
	if nc == nil {
		return fmt.Errorf("broadcast %s: %w", env.Type, ErrNotConnected)
	}
	if err := nc.Publish(n.subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}

func (n *NATS) Events() <-chan Event {
	return n.events
}

func (n *NATS) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	nc := n.nc
	n.nc = nil
	n.sub = nil
	n.mu.Unlock()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}

	n.mu.Lock()
	close(n.events)
	n.mu.Unlock()
	return nil
}
