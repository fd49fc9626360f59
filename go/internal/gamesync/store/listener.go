package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Notification announces that a newer version of a state was persisted.
type Notification struct {
	RoomID     string `json:"room_id"`
	GameplayID string `json:"gameplay_id"`
	Version    int    `json:"version"`
}

type ListenerConfig struct {
	DatabaseURL   string        `yaml:"-"`
	NotifyChannel string        `yaml:"notify_channel"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	MinReconnect  time.Duration `yaml:"min_reconnect"`
	MaxReconnect  time.Duration `yaml:"max_reconnect"`
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: DefaultNotifyChannel,
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// Listener relays Postgres change notifications to a callback.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig
	handle   func(context.Context, Notification)
}

func NewListener(cfg ListenerConfig, handle func(context.Context, Notification)) (*Listener, error) {
	def := DefaultListenerConfig()
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = def.NotifyChannel
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = def.MinReconnect
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = def.MaxReconnect
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for game state changes")

	return &Listener{listener: l, cfg: cfg, handle: handle}, nil
}

// Start blocks, dispatching notifications until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established
				continue
			}
			n, err := ParseNotification(note.Extra)
			if err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
				continue
			}
			l.handle(ctx, n)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// ParseNotification decodes a NOTIFY payload.
func ParseNotification(extra string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return n, fmt.Errorf("invalid notification payload: %w", err)
	}
	if n.RoomID == "" || n.GameplayID == "" {
		return n, fmt.Errorf("invalid notification payload: missing room or gameplay id")
	}
	return n, nil
}
