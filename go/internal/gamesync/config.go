package gamesync

import (
	"fmt"
	"os"
	"time"

	"github.com/mcdev12/cardsync/go/internal/gamesync/store"
	"github.com/mcdev12/cardsync/go/internal/gamesync/transport"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/retry"
	"github.com/mcdev12/cardsync/go/internal/syncerr"
	"gopkg.in/yaml.v3"
)

// SessionConfig identifies the gameplay a session owns and tunes its local
// pacing.
type SessionConfig struct {
	RoomID        string          `yaml:"room_id"`
	GameplayID    string          `yaml:"gameplay_id"`
	GameType      models.GameType `yaml:"game_type"`
	ParticipantID string          `yaml:"participant_id"`
	IsRoomOwner   bool            `yaml:"room_owner"`

	MoveThrottle    time.Duration `yaml:"move_throttle"`
	PersistDebounce time.Duration `yaml:"persist_debounce"`

	Reconnect retry.Config          `yaml:"reconnect"`
	Errors    syncerr.HandlerConfig `yaml:"errors"`
}

type TransportConfig struct {
	Kind      string                    `yaml:"kind"`
	WebSocket transport.WebSocketConfig `yaml:"websocket"`
	NATS      transport.NATSConfig      `yaml:"nats"`
}

type StoreConfig struct {
	Kind                string               `yaml:"kind"`
	APIURL              string               `yaml:"api_url"`
	APIToken            string               `yaml:"-"`
	KV                  store.KVConfig       `yaml:"kv"`
	Listener            store.ListenerConfig `yaml:"listener"`
	SharedRetryCounters bool                 `yaml:"shared_retry_counters"`
}

type UploadConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type DiagnosticsConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Config is the agent configuration file.
type Config struct {
	Session     SessionConfig     `yaml:"session"`
	Transport   TransportConfig   `yaml:"transport"`
	Store       StoreConfig       `yaml:"store"`
	Upload      UploadConfig      `yaml:"upload"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"

	StorePostgres = "postgres"
	StoreKV       = "kv"
	StoreREST     = "rest"
	StoreMemory   = "memory"
)

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MoveThrottle:    100 * time.Millisecond,
		PersistDebounce: 500 * time.Millisecond,
		Reconnect:       retry.DefaultConfig(),
		Errors:          syncerr.DefaultHandlerConfig(),
	}
}

func DefaultConfig() Config {
	return Config{
		Session: DefaultSessionConfig(),
		Transport: TransportConfig{
			Kind:      TransportWebSocket,
			WebSocket: transport.DefaultWebSocketConfig(),
			NATS:      transport.DefaultNATSConfig(),
		},
		Store: StoreConfig{
			Kind:     StorePostgres,
			KV:       store.DefaultKVConfig(),
			Listener: store.DefaultListenerConfig(),
		},
		Upload: UploadConfig{
			Timeout: 60 * time.Second,
		},
		Diagnostics: DiagnosticsConfig{
			Addr:           ":9090",
			AllowedOrigins: []string{"*"},
		},
	}
}

// LoadConfig reads path over the defaults. A missing file yields the
// defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the identifiers every session needs.
func (c SessionConfig) Validate() error {
	switch {
	case c.RoomID == "":
		return fmt.Errorf("invalid session config: room_id is required")
	case c.GameplayID == "":
		return fmt.Errorf("invalid session config: gameplay_id is required")
	case c.ParticipantID == "":
		return fmt.Errorf("invalid session config: participant_id is required")
	case !c.GameType.Valid():
		return fmt.Errorf("invalid session config: unsupported game type %q", c.GameType)
	}
	return nil
}
