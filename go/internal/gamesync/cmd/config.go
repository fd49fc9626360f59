package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/cardsync/go/internal/gamesync"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/rs/zerolog"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// applyEnv lets the environment override the config file. A participant id
// is generated when neither supplies one.
func applyEnv(cfg *gamesync.Config) {
	s := &cfg.Session
	s.RoomID = getEnv("ROOM_ID", s.RoomID)
	s.GameplayID = getEnv("GAMEPLAY_ID", s.GameplayID)
	s.GameType = models.GameType(getEnv("GAME_TYPE", string(s.GameType)))
	s.ParticipantID = getEnv("PARTICIPANT_ID", s.ParticipantID)
	if s.ParticipantID == "" {
		s.ParticipantID = uuid.New().String()
	}
	s.IsRoomOwner = getEnvAsBool("ROOM_OWNER", s.IsRoomOwner)

	cfg.Transport.Kind = getEnv("TRANSPORT", cfg.Transport.Kind)
	cfg.Transport.WebSocket.URL = getEnv("WS_URL", cfg.Transport.WebSocket.URL)
	cfg.Transport.WebSocket.AuthToken = getEnv("WS_TOKEN", cfg.Transport.WebSocket.AuthToken)
	cfg.Transport.NATS.URL = getEnv("NATS_URL", cfg.Transport.NATS.URL)

	cfg.Store.Kind = getEnv("STORE", cfg.Store.Kind)
	cfg.Store.APIURL = getEnv("API_URL", cfg.Store.APIURL)
	cfg.Store.APIToken = getEnv("API_TOKEN", cfg.Store.APIToken)
	cfg.Store.KV.URL = getEnv("NATS_URL", cfg.Store.KV.URL)
	cfg.Store.SharedRetryCounters = getEnvAsBool("SHARED_RETRY_COUNTERS", cfg.Store.SharedRetryCounters)

	cfg.Upload.URL = getEnv("UPLOAD_URL", cfg.Upload.URL)
	cfg.Diagnostics.Addr = getEnv("DIAGNOSTICS_ADDR", cfg.Diagnostics.Addr)
}

func logLevel(value string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
