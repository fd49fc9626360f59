package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mcdev12/cardsync/go/internal/gamesync/store/db"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

// DefaultNotifyChannel is the LISTEN/NOTIFY channel for persisted versions.
const DefaultNotifyChannel = "game_state_changes"

// Postgres persists states in the game_states table. Upserts merge the JSONB
// document key by key and only apply when they carry a newer version.
type Postgres struct {
	db            *sql.DB
	queries       *db.Queries
	notifyChannel string
}

func NewPostgres(conn *sql.DB, notifyChannel string) *Postgres {
	if notifyChannel == "" {
		notifyChannel = DefaultNotifyChannel
	}
	return &Postgres{db: conn, queries: db.New(conn), notifyChannel: notifyChannel}
}

// OpenPostgres opens a lib/pq connection pool and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return conn, nil
}

func (p *Postgres) Get(ctx context.Context, roomID, gameplayID string) (*models.GameState, error) {
	key := Key{RoomID: roomID, GameplayID: gameplayID}
	row, err := p.queries.GetGameState(ctx, db.GetGameStateParams{RoomID: roomID, GameplayID: gameplayID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, mapPQError(err))
	}
	return fromRow(row)
}

func (p *Postgres) Upsert(ctx context.Context, roomID, gameplayID string, state *models.GameState) error {
	if err := validate(state); err != nil {
		return err
	}
	key := Key{RoomID: roomID, GameplayID: gameplayID}

	params, err := toParams(key, state)
	if err != nil {
		return err
	}

	err = sqlutil.Run(ctx, p.db, nil, p.queries.WithTx, func(q *db.Queries) error {
		affected, err := q.UpsertGameState(ctx, params)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", key, mapPQError(err))
		}
		if affected == 0 {
			current, getErr := q.GetGameState(ctx, db.GetGameStateParams{RoomID: roomID, GameplayID: gameplayID})
			if getErr != nil {
				return conflictError(key, -1, state.Version)
			}
			return conflictError(key, int(current.Version), state.Version)
		}

		payload, err := json.Marshal(Notification{RoomID: roomID, GameplayID: gameplayID, Version: state.Version})
		if err != nil {
			return err
		}
		return q.NotifyGameStateChange(ctx, db.NotifyGameStateChangeParams{Channel: p.notifyChannel, Payload: string(payload)})
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("room_id", roomID).
		Str("gameplay_id", gameplayID).
		Int("version", state.Version).
		Msg("persisted game state")
	return nil
}

// ListRoom returns every gameplay state persisted for roomID.
func (p *Postgres) ListRoom(ctx context.Context, roomID string) ([]*models.GameState, error) {
	rows, err := p.queries.ListGameStatesByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", roomID, mapPQError(err))
	}
	out := make([]*models.GameState, 0, len(rows))
	for _, row := range rows {
		state, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

func toParams(key Key, state *models.GameState) (db.UpsertGameStateParams, error) {
	doc, err := json.Marshal(state)
	if err != nil {
		return db.UpsertGameStateParams{}, fmt.Errorf("marshal %s: %w", key, err)
	}
	params := db.UpsertGameStateParams{
		RoomID:     key.RoomID,
		GameplayID: key.GameplayID,
		GameType:   string(state.GameType),
		Version:    int32(state.Version),
		State:      sqlutil.ToNullRawMessage(doc),
	}
	if pb, ok := state.Variant.(*models.PositionBreakdownState); ok && pb.UploadedFile != nil {
		file, err := json.Marshal(pb.UploadedFile)
		if err != nil {
			return db.UpsertGameStateParams{}, fmt.Errorf("marshal uploaded file: %w", err)
		}
		params.UploadedFile = sqlutil.ToNullRawMessage(file)
	}
	return params, nil
}

func fromRow(row db.GameState) (*models.GameState, error) {
	key := Key{RoomID: row.RoomID, GameplayID: row.GameplayID}
	doc := sqlutil.FromNullRawMessage(row.State)
	if doc == nil {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	var state models.GameState
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	state.Version = int(row.Version)
	return &state, nil
}

// mapPQError rewrites Postgres privilege failures so they classify as
// permission errors.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42501" {
		return fmt.Errorf("permission denied: %w", err)
	}
	return err
}
