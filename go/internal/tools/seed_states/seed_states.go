package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/cardsync/go/internal/dbconfig"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/normalizer"
)

// Seed is one gameplay in the UI shape the counseling screens save.
type Seed struct {
	RoomID     string          `json:"room_id"`
	GameplayID string          `json:"gameplay_id"`
	GameType   models.GameType `json:"game_type"`
	State      json.RawMessage `json:"state"`
}

// row is a normalized seed ready for insertion.
type row struct {
	RoomID       string
	GameplayID   string
	GameType     string
	Version      int
	State        []byte
	UploadedFile []byte
}

func loadSeeds(data []byte) ([]Seed, error) {
	var seeds []Seed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("unmarshal seeds: %w", err)
	}
	return seeds, nil
}

// normalize converts a seed to the canonical wire format at version 1.
func normalize(s Seed) (row, error) {
	local, err := normalizer.DecodeLocal(s.GameType, s.State)
	if err != nil {
		return row{}, err
	}
	state, err := normalizer.ToStorageFormat(s.GameType, local, 0)
	if err != nil {
		return row{}, fmt.Errorf("normalize %s/%s: %w", s.RoomID, s.GameplayID, err)
	}
	doc, err := json.Marshal(state)
	if err != nil {
		return row{}, fmt.Errorf("marshal %s/%s: %w", s.RoomID, s.GameplayID, err)
	}

	r := row{
		RoomID:     s.RoomID,
		GameplayID: s.GameplayID,
		GameType:   string(state.GameType),
		Version:    state.Version,
		State:      doc,
	}
	if pb, ok := state.Variant.(*models.PositionBreakdownState); ok && pb.UploadedFile != nil {
		if r.UploadedFile, err = json.Marshal(pb.UploadedFile); err != nil {
			return row{}, fmt.Errorf("marshal uploaded file: %w", err)
		}
	}
	return r, nil
}

func main() {
	ctx := context.Background()

	// 1) Load the fixture
	path := "go/internal/assets/game_states.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	seeds, err := loadSeeds(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Normalize, insert and count
	var (
		total    = len(seeds)
		inserted int
		skipped  int
		errs     int
	)

	for _, s := range seeds {
		r, err := normalize(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error normalizing %s/%s: %v\n", s.RoomID, s.GameplayID, err)
			errs++
			continue
		}

		var uploaded any
		if r.UploadedFile != nil {
			uploaded = r.UploadedFile
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO game_states (
              room_id, gameplay_id, game_type, version, state, uploaded_file, updated_at
            ) VALUES (
              $1,$2,$3,$4,$5,$6,NOW()
            )
            ON CONFLICT (room_id, gameplay_id) DO NOTHING
        `,
			r.RoomID, r.GameplayID, r.GameType, r.Version, r.State, uploaded,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting %s/%s: %v\n", r.RoomID, r.GameplayID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Game states seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
