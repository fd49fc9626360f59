package main

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureNormalizes(t *testing.T) {
	data, err := os.ReadFile("../../assets/game_states.json")
	require.NoError(t, err)
	seeds, err := loadSeeds(data)
	require.NoError(t, err)
	require.Len(t, seeds, len(models.GameTypes()))

	seen := map[models.GameType]bool{}
	for _, s := range seeds {
		r, err := normalize(s)
		require.NoError(t, err, s.GameplayID)
		assert.Equal(t, 1, r.Version)
		seen[s.GameType] = true

		var state models.GameState
		require.NoError(t, json.Unmarshal(r.State, &state))
		assert.Equal(t, s.GameType, state.GameType)
	}
	assert.Len(t, seen, len(models.GameTypes()))
}

func TestNormalizeKeepsUploadedFileColumn(t *testing.T) {
	r, err := normalize(Seed{
		RoomID:     "r1",
		GameplayID: "g1",
		GameType:   models.GameTypePositionBreakdown,
		State:      json.RawMessage(`{"positionCards":["p1"],"uploadedFile":{"name":"cv.pdf","type":"application/pdf","size":10,"url":"https://files.example.test/cv","uploadedAt":1}}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"cv.pdf","type":"application/pdf","size":10,"url":"https://files.example.test/cv","uploadedAt":1}`, string(r.UploadedFile))
}

func TestNormalizeRejectsBadSeeds(t *testing.T) {
	_, err := normalize(Seed{GameType: "card_sorting", State: json.RawMessage(`{}`)})
	require.Error(t, err)

	_, err = normalize(Seed{
		GameType: models.GameTypeCareerCollector,
		State:    json.RawMessage(`{"collectedCards":["a","b"],"maxCards":1}`),
	})
	require.Error(t, err)
}
