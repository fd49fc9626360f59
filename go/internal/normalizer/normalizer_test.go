package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer() (*Normalizer, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	return New(clock), clock
}

func TestPersonalityRoundTrip(t *testing.T) {
	n, clock := newTestNormalizer()
	local := &PersonalityLocal{
		LikeCards:    []string{"c1", "c2"},
		NeutralCards: []string{},
		DislikeCards: []string{"c3"},
	}

	state, err := n.ToStorageFormat(models.GameTypePersonalityAssessment, local, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, state.Version)
	assert.Equal(t, clock.Now().UnixMilli(), state.LastUpdated)
	assert.Equal(t, &models.PersonalityState{Zones: models.PersonalityZones{
		Like:    []string{"c1", "c2"},
		Neutral: []string{},
		Dislike: []string{"c3"},
	}}, state.Variant)

	require.Len(t, state.Cards, 3)
	assert.Equal(t, "like", state.Cards["c2"].Zone)
	assert.Equal(t, 1, *state.Cards["c2"].Index)
	assert.Equal(t, "dislike", state.Cards["c3"].Zone)

	back, err := n.FromStorageFormat(state)
	require.NoError(t, err)
	assert.Equal(t, local, back)
}

func TestValueGridExtraction(t *testing.T) {
	n, clock := newTestNormalizer()
	grid := models.NewGrid(3, 3)
	grid[4] = "v1"

	state, err := n.ToStorageFormat(models.GameTypeValueRanking, &ValueRankingLocal{GridCards: grid}, 3)
	require.NoError(t, err)

	require.Len(t, state.Cards, 1)
	pos := state.Cards["v1"]
	assert.Equal(t, "grid", pos.Zone)
	assert.Equal(t, 4, *pos.Index)
	assert.Equal(t, &models.Point{X: 1, Y: 1}, pos.Position)
	assert.Equal(t, clock.Now().UnixMilli(), pos.TouchedAt())
	assert.Equal(t, 4, state.Version)
}

func TestValueGridDefaultsToThreeByThree(t *testing.T) {
	n, _ := newTestNormalizer()

	state, err := n.ToStorageFormat(models.GameTypeValueRanking, &ValueRankingLocal{}, 0)
	require.NoError(t, err)

	grid := state.Variant.(*models.ValueRankingState).Grid
	assert.Len(t, grid, 9)
	assert.Empty(t, state.Cards)
}

func TestCareerCollectorDefaultsAndCapacity(t *testing.T) {
	n, _ := newTestNormalizer()

	state, err := n.ToStorageFormat(models.GameTypeCareerCollector, &CareerCollectorLocal{CollectedCards: []string{"a"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMaxCards, state.Variant.(*models.CareerCollectorState).MaxCards)
	assert.Equal(t, "collected", state.Cards["a"].Zone)

	_, err = n.ToStorageFormat(models.GameTypeCareerCollector, &CareerCollectorLocal{
		CollectedCards: []string{"a", "b", "c"},
		MaxCards:       2,
	}, 0)
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestLifeTransformationBudget(t *testing.T) {
	n, _ := newTestNormalizer()

	state, err := n.ToStorageFormat(models.GameTypeLifeTransformation, &LifeTransformationLocal{
		LifeAreas: map[string]models.LifeArea{
			"career": {Cards: []string{"x"}, Tokens: 60},
			"health": {Cards: []string{}, Tokens: 40},
		},
	}, 0)
	require.NoError(t, err)
	life := state.Variant.(*models.LifeTransformationState)
	assert.Equal(t, models.DefaultTotalTokens, life.TotalTokens)
	assert.Equal(t, 100, life.AllocatedTokens())

	_, err = n.ToStorageFormat(models.GameTypeLifeTransformation, &LifeTransformationLocal{
		LifeAreas:   map[string]models.LifeArea{"career": {Tokens: 11}},
		TotalTokens: 10,
	}, 0)
	require.ErrorIs(t, err, ErrTokenBudgetExceeded)
}

func TestOptionalFieldsPreserved(t *testing.T) {
	n, _ := newTestNormalizer()
	plan := "shadow a senior analyst"

	state, err := n.ToStorageFormat(models.GameTypeGrowthPlanning, &GrowthPlanningLocal{
		SkillsCards:  []string{"s1"},
		ActionsCards: []string{"a1"},
		PlanText:     &plan,
	}, 0)
	require.NoError(t, err)
	back, err := n.FromStorageFormat(state)
	require.NoError(t, err)
	require.NotNil(t, back.(*GrowthPlanningLocal).PlanText)
	assert.Equal(t, plan, *back.(*GrowthPlanningLocal).PlanText)

	state, err = n.ToStorageFormat(models.GameTypeGrowthPlanning, &GrowthPlanningLocal{}, 0)
	require.NoError(t, err)
	back, err = n.FromStorageFormat(state)
	require.NoError(t, err)
	assert.Nil(t, back.(*GrowthPlanningLocal).PlanText)
}

func TestUnsupportedGameType(t *testing.T) {
	n, _ := newTestNormalizer()

	_, err := n.ToStorageFormat("card_sorting", &PersonalityLocal{}, 0)
	require.ErrorIs(t, err, ErrUnsupportedGameType)

	_, err = n.ToStorageFormat(models.GameTypeValueRanking, &PersonalityLocal{}, 0)
	require.ErrorIs(t, err, ErrGameTypeMismatch)

	_, err = NewLocal("card_sorting")
	require.ErrorIs(t, err, ErrUnsupportedGameType)
}

func TestEveryGameTypeIsDispatched(t *testing.T) {
	n, _ := newTestNormalizer()

	for _, gameType := range models.GameTypes() {
		t.Run(string(gameType), func(t *testing.T) {
			local, err := NewLocal(gameType)
			require.NoError(t, err)

			state, err := n.ToStorageFormat(gameType, local, 0)
			require.NoError(t, err)
			assert.Equal(t, gameType, state.Variant.GameType())

			back, err := n.FromStorageFormat(state)
			require.NoError(t, err)
			assert.Equal(t, gameType, back.GameType())
		})
	}
}

func TestWireJSONFlattensVariant(t *testing.T) {
	n, _ := newTestNormalizer()
	grid := models.NewGrid(3, 3)
	grid[0] = "v9"

	state, err := n.ToStorageFormat(models.GameTypeValueRanking, &ValueRankingLocal{GridCards: grid}, 7)
	require.NoError(t, err)

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "value_ranking", raw["gameType"])
	assert.EqualValues(t, 8, raw["version"])
	assert.Equal(t, []any{"v9", nil, nil, nil, nil, nil, nil, nil, nil}, raw["grid"])

	var decoded models.GameState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, state.Variant, decoded.Variant)
	assert.Equal(t, state.Version, decoded.Version)
}

func TestDecodeLocalUsesUIKeys(t *testing.T) {
	local, err := DecodeLocal(models.GameTypeCareerCollector, []byte(`{"collectedCards":["k1","k2"],"maxCards":4}`))
	require.NoError(t, err)
	assert.Equal(t, &CareerCollectorLocal{CollectedCards: []string{"k1", "k2"}, MaxCards: 4}, local)
}

func TestMergeOverlaysSuppliedFields(t *testing.T) {
	plan := "draft"
	base := &GrowthPlanningLocal{SkillsCards: []string{"s1"}, ActionsCards: []string{"a1"}, PlanText: &plan}
	updated := "final"

	merged, err := Merge(base, &GrowthPlanningLocal{ActionsCards: []string{"a2"}, PlanText: &updated})
	require.NoError(t, err)

	got := merged.(*GrowthPlanningLocal)
	assert.Equal(t, []string{"s1"}, got.SkillsCards)
	assert.Equal(t, []string{"a2"}, got.ActionsCards)
	assert.Equal(t, "final", *got.PlanText)

	_, err = Merge(base, &PersonalityLocal{})
	require.ErrorIs(t, err, ErrGameTypeMismatch)
}

func TestMergeLifeAreasPerKey(t *testing.T) {
	base := &LifeTransformationLocal{
		LifeAreas:   map[string]models.LifeArea{"career": {Tokens: 10}, "family": {Tokens: 5}},
		TotalTokens: 50,
	}

	merged, err := Merge(base, &LifeTransformationLocal{LifeAreas: map[string]models.LifeArea{"family": {Tokens: 20}}})
	require.NoError(t, err)

	got := merged.(*LifeTransformationLocal)
	assert.Equal(t, 10, got.LifeAreas["career"].Tokens)
	assert.Equal(t, 20, got.LifeAreas["family"].Tokens)
	assert.Equal(t, 50, got.TotalTokens)
	assert.Equal(t, 5, base.LifeAreas["family"].Tokens)
}
