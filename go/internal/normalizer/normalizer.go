// Package normalizer converts between per-gameplay local UI state and the
// canonical versioned GameState wire format.
package normalizer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/cardsync/go/internal/models"
)

var (
	ErrUnsupportedGameType = errors.New("unsupported game type")
	ErrGameTypeMismatch    = errors.New("invalid local state: game type mismatch")
	ErrCapacityExceeded    = errors.New("invalid collection: collected cards exceed maxCards")
	ErrTokenBudgetExceeded = errors.New("invalid token allocation: area tokens exceed totalTokens")
	ErrMissingVariant      = errors.New("invalid game state: missing variant")
)

// Normalizer is stateless apart from the clock used to stamp lastUpdated.
type Normalizer struct {
	clock clockwork.Clock
}

// New creates a normalizer reading time from clock.
func New(clock clockwork.Clock) *Normalizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Normalizer{clock: clock}
}

var defaultNormalizer = New(clockwork.NewRealClock())

// ToStorageFormat normalizes with the real clock.
func ToStorageFormat(gameType models.GameType, local LocalState, currentVersion int) (*models.GameState, error) {
	return defaultNormalizer.ToStorageFormat(gameType, local, currentVersion)
}

// FromStorageFormat denormalizes state into its local shape.
func FromStorageFormat(state *models.GameState) (LocalState, error) {
	return defaultNormalizer.FromStorageFormat(state)
}

// ToStorageFormat builds the canonical state for local at currentVersion+1.
func (n *Normalizer) ToStorageFormat(gameType models.GameType, local LocalState, currentVersion int) (*models.GameState, error) {
	if !gameType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGameType, gameType)
	}
	if local == nil || local.GameType() != gameType {
		return nil, fmt.Errorf("%w: want %s", ErrGameTypeMismatch, gameType)
	}

	now := n.clock.Now().UnixMilli()
	variant, err := buildVariant(local)
	if err != nil {
		return nil, err
	}

	return &models.GameState{
		Cards:       ExtractCards(local, now),
		LastUpdated: now,
		GameType:    gameType,
		Version:     currentVersion + 1,
		Variant:     variant,
	}, nil
}

// FromStorageFormat rebuilds the local shape. Envelope fields (version,
// lastUpdated) have no local counterpart and are not restored.
func (n *Normalizer) FromStorageFormat(state *models.GameState) (LocalState, error) {
	if state == nil || state.Variant == nil {
		return nil, ErrMissingVariant
	}
	if state.Variant.GameType() != state.GameType {
		return nil, fmt.Errorf("%w: state %s carries %s variant", ErrGameTypeMismatch, state.GameType, state.Variant.GameType())
	}

	switch v := state.Variant.(type) {
	case *models.PersonalityState:
		return &PersonalityLocal{
			LikeCards:    cloneList(v.Zones.Like),
			NeutralCards: cloneList(v.Zones.Neutral),
			DislikeCards: cloneList(v.Zones.Dislike),
		}, nil
	case *models.AdvantageState:
		return &AdvantageLocal{
			AdvantageCards:    cloneList(v.Zones.Advantage),
			DisadvantageCards: cloneList(v.Zones.Disadvantage),
		}, nil
	case *models.ValueRankingState:
		return &ValueRankingLocal{GridCards: cloneGrid(v.Grid)}, nil
	case *models.CareerCollectorState:
		return &CareerCollectorLocal{
			CollectedCards: cloneList(v.Collected),
			MaxCards:       v.MaxCards,
		}, nil
	case *models.GrowthPlanningState:
		return &GrowthPlanningLocal{
			SkillsCards:  cloneList(v.Zones.Skills),
			ActionsCards: cloneList(v.Zones.Actions),
			PlanText:     cloneText(v.PlanText),
		}, nil
	case *models.PositionBreakdownState:
		return &PositionBreakdownLocal{
			PositionCards: cloneList(v.Position),
			UploadedFile:  cloneFile(v.UploadedFile),
		}, nil
	case *models.LifeTransformationState:
		return &LifeTransformationLocal{
			LifeAreas:   cloneAreas(v.LifeAreas),
			TotalTokens: v.TotalTokens,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGameType, state.GameType)
	}
}

func buildVariant(local LocalState) (models.Variant, error) {
	switch l := local.(type) {
	case *PersonalityLocal:
		return &models.PersonalityState{Zones: models.PersonalityZones{
			Like:    cloneList(l.LikeCards),
			Neutral: cloneList(l.NeutralCards),
			Dislike: cloneList(l.DislikeCards),
		}}, nil

	case *AdvantageLocal:
		return &models.AdvantageState{Zones: models.AdvantageZones{
			Advantage:    cloneList(l.AdvantageCards),
			Disadvantage: cloneList(l.DisadvantageCards),
		}}, nil

	case *ValueRankingLocal:
		grid := cloneGrid(l.GridCards)
		if l.GridCards == nil {
			grid = models.NewGrid(models.GridRows, models.GridColumns)
		}
		return &models.ValueRankingState{Grid: grid}, nil

	case *CareerCollectorLocal:
		maxCards := l.MaxCards
		if maxCards == 0 {
			maxCards = models.DefaultMaxCards
		}
		if len(l.CollectedCards) > maxCards {
			return nil, fmt.Errorf("%w: %d > %d", ErrCapacityExceeded, len(l.CollectedCards), maxCards)
		}
		return &models.CareerCollectorState{Collected: cloneList(l.CollectedCards), MaxCards: maxCards}, nil

	case *GrowthPlanningLocal:
		return &models.GrowthPlanningState{
			Zones: models.GrowthZones{
				Skills:  cloneList(l.SkillsCards),
				Actions: cloneList(l.ActionsCards),
			},
			PlanText: cloneText(l.PlanText),
		}, nil

	case *PositionBreakdownLocal:
		return &models.PositionBreakdownState{
			Position:     cloneList(l.PositionCards),
			UploadedFile: cloneFile(l.UploadedFile),
		}, nil

	case *LifeTransformationLocal:
		total := l.TotalTokens
		if total == 0 {
			total = models.DefaultTotalTokens
		}
		state := &models.LifeTransformationState{LifeAreas: cloneAreas(l.LifeAreas), TotalTokens: total}
		if err := CheckTokenBudget(state); err != nil {
			return nil, err
		}
		return state, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGameType, local)
	}
}

// CheckTokenBudget rejects negative allocations and allocations over budget.
func CheckTokenBudget(state *models.LifeTransformationState) error {
	for key, area := range state.LifeAreas {
		if area.Tokens < 0 {
			return fmt.Errorf("%w: area %q has %d tokens", ErrTokenBudgetExceeded, key, area.Tokens)
		}
	}
	if allocated := state.AllocatedTokens(); allocated > state.TotalTokens {
		return fmt.Errorf("%w: %d > %d", ErrTokenBudgetExceeded, allocated, state.TotalTokens)
	}
	return nil
}

func cloneList(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return slices.Clone(ids)
}

func cloneGrid(g models.Grid) models.Grid {
	if g == nil {
		return nil
	}
	return slices.Clone(g)
}

func cloneText(s *string) *string {
	if s == nil {
		return nil
	}
	text := *s
	return &text
}

func cloneFile(f *models.UploadedFile) *models.UploadedFile {
	if f == nil {
		return nil
	}
	file := *f
	return &file
}

func cloneAreas(areas map[string]models.LifeArea) map[string]models.LifeArea {
	if areas == nil {
		return map[string]models.LifeArea{}
	}
	out := models.CloneLifeAreas(areas)
	for key, area := range out {
		area.Cards = cloneList(area.Cards)
		out[key] = area
	}
	return out
}
