package normalizer

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/cardsync/go/internal/models"
)

// LocalState is the denormalized, UI-facing shape of one gameplay. The set of
// implementations is closed to this package.
type LocalState interface {
	GameType() models.GameType
	cardLists() []cardList
}

// cardList is one ordered list of card ids under its UI key, e.g. "likeCards".
type cardList struct {
	key string
	ids []string
}

type PersonalityLocal struct {
	LikeCards    []string `json:"likeCards"`
	NeutralCards []string `json:"neutralCards"`
	DislikeCards []string `json:"dislikeCards"`
}

func (*PersonalityLocal) GameType() models.GameType { return models.GameTypePersonalityAssessment }

func (l *PersonalityLocal) cardLists() []cardList {
	return []cardList{
		{key: "likeCards", ids: l.LikeCards},
		{key: "neutralCards", ids: l.NeutralCards},
		{key: "dislikeCards", ids: l.DislikeCards},
	}
}

type AdvantageLocal struct {
	AdvantageCards    []string `json:"advantageCards"`
	DisadvantageCards []string `json:"disadvantageCards"`
}

func (*AdvantageLocal) GameType() models.GameType { return models.GameTypeAdvantageAnalysis }

func (l *AdvantageLocal) cardLists() []cardList {
	return []cardList{
		{key: "advantageCards", ids: l.AdvantageCards},
		{key: "disadvantageCards", ids: l.DisadvantageCards},
	}
}

type ValueRankingLocal struct {
	GridCards models.Grid `json:"gridCards"`
}

func (*ValueRankingLocal) GameType() models.GameType { return models.GameTypeValueRanking }

func (l *ValueRankingLocal) cardLists() []cardList {
	return []cardList{{key: gridKey, ids: l.GridCards}}
}

// CareerCollectorLocal holds the collected cards. A zero MaxCards means the
// capacity was not supplied.
type CareerCollectorLocal struct {
	CollectedCards []string `json:"collectedCards"`
	MaxCards       int      `json:"maxCards,omitempty"`
}

func (*CareerCollectorLocal) GameType() models.GameType { return models.GameTypeCareerCollector }

func (l *CareerCollectorLocal) cardLists() []cardList {
	return []cardList{{key: "collectedCards", ids: l.CollectedCards}}
}

type GrowthPlanningLocal struct {
	SkillsCards  []string `json:"skillsCards"`
	ActionsCards []string `json:"actionsCards"`
	PlanText     *string  `json:"planText,omitempty"`
}

func (*GrowthPlanningLocal) GameType() models.GameType { return models.GameTypeGrowthPlanning }

func (l *GrowthPlanningLocal) cardLists() []cardList {
	return []cardList{
		{key: "skillsCards", ids: l.SkillsCards},
		{key: "actionsCards", ids: l.ActionsCards},
	}
}

type PositionBreakdownLocal struct {
	PositionCards []string             `json:"positionCards"`
	UploadedFile  *models.UploadedFile `json:"uploadedFile,omitempty"`
}

func (*PositionBreakdownLocal) GameType() models.GameType { return models.GameTypePositionBreakdown }

func (l *PositionBreakdownLocal) cardLists() []cardList {
	return []cardList{{key: "positionCards", ids: l.PositionCards}}
}

// LifeTransformationLocal holds per-area cards and tokens. A zero TotalTokens
// means the budget was not supplied.
type LifeTransformationLocal struct {
	LifeAreas   map[string]models.LifeArea `json:"lifeAreas"`
	TotalTokens int                        `json:"totalTokens,omitempty"`
}

func (*LifeTransformationLocal) GameType() models.GameType {
	return models.GameTypeLifeTransformation
}

func (*LifeTransformationLocal) cardLists() []cardList { return nil }

// NewLocal returns an empty local state for t.
func NewLocal(t models.GameType) (LocalState, error) {
	switch t {
	case models.GameTypePersonalityAssessment:
		return &PersonalityLocal{}, nil
	case models.GameTypeAdvantageAnalysis:
		return &AdvantageLocal{}, nil
	case models.GameTypeValueRanking:
		return &ValueRankingLocal{}, nil
	case models.GameTypeCareerCollector:
		return &CareerCollectorLocal{}, nil
	case models.GameTypeGrowthPlanning:
		return &GrowthPlanningLocal{}, nil
	case models.GameTypePositionBreakdown:
		return &PositionBreakdownLocal{}, nil
	case models.GameTypeLifeTransformation:
		return &LifeTransformationLocal{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGameType, t)
	}
}

// DecodeLocal decodes UI-shaped JSON (likeCards, gridCards, ...) for t.
func DecodeLocal(t models.GameType, data []byte) (LocalState, error) {
	local, err := NewLocal(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, local); err != nil {
		return nil, fmt.Errorf("decode %s local state: %w", t, err)
	}
	return local, nil
}
