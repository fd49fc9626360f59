package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Default board dimensions and budgets.
const (
	GridColumns        = 3
	GridRows           = 3
	DefaultMaxCards    = 15
	DefaultTotalTokens = 100
)

// PersonalityZones are three disjoint ordered card lists.
type PersonalityZones struct {
	Like    []string `json:"like"`
	Neutral []string `json:"neutral"`
	Dislike []string `json:"dislike"`
}

// PersonalityState is the personality assessment variant.
type PersonalityState struct {
	Zones PersonalityZones `json:"zones"`
}

func (*PersonalityState) GameType() GameType { return GameTypePersonalityAssessment }
func (*PersonalityState) isVariant()         {}

// AdvantageZones split cards into strengths and weaknesses.
type AdvantageZones struct {
	Advantage    []string `json:"advantage"`
	Disadvantage []string `json:"disadvantage"`
}

// AdvantageState is the advantage/disadvantage analysis variant.
type AdvantageState struct {
	Zones AdvantageZones `json:"zones"`
}

func (*AdvantageState) GameType() GameType { return GameTypeAdvantageAnalysis }
func (*AdvantageState) isVariant()         {}

// Grid is a fixed-length row-major card grid. Empty slots are "" in Go and
// null on the wire.
type Grid []string

// NewGrid returns an empty rows*cols grid.
func NewGrid(rows, cols int) Grid {
	return make(Grid, rows*cols)
}

func (g Grid) MarshalJSON() ([]byte, error) {
	slots := make([]*string, len(g))
	for i := range g {
		if g[i] != "" {
			slots[i] = &g[i]
		}
	}
	return json.Marshal(slots)
}

func (g *Grid) UnmarshalJSON(data []byte) error {
	var slots []*string
	if err := json.Unmarshal(data, &slots); err != nil {
		return err
	}
	if slots == nil {
		*g = nil
		return nil
	}
	out := make(Grid, len(slots))
	for i, s := range slots {
		if s != nil {
			out[i] = *s
		}
	}
	*g = out
	return nil
}

// ValueRankingState is the value ranking variant.
type ValueRankingState struct {
	Grid Grid `json:"grid"`
}

func (*ValueRankingState) GameType() GameType { return GameTypeValueRanking }
func (*ValueRankingState) isVariant()         {}

// CareerCollectorState is the career collector variant. len(Collected) never
// exceeds MaxCards.
type CareerCollectorState struct {
	Collected []string `json:"collected"`
	MaxCards  int      `json:"maxCards"`
}

func (*CareerCollectorState) GameType() GameType { return GameTypeCareerCollector }
func (*CareerCollectorState) isVariant()         {}

// GrowthZones pair skills with the actions that grow them.
type GrowthZones struct {
	Skills  []string `json:"skills"`
	Actions []string `json:"actions"`
}

// GrowthPlanningState is the growth planning variant.
type GrowthPlanningState struct {
	Zones    GrowthZones `json:"zones"`
	PlanText *string     `json:"planText,omitempty"`
}

func (*GrowthPlanningState) GameType() GameType { return GameTypeGrowthPlanning }
func (*GrowthPlanningState) isVariant()         {}

// PositionBreakdownState is the position breakdown variant.
type PositionBreakdownState struct {
	Position     []string      `json:"position"`
	UploadedFile *UploadedFile `json:"uploadedFile,omitempty"`
}

func (*PositionBreakdownState) GameType() GameType { return GameTypePositionBreakdown }
func (*PositionBreakdownState) isVariant()         {}

// LifeTransformationState is the life transformation variant. The sum of
// area tokens never exceeds TotalTokens.
type LifeTransformationState struct {
	LifeAreas   map[string]LifeArea `json:"lifeAreas"`
	TotalTokens int                 `json:"totalTokens"`
}

func (*LifeTransformationState) GameType() GameType { return GameTypeLifeTransformation }
func (*LifeTransformationState) isVariant()         {}

// AllocatedTokens sums the tokens placed across every area.
func (s *LifeTransformationState) AllocatedTokens() int {
	total := 0
	for _, area := range s.LifeAreas {
		total += area.Tokens
	}
	return total
}

// NewVariant returns an empty variant for t.
func NewVariant(t GameType) (Variant, error) {
	switch t {
	case GameTypePersonalityAssessment:
		return &PersonalityState{}, nil
	case GameTypeAdvantageAnalysis:
		return &AdvantageState{}, nil
	case GameTypeValueRanking:
		return &ValueRankingState{}, nil
	case GameTypeCareerCollector:
		return &CareerCollectorState{}, nil
	case GameTypeGrowthPlanning:
		return &GrowthPlanningState{}, nil
	case GameTypePositionBreakdown:
		return &PositionBreakdownState{}, nil
	case GameTypeLifeTransformation:
		return &LifeTransformationState{}, nil
	default:
		return nil, fmt.Errorf("unsupported game type: %q", t)
	}
}

// CloneVariant deep-copies a variant.
func CloneVariant(v Variant) Variant {
	switch s := v.(type) {
	case *PersonalityState:
		return &PersonalityState{Zones: PersonalityZones{
			Like:    slices.Clone(s.Zones.Like),
			Neutral: slices.Clone(s.Zones.Neutral),
			Dislike: slices.Clone(s.Zones.Dislike),
		}}
	case *AdvantageState:
		return &AdvantageState{Zones: AdvantageZones{
			Advantage:    slices.Clone(s.Zones.Advantage),
			Disadvantage: slices.Clone(s.Zones.Disadvantage),
		}}
	case *ValueRankingState:
		return &ValueRankingState{Grid: slices.Clone(s.Grid)}
	case *CareerCollectorState:
		return &CareerCollectorState{Collected: slices.Clone(s.Collected), MaxCards: s.MaxCards}
	case *GrowthPlanningState:
		out := &GrowthPlanningState{Zones: GrowthZones{
			Skills:  slices.Clone(s.Zones.Skills),
			Actions: slices.Clone(s.Zones.Actions),
		}}
		if s.PlanText != nil {
			text := *s.PlanText
			out.PlanText = &text
		}
		return out
	case *PositionBreakdownState:
		out := &PositionBreakdownState{Position: slices.Clone(s.Position)}
		if s.UploadedFile != nil {
			file := *s.UploadedFile
			out.UploadedFile = &file
		}
		return out
	case *LifeTransformationState:
		return &LifeTransformationState{LifeAreas: CloneLifeAreas(s.LifeAreas), TotalTokens: s.TotalTokens}
	default:
		return nil
	}
}

// CloneLifeAreas deep-copies a life area map, preserving nil.
func CloneLifeAreas(areas map[string]LifeArea) map[string]LifeArea {
	if areas == nil {
		return nil
	}
	out := maps.Clone(areas)
	for key, area := range out {
		area.Cards = slices.Clone(area.Cards)
		out[key] = area
	}
	return out
}
