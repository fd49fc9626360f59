package normalizer

import (
	"fmt"
	"maps"
)

// Merge overlays patch onto base and returns a new local state. Nil slices,
// nil pointers and zero numbers in patch mean "not supplied" and keep the base
// value; life areas merge per key.
func Merge(base, patch LocalState) (LocalState, error) {
	if patch == nil {
		return base, nil
	}
	if base == nil || base.GameType() != patch.GameType() {
		return nil, fmt.Errorf("%w: cannot merge %s into %v", ErrGameTypeMismatch, patch.GameType(), typeOf(base))
	}

	switch b := base.(type) {
	case *PersonalityLocal:
		p := patch.(*PersonalityLocal)
		return &PersonalityLocal{
			LikeCards:    pick(p.LikeCards, b.LikeCards),
			NeutralCards: pick(p.NeutralCards, b.NeutralCards),
			DislikeCards: pick(p.DislikeCards, b.DislikeCards),
		}, nil

	case *AdvantageLocal:
		p := patch.(*AdvantageLocal)
		return &AdvantageLocal{
			AdvantageCards:    pick(p.AdvantageCards, b.AdvantageCards),
			DisadvantageCards: pick(p.DisadvantageCards, b.DisadvantageCards),
		}, nil

	case *ValueRankingLocal:
		p := patch.(*ValueRankingLocal)
		out := &ValueRankingLocal{GridCards: b.GridCards}
		if p.GridCards != nil {
			out.GridCards = p.GridCards
		}
		return out, nil

	case *CareerCollectorLocal:
		p := patch.(*CareerCollectorLocal)
		out := &CareerCollectorLocal{CollectedCards: pick(p.CollectedCards, b.CollectedCards), MaxCards: b.MaxCards}
		if p.MaxCards != 0 {
			out.MaxCards = p.MaxCards
		}
		return out, nil

	case *GrowthPlanningLocal:
		p := patch.(*GrowthPlanningLocal)
		out := &GrowthPlanningLocal{
			SkillsCards:  pick(p.SkillsCards, b.SkillsCards),
			ActionsCards: pick(p.ActionsCards, b.ActionsCards),
			PlanText:     b.PlanText,
		}
		if p.PlanText != nil {
			out.PlanText = p.PlanText
		}
		return out, nil

	case *PositionBreakdownLocal:
		p := patch.(*PositionBreakdownLocal)
		out := &PositionBreakdownLocal{PositionCards: pick(p.PositionCards, b.PositionCards), UploadedFile: b.UploadedFile}
		if p.UploadedFile != nil {
			out.UploadedFile = p.UploadedFile
		}
		return out, nil

	case *LifeTransformationLocal:
		p := patch.(*LifeTransformationLocal)
		out := &LifeTransformationLocal{LifeAreas: maps.Clone(b.LifeAreas), TotalTokens: b.TotalTokens}
		if out.LifeAreas == nil && p.LifeAreas != nil {
			out.LifeAreas = maps.Clone(p.LifeAreas)
		} else {
			maps.Copy(out.LifeAreas, p.LifeAreas)
		}
		if p.TotalTokens != 0 {
			out.TotalTokens = p.TotalTokens
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGameType, base)
	}
}

func pick(patch, base []string) []string {
	if patch != nil {
		return patch
	}
	return base
}

func typeOf(l LocalState) any {
	if l == nil {
		return "nil"
	}
	return l.GameType()
}
