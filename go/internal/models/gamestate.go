package models

import (
	"encoding/json"
	"fmt"
)

// GameType identifies one of the card gameplay variants.
type GameType string

const (
	GameTypePersonalityAssessment GameType = "personality_assessment"
	GameTypeAdvantageAnalysis     GameType = "advantage_analysis"
	GameTypeValueRanking          GameType = "value_ranking"
	GameTypeCareerCollector       GameType = "career_collector"
	GameTypeGrowthPlanning        GameType = "growth_planning"
	GameTypePositionBreakdown     GameType = "position_breakdown"
	GameTypeLifeTransformation    GameType = "life_transformation"
)

// GameTypes lists every supported gameplay in a stable order.
func GameTypes() []GameType {
	return []GameType{
		GameTypePersonalityAssessment,
		GameTypeAdvantageAnalysis,
		GameTypeValueRanking,
		GameTypeCareerCollector,
		GameTypeGrowthPlanning,
		GameTypePositionBreakdown,
		GameTypeLifeTransformation,
	}
}

// Valid reports whether t is one of the known gameplays.
func (t GameType) Valid() bool {
	for _, known := range GameTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Point is a 2D coordinate on a board or grid.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CardPosition records where a single card currently sits.
type CardPosition struct {
	Zone      string `json:"zone"`
	Index     *int   `json:"index,omitempty"`
	Position  *Point `json:"position,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// TouchedAt returns the last-touched timestamp or 0 when unset.
func (p CardPosition) TouchedAt() int64 {
	if p.Timestamp == nil {
		return 0
	}
	return *p.Timestamp
}

// UploadedFile references a file stored by the upload API. Only the
// reference is kept, never the bytes.
type UploadedFile struct {
	Name       string `json:"name"`
	MimeType   string `json:"type"`
	Size       int64  `json:"size"`
	URL        string `json:"url"`
	UploadedAt int64  `json:"uploadedAt"`
}

// LifeArea is one bucket of the life transformation board.
type LifeArea struct {
	Cards  []string `json:"cards"`
	Tokens int      `json:"tokens"`
}

// Variant is the gameplay-specific part of a GameState. The set of
// implementations is closed to this package.
type Variant interface {
	GameType() GameType
	isVariant()
}

// GameState is the canonical, versioned wire format shared by every gameplay.
type GameState struct {
	Cards       map[string]CardPosition `json:"cards"`
	LastUpdated int64                   `json:"lastUpdated"`
	GameType    GameType                `json:"gameType"`
	Version     int                     `json:"version"`

	Variant Variant `json:"-"`
}

// Clone returns a deep copy of the state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	out := *s
	out.Cards = make(map[string]CardPosition, len(s.Cards))
	for id, pos := range s.Cards {
		out.Cards[id] = pos.clone()
	}
	out.Variant = CloneVariant(s.Variant)
	return &out
}

func (p CardPosition) clone() CardPosition {
	out := CardPosition{Zone: p.Zone}
	if p.Index != nil {
		i := *p.Index
		out.Index = &i
	}
	if p.Position != nil {
		pt := *p.Position
		out.Position = &pt
	}
	if p.Timestamp != nil {
		ts := *p.Timestamp
		out.Timestamp = &ts
	}
	return out
}

type envelope struct {
	Cards       map[string]CardPosition `json:"cards"`
	LastUpdated int64                   `json:"lastUpdated"`
	GameType    GameType                `json:"gameType"`
	Version     int                     `json:"version"`
}

// MarshalJSON flattens the variant fields into the envelope object.
func (s GameState) MarshalJSON() ([]byte, error) {
	cards := s.Cards
	if cards == nil {
		cards = map[string]CardPosition{}
	}
	base, err := json.Marshal(envelope{
		Cards:       cards,
		LastUpdated: s.LastUpdated,
		GameType:    s.GameType,
		Version:     s.Version,
	})
	if err != nil {
		return nil, err
	}
	if s.Variant == nil {
		return base, nil
	}

	extra, err := json.Marshal(s.Variant)
	if err != nil {
		return nil, fmt.Errorf("marshal %s variant: %w", s.GameType, err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(extra, &fields); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes the envelope and then the variant selected by gameType.
func (s *GameState) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	variant, err := NewVariant(env.GameType)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, variant); err != nil {
		return fmt.Errorf("unmarshal %s variant: %w", env.GameType, err)
	}

	s.Cards = env.Cards
	if s.Cards == nil {
		s.Cards = map[string]CardPosition{}
	}
	s.LastUpdated = env.LastUpdated
	s.GameType = env.GameType
	s.Version = env.Version
	s.Variant = variant
	return nil
}
