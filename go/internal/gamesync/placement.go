package gamesync

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/normalizer"
)

// DeckZone is the implicit zone of cards not placed on the board. Moving a
// card there removes it from every zone.
const DeckZone = "deck"

var (
	ErrUnknownZone      = errors.New("invalid move: unknown zone")
	ErrZoneFull         = errors.New("invalid move: zone is full")
	ErrCapacityExceeded = normalizer.ErrCapacityExceeded
)

// zoneSet is a mutable view of the card zones of one local state. Every
// other field of the local state is carried through unchanged.
type zoneSet struct {
	local normalizer.LocalState
	lists map[string][]string
	grid  string
	limit map[string]int
}

func zonesOf(local normalizer.LocalState) *zoneSet {
	z := &zoneSet{local: local, lists: make(map[string][]string), limit: make(map[string]int)}
	switch l := local.(type) {
	case *normalizer.PersonalityLocal:
		z.lists["like"] = l.LikeCards
		z.lists["neutral"] = l.NeutralCards
		z.lists["dislike"] = l.DislikeCards
	case *normalizer.AdvantageLocal:
		z.lists["advantage"] = l.AdvantageCards
		z.lists["disadvantage"] = l.DisadvantageCards
	case *normalizer.ValueRankingLocal:
		grid := l.GridCards
		if grid == nil {
			grid = models.NewGrid(models.GridRows, models.GridColumns)
		}
		z.lists["grid"] = grid
		z.grid = "grid"
	case *normalizer.CareerCollectorLocal:
		z.lists["collected"] = l.CollectedCards
		z.limit["collected"] = l.MaxCards
		if l.MaxCards == 0 {
			z.limit["collected"] = models.DefaultMaxCards
		}
	case *normalizer.GrowthPlanningLocal:
		z.lists["skills"] = l.SkillsCards
		z.lists["actions"] = l.ActionsCards
	case *normalizer.PositionBreakdownLocal:
		z.lists["position"] = l.PositionCards
	case *normalizer.LifeTransformationLocal:
		for key, area := range l.LifeAreas {
			z.lists[key] = area.Cards
		}
	}
	for name, ids := range z.lists {
		z.lists[name] = slices.Clone(ids)
	}
	return z
}

// build returns a new local state holding the current zone contents.
func (z *zoneSet) build() normalizer.LocalState {
	switch l := z.local.(type) {
	case *normalizer.PersonalityLocal:
		return &normalizer.PersonalityLocal{
			LikeCards:    z.lists["like"],
			NeutralCards: z.lists["neutral"],
			DislikeCards: z.lists["dislike"],
		}
	case *normalizer.AdvantageLocal:
		return &normalizer.AdvantageLocal{
			AdvantageCards:    z.lists["advantage"],
			DisadvantageCards: z.lists["disadvantage"],
		}
	case *normalizer.ValueRankingLocal:
		return &normalizer.ValueRankingLocal{GridCards: z.lists["grid"]}
	case *normalizer.CareerCollectorLocal:
		return &normalizer.CareerCollectorLocal{CollectedCards: z.lists["collected"], MaxCards: l.MaxCards}
	case *normalizer.GrowthPlanningLocal:
		return &normalizer.GrowthPlanningLocal{
			SkillsCards:  z.lists["skills"],
			ActionsCards: z.lists["actions"],
			PlanText:     l.PlanText,
		}
	case *normalizer.PositionBreakdownLocal:
		return &normalizer.PositionBreakdownLocal{PositionCards: z.lists["position"], UploadedFile: l.UploadedFile}
	case *normalizer.LifeTransformationLocal:
		areas := models.CloneLifeAreas(l.LifeAreas)
		for key, area := range areas {
			area.Cards = z.lists[key]
			areas[key] = area
		}
		return &normalizer.LifeTransformationLocal{LifeAreas: areas, TotalTokens: l.TotalTokens}
	default:
		return z.local
	}
}

func (z *zoneSet) has(zone string) bool {
	_, ok := z.lists[zone]
	return ok
}

func (z *zoneSet) names() []string {
	names := make([]string, 0, len(z.lists))
	for name := range z.lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// locate returns the zone and index holding cardID, or "" and -1.
func (z *zoneSet) locate(cardID string) (string, int) {
	for _, name := range z.names() {
		if i := slices.Index(z.lists[name], cardID); i >= 0 {
			return name, i
		}
	}
	return "", -1
}

// remove takes cardID out of every zone. Grid slots are emptied, lists close
// the gap.
func (z *zoneSet) remove(cardID string) {
	for name, ids := range z.lists {
		if name == z.grid {
			for i, id := range ids {
				if id == cardID {
					ids[i] = ""
				}
			}
			continue
		}
		z.lists[name] = slices.DeleteFunc(ids, func(id string) bool { return id == cardID })
	}
}

// place moves cardID into zone. A nil index appends to a list or takes the
// first empty grid slot. Capacity is checked before anything changes.
func (z *zoneSet) place(cardID, zone string, index *int) error {
	if zone == DeckZone {
		z.remove(cardID)
		return nil
	}
	if !z.has(zone) {
		return fmt.Errorf("%w: %q (zones: %v)", ErrUnknownZone, zone, z.names())
	}
	if zone == z.grid {
		return z.placeGrid(cardID, index)
	}

	from, _ := z.locate(cardID)
	if limit, ok := z.limit[zone]; ok && from != zone && len(z.lists[zone]) >= limit {
		return fmt.Errorf("%w: %s holds %d of %d cards", ErrCapacityExceeded, zone, len(z.lists[zone]), limit)
	}

	z.remove(cardID)
	ids := z.lists[zone]
	at := len(ids)
	if index != nil && *index >= 0 && *index < at {
		at = *index
	}
	z.lists[zone] = slices.Insert(ids, at, cardID)
	return nil
}

// placeGrid puts cardID into a grid slot. An occupant swaps into the card's
// old slot when the card came from the grid, otherwise it returns to the
// deck.
func (z *zoneSet) placeGrid(cardID string, index *int) error {
	grid := z.lists[z.grid]
	from, fromIndex := z.locate(cardID)

	target := -1
	if index != nil {
		if *index < 0 || *index >= len(grid) {
			return fmt.Errorf("%w: grid slot %d out of range", ErrUnknownZone, *index)
		}
		target = *index
	} else {
		target = slices.Index(grid, "")
		if target < 0 && from == z.grid {
			return nil
		}
		if target < 0 {
			return fmt.Errorf("%w: no empty grid slot", ErrZoneFull)
		}
	}

	occupant := grid[target]
	z.remove(cardID)
	grid = z.lists[z.grid]
	if occupant != "" && occupant != cardID && from == z.grid {
		grid[fromIndex] = occupant
	}
	grid[target] = cardID
	return nil
}
