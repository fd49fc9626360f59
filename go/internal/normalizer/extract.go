package normalizer

import (
	"strings"

	"github.com/mcdev12/cardsync/go/internal/models"
)

const (
	gridKey  = "gridCards"
	gridZone = "grid"
)

// ZoneForKey maps a UI list key to its zone name: "likeCards" -> "like",
// "gridCards" -> "grid".
func ZoneForKey(key string) string {
	if key == gridKey {
		return gridZone
	}
	return strings.TrimSuffix(key, "Cards")
}

// GridPosition derives the cell coordinate of a row-major grid index.
func GridPosition(index int) models.Point {
	return models.Point{X: index % models.GridColumns, Y: index / models.GridColumns}
}

// ExtractCards flattens every card list of local into card placements
// stamped with now. Empty slots produce no entry.
func ExtractCards(local LocalState, now int64) map[string]models.CardPosition {
	cards := make(map[string]models.CardPosition)
	for _, list := range local.cardLists() {
		zone := ZoneForKey(list.key)
		for i, id := range list.ids {
			if id == "" {
				continue
			}
			index := i
			ts := now
			pos := models.CardPosition{Zone: zone, Index: &index, Timestamp: &ts}
			if list.key == gridKey {
				pt := GridPosition(i)
				pos.Position = &pt
			}
			cards[id] = pos
		}
	}
	return cards
}
