package gamesync

import (
	"fmt"
	"sort"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/mcdev12/cardsync/go/internal/normalizer"
	"github.com/rs/zerolog/log"
)

// reconcile merges two canonical states of the same gameplay. Non-card
// fields come from the higher version. Each card is decided on its own
// timestamps: it lands where its newest placement put it unless either side
// removed it later. localRemoved and remoteRemoved map card ids to removal
// times. The result carries version. It also reports how many of remote's
// placements lost.
func reconcile(n *normalizer.Normalizer, local, remote *models.GameState, localRemoved, remoteRemoved map[string]int64, version int) (*models.GameState, int, error) {
	if remote == nil || remote.Variant == nil {
		return nil, 0, normalizer.ErrMissingVariant
	}
	if local.GameType != remote.GameType {
		return nil, 0, fmt.Errorf("%w: local %s, remote %s", normalizer.ErrGameTypeMismatch, local.GameType, remote.GameType)
	}

	base, other := local, remote
	baseRemoved := localRemoved
	if remote.Version > local.Version || (remote.Version == local.Version && remote.LastUpdated > local.LastUpdated) {
		base, other = remote, local
		baseRemoved = remoteRemoved
	}

	if base.GameType == models.GameTypeLifeTransformation {
		out := base.Clone()
		out.Version = version
		out.LastUpdated = max(local.LastUpdated, remote.LastUpdated)
		return out, 0, nil
	}

	baseLocal, err := n.FromStorageFormat(base)
	if err != nil {
		return nil, 0, err
	}
	zones := zonesOf(baseLocal)

	stamps := make(map[string]int64, len(base.Cards)+len(other.Cards))
	for id, pos := range base.Cards {
		stamps[id] = pos.TouchedAt()
	}

	// Apply the other side's newer placements oldest first so the newest
	// one decides a contested slot.
	ids := make([]string, 0, len(other.Cards))
	for id := range other.Cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := other.Cards[ids[i]].TouchedAt(), other.Cards[ids[j]].TouchedAt()
		if ti != tj {
			return ti < tj
		}
		return ids[i] < ids[j]
	})

	for _, id := range ids {
		pos := other.Cards[id]
		ts := pos.TouchedAt()
		if current, ok := base.Cards[id]; ok && current.TouchedAt() >= ts {
			continue
		} else if removedAt, removed := baseRemoved[id]; !ok && removed && removedAt >= ts {
			continue
		}
		if err := zones.place(id, pos.Zone, pos.Index); err != nil {
			log.Warn().Err(err).Str("card_id", id).Msg("skipping unplaceable card while reconciling")
			continue
		}
		stamps[id] = ts
	}

	for _, removals := range []map[string]int64{localRemoved, remoteRemoved} {
		for id, removedAt := range removals {
			if ts, ok := stamps[id]; ok && removedAt > ts {
				zones.remove(id)
				delete(stamps, id)
			}
		}
	}

	out, err := n.ToStorageFormat(base.GameType, zones.build(), version-1)
	if err != nil {
		return nil, 0, err
	}
	for id, pos := range out.Cards {
		if ts := stamps[id]; ts != 0 {
			pos.Timestamp = &ts
			out.Cards[id] = pos
		}
	}
	out.LastUpdated = max(local.LastUpdated, remote.LastUpdated)

	lost := 0
	for id, pos := range remote.Cards {
		if got, ok := out.Cards[id]; !ok || got.Zone != pos.Zone {
			lost++
		}
	}
	return out, lost, nil
}
