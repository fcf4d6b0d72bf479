package game

import (
	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/events"
)

// addTowerXP accumulates XP for a player-tower under a named cause (kill,
// wave_clear, perfect_wave, match_complete, victory) so flushTowerXP can later emit each
// cause as its own correctly-sourced event rather than losing provenance in
// a single summed scalar.
func (s *Session) addTowerXP(towerID uuid.UUID, source string, amount float64) {
	if amount == 0 {
		return
	}
	bySource := s.towerXP[towerID]
	if bySource == nil {
		bySource = make(map[string]float64)
		s.towerXP[towerID] = bySource
	}
	bySource[source] += amount
}

// flushTowerXP publishes every tower's accumulated XP and clears the
// accumulator (§4.G End-of-wave: "Publish accumulated per-tower XP and
// clear the accumulator"), emitting one tower.xp_gained event per
// contributing source so §6.3's required Source field is always accurate.
// The progression consumer owns turning this into a persisted total; the
// session never tracks levels itself.
func (s *Session) flushTowerXP() {
	for towerID, bySource := range s.towerXP {
		ownerPlayerID := s.ownerOfTower(towerID)
		for source, xp := range bySource {
			if xp <= 0 {
				continue
			}
			s.publish(events.TypeTowerXPGained, map[string]string{
				"tower_id":  towerID.String(),
				"player_id": utoa32(ownerPlayerID),
				"xp":        ftoa(xp),
				"source":    source,
			})
		}
	}
	s.towerXP = make(map[uuid.UUID]map[string]float64)
}

func (s *Session) ownerOfTower(playerTowerID uuid.UUID) uint32 {
	for _, t := range s.towers {
		if t.PlayerTowerID == playerTowerID {
			return t.OwnerPlayerID
		}
	}
	return 0
}
