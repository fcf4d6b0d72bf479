package game

import (
	"math"
	"sort"

	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// GridCellSize scales grid coordinates into world distance units; range
// values are expressed as a multiple of it (§4.G Target selection).
const GridCellSize = 1.0

func elementalResistance(u *Unit, dt DamageType) float64 {
	switch dt {
	case DamagePhysical:
		if u.hasModifier(ModPhysRes) {
			return 0.30
		}
	case DamageFire:
		if u.hasModifier(ModFireRes) {
			return 0.30
		}
	case DamageCold:
		if u.hasModifier(ModColdRes) {
			return 0.30
		}
	case DamageLightning:
		if u.hasModifier(ModLightningRes) {
			return 0.30
		}
	case DamageChaos:
		// Chaos damage is resisted by PoisonRes, per §4.G's damage-calc note.
		if u.hasModifier(ModPoisonRes) {
			return 0.30
		}
	}
	return 0
}

func armoredResistance(u *Unit) float64 {
	if u.hasModifier(ModArmored) {
		return 0.15
	}
	return 0
}

func (s *Session) rollCrit(chancePercent float64) bool {
	return s.rng.Float64()*100 < chancePercent
}

// cellCentre returns the world position of a grid cell's centre.
func cellCentre(gx, gy int32) (x, y float64) {
	return (float64(gx) + 0.5) * GridCellSize, (float64(gy) + 0.5) * GridCellSize
}

type targetCandidate struct {
	unit *Unit
	dist float64
}

// selectTargets implements §4.G Target selection: nearest live unit within
// range, tie-broken by smallest entity_id, plus up to max_targets-1
// additional units for towers with HitsMultiple.
func (s *Session) selectTargets(t *Tower) []*Unit {
	cx, cy := cellCentre(t.GX, t.GY)
	rangeDist := t.Range * GridCellSize

	candidates := make([]targetCandidate, 0, len(s.units))
	for _, u := range s.units {
		dx, dy := u.X-cx, u.Y-cy
		dist := math.Hypot(dx, dy)
		if dist <= rangeDist {
			candidates = append(candidates, targetCandidate{unit: u, dist: dist})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].unit.EntityID < candidates[j].unit.EntityID
	})

	maxN := 1
	if t.HitsMultiple && t.MaxTargets > 1 {
		maxN = t.MaxTargets
	}
	if maxN > len(candidates) {
		maxN = len(candidates)
	}
	out := make([]*Unit, maxN)
	for i := 0; i < maxN; i++ {
		out[i] = candidates[i].unit
	}
	return out
}

// damageUnit implements the §4.G damage-calculation pseudocode exactly,
// including the shield-absorption short-circuit and the 0.75 resistance
// cap.
func (s *Session) damageUnit(t *Tower, u *Unit) (isCrit, killed bool) {
	isCrit = s.rollCrit(t.CritChance)
	raw := t.Damage
	if isCrit {
		raw *= t.CritMultiplier / 100
	}
	if u.ShieldActive && u.hasModifier(ModShielded) {
		u.ShieldActive = false
		return isCrit, false
	}
	resistance := elementalResistance(u, t.DamageType) + armoredResistance(u)
	if resistance > 0.75 {
		resistance = 0.75
	}
	final := math.Floor(raw * (1 - resistance))
	u.HP -= int32(final)
	if u.HP <= 0 {
		s.killUnit(u, t, isCrit)
		return isCrit, true
	}
	return isCrit, false
}

var rarityGoldMult = map[Rarity]float64{RarityNormal: 1.0, RarityMagic: 1.5, RarityRare: 2.5}
var rarityXPMult = map[Rarity]float64{RarityNormal: 1.0, RarityMagic: 2.0, RarityRare: 3.0}

const (
	baseUnitKillXP = 5.0
	bossBonusXP    = 20.0
	baseGoldReward = 2
)

// killUnit implements the §4.G Kill pipeline.
func (s *Session) killUnit(u *Unit, killer *Tower, isCrit bool) {
	delete(s.units, u.EntityID)
	s.waveUnitsKilled++

	s.sender.Broadcast(s.peerIDs(), protocol.TypeEntityDestroy, protocol.EntityDestroy{
		Tick: s.currentTick, EntityID: u.EntityID, Reason: protocol.DestroyReasonKilled,
	}.Encode())

	player, ok := s.players[killer.OwnerPlayerID]
	if !ok {
		return
	}

	goldFind := 1 + killer.GoldFindPercent/100
	gold := int32(float64(baseGoldReward) * rarityGoldMult[u.Rarity] * goldFind)
	player.Gold += gold

	xp := baseUnitKillXP
	if u.IsBoss {
		xp += bossBonusXP
	}
	xp *= rarityXPMult[u.Rarity]
	xp *= 1 + killer.XPGainPercent/100
	s.addTowerXP(killer.PlayerTowerID, "kill", xp)

	s.rollUnitDrop(u, killer, player)

	s.publish(events.TypeUnitKilled, map[string]string{
		"player_id": utoa32(killer.OwnerPlayerID), "unit_id": utoa32(u.EntityID),
		"unit_type": u.UnitType, "unit_rarity": u.Rarity.String(),
		"killer_tower_id": killer.PlayerTowerID.String(), "gold_awarded": itoa32(gold),
		"is_critical": btoa(isCrit),
	})
}

// updateUnits implements the movement half of §4.G step 3: advance every
// unit along the lane and apply regeneration. Edge-leak resolution is
// deferred to processLeaks so that a tower attack landing this same tick
// still wins over the leak (a killed unit never damages the player).
func (s *Session) updateUnits(dt float64) {
	for _, u := range s.units {
		u.X += u.Direction * u.Speed * dt
		if u.hasModifier(ModRegenerating) {
			u.HP = clampInt32(u.HP+int32(float64(u.MaxHP)*0.02*dt), 0, u.MaxHP)
		}
	}
}

// processLeaks removes units that crossed the map edge and survived this
// tick's tower attacks, charging the player their lives_cost. Runs after
// updateTowers; a unit both killed and out of bounds on the same tick has
// already left the entity map, so no player.damaged is emitted for it.
func (s *Session) processLeaks() {
	for id, u := range s.units {
		if u.X >= 0 && u.X <= float64(s.GridWidth)*GridCellSize {
			continue
		}
		delete(s.units, id)
		s.waveUnitsLeaked++
		player := s.players[s.ownerOfLane()]
		if player != nil {
			player.Lives -= u.LivesCost
			if player.Lives < 0 {
				player.Lives = 0
			}
			s.publish(events.TypePlayerDamaged, map[string]string{
				"player_id": utoa32(player.PlayerID), "damage": itoa32(u.LivesCost),
				"remaining_lives": itoa32(player.Lives),
			})
			if player.Lives == 0 {
				s.ForceEnd(protocol.MatchResultDefeat)
			}
		}
		s.sender.Broadcast(s.peerIDs(), protocol.TypeEntityDestroy, protocol.EntityDestroy{
			Tick: s.currentTick, EntityID: id, Reason: protocol.DestroyReasonReachedEnd,
		}.Encode())
		if s.state == StateGameOver {
			return
		}
	}
}

// ownerOfLane picks the player charged for a leaked unit. Solo has exactly
// one; Coop/PvP lane ownership is a straightforward extension not
// exercised by the golden scenarios.
func (s *Session) ownerOfLane() uint32 {
	for id := range s.players {
		return id
	}
	return 0
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// updateTowers implements §4.G Per-tick simulation step 4.
func (s *Session) updateTowers(dt float64) {
	for _, t := range s.towers {
		if t.AttackCooldown > 0 {
			t.AttackCooldown -= dt
			continue
		}
		targets := s.selectTargets(t)
		if len(targets) == 0 {
			continue
		}
		for _, u := range targets {
			s.damageUnit(t, u)
		}
		if t.AttackSpeed > 0 {
			t.AttackCooldown = 1 / t.AttackSpeed
		}
	}
}
