package game

import (
	"context"
	"time"

	"github.com/towerwars/zoneserver/internal/bonus"
	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// baseTowerCost is the gold cost per tower type; baseCostFor charges 1 for
// a type not listed here (a richer tower catalog is a straightforward
// extension of this table, not a change in shape).
var baseTowerCost = map[string]int32{
	"basic": 1,
	"frost": 3,
	"cannon": 5,
}

func baseCostFor(towerType string) int32 {
	if c, ok := baseTowerCost[towerType]; ok {
		return c
	}
	return 1
}

// baseIntrinsicStats gives a tower type its pre-bonus attack profile; a
// weapon attack style (bonus.WeaponAttackStyle), when present, replaces
// these per composition rule 2 (§4.E).
func baseIntrinsicStats(towerType string) (damage, rng, attackSpeed float64, dt DamageType) {
	switch towerType {
	case "frost":
		return 6, 3.0, 1.0, DamageCold
	case "cannon":
		return 20, 2.0, 0.5, DamagePhysical
	default:
		return 10, 3.0, 1.0, DamagePhysical
	}
}

const bonusLookupTimeout = 2 * time.Second

// handleTowerBuild implements §4.G's build path. Placement and gold are
// validated and deducted synchronously; the bonus lookup (which may be
// remote) runs on a background goroutine and re-enters via the
// pending-actions queue so the tower is never committed off the tick
// thread (§9 "async build commits").
func (s *Session) handleTowerBuild(peerID uint64, req protocol.TowerBuild) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	player := s.players[pid]

	if s.state != StatePreparation && s.state != StateWaveActive {
		s.sendError(peerID, protocol.ErrWrongState, "cannot build outside an active match", &req.RequestID)
		return
	}

	if !s.placementValid(req.GX, req.GY) {
		s.sendError(peerID, protocol.ErrInvalidPlacement, "invalid build cell", &req.RequestID)
		return
	}

	purchaseCount := player.PurchaseCount[req.PlayerTowerID]
	cost := int32(float64(baseCostFor(req.TowerType)) * (1 + float64(purchaseCount)*0.2))
	if player.Gold < cost {
		s.sendError(peerID, protocol.ErrInsufficientGold, "not enough gold", &req.RequestID)
		return
	}

	player.Gold -= cost
	player.PurchaseCount[req.PlayerTowerID] = purchaseCount + 1

	// Reserve the cell immediately so a second build request for the same
	// cell fails fast, without waiting on the bonus round trip.
	cell := [2]int32{req.GX, req.GY}
	s.occupied[cell] = 0 // 0 is never a real entity_id; marks "reserved"

	provider := s.bonuses
	session := s
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), bonusLookupTimeout)
		defer cancel()
		resolution, err := provider.Resolve(ctx, req.PlayerTowerID, req.TowerType)
		session.enqueuePending(func(s *Session) {
			s.commitTowerBuild(peerID, pid, cost, req, resolution, err)
		})
	}()
}

func (s *Session) commitTowerBuild(peerID uint64, playerID uint32, cost int32, req protocol.TowerBuild, resolution bonus.Resolution, lookupErr error) {
	cell := [2]int32{req.GX, req.GY}
	player, ok := s.players[playerID]
	if !ok {
		delete(s.occupied, cell)
		return
	}

	if lookupErr != nil {
		delete(s.occupied, cell)
		player.Gold += cost // refund, per §4.G Failure semantics
		s.sendError(peerID, protocol.ErrInternalError, "bonus lookup failed", &req.RequestID)
		return
	}

	damage, rng, attackSpeed, dtype := baseIntrinsicStats(req.TowerType)
	hitsMultiple := false
	maxTargets := 1
	isProjectile := true
	if resolution.Weapon != nil {
		damage = resolution.Weapon.Damage
		rng = resolution.Weapon.Range
		attackSpeed = resolution.Weapon.AttackSpeed
		hitsMultiple = resolution.Weapon.HitsMultiple
		maxTargets = resolution.Weapon.MaxTargets
		isProjectile = resolution.Weapon.IsProjectile
	}

	sum := resolution.Summary
	finalDamage := damage*(1+sum.Get(bonus.DamagePercent)/100) + sum.Get(bonus.DamageFlat)
	finalRange := rng * (1 + sum.Get(bonus.RangePercent)/100)
	finalAttackSpeed := attackSpeed * (1 + sum.Get(bonus.AttackSpeedPercent)/100)
	maxHP := int32(resolution.TowerHP())

	entityID := s.nextID()
	tower := &Tower{
		EntityID:        entityID,
		PlayerTowerID:   req.PlayerTowerID,
		OwnerPlayerID:   playerID,
		OwnerUserID:     player.UserID,
		GX:              req.GX,
		GY:              req.GY,
		TowerType:       req.TowerType,
		HP:              maxHP,
		MaxHP:           maxHP,
		AttackCooldown:  0,
		Damage:          finalDamage,
		Range:           finalRange,
		AttackSpeed:     finalAttackSpeed,
		DamageType:      dtype,
		SplashRadius:    sum.Get(bonus.SplashRadius),
		SlowAmount:      sum.Get(bonus.SlowAmount),
		SlowDuration:    sum.Get(bonus.SlowDuration),
		CritChance:      resolution.CritChancePercent(),
		CritMultiplier:  resolution.CritMultiplierPercent(),
		HitsMultiple:    hitsMultiple,
		MaxTargets:      maxTargets,
		IsProjectile:    isProjectile,
		GoldFindPercent: sum.Get(bonus.GoldFindPercent),
		XPGainPercent:   sum.Get(bonus.XpGainPercent),
	}
	s.towers[entityID] = tower
	s.occupied[cell] = entityID

	spawn := protocol.EntitySpawn{
		Tick: s.currentTick, EntityID: entityID, Kind: protocol.EntityTower,
		X: float64(req.GX), Y: float64(req.GY), HP: maxHP, MaxHP: maxHP,
		OwnerPlayerID: playerID, SubType: req.TowerType,
	}
	s.sender.Broadcast(s.peerIDs(), protocol.TypeEntitySpawn, spawn.Encode())

	s.publish(events.TypeTowerBuilt, map[string]string{
		"player_id": utoa32(playerID), "tower_id": tower.PlayerTowerID.String(),
		"tower_type": req.TowerType, "grid_x": itoa32(req.GX), "grid_y": itoa32(req.GY),
		"gold_spent": itoa32(cost),
	})
}

// placementValid implements §4.G Placement: in bounds, not on the unit
// path (the middle row), and unoccupied.
func (s *Session) placementValid(gx, gy int32) bool {
	if gx < 0 || gx >= s.GridWidth || gy < 0 || gy >= s.GridHeight {
		return false
	}
	if gy == s.PathRow {
		return false
	}
	_, occupied := s.occupied[[2]int32{gx, gy}]
	return !occupied
}

func (s *Session) handleTowerUpgrade(peerID uint64, req protocol.TowerUpgrade) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	tower, ok := s.towers[req.EntityID]
	if !ok || tower.OwnerPlayerID != pid {
		s.sendError(peerID, protocol.ErrTowerNotFound, "tower not found", &req.RequestID)
		return
	}
	player := s.players[pid]
	cost := int32(float64(baseCostFor(tower.TowerType)) * float64(tower.UpgradeLevel+2) * 0.5)
	if player.Gold < cost {
		s.sendError(peerID, protocol.ErrInsufficientGold, "not enough gold", &req.RequestID)
		return
	}
	player.Gold -= cost
	tower.UpgradeLevel++
	tower.Damage *= 1.15
	tower.MaxHP = int32(float64(tower.MaxHP) * 1.1)
	tower.HP = tower.MaxHP
}

func (s *Session) handleTowerSell(peerID uint64, req protocol.TowerSell) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	tower, ok := s.towers[req.EntityID]
	if !ok || tower.OwnerPlayerID != pid {
		s.sendError(peerID, protocol.ErrTowerNotFound, "tower not found", &req.RequestID)
		return
	}
	refund := baseCostFor(tower.TowerType) / 2
	s.players[pid].Gold += refund
	delete(s.occupied, [2]int32{tower.GX, tower.GY})
	delete(s.towers, req.EntityID)
	s.sender.Broadcast(s.peerIDs(), protocol.TypeEntityDestroy, protocol.EntityDestroy{
		Tick: s.currentTick, EntityID: req.EntityID, Reason: protocol.DestroyReasonSold,
	}.Encode())
	s.publish(events.TypeTowerSold, map[string]string{
		"player_id": utoa32(pid), "tower_id": tower.PlayerTowerID.String(), "gold_received": itoa32(refund),
	})
}
