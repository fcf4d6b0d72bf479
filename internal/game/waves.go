package game

import (
	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// unitTemplate is the intrinsic stat block for a spawnable unit type,
// before rarity scaling.
type unitTemplate struct {
	hp, speed float64
	livesCost int32
	isBoss    bool
}

var unitTemplates = map[string]unitTemplate{
	"basic": {hp: 20, speed: 1.0, livesCost: 1},
	"tank":  {hp: 60, speed: 0.6, livesCost: 2},
	"fast":  {hp: 12, speed: 1.8, livesCost: 1},
	"boss":  {hp: 400, speed: 0.5, livesCost: 5, isBoss: true},
}

var rarityHPMult = map[Rarity]float64{RarityNormal: 1.0, RarityMagic: 1.3, RarityRare: 1.8}

const (
	waveCompletionGold = 5
	waveClearXP        = 10.0
	perfectWaveXP      = 5.0
	matchCompleteXP    = 25.0
	victoryBonusXP     = 50.0
)

// waveSize implements §8 scenario 3's "Basic wave of size 5+2*wave_number".
func waveSize(waveNumber int32) int32 { return 5 + 2*waveNumber }

// rollWaveUnitRarity scales rarity odds up slowly with wave number so later
// waves feel harder without a bespoke per-wave table.
func (s *Session) rollWaveUnitRarity(waveNumber int32) Rarity {
	roll := s.rng.Float64()
	rareChance := 0.02 + float64(waveNumber)*0.01
	magicChance := 0.10 + float64(waveNumber)*0.02
	switch {
	case roll < rareChance:
		return RarityRare
	case roll < rareChance+magicChance:
		return RarityMagic
	default:
		return RarityNormal
	}
}

// startWave spawns a wave's units and broadcasts WaveStart. Every 5th wave
// is a boss wave: its first unit is a boss, and the remaining units follow
// the same basic/fast/tank mix as any other wave.
func (s *Session) startWave(waveNumber int32) {
	s.currentWave = waveNumber
	s.waveUnitsKilled = 0
	s.waveUnitsLeaked = 0

	size := waveSize(waveNumber)
	isBossWave := waveNumber > 0 && waveNumber%5 == 0

	cy := float64(s.PathRow) + 0.5
	for i := int32(0); i < size; i++ {
		// Wave 1 is a homogeneous basic wave; fast/tank units mix in from
		// wave 2 onward.
		unitType := "basic"
		if isBossWave && i == 0 {
			unitType = "boss"
		} else if waveNumber >= 2 {
			if i%3 == 0 {
				unitType = "fast"
			} else if i%4 == 0 {
				unitType = "tank"
			}
		}
		s.spawnUnit(unitType, s.rollWaveUnitRarity(waveNumber), -float64(i), cy)
	}

	s.state = StateWaveActive
	s.sender.Broadcast(s.peerIDs(), protocol.TypeWaveStart, protocol.WaveStart{
		WaveNumber: waveNumber, UnitCount: size,
	}.Encode())
}

func (s *Session) spawnUnit(unitType string, rarity Rarity, x, y float64) *Unit {
	tmpl := unitTemplates[unitType]
	hp := int32(tmpl.hp * rarityHPMult[rarity])

	var mods Modifier
	switch rarity {
	case RarityMagic:
		mods = ModArmored
	case RarityRare:
		mods = ModArmored | ModShielded
	}

	entityID := s.nextID()
	u := &Unit{
		EntityID: entityID, UnitType: unitType, Rarity: rarity, Modifiers: mods,
		IsBoss: tmpl.isBoss, X: x, Y: y, Direction: 1, Speed: tmpl.speed, BaseSpeed: tmpl.speed,
		HP: hp, MaxHP: hp, ShieldActive: mods&ModShielded != 0, LivesCost: tmpl.livesCost,
	}
	s.units[entityID] = u

	s.sender.Broadcast(s.peerIDs(), protocol.TypeEntitySpawn, protocol.EntitySpawn{
		Tick: s.currentTick, EntityID: entityID, Kind: protocol.EntityUnit,
		X: x, Y: y, HP: hp, MaxHP: hp, SubType: unitType,
	}.Encode())
	return u
}

// checkWaveCompletion implements §4.G step 5. Called once per tick while
// WaveActive.
func (s *Session) checkWaveCompletion() {
	if s.state != StateWaveActive || len(s.units) > 0 {
		return
	}
	perfect := s.waveUnitsLeaked == 0
	wave := s.currentWave

	for _, p := range s.players {
		p.Gold += waveCompletionGold
	}
	for _, t := range s.towers {
		s.addTowerXP(t.PlayerTowerID, "wave_clear", waveClearXP)
		if perfect {
			s.addTowerXP(t.PlayerTowerID, "perfect_wave", perfectWaveXP)
		}
	}

	if owner := s.firstPlayer(); owner != nil {
		s.rollWaveEndDrop(wave, perfect, owner)
	}

	s.publish(events.TypeWaveCompleted, map[string]string{
		"wave_number":  itoa32(wave),
		"units_killed": itoa32(s.waveUnitsKilled),
		"units_leaked": itoa32(s.waveUnitsLeaked),
		"is_perfect":   btoa(perfect),
	})
	s.flushTowerXP()

	s.sender.Broadcast(s.peerIDs(), protocol.TypeWaveEnd, protocol.WaveEnd{
		WaveNumber: wave, Success: true, BonusGold: waveCompletionGold,
	}.Encode())

	s.state = StatePreparation
	s.prepTimer = PreparationDelay.Seconds()
}

func (s *Session) firstPlayer() *Player {
	for _, p := range s.players {
		return p
	}
	return nil
}
