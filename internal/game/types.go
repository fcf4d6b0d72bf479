// Package game implements the session tick core (§4.F, §4.G): the
// fixed-step simulation that owns towers, units, and item drops for one
// match. Combat formulas are adapted from the teacher's
// internal/game/combat package (damage.go, drop.go, experience.go);
// the session/state-machine shape draws on NP-Dat's game_session.go.
package game

import (
	"github.com/google/uuid"
)

// Mode is the session's matchmaking mode (§3 Session). Only Solo is
// actually playable in this core; Coop/PvP are named for forward
// compatibility with the matchmaking gateway's RequestMatch{mode}.
type Mode uint8

const (
	ModeSolo Mode = iota
	ModeCoop
	ModePvP
)

// State is the session-level state machine (§4.G).
type State int32

const (
	StateWaitingForPlayers State = iota
	StatePreparation
	StateWaveActive
	StateGameOver
)

func (s State) String() string {
	switch s {
	case StateWaitingForPlayers:
		return "WaitingForPlayers"
	case StatePreparation:
		return "Preparation"
	case StateWaveActive:
		return "WaveActive"
	case StateGameOver:
		return "GameOver"
	default:
		return "Unknown"
	}
}

// Rarity scales a unit's or item's power and reward multipliers.
type Rarity uint8

const (
	RarityNormal Rarity = iota
	RarityMagic
	RarityRare
)

func (r Rarity) String() string {
	switch r {
	case RarityMagic:
		return "Magic"
	case RarityRare:
		return "Rare"
	default:
		return "Normal"
	}
}

// Modifier is a unit's bitset of special traits (§3 Unit).
type Modifier uint16

const (
	ModPhysRes Modifier = 1 << iota
	ModFireRes
	ModColdRes
	ModLightningRes
	ModPoisonRes
	ModSwift
	ModHasted
	ModTough
	ModArmored
	ModRegenerating
	ModShielded
	ModVampiric
	ModExplosive
	ModSplitting
)

// DamageType tags a tower's resolved attack, used to look up a unit's
// elemental resistance.
type DamageType uint8

const (
	DamagePhysical DamageType = iota
	DamageFire
	DamageCold
	DamageLightning
	DamageChaos // resisted by PoisonRes, per §4.G damage calc note
)

// EntityKind discriminates what a given entity_id names (§3: "entity_id is
// unique and monotonic within the session").
type EntityKind uint8

const (
	KindTower EntityKind = iota
	KindUnit
	KindItemDrop
)

// Player is per-peer state inside a session (§3 Player).
type Player struct {
	PlayerID    uint32
	PeerID      uint64
	UserID      uuid.UUID
	CharacterID uuid.UUID

	Gold    int32
	Lives   int32
	Score   int32
	TeamID  uint8
	IsReady bool

	LastProcessedInputSequence uint32
	Disconnected               bool

	// PurchaseCount tracks per-player-tower build counts for the dynamic
	// cost formula in §4.G's build path.
	PurchaseCount map[uuid.UUID]int32
}

// Tower is a placed, permanent (until sold/destroyed) entity (§3 Tower).
type Tower struct {
	EntityID      uint32
	PlayerTowerID uuid.UUID
	OwnerPlayerID uint32
	OwnerUserID   uuid.UUID

	GX, GY    int32
	TowerType string

	HP, MaxHP      int32
	UpgradeLevel   int32
	AttackCooldown float64

	Damage         float64
	Range          float64
	AttackSpeed    float64
	DamageType     DamageType
	SplashRadius   float64
	SlowAmount     float64
	SlowDuration   float64
	CritChance     float64
	CritMultiplier float64

	HitsMultiple bool
	MaxTargets   int
	IsProjectile bool

	GoldFindPercent float64
	XPGainPercent   float64
}

// Unit is a wave-spawned entity that walks the fixed lane (§3 Unit).
type Unit struct {
	EntityID  uint32
	UnitType  string
	Rarity    Rarity
	Modifiers Modifier
	IsBoss    bool

	X, Y         float64
	Direction    float64
	Speed        float64
	BaseSpeed    float64
	HP, MaxHP    int32
	ShieldActive bool
	LivesCost    int32
}

func (u *Unit) hasModifier(m Modifier) bool { return u.Modifiers&m != 0 }

// ItemDrop is a transient pickup created on kill (§3 ItemDrop).
type ItemDrop struct {
	EntityID      uint32
	DropID        uint32
	X, Y          float64
	ItemType      string
	Rarity        Rarity
	ItemLevel     int32
	OwnerPlayerID uint32
	OwnerUserID   uuid.UUID
	IsCollected   bool
}

