package game

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// newItemID mints a collected item's identity from the session's seeded
// stream rather than a global UUID source, keeping match replay
// deterministic (§9).
func newItemID(rng *rand.Rand) uuid.UUID {
	var id uuid.UUID
	for i := 0; i < len(id); i += 8 {
		b := rng.Uint64()
		for j := 0; j < 8 && i+j < len(id); j++ {
			id[i+j] = byte(b >> (8 * j))
		}
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

var unitDropBaseChance = map[string]float64{
	"boss": 0.5,
	"tank": 0.15,
	"fast": 0.08,
}

const defaultUnitDropChance = 0.05

var rarityDropMult = map[Rarity]float64{RarityNormal: 1.0, RarityMagic: 2.0, RarityRare: 5.0}

func unitDropChance(u *Unit) float64 {
	base, ok := unitDropBaseChance[u.UnitType]
	if !ok {
		base = defaultUnitDropChance
	}
	return base * rarityDropMult[u.Rarity]
}

// rollUnitDrop implements §4.G Kill pipeline step 4.
func (s *Session) rollUnitDrop(u *Unit, killer *Tower, owner *Player) {
	if s.rng.Float64() >= unitDropChance(u) {
		return
	}
	rarity := s.rollItemRarity()
	s.spawnItemDrop(u.X, u.Y, rarity, owner, "kill")
}

const (
	waveEndDropBaseChance = 0.1
	waveEndDropScaling    = 0.03
)

// rollWaveEndDrop implements the "End of wave" item-drop rule (§4.G).
// Perfect waves guarantee a drop with at least Magic rarity.
func (s *Session) rollWaveEndDrop(wave int32, perfect bool, owner *Player) {
	chance := waveEndDropBaseChance + float64(wave-1)*waveEndDropScaling
	if !perfect && s.rng.Float64() >= chance {
		return
	}
	rarity := s.rollItemRarity()
	if perfect && rarity == RarityNormal {
		rarity = RarityMagic
	}
	cx, cy := cellCentre(0, s.PathRow)
	s.spawnItemDrop(cx, cy, rarity, owner, "wave_end")
}

func (s *Session) rollItemRarity() Rarity {
	roll := s.rng.Float64()
	switch {
	case roll < 0.05:
		return RarityRare
	case roll < 0.25:
		return RarityMagic
	default:
		return RarityNormal
	}
}

var itemTypesByRarity = map[Rarity][]string{
	RarityNormal: {"Iron Charm", "Worn Gauntlet", "Simple Band"},
	RarityMagic:  {"Glowing Sigil", "Arcane Lens", "Warded Core"},
	RarityRare:   {"Phoenix Core", "Voidforged Sigil", "Titan Heart"},
}

func (s *Session) rollItemName(rarity Rarity) string {
	names := itemTypesByRarity[rarity]
	return names[s.rng.IntN(len(names))]
}

func (s *Session) spawnItemDrop(x, y float64, rarity Rarity, owner *Player, source string) {
	entityID := s.nextID()
	dropID := s.nextDropID
	s.nextDropID++
	itemType := s.rollItemName(rarity)

	drop := &ItemDrop{
		EntityID: entityID, DropID: dropID, X: x, Y: y,
		ItemType: itemType, Rarity: rarity, ItemLevel: 1,
	}
	if owner != nil {
		drop.OwnerPlayerID = owner.PlayerID
		drop.OwnerUserID = owner.UserID
	}
	s.drops[entityID] = drop

	s.sender.Broadcast(s.peerIDs(), protocol.TypeItemDrop, protocol.ItemDrop{
		DropID: dropID, X: x, Y: y, ItemType: itemType, Rarity: uint8(rarity),
		ItemLevel: drop.ItemLevel, OwnerPlayerID: drop.OwnerPlayerID,
	}.Encode())

	var playerID uint32
	if owner != nil {
		playerID = owner.PlayerID
	}
	s.publish(events.TypeItemDropped, map[string]string{
		"player_id": utoa32(playerID), "rarity": rarity.String(), "item_type": itemType, "source": source,
	})
}

func (s *Session) dropByID(dropID uint32) *ItemDrop {
	for _, d := range s.drops {
		if d.DropID == dropID {
			return d
		}
	}
	return nil
}

// handleItemCollect implements §4.G ItemCollect. collectedDrops keeps a
// tombstone of every DropID removed from the live entity map so a repeat
// collect of an already-resolved drop returns ItemAlreadyCollected rather
// than falling through to ItemNotFound (§8 scenario 6).
func (s *Session) handleItemCollect(peerID uint64, req protocol.ItemCollect) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	if s.collectedDrops[req.DropID] {
		s.sender.Send(peerID, protocol.TypeItemCollectAck, protocol.ItemCollectAck{Success: false, Error: protocol.ErrItemAlreadyCollected.String()}.Encode())
		return
	}
	drop := s.dropByID(req.DropID)
	if drop == nil {
		s.sender.Send(peerID, protocol.TypeItemCollectAck, protocol.ItemCollectAck{Success: false, Error: protocol.ErrItemNotFound.String()}.Encode())
		return
	}
	if drop.OwnerPlayerID != pid {
		s.sender.Send(peerID, protocol.TypeItemCollectAck, protocol.ItemCollectAck{Success: false, Error: protocol.ErrNotItemOwner.String()}.Encode())
		return
	}

	drop.IsCollected = true
	s.collectedDrops[req.DropID] = true
	itemID := newItemID(s.rng)
	delete(s.drops, drop.EntityID)

	s.sender.Send(peerID, protocol.TypeItemCollectAck, protocol.ItemCollectAck{Success: true, ItemID: itemID}.Encode())
	s.publish(events.TypeItemCollected, map[string]string{
		"player_id": utoa32(pid), "item_id": itemID.String(), "drop_id": utoa32(drop.DropID),
		"item_type": drop.ItemType, "rarity": drop.Rarity.String(), "item_level": itoa32(drop.ItemLevel),
		"name": drop.ItemType,
	})
}
