package game

import (
	"strconv"
	"strings"
	"time"

	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// AcceptPacket is the session's single router-facing entry point (§4.G: 1.
// AcceptPacket). It decodes, validates against session state, and either
// applies a packet immediately (pure reads, chat, ready) or defers to a
// dedicated handler for the multi-step build/collect paths.
func (s *Session) AcceptPacket(peerID uint64, packetType protocol.Type, payload []byte) {
	if s.state == StateGameOver {
		return
	}
	switch packetType {
	case protocol.TypeReadyState:
		if req, err := protocol.DecodeReadyState(payload); err == nil {
			s.handleReadyState(peerID, req)
		}
	case protocol.TypeChatMessage:
		if req, err := protocol.DecodeChatMessage(payload); err == nil {
			s.handleChatMessage(peerID, req)
		}
	case protocol.TypeTowerBuild:
		if req, err := protocol.DecodeTowerBuild(payload); err == nil {
			s.handleTowerBuild(peerID, req)
		}
	case protocol.TypeTowerUpgrade:
		if req, err := protocol.DecodeTowerUpgrade(payload); err == nil {
			s.handleTowerUpgrade(peerID, req)
		}
	case protocol.TypeTowerSell:
		if req, err := protocol.DecodeTowerSell(payload); err == nil {
			s.handleTowerSell(peerID, req)
		}
	case protocol.TypeItemCollect:
		if req, err := protocol.DecodeItemCollect(payload); err == nil {
			s.handleItemCollect(peerID, req)
		}
	case protocol.TypePlayerInput:
		if req, err := protocol.DecodePlayerInput(payload); err == nil {
			s.handlePlayerInput(peerID, req)
		}
	case protocol.TypeAbilityUse:
		if req, err := protocol.DecodeAbilityUse(payload); err == nil {
			s.handleAbilityUse(peerID, req)
		}
	}
}

func (s *Session) handleReadyState(peerID uint64, req protocol.ReadyState) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	s.players[pid].IsReady = req.IsReady
	if s.state != StateWaitingForPlayers {
		return
	}
	for _, p := range s.players {
		if !p.IsReady {
			return
		}
	}
	s.startMatch()
}

// startMatch implements the WaitingForPlayers -> Preparation transition.
func (s *Session) startMatch() {
	s.state = StatePreparation
	s.startedAt = time.Now()
	s.prepTimer = PreparationDelay.Seconds()

	s.sender.Broadcast(s.peerIDs(), protocol.TypeMatchStart, protocol.MatchStart{
		MatchID: s.MatchID, TickRate: protocol.TickRate,
	}.Encode())

	ids := make([]string, 0, len(s.players))
	for _, p := range s.players {
		ids = append(ids, strconv.FormatUint(uint64(p.PlayerID), 10))
	}
	s.publish(events.TypeMatchStarted, map[string]string{
		"mode":       strconv.Itoa(int(s.Mode)),
		"player_ids": strings.Join(ids, ","),
		"map_id":     s.MapID,
	})
}

func (s *Session) handleChatMessage(peerID uint64, req protocol.ChatMessage) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	s.sender.Broadcast(s.peerIDs(), protocol.TypeChatBroadcast, protocol.ChatBroadcast{
		Channel: req.Channel, FromPlayerID: pid, Text: req.Text,
	}.Encode())
}

func (s *Session) handlePlayerInput(peerID uint64, req protocol.PlayerInput) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	s.players[pid].LastProcessedInputSequence = req.Sequence
	s.sender.Send(peerID, protocol.TypePlayerInputAck, protocol.PlayerInputAck{
		LastProcessedSequence: req.Sequence,
	}.Encode())
}

func (s *Session) handleAbilityUse(peerID uint64, req protocol.AbilityUse) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	s.publish(events.TypeAbilityUsed, map[string]string{
		"player_id": utoa32(pid), "ability_type": req.Ability,
		"target_x": ftoa(req.TargetX), "target_y": ftoa(req.TargetY),
	})
}

// Update runs the per-tick simulation steps in the order given in §4.G.
// While paused, only the pending-actions drain still runs, so a build
// started before the pause still completes.
func (s *Session) Update(dt float64) {
	if s.state == StateGameOver {
		return
	}
	for _, action := range s.drainPending() {
		action(s)
	}
	if s.isPaused {
		s.checkDisconnectGrace()
		return
	}

	switch s.state {
	case StatePreparation:
		if s.prepTimer >= 0 {
			s.prepTimer -= dt
			if s.prepTimer <= 0 {
				s.startWave(s.currentWave + 1)
			}
		}
	case StateWaveActive:
		s.updateUnits(dt)
		s.updateTowers(dt)
		s.processLeaks()
		if s.state == StateGameOver {
			return
		}
		s.checkWaveCompletion()
	}
}

// checkDisconnectGrace force-ends a session whose players have all
// disconnected once the grace countdown (open question #2) elapses.
func (s *Session) checkDisconnectGrace() {
	if s.disconnectGraceDeadline == nil {
		return
	}
	if s.currentTick >= *s.disconnectGraceDeadline {
		s.ForceEnd(protocol.MatchResultDefeat)
	}
}

// Tick advances the tick counter and, while unpaused, broadcasts the
// unreliable entity-delta update every BroadcastEveryNTicks ticks (§4.G
// step 6) and a full StateSnapshot every SnapshotEveryNTicks ticks so a
// client that lost EntityUpdate datagrams converges back to the
// authoritative state.
func (s *Session) Tick() {
	s.currentTick++
	if s.state == StateGameOver || s.isPaused {
		return
	}
	if s.currentTick%SnapshotEveryNTicks == 0 {
		s.broadcastSnapshot()
		return
	}
	if s.currentTick%BroadcastEveryNTicks != 0 {
		return
	}
	if len(s.units) == 0 {
		return
	}
	deltas := make([]protocol.EntityDelta, 0, len(s.units))
	for id, u := range s.units {
		deltas = append(deltas, protocol.EntityDelta{
			EntityID: id,
			Flags:    protocol.DeltaPosition | protocol.DeltaHealth,
			X:        u.X, Y: u.Y, HP: u.HP,
		})
	}
	s.sender.Broadcast(s.peerIDs(), protocol.TypeEntityUpdate, protocol.EntityUpdate{
		Tick: s.currentTick, Deltas: deltas,
	}.Encode())
}

func (s *Session) broadcastSnapshot() {
	entities := make([]protocol.EntitySpawn, 0, len(s.towers)+len(s.units)+len(s.drops))
	for id, t := range s.towers {
		x, y := cellCentre(t.GX, t.GY)
		entities = append(entities, protocol.EntitySpawn{
			Tick: s.currentTick, EntityID: id, Kind: protocol.EntityTower,
			X: x, Y: y, HP: t.HP, MaxHP: t.MaxHP,
			OwnerPlayerID: t.OwnerPlayerID, SubType: t.TowerType,
		})
	}
	for id, u := range s.units {
		entities = append(entities, protocol.EntitySpawn{
			Tick: s.currentTick, EntityID: id, Kind: protocol.EntityUnit,
			X: u.X, Y: u.Y, HP: u.HP, MaxHP: u.MaxHP, SubType: u.UnitType,
		})
	}
	for id, d := range s.drops {
		entities = append(entities, protocol.EntitySpawn{
			Tick: s.currentTick, EntityID: id, Kind: protocol.EntityItemDrop,
			X: d.X, Y: d.Y, OwnerPlayerID: d.OwnerPlayerID, SubType: d.ItemType,
		})
	}
	players := make([]protocol.PlayerSnapshot, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, protocol.PlayerSnapshot{
			PlayerID: p.PlayerID, Gold: p.Gold, Lives: p.Lives, Score: p.Score,
		})
	}
	s.sender.Broadcast(s.peerIDs(), protocol.TypeStateSnapshot, protocol.StateSnapshot{
		Tick: s.currentTick, Entities: entities, Players: players,
	}.Encode())
}
