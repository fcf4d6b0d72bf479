package game

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/bonus"
	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// TickInterval is the fixed simulation step (§4.J: 20 Hz).
const TickInterval = time.Second / protocol.TickRate

// PreparationDelay is the fixed delay before MatchStart and before each
// subsequent wave auto-starts (§4.G).
const PreparationDelay = 5 * time.Second

// DisconnectGraceTicks bounds how long a fully-disconnected Solo session
// stays paused before being force-ended (open question #2: widened from
// the teacher's 15s combat-log grace to 30s since there's no combat-stance
// concept here).
const DisconnectGraceTicks = uint64(30 * protocol.TickRate)

// BroadcastEveryNTicks controls the unreliable EntityUpdate cadence
// (§4.G step 6).
const BroadcastEveryNTicks = 3

// SnapshotEveryNTicks controls how often a full StateSnapshot resync is
// broadcast in place of the delta update.
const SnapshotEveryNTicks = 60

// PacketSender is the capability a session needs to talk back to peers.
// Sessions never name the transport type directly (§9's two-phase wiring
// note) — *transport.Transport satisfies this interface structurally.
type PacketSender interface {
	Send(peerID uint64, packetType protocol.Type, payload []byte) error
	Broadcast(peerIDs []uint64, packetType protocol.Type, payload []byte)
}

// EventSink is the capability a session needs to publish domain events.
type EventSink interface {
	Publish(ev events.Event)
}

type pendingAction func(*Session)

// Session is one match: the heart of the system (§4.G). All mutation
// happens on the tick thread; the only cross-thread entry point is the
// pending-actions queue, fed by async bonus lookups.
type Session struct {
	MatchID uuid.UUID
	Mode    Mode
	MapID   string

	GridWidth  int32
	GridHeight int32
	PathRow    int32

	state       State
	currentTick uint64
	currentWave int32
	isPaused    bool
	pauseReason string

	prepTimer               float64 // seconds remaining, <0 means inactive
	disconnectGraceDeadline *uint64

	players      map[uint32]*Player
	playerByPeer map[uint64]uint32
	nextPlayerID uint32

	towers       map[uint32]*Tower
	units        map[uint32]*Unit
	drops        map[uint32]*ItemDrop
	occupied     map[[2]int32]uint32
	nextEntityID uint32
	nextDropID   uint32

	// collectedDrops tombstones a DropID once it has been resolved, so a
	// repeat ItemCollect after the entry is gone from drops still reports
	// ItemAlreadyCollected rather than ItemNotFound (§8 scenario 6).
	collectedDrops map[uint32]bool

	// towerXP accumulates pending XP per player-tower, bucketed by the
	// granting cause (kill, wave_clear, perfect_wave, match_complete,
	// victory) so
	// flushTowerXP can emit one correctly-sourced tower.xp_gained event per
	// cause instead of losing provenance in a single summed scalar.
	towerXP map[uuid.UUID]map[string]float64

	waveUnitsKilled int32
	waveUnitsLeaked int32
	startedAt       time.Time
	endedOnce       sync.Once
	ended           bool

	rng *rand.Rand

	sender   PacketSender
	eventBus EventSink
	bonuses  bonus.Provider

	pendingMu sync.Mutex
	pending   []pendingAction

	OnSessionEnded func(*Session)
}

// GridDimensions returns the width/height for a mode, per §4.G Placement.
func GridDimensions(mode Mode) (width, height int32) {
	if mode == ModeSolo {
		return 5, 10
	}
	return 20, 15
}

// mapIDForMode names the fixed lane layout a session plays on, for the
// match.started event's required MapId field (§6.3). TowerWars has no map
// selection yet: each mode maps onto its one grid layout.
func mapIDForMode(mode Mode) string {
	if mode == ModeSolo {
		return "solo-5x10"
	}
	return "standard-20x15"
}

// NewSession constructs a session in WaitingForPlayers. seed makes the
// simulation's randomness reproducible for tests (§9: "Randomness in the
// simulation must be a per-session seeded stream").
func NewSession(matchID uuid.UUID, mode Mode, seed1, seed2 uint64, sender PacketSender, eventBus EventSink, bonuses bonus.Provider) *Session {
	width, height := GridDimensions(mode)
	return &Session{
		MatchID:        matchID,
		Mode:           mode,
		MapID:          mapIDForMode(mode),
		GridWidth:      width,
		GridHeight:     height,
		PathRow:        height / 2,
		state:          StateWaitingForPlayers,
		prepTimer:      -1,
		players:        make(map[uint32]*Player),
		playerByPeer:   make(map[uint64]uint32),
		towers:         make(map[uint32]*Tower),
		units:          make(map[uint32]*Unit),
		drops:          make(map[uint32]*ItemDrop),
		occupied:       make(map[[2]int32]uint32),
		collectedDrops: make(map[uint32]bool),
		nextEntityID:   1,
		nextDropID:     1,
		towerXP:        make(map[uuid.UUID]map[string]float64),
		rng:            rand.New(rand.NewPCG(seed1, seed2)),
		sender:         sender,
		eventBus:       eventBus,
		bonuses:        bonuses,
		startedAt:      time.Time{},
	}
}

func (s *Session) State() State { return s.state }
func (s *Session) CurrentTick() uint64 { return s.currentTick }
func (s *Session) CurrentWave() int32 { return s.currentWave }
func (s *Session) IsPaused() bool { return s.isPaused }

// PlayerCount returns the number of players ever joined (disconnected or
// not); used by the session manager to decide force-end eligibility.
func (s *Session) PlayerCount() int { return len(s.players) }

func (s *Session) connectedPlayerCount() int {
	n := 0
	for _, p := range s.players {
		if !p.Disconnected {
			n++
		}
	}
	return n
}

func (s *Session) peerIDs() []uint64 {
	ids := make([]uint64, 0, len(s.players))
	for _, p := range s.players {
		ids = append(ids, p.PeerID)
	}
	return ids
}

// Join adds a peer as a new player. Solo sessions accept exactly one
// player; Coop/PvP sessions accept more (not otherwise bounded here).
func (s *Session) Join(peerID uint64, userID, characterID uuid.UUID) (playerID uint32, ok bool) {
	if s.state != StateWaitingForPlayers {
		return 0, false
	}
	if s.Mode == ModeSolo && len(s.players) >= 1 {
		return 0, false
	}
	s.nextPlayerID++
	pid := s.nextPlayerID
	s.players[pid] = &Player{
		PlayerID:      pid,
		PeerID:        peerID,
		UserID:        userID,
		CharacterID:   characterID,
		Gold:          startingGold,
		Lives:         startingLives,
		PurchaseCount: make(map[uuid.UUID]int32),
	}
	s.playerByPeer[peerID] = pid
	return pid, true
}

const (
	startingGold  = 10
	startingLives = 20
)

// Leave removes a peer from the session (transport disconnect while
// InGame). If every player has since disconnected, the session pauses and
// starts its force-end grace countdown rather than ending immediately, so
// a flaky connection doesn't instantly forfeit a Solo match.
func (s *Session) Leave(peerID uint64) {
	pid, ok := s.playerByPeer[peerID]
	if !ok {
		return
	}
	if p, ok := s.players[pid]; ok {
		p.Disconnected = true
	}
	if s.connectedPlayerCount() == 0 && s.state != StateGameOver {
		deadline := s.currentTick + DisconnectGraceTicks
		s.disconnectGraceDeadline = &deadline
		s.setPaused(true, "player disconnected")
	}
}

// SetPaused toggles the session's pause flag (§4.G Pause/resume). While
// paused, Update skips simulation (pending actions still drain) and Tick
// skips broadcasts. The change is broadcast via GamePause and mirrored as
// a game.paused / game.resumed event.
func (s *Session) SetPaused(paused bool, reason string) {
	if s.state == StateGameOver {
		return
	}
	s.setPaused(paused, reason)
}

func (s *Session) setPaused(paused bool, reason string) {
	if s.isPaused == paused {
		return
	}
	s.isPaused = paused
	s.pauseReason = reason
	payload := protocol.GamePause{IsPaused: paused, Reason: reason}.Encode()
	s.sender.Broadcast(s.peerIDs(), protocol.TypeGamePause, payload)
	evType := events.TypeGameResumed
	if paused {
		evType = events.TypeGamePaused
	}
	s.publish(evType, nil)
}

func (s *Session) publish(t events.Type, fields map[string]string) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(events.Event{Type: t, MatchID: s.MatchID, Timestamp: time.Now(), Fields: fields})
}

func (s *Session) enqueuePending(a pendingAction) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, a)
	s.pendingMu.Unlock()
}

func (s *Session) drainPending() []pendingAction {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	drained := s.pending
	s.pending = nil
	return drained
}

// ForceEnd externally terminates the session (§4.G/§8 scenario 8). Safe to
// call more than once; MatchEnd is emitted exactly once.
func (s *Session) ForceEnd(reason protocol.MatchResult) {
	s.endedOnce.Do(func() {
		s.state = StateGameOver
		s.ended = true
		duration := 0.0
		if !s.startedAt.IsZero() {
			duration = time.Since(s.startedAt).Seconds()
		}
		for _, t := range s.towers {
			s.addTowerXP(t.PlayerTowerID, "match_complete", matchCompleteXP)
			if reason == protocol.MatchResultVictory {
				s.addTowerXP(t.PlayerTowerID, "victory", victoryBonusXP)
			}
		}
		s.flushTowerXP()
		payload := protocol.MatchEnd{Result: reason, WavesCompleted: s.currentWave, DurationSeconds: duration}.Encode()
		s.sender.Broadcast(s.peerIDs(), protocol.TypeMatchEnd, payload)
		for _, peerID := range s.peerIDs() {
			s.sender.Send(peerID, protocol.TypeReturnToLobby, protocol.ReturnToLobby{}.Encode())
		}
		s.publish(events.TypeMatchEnded, map[string]string{
			"result":           reasonString(reason),
			"waves_completed":  itoa32(s.currentWave),
			"duration_seconds": ftoa(duration),
		})
		if s.OnSessionEnded != nil {
			s.OnSessionEnded(s)
		}
	})
}

func reasonString(r protocol.MatchResult) string {
	switch r {
	case protocol.MatchResultVictory:
		return "Victory"
	case protocol.MatchResultServerShutdown:
		return "ServerShutdown"
	default:
		return "Defeat"
	}
}

func (s *Session) nextID() uint32 {
	id := s.nextEntityID
	s.nextEntityID++
	return id
}

func (s *Session) sendError(peerID uint64, code protocol.ErrorCode, message string, requestID *uuid.UUID) {
	e := protocol.Error{Code: code, Message: message}
	if requestID != nil {
		e.HasRequestID = true
		e.RequestID = *requestID
	}
	if err := s.sender.Send(peerID, protocol.TypeError, e.Encode()); err != nil {
		slog.Debug("game: failed to send error", "peer", peerID, "code", code, "error", err)
	}
}
