// Package connmgr owns the peer registry and enforces the peer state
// machine (§4.D). It is grounded on the teacher's internal/gameserver
// ClientManager (RWMutex-guarded maps, ForEachClient-style iteration) and
// types.go's ClientConnectionState enum, generalized from the teacher's
// Lineage II login/character-select states to TowerWars' three-state
// Unauthenticated → Lobby → InGame machine.
package connmgr

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/towerwars/zoneserver/internal/protocol"
)

// State is a peer's position in the connection state machine. Transitions
// are monotonic except on disconnect, which removes the peer entirely
// (§3 Peer invariant).
type State int32

const (
	StateUnauthenticated State = iota
	StateLobby
	StateInGame
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateLobby:
		return "Lobby"
	case StateInGame:
		return "InGame"
	default:
		return "Unknown"
	}
}

// Peer is one UDP endpoint tracked by the connection manager.
type Peer struct {
	ID    uint64
	State State

	UserID      uuid.UUID
	CharacterID uuid.UUID

	CurrentSessionID uuid.UUID
	hasSession       bool

	limiter *rate.Limiter
}

// HasSession reports whether the peer is currently bound to a session
// (equivalently: State == StateInGame).
func (p *Peer) HasSession() bool { return p.hasSession }

// RatePerSecond and RateBurst bound the per-peer packet budget (flood
// protection), grounded on the teacher's config.FloodProtection fields and
// wired to golang.org/x/time/rate, the pack's own rate-limiting dependency.
const (
	RatePerSecond = 60
	RateBurst     = 120
)

// Manager is the peer registry. All mutating operations are guarded by a
// single RWMutex held only for short, constant-time work, per §5's
// "peer registry ... held only for short constant-time operations" rule.
type Manager struct {
	mu    sync.RWMutex
	peers map[uint64]*Peer
}

func NewManager() *Manager {
	return &Manager{peers: make(map[uint64]*Peer)}
}

// Register adds a newly transport-connected peer in StateUnauthenticated.
func (m *Manager) Register(peerID uint64) *Peer {
	p := &Peer{
		ID:      peerID,
		State:   StateUnauthenticated,
		limiter: rate.NewLimiter(rate.Limit(RatePerSecond), RateBurst),
	}
	m.mu.Lock()
	m.peers[peerID] = p
	m.mu.Unlock()
	return p
}

// Unregister removes a peer, e.g. on transport disconnect.
func (m *Manager) Unregister(peerID uint64) {
	m.mu.Lock()
	delete(m.peers, peerID)
	m.mu.Unlock()
}

// Get returns the peer, if still registered.
func (m *Manager) Get(peerID uint64) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[peerID]
	return p, ok
}

// Authenticate transitions a peer Unauthenticated → Lobby on successful
// token validation (§4.D).
func (m *Manager) Authenticate(peerID uint64, userID, characterID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	if !ok || p.State != StateUnauthenticated {
		return false
	}
	p.UserID = userID
	p.CharacterID = characterID
	p.State = StateLobby
	return true
}

// EnterSession transitions a peer Lobby → InGame once the session manager
// has accepted the join (§4.D, §4.F "join is atomic").
func (m *Manager) EnterSession(peerID uint64, matchID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	if !ok || p.State != StateLobby {
		return false
	}
	p.State = StateInGame
	p.CurrentSessionID = matchID
	p.hasSession = true
	return true
}

// ReturnToLobby transitions a peer InGame → Lobby on session end.
func (m *Manager) ReturnToLobby(peerID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[peerID]
	if !ok || p.State != StateInGame {
		return false
	}
	p.State = StateLobby
	p.hasSession = false
	p.CurrentSessionID = uuid.Nil
	return true
}

// Allowed reports whether packetType may be accepted from a peer in the
// given state, per the §4.D class table.
func Allowed(state State, packetType protocol.Type) bool {
	switch protocol.ClassOf(packetType) {
	case protocol.ClassAny:
		return true
	case protocol.ClassLobbyOrGame:
		return state == StateLobby || state == StateInGame
	case protocol.ClassGameOnly:
		return state == StateInGame
	default:
		return false
	}
}

// Allow consumes one token from peerID's flood-protection budget. A peer
// that exceeds its budget has its packet dropped, not disconnected —
// disconnection is reserved for protocol violations, not load shedding.
func (m *Manager) Allow(peerID uint64) bool {
	m.mu.RLock()
	p, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return p.limiter.Allow()
}

// ForEach calls fn for every currently registered peer. fn must not call
// back into the Manager.
func (m *Manager) ForEach(fn func(*Peer)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.peers {
		fn(p)
	}
}

// Count returns the number of registered peers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
