// Package session owns the match_id/peer_id bookkeeping layer above
// game.Session (§4.F). It is grounded on the teacher's
// internal/gameserver world registry pattern (a RWMutex-guarded map of
// active instances plus a reverse index from client to instance), here
// generalized from Lineage II's world/instance split to TowerWars' single
// active-match-per-peer model.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/bonus"
	"github.com/towerwars/zoneserver/internal/connmgr"
	"github.com/towerwars/zoneserver/internal/game"
	"github.com/towerwars/zoneserver/internal/protocol"
)

// Manager holds every active match and the peer→match index (§4.F). Join
// is atomic: EnterSession only flips the peer's connmgr state after the
// session has accepted the player.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*game.Session
	byPeer   map[uint64]uuid.UUID

	sender   game.PacketSender
	events   game.EventSink
	bonuses  bonus.Provider
	connMgr  *connmgr.Manager
}

// NewManager wires the session manager to the shared transport, event
// bus, bonus provider, and peer registry.
func NewManager(sender game.PacketSender, events game.EventSink, bonuses bonus.Provider, connMgr *connmgr.Manager) *Manager {
	return &Manager{
		sessions: make(map[uuid.UUID]*game.Session),
		byPeer:   make(map[uint64]uuid.UUID),
		sender:   sender,
		events:   events,
		bonuses:  bonuses,
		connMgr:  connMgr,
	}
}

// RequestMatch handles a Lobby peer's RequestMatch (§4.F). Stub
// matchmaking: every request mints a fresh session of the requested mode
// holding only this peer; requests are never pooled into a shared session.
func (m *Manager) RequestMatch(peerID uint64, mode game.Mode) (matchID uuid.UUID, err error) {
	peer, ok := m.connMgr.Get(peerID)
	if !ok {
		return uuid.Nil, fmt.Errorf("peer %d not registered", peerID)
	}
	if peer.HasSession() {
		return uuid.Nil, fmt.Errorf("peer %d already in a session", peerID)
	}

	matchID = uuid.New()
	sess := game.NewSession(matchID, mode, randSeed(), randSeed(), m.sender, m.events, m.bonuses)
	sess.OnSessionEnded = m.handleSessionEnded

	if _, ok := sess.Join(peerID, peer.UserID, peer.CharacterID); !ok {
		return uuid.Nil, fmt.Errorf("session refused join for peer %d", peerID)
	}

	if !m.connMgr.EnterSession(peerID, matchID) {
		return uuid.Nil, fmt.Errorf("peer %d no longer eligible to enter session", peerID)
	}

	m.mu.Lock()
	m.sessions[matchID] = sess
	m.byPeer[peerID] = matchID
	m.mu.Unlock()

	return matchID, nil
}

// Dispatch routes an in-game packet to the peer's session, if any.
func (m *Manager) Dispatch(peerID uint64, packetType protocol.Type, payload []byte) bool {
	sess, ok := m.sessionFor(peerID)
	if !ok {
		return false
	}
	sess.AcceptPacket(peerID, packetType, payload)
	return true
}

// Disconnect removes a peer from its session on transport disconnect. The
// session itself decides whether zero connected players means an
// immediate pause-and-grace-countdown (§4.G) rather than ending outright;
// the manager only tears down its own bookkeeping once the session
// actually ends, via handleSessionEnded.
func (m *Manager) Disconnect(peerID uint64) {
	sess, ok := m.sessionFor(peerID)
	if !ok {
		return
	}
	sess.Leave(peerID)
}

// SessionOf returns the session a peer is currently bound to, if any.
func (m *Manager) SessionOf(peerID uint64) (*game.Session, bool) {
	return m.sessionFor(peerID)
}

func (m *Manager) sessionFor(peerID uint64) (*game.Session, bool) {
	m.mu.RLock()
	matchID, ok := m.byPeer[peerID]
	if !ok {
		m.mu.RUnlock()
		return nil, false
	}
	sess, ok := m.sessions[matchID]
	m.mu.RUnlock()
	return sess, ok
}

// ForEachActive calls fn for every session not yet in GameOver, for the
// scheduler's per-tick "for session in manager.active" loop (§4.J).
func (m *Manager) ForEachActive(fn func(*game.Session)) {
	m.mu.RLock()
	sessions := make([]*game.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.State() != game.StateGameOver {
			sessions = append(sessions, sess)
		}
	}
	m.mu.RUnlock()
	for _, sess := range sessions {
		fn(sess)
	}
}

// Count returns the number of sessions currently tracked, active or not
// yet reaped.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown force-ends every active session with a ServerShutdown result so
// each emits its match.ended before the process exits (§5 cancellation:
// "in-flight sessions emit match.ended{reason=ServerShutdown} if possible").
func (m *Manager) Shutdown() {
	m.ForEachActive(func(sess *game.Session) {
		sess.ForceEnd(protocol.MatchResultServerShutdown)
	})
}

// handleSessionEnded is game.Session's OnSessionEnded hook (§4.F "on
// session end, moves every remaining peer back to Lobby"). The session
// itself already broadcast MatchEnd/ReturnToLobby over the wire; this
// only updates connmgr state and the manager's own indices.
func (m *Manager) handleSessionEnded(sess *game.Session) {
	m.mu.Lock()
	delete(m.sessions, sess.MatchID)
	peerIDs := make([]uint64, 0)
	for peerID, matchID := range m.byPeer {
		if matchID == sess.MatchID {
			peerIDs = append(peerIDs, peerID)
		}
	}
	for _, peerID := range peerIDs {
		delete(m.byPeer, peerID)
	}
	m.mu.Unlock()

	for _, peerID := range peerIDs {
		m.connMgr.ReturnToLobby(peerID)
	}
}

// randSeed draws a session RNG seed from the OS CSPRNG. Only the seed is
// random; everything the seed feeds (game.Session.rng) is deterministic
// from that point on, preserving §9's reproducibility requirement.
func randSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(uuid.New().ID())
	}
	return binary.LittleEndian.Uint64(b[:])
}
