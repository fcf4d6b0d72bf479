package session

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/bonus"
	"github.com/towerwars/zoneserver/internal/connmgr"
	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/game"
	"github.com/towerwars/zoneserver/internal/protocol"
)

type noopSender struct{}

func (noopSender) Send(uint64, protocol.Type, []byte) error       { return nil }
func (noopSender) Broadcast([]uint64, protocol.Type, []byte) {}

type noopEvents struct{}

func (noopEvents) Publish(events.Event) {}

type noopBonus struct{}

func (noopBonus) Resolve(context.Context, uuid.UUID, string) (bonus.Resolution, error) {
	return bonus.Resolution{}, nil
}

func newTestManager() (*Manager, *connmgr.Manager) {
	conns := connmgr.NewManager()
	m := NewManager(noopSender{}, noopEvents{}, noopBonus{}, conns)
	return m, conns
}

func TestRequestMatchCreatesSessionAndEntersPeer(t *testing.T) {
	m, conns := newTestManager()
	peer := conns.Register(1)
	conns.Authenticate(1, uuid.New(), uuid.New())

	matchID, err := m.RequestMatch(1, game.ModeSolo)
	if err != nil {
		t.Fatalf("RequestMatch failed: %v", err)
	}
	if peer.State != connmgr.StateInGame {
		t.Errorf("peer state = %v, want InGame", peer.State)
	}
	if !peer.HasSession() || peer.CurrentSessionID != matchID {
		t.Error("peer should be bound to the newly created session")
	}
	if _, ok := m.SessionOf(1); !ok {
		t.Error("manager should resolve the peer's session")
	}
}

func TestRequestMatchRejectsPeerAlreadyInSession(t *testing.T) {
	m, conns := newTestManager()
	conns.Register(1)
	conns.Authenticate(1, uuid.New(), uuid.New())
	if _, err := m.RequestMatch(1, game.ModeSolo); err != nil {
		t.Fatalf("first RequestMatch failed: %v", err)
	}
	if _, err := m.RequestMatch(1, game.ModeSolo); err == nil {
		t.Error("a second RequestMatch for an in-session peer must fail")
	}
}

func TestSessionEndReturnsPeerToLobby(t *testing.T) {
	m, conns := newTestManager()
	conns.Register(1)
	conns.Authenticate(1, uuid.New(), uuid.New())
	matchID, err := m.RequestMatch(1, game.ModeSolo)
	if err != nil {
		t.Fatalf("RequestMatch failed: %v", err)
	}
	sess, ok := m.SessionOf(1)
	if !ok {
		t.Fatal("expected session for peer 1")
	}

	sess.ForceEnd(protocol.MatchResultVictory)

	if _, ok := m.SessionOf(1); ok {
		t.Error("session should be unbound from the peer after it ends")
	}
	peer, _ := conns.Get(1)
	if peer.State != connmgr.StateLobby {
		t.Errorf("peer state = %v, want Lobby after session end", peer.State)
	}
	if m.Count() != 0 {
		t.Error("ended session should be removed from the manager")
	}
	_ = matchID
}

func TestDispatchRoutesToOwningSession(t *testing.T) {
	m, conns := newTestManager()
	conns.Register(1)
	conns.Authenticate(1, uuid.New(), uuid.New())
	m.RequestMatch(1, game.ModeSolo)

	if !m.Dispatch(1, protocol.TypeReadyState, protocol.ReadyState{IsReady: true}.Encode()) {
		t.Fatal("Dispatch should find the peer's session")
	}
	sess, _ := m.SessionOf(1)
	if sess.State() != game.StatePreparation {
		t.Errorf("state = %v, want Preparation after ready from the sole player", sess.State())
	}
}

func TestShutdownForceEndsActiveSessions(t *testing.T) {
	m, conns := newTestManager()
	conns.Register(1)
	conns.Authenticate(1, uuid.New(), uuid.New())
	if _, err := m.RequestMatch(1, game.ModeSolo); err != nil {
		t.Fatalf("RequestMatch failed: %v", err)
	}

	m.Shutdown()

	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after Shutdown", m.Count())
	}
	peer, _ := conns.Get(1)
	if peer.State != connmgr.StateLobby {
		t.Errorf("peer state = %v, want Lobby after Shutdown", peer.State)
	}
}

func TestDispatchReturnsFalseForUnknownPeer(t *testing.T) {
	m, _ := newTestManager()
	if m.Dispatch(999, protocol.TypeReadyState, nil) {
		t.Error("Dispatch should report false for a peer with no session")
	}
}
