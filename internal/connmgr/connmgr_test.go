package connmgr

import (
	"testing"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/protocol"
)

func TestStateMachineTransitions(t *testing.T) {
	m := NewManager()
	p := m.Register(1)
	if p.State != StateUnauthenticated {
		t.Fatalf("initial state = %v, want Unauthenticated", p.State)
	}

	uid, cid := uuid.New(), uuid.New()
	if !m.Authenticate(1, uid, cid) {
		t.Fatal("Authenticate should succeed from Unauthenticated")
	}
	if p.State != StateLobby {
		t.Errorf("state after auth = %v, want Lobby", p.State)
	}
	if m.Authenticate(1, uid, cid) {
		t.Error("Authenticate should not succeed twice")
	}

	matchID := uuid.New()
	if !m.EnterSession(1, matchID) {
		t.Fatal("EnterSession should succeed from Lobby")
	}
	if p.State != StateInGame || !p.HasSession() {
		t.Errorf("state after EnterSession = %v, hasSession=%v", p.State, p.HasSession())
	}

	if !m.ReturnToLobby(1) {
		t.Fatal("ReturnToLobby should succeed from InGame")
	}
	if p.State != StateLobby || p.HasSession() {
		t.Errorf("state after ReturnToLobby = %v, hasSession=%v", p.State, p.HasSession())
	}
}

func TestEnterSessionRejectedFromWrongState(t *testing.T) {
	m := NewManager()
	m.Register(1)
	if m.EnterSession(1, uuid.New()) {
		t.Error("EnterSession should fail from Unauthenticated")
	}
}

func TestAllowedGatesPacketsByState(t *testing.T) {
	cases := []struct {
		state State
		pt    protocol.Type
		want  bool
	}{
		{StateUnauthenticated, protocol.TypeConnect, true},
		{StateUnauthenticated, protocol.TypeRequestMatch, false},
		{StateLobby, protocol.TypeRequestMatch, true},
		{StateLobby, protocol.TypeTowerBuild, false},
		{StateInGame, protocol.TypeTowerBuild, true},
		{StateInGame, protocol.TypeRequestMatch, true},
	}
	for _, c := range cases {
		got := Allowed(c.state, c.pt)
		if got != c.want {
			t.Errorf("Allowed(%v, %v) = %v, want %v", c.state, c.pt, got, c.want)
		}
	}
}

func TestUnregisterRemovesPeer(t *testing.T) {
	m := NewManager()
	m.Register(1)
	m.Unregister(1)
	if _, ok := m.Get(1); ok {
		t.Error("expected peer to be gone after Unregister")
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
}

func TestAllowRateLimitsUnknownPeer(t *testing.T) {
	m := NewManager()
	if m.Allow(999) {
		t.Error("Allow should return false for an unregistered peer")
	}
}

func TestAllowBudgetExhausts(t *testing.T) {
	m := NewManager()
	m.Register(1)
	allowed := 0
	for i := 0; i < RateBurst+10; i++ {
		if m.Allow(1) {
			allowed++
		}
	}
	if allowed > RateBurst {
		t.Errorf("allowed %d requests, want <= burst %d", allowed, RateBurst)
	}
	if allowed == 0 {
		t.Error("expected at least some requests to be allowed")
	}
}
