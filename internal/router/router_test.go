package router

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/towerwars/zoneserver/internal/bonus"
	"github.com/towerwars/zoneserver/internal/connmgr"
	"github.com/towerwars/zoneserver/internal/events"
	"github.com/towerwars/zoneserver/internal/protocol"
	"github.com/towerwars/zoneserver/internal/session"
	"github.com/towerwars/zoneserver/internal/token"
	"github.com/towerwars/zoneserver/internal/transport"
)

type fakeSender struct {
	sent         []sentPacket
	disconnected []transport.DisconnectReason
}

type sentPacket struct {
	peerID uint64
	typ    protocol.Type
	payload []byte
}

func (f *fakeSender) Send(peerID uint64, packetType protocol.Type, payload []byte) error {
	f.sent = append(f.sent, sentPacket{peerID, packetType, payload})
	return nil
}

func (f *fakeSender) Broadcast(peerIDs []uint64, packetType protocol.Type, payload []byte) {
	for _, id := range peerIDs {
		f.sent = append(f.sent, sentPacket{id, packetType, payload})
	}
}

func (f *fakeSender) Disconnect(_ uint64, reason transport.DisconnectReason) {
	f.disconnected = append(f.disconnected, reason)
}

func (f *fakeSender) lastOfType(t protocol.Type) (sentPacket, bool) {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].typ == t {
			return f.sent[i], true
		}
	}
	return sentPacket{}, false
}

// fakeValidator resolves a fixed set of valid tokens, grounded on the
// read-through contract §4.C describes: it never mutates, it only answers
// valid-or-not.
type fakeValidator struct {
	valid map[string]token.Claims
}

func (f *fakeValidator) Validate(_ context.Context, t string) (token.Claims, error) {
	if claims, ok := f.valid[t]; ok {
		return claims, nil
	}
	return token.Claims{}, token.ErrInvalid
}

type noopEvents struct{}

func (noopEvents) Publish(events.Event) {}

type noopBonus struct{}

func (noopBonus) Resolve(context.Context, uuid.UUID, string) (bonus.Resolution, error) {
	return bonus.Resolution{}, nil
}

func newTestRouter(valid map[string]token.Claims) (*Router, *fakeSender, *connmgr.Manager) {
	sender := &fakeSender{}
	validator := &fakeValidator{valid: valid}
	conns := connmgr.NewManager()
	sessions := session.NewManager(sender, noopEvents{}, noopBonus{}, conns)
	r := New(sender, validator, conns, sessions)
	return r, sender, conns
}

func TestHappyJoinAuthenticatesPeer(t *testing.T) {
	claims := token.Claims{UserID: uuid.New(), CharacterID: uuid.New()}
	r, sender, conns := newTestRouter(map[string]token.Claims{"T": claims})

	r.HandleConnected(1)
	r.HandlePacket(1, protocol.TypeConnect, protocol.Connect{
		ProtocolVersion: protocol.ProtocolVersion, ConnectionToken: "T",
	}.Encode())

	peer, ok := conns.Get(1)
	if !ok || peer.State != connmgr.StateLobby {
		t.Fatalf("expected peer 1 in Lobby, got ok=%v state=%v", ok, peer.State)
	}
	if peer.UserID != claims.UserID || peer.CharacterID != claims.CharacterID {
		t.Error("peer claims should match the validated token")
	}
	if _, ok := sender.lastOfType(protocol.TypeConnectAck); !ok {
		t.Error("expected ConnectAck")
	}
	ack, _ := sender.lastOfType(protocol.TypeAuthResponse)
	resp, err := protocol.DecodeAuthResponse(ack.payload)
	if err != nil || !resp.Success {
		t.Errorf("expected AuthResponse{success=true}, got %+v err=%v", resp, err)
	}

	// Re-sending Connect in Lobby is ignored (§8 scenario 1), not an error.
	sentBefore := len(sender.sent)
	r.HandlePacket(1, protocol.TypeConnect, protocol.Connect{
		ProtocolVersion: protocol.ProtocolVersion, ConnectionToken: "T",
	}.Encode())
	if len(sender.sent) != sentBefore {
		t.Error("re-sending Connect in Lobby should produce no new packets")
	}
}

func TestRejectBadTokenDisconnects(t *testing.T) {
	r, sender, conns := newTestRouter(nil)
	r.HandleConnected(1)
	r.HandlePacket(1, protocol.TypeConnect, protocol.Connect{
		ProtocolVersion: protocol.ProtocolVersion, ConnectionToken: "Z",
	}.Encode())

	ack, ok := sender.lastOfType(protocol.TypeAuthResponse)
	if !ok {
		t.Fatal("expected an AuthResponse")
	}
	resp, err := protocol.DecodeAuthResponse(ack.payload)
	if err != nil || resp.Success {
		t.Errorf("expected AuthResponse{success=false}, got %+v err=%v", resp, err)
	}
	if len(sender.disconnected) != 1 || sender.disconnected[0] != transport.ReasonInvalidToken {
		t.Errorf("expected one disconnect with ReasonInvalidToken, got %v", sender.disconnected)
	}
	peer, ok := conns.Get(1)
	if !ok || peer.State != connmgr.StateUnauthenticated {
		t.Error("a rejected token must not advance the peer's state")
	}
}

func TestProtocolMismatchDisconnects(t *testing.T) {
	r, sender, _ := newTestRouter(map[string]token.Claims{"T": {}})
	r.HandleConnected(1)
	r.HandlePacket(1, protocol.TypeConnect, protocol.Connect{
		ProtocolVersion: protocol.ProtocolVersion + 1, ConnectionToken: "T",
	}.Encode())

	if len(sender.disconnected) != 1 || sender.disconnected[0] != transport.ReasonProtocolMismatch {
		t.Errorf("expected ReasonProtocolMismatch disconnect, got %v", sender.disconnected)
	}
}

func TestGamePacketRejectedBeforeAuthentication(t *testing.T) {
	r, sender, _ := newTestRouter(nil)
	r.HandleConnected(1)
	r.HandlePacket(1, protocol.TypeTowerBuild, protocol.TowerBuild{}.Encode())

	errPkt, ok := sender.lastOfType(protocol.TypeError)
	if !ok {
		t.Fatal("expected an Error packet for an unauthenticated game packet")
	}
	decoded, err := protocol.DecodeError(errPkt.payload)
	if err != nil || decoded.Code != protocol.ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %+v err=%v", decoded, err)
	}
}

func TestRequestMatchAssignsPeerToSession(t *testing.T) {
	claims := token.Claims{UserID: uuid.New(), CharacterID: uuid.New()}
	r, sender, conns := newTestRouter(map[string]token.Claims{"T": claims})
	r.HandleConnected(1)
	r.HandlePacket(1, protocol.TypeConnect, protocol.Connect{
		ProtocolVersion: protocol.ProtocolVersion, ConnectionToken: "T",
	}.Encode())

	r.HandlePacket(1, protocol.TypeRequestMatch, protocol.RequestMatch{Mode: uint8(0)}.Encode())

	peer, _ := conns.Get(1)
	if peer.State != connmgr.StateInGame {
		t.Fatalf("peer state = %v, want InGame after RequestMatch", peer.State)
	}
	ack, ok := sender.lastOfType(protocol.TypeRequestMatchAck)
	if !ok {
		t.Fatal("expected a RequestMatchAck")
	}
	resp, err := protocol.DecodeRequestMatchAck(ack.payload)
	if err != nil || !resp.Success {
		t.Errorf("expected RequestMatchAck{success=true}, got %+v err=%v", resp, err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r, _, conns := newTestRouter(nil)
	r.HandleConnected(1)
	r.HandleDisconnected(1, transport.ReasonClientDisconnect)
	r.HandleDisconnected(1, transport.ReasonClientDisconnect)
	if _, ok := conns.Get(1); ok {
		t.Error("peer should be gone after disconnect")
	}
}
