// Package router is the connection-manager-facing dispatcher (§4.D): it
// owns the Unauthenticated handshake, the Lobby packet surface, and the
// decision of whether an in-game packet gets handed to the session
// manager. It is grounded on the teacher's internal/gameserver/handler.go
// opcode-switch dispatch, here driven off protocol.ClassOf instead of a
// per-opcode handler table, since the packet catalog is TowerWars' own.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/towerwars/zoneserver/internal/connmgr"
	"github.com/towerwars/zoneserver/internal/game"
	"github.com/towerwars/zoneserver/internal/protocol"
	"github.com/towerwars/zoneserver/internal/session"
	"github.com/towerwars/zoneserver/internal/token"
	"github.com/towerwars/zoneserver/internal/transport"
)

// Sender is the capability the router needs to reply to a single peer.
// *transport.Transport satisfies this structurally, per §9's two-phase
// wiring note: the router never names the transport type.
type Sender interface {
	Send(peerID uint64, packetType protocol.Type, payload []byte) error
	Disconnect(peerID uint64, reason transport.DisconnectReason)
}

// TokenValidator is the capability the router needs to redeem a connection
// token (§4.C). *token.Validator satisfies this.
type TokenValidator interface {
	Validate(ctx context.Context, connectionToken string) (token.Claims, error)
}

// ValidateTimeout bounds a single token lookup from the router's side,
// independent of the validator's own internal timeout (§5 "token
// validation has a bounded timeout").
const ValidateTimeout = 3 * time.Second

// Router implements scheduler.EventHandler: it is the single entry point
// the scheduler calls with transport occurrences each outer loop
// iteration, and therefore the only place peer-state transitions happen
// outside of connmgr itself.
type Router struct {
	sender    Sender
	validator TokenValidator
	conns     *connmgr.Manager
	sessions  *session.Manager
}

// New wires the router to the transport (via Sender), the token
// validator, the peer registry, and the session manager. This is the
// last step of the two-phase wiring described in §9: every dependency
// here is a narrow capability interface, never a concrete package import
// cycle back to cmd/zoneserver.
func New(sender Sender, validator TokenValidator, conns *connmgr.Manager, sessions *session.Manager) *Router {
	return &Router{sender: sender, validator: validator, conns: conns, sessions: sessions}
}

// HandleConnected registers a freshly transport-accepted peer in
// Unauthenticated state (§3 Peer, §4.D).
func (r *Router) HandleConnected(peerID uint64) {
	r.conns.Register(peerID)
}

// HandleDisconnected is idempotent cleanup for a peer the transport has
// already torn down (§4.D "Any -> (removed): transport disconnect").
// Removing the peer from its session happens before the registry entry
// itself is dropped, since session.Manager.Disconnect needs to still see
// the peer's last known state.
func (r *Router) HandleDisconnected(peerID uint64, reason transport.DisconnectReason) {
	r.sessions.Disconnect(peerID)
	r.conns.Unregister(peerID)
}

// HandlePacket applies the §4.D packet-class table: Connect/Ping are
// accepted in any state; lobby packets require Lobby or InGame; game
// packets require InGame. A packet rejected by the table is dropped and
// answered with an Error packet (NotAuthenticated before authentication,
// WrongState after); packets over the per-peer flood budget are silently
// dropped. §4.D only specifies disconnection for a handful of terminal
// cases, handled explicitly below.
func (r *Router) HandlePacket(peerID uint64, packetType protocol.Type, payload []byte) {
	peer, ok := r.conns.Get(peerID)
	if !ok {
		return
	}

	if packetType != protocol.TypeConnect && !r.conns.Allow(peerID) {
		return
	}

	if !connmgr.Allowed(peer.State, packetType) {
		r.sendError(peerID, wrongStateCode(peer.State), "")
		return
	}

	switch packetType {
	case protocol.TypeConnect:
		r.handleConnect(peerID, peer, payload)
	case protocol.TypePing:
		r.handlePing(payload, peerID)
	case protocol.TypePlayerDataRequest:
		// Stubbed: no in-process replica of player towers/items lives in
		// the Zone Server (persistence is an external collaborator, §1);
		// acknowledge with empty responses rather than leaving the client
		// hanging.
		r.sender.Send(peerID, protocol.TypePlayerTowersResponse, protocol.PlayerTowersResponse{}.Encode())
		r.sender.Send(peerID, protocol.TypePlayerItemsResponse, protocol.PlayerItemsResponse{}.Encode())
	case protocol.TypeRequestMatch:
		r.handleRequestMatch(peerID, peer, payload)
	default:
		if peer.State == connmgr.StateInGame {
			r.sessions.Dispatch(peerID, packetType, payload)
		}
	}
}

func (r *Router) handleConnect(peerID uint64, peer *connmgr.Peer, payload []byte) {
	if peer.State != connmgr.StateUnauthenticated {
		// §8 scenario 1: re-sending Connect in Lobby is ignored, not an error.
		return
	}

	req, err := protocol.DecodeConnect(payload)
	if err != nil {
		r.sendError(peerID, protocol.ErrProtocolMismatch, "malformed connect")
		r.sender.Disconnect(peerID, transport.ReasonProtocolMismatch)
		return
	}
	if req.ProtocolVersion != protocol.ProtocolVersion {
		r.sender.Send(peerID, protocol.TypeAuthResponse, protocol.AuthResponse{Success: false, Error: "protocol version mismatch"}.Encode())
		r.sender.Disconnect(peerID, transport.ReasonProtocolMismatch)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ValidateTimeout)
	claims, err := r.validator.Validate(ctx, req.ConnectionToken)
	cancel()
	if err != nil {
		slog.Debug("router: token rejected", "peer", peerID, "error", err)
		r.sender.Send(peerID, protocol.TypeAuthResponse, protocol.AuthResponse{Success: false, Error: "Invalid token"}.Encode())
		r.sender.Disconnect(peerID, transport.ReasonInvalidToken)
		return
	}

	if !r.conns.Authenticate(peerID, claims.UserID, claims.CharacterID) {
		// Lost a race against a disconnect; nothing more to do.
		return
	}

	r.sender.Send(peerID, protocol.TypeConnectAck, protocol.ConnectAck{
		PlayerID:   uint32(peerID),
		ServerTick: 0,
		TickRate:   protocol.TickRate,
	}.Encode())
	r.sender.Send(peerID, protocol.TypeAuthResponse, protocol.AuthResponse{Success: true}.Encode())
}

func (r *Router) handlePing(payload []byte, peerID uint64) {
	req, err := protocol.DecodePing(payload)
	if err != nil {
		return
	}
	r.sender.Send(peerID, protocol.TypePong, protocol.Pong{
		ClientTime: req.ClientTime,
		ServerTime: time.Now().UnixMilli(),
	}.Encode())
}

func (r *Router) handleRequestMatch(peerID uint64, peer *connmgr.Peer, payload []byte) {
	if peer.State != connmgr.StateLobby {
		// Already InGame: a session exists, RequestMatch has nothing to do.
		return
	}
	req, err := protocol.DecodeRequestMatch(payload)
	if err != nil {
		return
	}

	matchID, err := r.sessions.RequestMatch(peerID, gameMode(req.Mode))
	if err != nil {
		r.sender.Send(peerID, protocol.TypeRequestMatchAck, protocol.RequestMatchAck{Success: false, Error: err.Error()}.Encode())
		return
	}
	r.sender.Send(peerID, protocol.TypeRequestMatchAck, protocol.RequestMatchAck{Success: true, MatchID: matchID}.Encode())
}

func (r *Router) sendError(peerID uint64, code protocol.ErrorCode, message string) {
	r.sender.Send(peerID, protocol.TypeError, protocol.Error{Code: code, Message: message}.Encode())
}

func wrongStateCode(state connmgr.State) protocol.ErrorCode {
	if state == connmgr.StateUnauthenticated {
		return protocol.ErrNotAuthenticated
	}
	return protocol.ErrWrongState
}

// gameMode maps the wire RequestMatch.Mode byte onto game.Mode, defaulting
// unrecognized values to Solo rather than rejecting the request — stub
// matchmaking (§4.F) only actually plays out Solo sessions today.
func gameMode(wire uint8) game.Mode {
	switch wire {
	case uint8(game.ModeCoop):
		return game.ModeCoop
	case uint8(game.ModePvP):
		return game.ModePvP
	default:
		return game.ModeSolo
	}
}
