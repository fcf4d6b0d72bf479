// Package transport implements the connection-oriented reliable UDP channel
// the Zone Server speaks to game clients over. It is deliberately ignorant
// of packet semantics: payloads are opaque byte slices framed by
// internal/protocol, and the transport only ever looks at its own envelope
// header to decide about ordering, acking and retransmission.
package transport

import "github.com/towerwars/zoneserver/internal/protocol"

// DisconnectReason explains why a peer left, surfaced with PeerDisconnected
// so the connection manager can log and clean up appropriately.
type DisconnectReason string

const (
	ReasonTransportClosed   DisconnectReason = "transport closed"
	ReasonTimeout           DisconnectReason = "timeout"
	ReasonInvalidToken      DisconnectReason = "invalid token"
	ReasonProtocolMismatch  DisconnectReason = "protocol mismatch"
	ReasonServerShutdown    DisconnectReason = "server shutdown"
	ReasonClientDisconnect  DisconnectReason = "client disconnected"
	ReasonSessionEnded      DisconnectReason = "session ended"
	ReasonMalformedEnvelope DisconnectReason = "malformed envelope"
)

// EventKind discriminates the Event union returned by Poll.
type EventKind int

const (
	EventPeerConnected EventKind = iota
	EventPeerDisconnected
	EventPacketReceived
)

// Event is one transport-level occurrence surfaced to the game loop thread
// via Poll. Only one of the payload fields is meaningful, selected by Kind.
type Event struct {
	Kind     EventKind
	PeerID   uint64
	Reason   DisconnectReason
	PacketTy protocol.Type
	Payload  []byte
}
