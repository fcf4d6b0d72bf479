package transport

import (
	"net"
	"testing"
	"time"

	"github.com/towerwars/zoneserver/internal/protocol"
)

func mustListen(t *testing.T) *Transport {
	t.Helper()
	tr, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func pollUntil(t *testing.T, tr *Transport, timeout time.Duration, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got []Event
	for time.Now().Before(deadline) {
		got = append(got, tr.Poll()...)
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	return got
}

func TestPeerConnectedAndPacketReceived(t *testing.T) {
	tr := mustListen(t)

	client, err := net.DialUDP("udp", nil, tr.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	payload := protocol.Connect{ProtocolVersion: protocol.ProtocolVersion, ConnectionToken: "tok"}.Encode()
	frame, err := protocol.EncodeFrame(protocol.TypeConnect, payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	datagram := encodeEnvelope(envelope{payload: frame})
	if _, err := client.Write(datagram); err != nil {
		t.Fatalf("Write: %v", err)
	}

	events := pollUntil(t, tr, time.Second, 2)
	if len(events) < 2 {
		t.Fatalf("expected PeerConnected + PacketReceived, got %d events: %+v", len(events), events)
	}
	if events[0].Kind != EventPeerConnected {
		t.Errorf("events[0].Kind = %v, want EventPeerConnected", events[0].Kind)
	}
	if events[1].Kind != EventPacketReceived {
		t.Errorf("events[1].Kind = %v, want EventPacketReceived", events[1].Kind)
	}
	if events[1].PacketTy != protocol.TypeConnect {
		t.Errorf("events[1].PacketTy = %v, want TypeConnect", events[1].PacketTy)
	}
	got, err := protocol.DecodeConnect(events[1].Payload)
	if err != nil {
		t.Fatalf("DecodeConnect: %v", err)
	}
	if got.ConnectionToken != "tok" {
		t.Errorf("ConnectionToken = %q, want %q", got.ConnectionToken, "tok")
	}
}

func TestSendReliableIsAcknowledgedAndStopsRetransmitting(t *testing.T) {
	tr := mustListen(t)

	client, err := net.DialUDP("udp", nil, tr.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Establish the peer via an initial datagram from the client.
	hello := encodeEnvelope(envelope{payload: []byte("hi")})
	if _, err := client.Write(hello); err != nil {
		t.Fatalf("Write: %v", err)
	}
	events := pollUntil(t, tr, time.Second, 1)
	if len(events) == 0 || events[0].Kind != EventPeerConnected {
		t.Fatalf("expected PeerConnected, got %+v", events)
	}
	peerID := events[0].PeerID

	if err := tr.SendReliable(peerID, protocol.TypePing, protocol.Ping{ClientTime: 1}.Encode()); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}

	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("client Read: %v", err)
	}
	env, err := decodeEnvelope(buf[:n])
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if !env.isReliable() {
		t.Fatal("expected reliable envelope")
	}

	// Ack it; the peer's pending map should clear and no retransmit should
	// arrive within the retransmit window.
	ack := encodeEnvelope(envelope{flags: flagAck, seq: env.seq})
	if _, err := client.Write(ack); err != nil {
		t.Fatalf("Write ack: %v", err)
	}
	time.Sleep(retransmitTimeout + 150*time.Millisecond)

	client.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, err := client.Read(buf); err == nil {
		t.Error("expected no retransmit after ack, but received another datagram")
	}
}

func TestUnreliableSendDoesNotTrackPending(t *testing.T) {
	tr := mustListen(t)

	client, err := net.DialUDP("udp", nil, tr.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	hello := encodeEnvelope(envelope{payload: []byte("hi")})
	if _, err := client.Write(hello); err != nil {
		t.Fatalf("Write: %v", err)
	}
	events := pollUntil(t, tr, time.Second, 1)
	peerID := events[0].PeerID

	if err := tr.SendUnreliable(peerID, protocol.TypeEntityUpdate, protocol.EntityUpdate{Tick: 1}.Encode()); err != nil {
		t.Fatalf("SendUnreliable: %v", err)
	}
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("client Read: %v", err)
	}
	env, err := decodeEnvelope(buf[:n])
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if env.isReliable() {
		t.Error("expected unreliable envelope")
	}
	p, ok := tr.lookup(peerID)
	if !ok {
		t.Fatal("peer should still be registered")
	}
	p.mu.Lock()
	pending := len(p.pending)
	p.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending reliable sends = %d after an unreliable send, want 0", pending)
	}
}

func TestDisconnectIsIdempotentAndEmitsOnce(t *testing.T) {
	tr := mustListen(t)

	client, err := net.DialUDP("udp", nil, tr.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	hello := encodeEnvelope(envelope{payload: []byte("hi")})
	if _, err := client.Write(hello); err != nil {
		t.Fatalf("Write: %v", err)
	}
	events := pollUntil(t, tr, time.Second, 1)
	peerID := events[0].PeerID

	tr.Disconnect(peerID, ReasonInvalidToken)
	tr.Disconnect(peerID, ReasonInvalidToken)

	got := pollUntil(t, tr, 200*time.Millisecond, 1)
	count := 0
	for _, ev := range got {
		if ev.Kind == EventPeerDisconnected {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly 1 PeerDisconnected event, got %d", count)
	}
}
