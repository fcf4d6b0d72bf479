package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/towerwars/zoneserver/internal/protocol"
)

// Transport is a connection-oriented channel layered over a single UDP
// socket. It is owned and polled by the game loop thread (§4.B, §5): all
// background goroutines here only ever move bytes and enqueue Events, they
// never touch session state.
type Transport struct {
	conn *net.UDPConn

	mu        sync.RWMutex
	peersByID map[uint64]*peer
	idByAddr  map[string]uint64
	nextID    atomic.Uint64

	events   chan Event
	wg       sync.WaitGroup
	closing  atomic.Bool
	stopCh   chan struct{}
}

// Listen opens the UDP socket and starts the background read and
// retransmit-sweep goroutines. Events accumulate in an internal queue until
// drained by Poll.
func Listen(addr string) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %q: %w", addr, err)
	}

	t := &Transport{
		conn:      conn,
		peersByID: make(map[uint64]*peer),
		idByAddr:  make(map[string]uint64),
		events:    make(chan Event, 4096),
		stopCh:    make(chan struct{}),
	}

	t.wg.Add(2)
	go t.readLoop()
	go t.sweepLoop()
	return t, nil
}

// Addr returns the local address the transport is bound to.
func (t *Transport) Addr() net.Addr { return t.conn.LocalAddr() }

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closing.Load() {
				return
			}
			slog.Warn("transport: read error", "error", err)
			continue
		}
		t.handleDatagram(addr, append([]byte(nil), buf[:n]...))
	}
}

func (t *Transport) handleDatagram(addr *net.UDPAddr, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		slog.Debug("transport: dropping malformed datagram", "addr", addr, "error", err)
		return
	}

	p, isNew := t.peerFor(addr)
	p.lastRecv.store(time.Now())

	if isNew {
		t.emit(Event{Kind: EventPeerConnected, PeerID: p.id})
	}

	switch {
	case env.isAck():
		p.ack(env.seq)
		return
	case env.isKeepalive():
		return
	case env.isReliable():
		ready, duplicate := p.acceptRecv(env.seq, env.payload)
		if duplicate {
			t.sendAck(p, env.seq)
			return
		}
		t.sendAck(p, env.seq)
		for _, payload := range ready {
			t.decodeAndEmitPacket(p.id, payload)
		}
	default:
		t.decodeAndEmitPacket(p.id, env.payload)
	}
}

func (t *Transport) decodeAndEmitPacket(peerID uint64, payload []byte) {
	frame, _, err := protocol.DecodeFrame(payload)
	if err != nil {
		slog.Debug("transport: dropping undecodable frame", "peer", peerID, "error", err)
		return
	}
	t.emit(Event{Kind: EventPacketReceived, PeerID: peerID, PacketTy: frame.Type, Payload: frame.Payload})
}

func (t *Transport) peerFor(addr *net.UDPAddr) (*peer, bool) {
	key := addr.String()

	t.mu.RLock()
	if id, ok := t.idByAddr[key]; ok {
		p := t.peersByID[id]
		t.mu.RUnlock()
		return p, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.idByAddr[key]; ok {
		return t.peersByID[id], false
	}
	id := t.nextID.Add(1)
	p := newPeer(id, addr)
	t.peersByID[id] = p
	t.idByAddr[key] = id
	t.wg.Add(1)
	go t.writePump(p)
	return p, true
}

// writePump drains a peer's send queue onto the shared socket. One
// goroutine per peer, mirroring the teacher's per-client write-queue
// design, adapted so every peer shares the transport's single net.UDPConn
// instead of owning a dedicated net.Conn.
func (t *Transport) writePump(p *peer) {
	defer t.wg.Done()
	for {
		select {
		case datagram := <-p.sendCh:
			if _, err := t.conn.WriteToUDP(datagram, p.addr); err != nil {
				slog.Debug("transport: write failed", "peer", p.id, "error", err)
			}
		case <-p.closeCh:
			return
		}
	}
}

func (t *Transport) sendAck(p *peer, seq uint32) {
	datagram := encodeEnvelope(envelope{flags: flagAck, seq: seq})
	p.enqueue(datagram)
}

// sweepLoop periodically retransmits unacknowledged reliable datagrams,
// sends keepalives to idle peers, and disconnects peers that have gone
// silent past peerIdleTimeout.
func (t *Transport) sweepLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(retransmitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-ticker.C:
			t.sweepOnce(now)
		}
	}
}

func (t *Transport) sweepOnce(now time.Time) {
	t.mu.RLock()
	peers := make([]*peer, 0, len(t.peersByID))
	for _, p := range t.peersByID {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	for _, p := range peers {
		if p.closed() {
			continue
		}
		due, deadline := p.duePending(now)
		if deadline {
			t.disconnectPeer(p, ReasonTimeout)
			continue
		}
		for _, datagram := range due {
			p.enqueue(datagram)
		}
		if now.Sub(p.lastRecv.load()) > peerIdleTimeout {
			t.disconnectPeer(p, ReasonTimeout)
			continue
		}
		if now.Sub(p.lastSentTo.load()) > keepaliveInterval {
			p.enqueue(encodeEnvelope(envelope{flags: flagKeepalive}))
			p.lastSentTo.store(now)
		}
	}
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		slog.Warn("transport: event queue full, dropping event", "kind", ev.Kind, "peer", ev.PeerID)
	}
}

// Poll drains every event accumulated since the last call. It never blocks,
// per §4.B's "transport is polled once per outer iteration" thread model.
func (t *Transport) Poll() []Event {
	var out []Event
	for {
		select {
		case ev := <-t.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

var ErrUnknownPeer = errors.New("transport: unknown peer")

func (t *Transport) lookup(peerID uint64) (*peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peersByID[peerID]
	return p, ok
}

// SendReliable frames and queues payload for in-order, retransmitted
// delivery to peerID.
func (t *Transport) SendReliable(peerID uint64, packetType protocol.Type, payload []byte) error {
	p, ok := t.lookup(peerID)
	if !ok {
		return ErrUnknownPeer
	}
	frame, err := protocol.EncodeFrame(packetType, payload)
	if err != nil {
		return err
	}
	seq := p.nextSeq()
	datagram := encodeEnvelope(envelope{flags: flagReliable, seq: seq, payload: frame})
	p.trackPending(seq, datagram)
	if !p.enqueue(datagram) {
		t.disconnectPeer(p, ReasonTimeout)
		return fmt.Errorf("transport: send queue full for peer %d", peerID)
	}
	p.lastSentTo.store(time.Now())
	return nil
}

// SendUnreliable frames and queues payload for best-effort, unordered
// delivery — used only for high-frequency state (EntityUpdate,
// StateSnapshot per §4.A's reliability table).
func (t *Transport) SendUnreliable(peerID uint64, packetType protocol.Type, payload []byte) error {
	p, ok := t.lookup(peerID)
	if !ok {
		return ErrUnknownPeer
	}
	frame, err := protocol.EncodeFrame(packetType, payload)
	if err != nil {
		return err
	}
	datagram := encodeEnvelope(envelope{flags: 0, payload: frame})
	p.enqueue(datagram)
	p.lastSentTo.store(time.Now())
	return nil
}

// Send dispatches using the reliability mode prescribed for packetType by
// protocol.ReliabilityOf.
func (t *Transport) Send(peerID uint64, packetType protocol.Type, payload []byte) error {
	if protocol.ReliabilityOf(packetType) == protocol.Unreliable {
		return t.SendUnreliable(peerID, packetType, payload)
	}
	return t.SendReliable(peerID, packetType, payload)
}

// Broadcast sends the same packet to every peer in peerIDs, skipping (and
// logging) any that have since disconnected rather than failing the whole
// broadcast.
func (t *Transport) Broadcast(peerIDs []uint64, packetType protocol.Type, payload []byte) {
	for _, id := range peerIDs {
		if err := t.Send(id, packetType, payload); err != nil {
			slog.Debug("transport: broadcast skip", "peer", id, "error", err)
		}
	}
}

// Disconnect tears down peerID's state and surfaces a PeerDisconnected
// event on the next Poll. Idempotent: disconnecting an already-removed
// peer is a no-op, matching §4.D's idempotent-disconnect requirement.
func (t *Transport) Disconnect(peerID uint64, reason DisconnectReason) {
	p, ok := t.lookup(peerID)
	if !ok {
		return
	}
	t.disconnectPeer(p, reason)
}

func (t *Transport) disconnectPeer(p *peer, reason DisconnectReason) {
	t.mu.Lock()
	if _, ok := t.peersByID[p.id]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.peersByID, p.id)
	delete(t.idByAddr, p.addr.String())
	t.mu.Unlock()

	p.close()
	t.emit(Event{Kind: EventPeerDisconnected, PeerID: p.id, Reason: reason})
}

// Close shuts the transport down: all peers are disconnected with
// ReasonServerShutdown, the socket is closed, and background goroutines
// are joined.
func (t *Transport) Close() error {
	if !t.closing.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.RLock()
	peers := make([]*peer, 0, len(t.peersByID))
	for _, p := range t.peersByID {
		peers = append(peers, p)
	}
	t.mu.RUnlock()
	for _, p := range peers {
		t.disconnectPeer(p, ReasonServerShutdown)
	}
	close(t.stopCh)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}
