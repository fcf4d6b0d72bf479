package transport

import (
	"net"
	"sync"
	"time"
)

const (
	defaultSendQueueSize = 256
	retransmitInterval   = 100 * time.Millisecond
	retransmitTimeout    = 300 * time.Millisecond
	maxRetransmits       = 10
	keepaliveInterval    = 5 * time.Second
	peerIdleTimeout      = 20 * time.Second
	reorderBufferLimit   = 64
)

// pendingReliable is a reliable datagram awaiting acknowledgement.
type pendingReliable struct {
	data      []byte
	sentAt    time.Time
	attempts  int
}

// peer tracks per-client reliable-delivery and liveness state. Sends are
// queued through sendCh and flushed onto the transport's shared UDP socket
// by this peer's own write goroutine, Transport.writePump (mirroring the
// per-client write-queue pattern, adapted since every peer shares one UDP
// socket instead of owning its own net.Conn).
type peer struct {
	id   uint64
	addr *net.UDPAddr

	lastRecv   atomicTime
	lastSentTo atomicTime

	sendCh  chan []byte
	closeCh chan struct{}
	once    sync.Once

	mu             sync.Mutex
	nextSendSeq    uint32
	pending        map[uint32]*pendingReliable
	expectedRecv   uint32
	reorderBuf     map[uint32][]byte
	disconnected   bool
}

func newPeer(id uint64, addr *net.UDPAddr) *peer {
	p := &peer{
		id:           id,
		addr:         addr,
		sendCh:       make(chan []byte, defaultSendQueueSize),
		closeCh:      make(chan struct{}),
		pending:      make(map[uint32]*pendingReliable),
		expectedRecv: 1,
		reorderBuf:   make(map[uint32][]byte),
	}
	p.lastRecv.store(time.Now())
	return p
}

func (p *peer) closed() bool {
	select {
	case <-p.closeCh:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.closeCh) })
}

// enqueue queues a raw envelope-encoded datagram for this peer. Non-blocking:
// a full queue indicates a stalled peer and is reported to the caller so it
// can be disconnected, matching the teacher's slow-client handling.
func (p *peer) enqueue(datagram []byte) bool {
	select {
	case p.sendCh <- datagram:
		return true
	default:
		return false
	}
}

// nextSeq returns the next reliable sequence number, starting at 1 so that 0
// is never mistaken for an initialized-but-unset value.
func (p *peer) nextSeq() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSendSeq++
	return p.nextSendSeq
}

func (p *peer) trackPending(seq uint32, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[seq] = &pendingReliable{data: data, sentAt: time.Now(), attempts: 1}
}

func (p *peer) ack(seq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, seq)
}

// duePending returns pending reliable sends older than retransmitTimeout,
// and reports whether any has exceeded maxRetransmits (peer presumed dead).
func (p *peer) duePending(now time.Time) (due [][]byte, deadline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for seq, pr := range p.pending {
		if now.Sub(pr.sentAt) < retransmitTimeout {
			continue
		}
		if pr.attempts >= maxRetransmits {
			deadline = true
			continue
		}
		pr.attempts++
		pr.sentAt = now
		due = append(due, pr.data)
		_ = seq
	}
	return due, deadline
}

// acceptRecv decides how an inbound reliable sequence number should be
// handled: delivered now, buffered for later (out of order), or dropped as
// a duplicate. Returns the in-order payloads ready for delivery, which may
// include buffered frames released by this arrival.
func (p *peer) acceptRecv(seq uint32, payload []byte) (ready [][]byte, duplicate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case seq < p.expectedRecv:
		return nil, true
	case seq == p.expectedRecv:
		ready = append(ready, payload)
		p.expectedRecv++
		for {
			buffered, ok := p.reorderBuf[p.expectedRecv]
			if !ok {
				break
			}
			delete(p.reorderBuf, p.expectedRecv)
			ready = append(ready, buffered)
			p.expectedRecv++
		}
		return ready, false
	default:
		if len(p.reorderBuf) < reorderBufferLimit {
			p.reorderBuf[seq] = payload
		}
		return nil, false
	}
}

// atomicTime is a tiny mutex-guarded clock cell; time.Time doesn't fit in an
// atomic.Value without boxing, and lock contention here is negligible (one
// write per datagram, one read per keepalive sweep).
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}
