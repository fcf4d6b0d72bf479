// Package scheduler drives the fixed tick-rate accumulator loop (§4.J):
// a single goroutine that polls the transport, steps every active
// session by one fixed tick, and sleeps off the remainder. It is
// grounded on the teacher's cmd/gameserver main loop (the same
// poll/advance/sleep shape, there driving a single world rather than a
// session manager's worth of matches).
package scheduler

import (
	"context"
	"time"

	"github.com/towerwars/zoneserver/internal/game"
	"github.com/towerwars/zoneserver/internal/protocol"
	"github.com/towerwars/zoneserver/internal/transport"
)

// SessionManager is the capability the scheduler needs from
// internal/session to drive the per-tick simulation step.
type SessionManager interface {
	ForEachActive(fn func(*game.Session))
}

// EventHandler processes transport-level occurrences ahead of the
// per-tick simulation step: connection handshake, lobby packets, and
// routing in-game packets to their session. Satisfied by
// internal/router.Router.
type EventHandler interface {
	HandleConnected(peerID uint64)
	HandlePacket(peerID uint64, packetType protocol.Type, payload []byte)
	HandleDisconnected(peerID uint64, reason transport.DisconnectReason)
}

// Metrics is the subset of internal/metrics.Registry the scheduler
// updates every tick. Optional: a nil Metrics is fine, it just means no
// observability.
type Metrics interface {
	ObserveTickDuration(d time.Duration)
	SetActiveSessions(n int)
}

// Poller is satisfied by *transport.Transport. Named separately so the
// scheduler never imports anything beyond the shapes it actually calls,
// matching the rest of the codebase's two-phase wiring discipline.
type Poller interface {
	Poll() []transport.Event
}

// Scheduler runs the fixed-step loop described in §4.J.
type Scheduler struct {
	poller   Poller
	sessions SessionManager
	events   EventHandler
	metrics  Metrics

	tickInterval time.Duration
}

// New constructs a Scheduler at the protocol's fixed tick rate.
func New(poller Poller, sessions SessionManager, events EventHandler, metrics Metrics) *Scheduler {
	return &Scheduler{
		poller:       poller,
		sessions:     sessions,
		events:       events,
		metrics:      metrics,
		tickInterval: time.Second / protocol.TickRate,
	}
}

// Run blocks, driving the accumulator loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var accumulator time.Duration
	last := time.Now()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := time.Now()
		accumulator += now.Sub(last)
		last = now

		s.handleTransportEvents()

		for accumulator >= s.tickInterval {
			s.stepAll()
			accumulator -= s.tickInterval
		}
	}
}

func (s *Scheduler) handleTransportEvents() {
	for _, ev := range s.poller.Poll() {
		switch ev.Kind {
		case transport.EventPeerConnected:
			s.events.HandleConnected(ev.PeerID)
		case transport.EventPacketReceived:
			s.events.HandlePacket(ev.PeerID, ev.PacketTy, ev.Payload)
		case transport.EventPeerDisconnected:
			s.events.HandleDisconnected(ev.PeerID, ev.Reason)
		}
	}
}

func (s *Scheduler) stepAll() {
	start := time.Now()
	active := 0
	dt := s.tickInterval.Seconds()

	s.sessions.ForEachActive(func(sess *game.Session) {
		active++
		sess.Update(dt)
		sess.Tick()
	})

	if s.metrics != nil {
		s.metrics.ObserveTickDuration(time.Since(start))
		s.metrics.SetActiveSessions(active)
	}
}
