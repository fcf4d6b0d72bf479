// Package events implements the append-only event publisher (§4.H) and the
// consumer-group contract durable services use to apply effects
// idempotently (§4.I). Both sides are built on Redis Streams
// (XADD / XREADGROUP / XACK), which map onto the spec's "stream name,
// consumer groups, acknowledgement, redelivery of unacked records"
// contract almost without translation.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamName is the single stream every session publishes onto, per
// §4.H's "append-only stream keyed by a single stream name".
const StreamName = "towerwars:events"

// Type is the dotted-lowercase event_type taxonomy from §4.I.
type Type string

const (
	TypeMatchStarted   Type = "match.started"
	TypeMatchEnded     Type = "match.ended"
	TypeGamePaused     Type = "game.paused"
	TypeGameResumed    Type = "game.resumed"
	TypeWaveCompleted  Type = "wave.completed"
	TypeTowerBuilt     Type = "tower.built"
	TypeTowerSold      Type = "tower.sold"
	TypeUnitKilled     Type = "unit.killed"
	TypePlayerDamaged  Type = "player.damaged"
	TypeAbilityUsed    Type = "ability.used"
	TypeItemDropped    Type = "item.dropped"
	TypeItemCollected  Type = "item.collected"
	TypeTowerXPGained  Type = "tower.xp_gained"
)

// Event is one record destined for the stream. Fields carries type-specific
// payload as string-encoded values, matching how Redis Streams stores
// record fields. Every event carries MatchID and Timestamp per §3's event
// envelope.
type Event struct {
	Type      Type
	MatchID   uuid.UUID
	Timestamp time.Time
	Fields    map[string]string
}

// Publisher queues events and flushes them to Redis from a dedicated IO
// worker, so a slow or unavailable stream never blocks the tick thread
// (§4.H "MUST be non-blocking with respect to the tick thread").
type Publisher struct {
	client *redis.Client
	queue  chan Event
	dropped uint64
	mu      sync.Mutex

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewPublisher starts the background IO worker. queueSize bounds the
// publisher's queue; on overflow the oldest queued event is evicted (and
// counted) to make room for the incoming one, so the freshest events
// survive a burst without ever blocking the caller.
func NewPublisher(client *redis.Client, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 4096
	}
	p := &Publisher{
		client: client,
		queue:  make(chan Event, queueSize),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish enqueues ev for delivery. Non-blocking per §4.H: a full queue
// drops the oldest queued event in favor of ev — during a burst the tail
// events (match.ended, wave.completed) are the ones worth keeping. If the
// queue is still full after that one eviction (another producer refilled
// it, or the queue has no buffer), ev itself is dropped.
func (p *Publisher) Publish(ev Event) {
	select {
	case p.queue <- ev:
		return
	default:
	}

	// Queue full: evict the oldest entry, then retry once. If the IO worker
	// raced us and drained the queue in between, the eviction select falls
	// through and the retry simply succeeds.
	select {
	case old := <-p.queue:
		p.noteDropped(old)
	default:
	}
	select {
	case p.queue <- ev:
	default:
		p.noteDropped(ev)
	}
}

func (p *Publisher) noteDropped(ev Event) {
	p.mu.Lock()
	p.dropped++
	n := p.dropped
	p.mu.Unlock()
	slog.Warn("events: queue full, dropping oldest event", "type", ev.Type, "match_id", ev.MatchID, "total_dropped", n)
}

// Dropped returns the number of events dropped due to a full queue, for
// metrics.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// QueueDepth returns the approximate number of events waiting for the IO
// worker, for metrics.
func (p *Publisher) QueueDepth() int { return len(p.queue) }

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.queue:
			p.flush(ev)
		case <-p.stopCh:
			// Drain whatever is left before exiting, best-effort.
			for {
				select {
				case ev := <-p.queue:
					p.flush(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) flush(ev Event) {
	values := make(map[string]interface{}, len(ev.Fields)+3)
	values["event_type"] = string(ev.Type)
	values["match_id"] = ev.MatchID.String()
	values["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	for k, v := range ev.Fields {
		values[k] = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: values,
	}).Err(); err != nil {
		slog.Error("events: publish failed", "type", ev.Type, "match_id", ev.MatchID, "error", err)
	}
}

// Close stops accepting new flushes after draining the current queue.
func (p *Publisher) Close() {
	close(p.stopCh)
	p.wg.Wait()
}
