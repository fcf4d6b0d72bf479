package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is one delivered stream entry, handed to a consumer's Apply
// function together with its acknowledgement obligation (§4.I step 1).
type Record struct {
	ID     string
	Fields map[string]string
}

// IdempotencyKey returns the durable-effect dedup key described in §4.I:
// match_id + event_type + player_id + whatever is unique within that
// event type (e.g. entity_id for unit.killed, drop_id for item.dropped).
func (r Record) IdempotencyKey(uniqueField string) string {
	return fmt.Sprintf("%s:%s:%s:%s", r.Fields["match_id"], r.Fields["event_type"], r.Fields["player_id"], r.Fields[uniqueField])
}

// Consumer joins StreamName under a distinct consumer-group name, one per
// independent domain service (progression XP, inventory, match stats),
// per §4.I.
type Consumer struct {
	client       *redis.Client
	group        string
	consumerName string
}

func NewConsumer(client *redis.Client, group, consumerName string) *Consumer {
	return &Consumer{client: client, group: group, consumerName: consumerName}
}

// EnsureGroup creates the consumer group (and the stream, if it doesn't
// exist yet) idempotently. Safe to call on every startup.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, StreamName, c.group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroupErr(err) {
			return nil
		}
		return fmt.Errorf("events: creating consumer group %q: %w", c.group, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	// go-redis surfaces "BUSYGROUP Consumer Group name already exists" as a
	// plain error string; there is no typed sentinel for it.
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ApplyFunc durably applies one record's effect. It MUST be idempotent:
// the same record may be redelivered after a crash between apply and ack.
type ApplyFunc func(ctx context.Context, rec Record) error

// ReadAndApply reads up to count new records (blocking up to block for
// more), applies each via apply, and acknowledges on success. A record
// whose apply fails is logged and left unacknowledged so it is redelivered
// — per §4.I, repeated failures on one record must not block the group, so
// ReadAndApply always continues to the next record rather than aborting.
func (c *Consumer) ReadAndApply(ctx context.Context, count int64, block time.Duration, apply ApplyFunc) (processed int, err error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerName,
		Streams:  []string{StreamName, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("events: XREADGROUP: %w", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			rec := Record{ID: msg.ID, Fields: stringifyValues(msg.Values)}
			if err := apply(ctx, rec); err != nil {
				slog.Error("events: apply failed, leaving unacked for redelivery", "id", rec.ID, "group", c.group, "error", err)
				continue
			}
			if err := c.client.XAck(ctx, StreamName, c.group, msg.ID).Err(); err != nil {
				slog.Error("events: ack failed", "id", rec.ID, "group", c.group, "error", err)
				continue
			}
			processed++
		}
	}
	return processed, nil
}

// ReclaimPending redelivers records that were read by a previous, now-dead
// consumer instance but never acked, via XPENDING + XCLAIM. Called once on
// startup before the main read loop begins.
func (c *Consumer) ReclaimPending(ctx context.Context, minIdle time.Duration, apply ApplyFunc) (processed int, err error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: StreamName,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("events: XPENDING: %w", err)
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   StreamName,
		Group:    c.group,
		Consumer: c.consumerName,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("events: XCLAIM: %w", err)
	}

	for _, msg := range msgs {
		rec := Record{ID: msg.ID, Fields: stringifyValues(msg.Values)}
		if err := apply(ctx, rec); err != nil {
			slog.Error("events: reclaim apply failed, leaving unacked", "id", rec.ID, "group", c.group, "error", err)
			continue
		}
		if err := c.client.XAck(ctx, StreamName, c.group, msg.ID).Err(); err != nil {
			slog.Error("events: reclaim ack failed", "id", rec.ID, "group", c.group, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func stringifyValues(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
