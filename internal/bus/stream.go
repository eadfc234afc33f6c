// Package bus implements the Signal Bus (spec §4.F Producer, §4.G Consumer)
// and the symmetric Fill stream, as a thin, generic wrapper over Redis
// Streams — the idiomatic Go mapping of "append-only, per-symbol, consumer
// group, at-least-once, explicit ack, pending-entry reclaim" (spec §1.4,
// §4.F, §4.G) onto XADD/XREADGROUP/XACK/XPENDING/XCLAIM. `redis/go-redis/v9`
// is grounded on the retrieval pack's stockbit-haka-haki manifest, the only
// repo in the corpus wiring a durable stream store for this shape of
// problem.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantlane/meanrev/internal/errs"
)

// Delivery is one message handed to a consumer, tagged with the bus-assigned
// entry id needed to Ack or to observe it again via reclaim.
type Delivery[T any] struct {
	ID    string
	Value T
}

// Codec converts a domain value to/from the flat string-keyed field map
// Redis Streams entries are made of.
type Codec[T any] struct {
	Encode func(T) map[string]interface{}
	Decode func(map[string]interface{}) (T, error)
}

// Publisher appends durably to a stream, collapsing duplicate dedupe keys
// within a sliding window into a single published event (spec §4.F).
type Publisher[T any] interface {
	Publish(ctx context.Context, dedupeKey string, v T) error
}

// Subscriber is the consumer-group half of a stream: read, ack, reclaim
// (spec §4.G).
type Subscriber[T any] interface {
	ReadNext(ctx context.Context, count int64, block time.Duration) ([]Delivery[T], error)
	Ack(ctx context.Context, ids ...string) error
	ReclaimPending(ctx context.Context, idleThreshold time.Duration, count int64) ([]Delivery[T], error)
}

// dedupeWindow is the spec's fixed 5-minute duplicate-suppression window
// (spec §4.F, §8 "within a 5-minute window no two accepted intents share
// the same dedupe_key").
const dedupeWindow = 5 * time.Minute

// RedisStream is a Publisher+Subscriber backed by one Redis Stream key and
// one consumer group. Entries keep their append order, so a symbol's events
// stay in the order its lane published them (spec §5 "the bus preserves
// per-symbol event order only"); cmd/generator and cmd/executor share one
// "signals" key across all symbols.
type RedisStream[T any] struct {
	rdb      *redis.Client
	key      string
	group    string
	consumer string
	codec    Codec[T]
}

// NewRedisStream returns a stream bound to streamKey, within consumer group
// group, acting as consumer name consumer.
func NewRedisStream[T any](rdb *redis.Client, streamKey, group, consumer string, codec Codec[T]) *RedisStream[T] {
	return &RedisStream[T]{rdb: rdb, key: streamKey, group: group, consumer: consumer, codec: codec}
}

// EnsureGroup creates the consumer group if it does not already exist,
// starting from "$" (new entries only) per spec §4.G's "historical events
// before group creation are not replayed unless an operator explicitly
// rewinds the group". Pass rewindToStart=true to instead start from "0" and
// replay the stream's full history.
func (s *RedisStream[T]) EnsureGroup(ctx context.Context, rewindToStart bool) error {
	start := "$"
	if rewindToStart {
		start = "0"
	}
	err := s.rdb.XGroupCreateMkStream(ctx, s.key, s.group, start).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroup(err) {
			return nil
		}
		return fmt.Errorf("%w: create group: %v", errs.ErrBusUnavailable, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish appends v under dedupeKey, swallowing a repeat within the
// dedupe window as a no-op success (spec §4.F / errs.ErrDuplicateIntent is
// the caller-visible classification, not an error returned here).
func (s *RedisStream[T]) Publish(ctx context.Context, dedupeKey string, v T) error {
	guardKey := "dedupe:" + s.key + ":" + dedupeKey
	ok, err := s.rdb.SetNX(ctx, guardKey, "1", dedupeWindow).Result()
	if err != nil {
		return fmt.Errorf("%w: dedupe guard: %v", errs.ErrBusUnavailable, err)
	}
	if !ok {
		return nil // duplicate within window: success, no second event
	}
	fields := s.codec.Encode(v)
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{Stream: s.key, Values: fields}).Err(); err != nil {
		return fmt.Errorf("%w: xadd: %v", errs.ErrBusUnavailable, err)
	}
	return nil
}

// ReadNext blocks up to `block` waiting for new entries addressed to this
// consumer ("`>`": never-delivered-to-anyone-in-the-group), per spec §4.G
// step 1.
func (s *RedisStream[T]) ReadNext(ctx context.Context, count int64, block time.Duration) ([]Delivery[T], error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: xreadgroup: %v", errs.ErrBusUnavailable, err)
	}
	return s.decodeResult(res)
}

// Ack marks entries as successfully processed (spec §4.G step 3).
func (s *RedisStream[T]) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.XAck(ctx, s.key, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("%w: xack: %v", errs.ErrBusUnavailable, err)
	}
	return nil
}

// ReclaimPending scans the group's pending entries and claims (redelivers
// to this consumer) any idle longer than idleThreshold (spec §4.G step 4).
func (s *RedisStream[T]) ReclaimPending(ctx context.Context, idleThreshold time.Duration, count int64) ([]Delivery[T], error) {
	pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.key,
		Group:  s.group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: xpending: %v", errs.ErrBusUnavailable, err)
	}
	var ids []string
	for _, p := range pending {
		if p.Idle >= idleThreshold {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := s.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.key,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  idleThreshold,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: xclaim: %v", errs.ErrBusUnavailable, err)
	}
	return s.decodeMessages(msgs)
}

func (s *RedisStream[T]) decodeResult(res []redis.XStream) ([]Delivery[T], error) {
	var out []Delivery[T]
	for _, stream := range res {
		deliveries, err := s.decodeMessages(stream.Messages)
		if err != nil {
			return nil, err
		}
		out = append(out, deliveries...)
	}
	return out, nil
}

func (s *RedisStream[T]) decodeMessages(msgs []redis.XMessage) ([]Delivery[T], error) {
	out := make([]Delivery[T], 0, len(msgs))
	for _, m := range msgs {
		v, err := s.codec.Decode(m.Values)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", errs.ErrBadInput, m.ID, err)
		}
		out = append(out, Delivery[T]{ID: m.ID, Value: v})
	}
	return out, nil
}
