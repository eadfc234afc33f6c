package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStream is an in-process fake of RedisStream with the same
// dedupe/group/pending/reclaim semantics, used by tests that exercise the
// Producer/Consumer contracts without a live Redis instance.
type MemoryStream[T any] struct {
	mu      sync.Mutex
	entries []memEntry[T]
	seq     int64
	dedupe  map[string]time.Time
	groups  map[string]*memGroupState
	now     func() time.Time
}

type memEntry[T any] struct {
	id    string
	value T
}

type memGroupState struct {
	nextIdx int
	pending map[string]*memPending
}

type memPending struct {
	idx         int
	consumer    string
	deliveredAt time.Time
}

// NewMemoryStream returns an empty stream. clock defaults to time.Now when
// nil; tests that need to control cooldown/idle timing pass their own.
func NewMemoryStream[T any](clock func() time.Time) *MemoryStream[T] {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStream[T]{
		dedupe: map[string]time.Time{},
		groups: map[string]*memGroupState{},
		now:    clock,
	}
}

// Publish implements Publisher[T].
func (s *MemoryStream[T]) Publish(ctx context.Context, dedupeKey string, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.dedupe[dedupeKey]; ok && now.Before(exp) {
		return nil
	}
	s.dedupe[dedupeKey] = now.Add(dedupeWindow)
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.entries = append(s.entries, memEntry[T]{id: id, value: v})
	return nil
}

func (s *MemoryStream[T]) groupState(name string) *memGroupState {
	g, ok := s.groups[name]
	if !ok {
		g = &memGroupState{pending: map[string]*memPending{}}
		s.groups[name] = g
	}
	return g
}

// Join returns a Subscriber[T] bound to the given consumer group and
// consumer name, mirroring RedisStream's constructor-time binding.
func (s *MemoryStream[T]) Join(group, consumer string) *MemoryConsumer[T] {
	return &MemoryConsumer[T]{stream: s, group: group, consumer: consumer}
}

// MemoryConsumer is the Subscriber[T] half of MemoryStream.
type MemoryConsumer[T any] struct {
	stream   *MemoryStream[T]
	group    string
	consumer string
}

// ReadNext delivers up to count entries not yet delivered to this group.
func (c *MemoryConsumer[T]) ReadNext(ctx context.Context, count int64, block time.Duration) ([]Delivery[T], error) {
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	g := c.stream.groupState(c.group)
	var out []Delivery[T]
	for int64(len(out)) < count && g.nextIdx < len(c.stream.entries) {
		e := c.stream.entries[g.nextIdx]
		g.pending[e.id] = &memPending{idx: g.nextIdx, consumer: c.consumer, deliveredAt: c.stream.now()}
		out = append(out, Delivery[T]{ID: e.id, Value: e.value})
		g.nextIdx++
	}
	return out, nil
}

// Ack clears the given ids from the group's pending set.
func (c *MemoryConsumer[T]) Ack(ctx context.Context, ids ...string) error {
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	g := c.stream.groupState(c.group)
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// ReclaimPending re-delivers entries idle at least idleThreshold to this
// consumer.
func (c *MemoryConsumer[T]) ReclaimPending(ctx context.Context, idleThreshold time.Duration, count int64) ([]Delivery[T], error) {
	c.stream.mu.Lock()
	defer c.stream.mu.Unlock()
	g := c.stream.groupState(c.group)
	now := c.stream.now()
	var out []Delivery[T]
	for id, p := range g.pending {
		if int64(len(out)) >= count {
			break
		}
		if now.Sub(p.deliveredAt) >= idleThreshold {
			p.consumer = c.consumer
			p.deliveredAt = now
			e := c.stream.entries[p.idx]
			out = append(out, Delivery[T]{ID: id, Value: e.value})
		}
	}
	return out, nil
}
