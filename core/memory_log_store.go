package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memPending tracks one delivered-but-not-yet-acked message for one group.
type memPending struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// memGroupState is one consumer group's read position and pending set on a
// single stream.
type memGroupState struct {
	nextIndex int
	pending   map[string]*memPending
	consumers map[string]bool
}

// memStreamState holds one stream's entries (insertion order, ID-addressed)
// and its consumer groups.
type memStreamState struct {
	entries []StreamEntry
	groups  map[string]*memGroupState
}

// MemoryLogStore is an in-memory implementation of LogStore for tests and
// local development — no network, fully deterministic modulo real time.
// It is not a drop-in performance substitute for a real stream store; it
// exists so saga/queue logic can be exercised without Redis.
type MemoryLogStore struct {
	mu      sync.Mutex
	streams map[string]*memStreamState
	seq     int64
	logger  Logger
}

// NewMemoryLogStore constructs an empty MemoryLogStore.
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{
		streams: make(map[string]*memStreamState),
		logger:  &NoOpLogger{},
	}
}

// SetLogger tags this store with a component logger.
func (m *MemoryLogStore) SetLogger(logger Logger) {
	if logger == nil {
		m.logger = &NoOpLogger{}
		return
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		logger = cal.WithComponent("store")
	}
	m.logger = logger
}

func (m *MemoryLogStore) stream(name string) *memStreamState {
	s, ok := m.streams[name]
	if !ok {
		s = &memStreamState{groups: make(map[string]*memGroupState)}
		m.streams[name] = s
	}
	return s
}

func (m *MemoryLogStore) nextID() string {
	m.seq++
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), m.seq)
}

// Append adds fields as a new entry, trimming the stream to maxLen from the
// front (oldest first) when maxLen > 0 — an approximate cap, same as the
// soft trim a real stream store applies on enqueue.
func (m *MemoryLogStore) Append(ctx context.Context, streamName string, fields map[string]string, maxLen int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	id := m.nextID()
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.entries = append(s.entries, StreamEntry{ID: id, Fields: copied})

	if maxLen > 0 && int64(len(s.entries)) > maxLen {
		drop := int64(len(s.entries)) - maxLen
		s.entries = s.entries[drop:]
		for _, g := range s.groups {
			g.nextIndex -= int(drop)
			if g.nextIndex < 0 {
				g.nextIndex = 0
			}
		}
	}

	return id, nil
}

// EnsureGroup creates group on stream if absent, reading from the beginning —
// creating the same group twice is a no-op, never an error.
func (m *MemoryLogStore) EnsureGroup(ctx context.Context, streamName, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	if _, ok := s.groups[group]; ok {
		return nil
	}
	s.groups[group] = &memGroupState{
		pending:   make(map[string]*memPending),
		consumers: make(map[string]bool),
	}
	return nil
}

// ReadGroup delivers any not-yet-delivered entries from each requested
// stream, in the order the streams are given — callers enforce priority by
// ordering that slice, exactly as with a real stream-store client.
func (m *MemoryLogStore) ReadGroup(ctx context.Context, group, consumer string, streamNames []string, count int64, blockMs int64) ([]StreamBatch, error) {
	deadline := time.Now().Add(time.Duration(blockMs) * time.Millisecond)
	for {
		batches := m.readGroupOnce(group, consumer, streamNames, count)
		if len(batches) > 0 || blockMs <= 0 || time.Now().After(deadline) {
			return batches, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *MemoryLogStore) readGroupOnce(group, consumer string, streamNames []string, count int64) []StreamBatch {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batches []StreamBatch
	for _, name := range streamNames {
		s := m.stream(name)
		g, ok := s.groups[group]
		if !ok {
			continue
		}
		g.consumers[consumer] = true

		var entries []StreamEntry
		for g.nextIndex < len(s.entries) && int64(len(entries)) < count {
			e := s.entries[g.nextIndex]
			g.nextIndex++
			g.pending[e.ID] = &memPending{consumer: consumer, deliveredAt: time.Now(), deliveries: 1}
			entries = append(entries, e)
		}
		if len(entries) > 0 {
			batches = append(batches, StreamBatch{Stream: name, Entries: entries})
		}
	}
	return batches
}

// Ack removes msgID from group's pending set. Acking an unknown or
// already-acked message is not an error.
func (m *MemoryLogStore) Ack(ctx context.Context, streamName, group, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	if g, ok := s.groups[group]; ok {
		delete(g.pending, msgID)
	}
	return nil
}

// Del removes msgID from the stream entirely, and from every group's
// pending set.
func (m *MemoryLogStore) Del(ctx context.Context, streamName, msgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	idx := -1
	for i, e := range s.entries {
		if e.ID == msgID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			idx = i
			break
		}
	}
	for _, g := range s.groups {
		delete(g.pending, msgID)
		if idx >= 0 && idx < g.nextIndex {
			g.nextIndex--
		}
	}
	return nil
}

// PendingRange lists entries idle for at least minIdleMs, in message-ID
// order, capped at count.
func (m *MemoryLogStore) PendingRange(ctx context.Context, streamName, group string, minIdleMs int64, count int64) ([]PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}

	now := time.Now()
	var out []PendingEntry
	for id, p := range g.pending {
		idle := now.Sub(p.deliveredAt).Milliseconds()
		if idle >= minIdleMs {
			out = append(out, PendingEntry{ID: id, Consumer: p.consumer, IdleMillis: idle, Deliveries: p.deliveries})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if int64(len(out)) > count && count > 0 {
		out = out[:count]
	}
	return out, nil
}

// Claim reassigns the given msgIDs to consumer, provided they are currently
// pending and idle for at least minIdleMs.
func (m *MemoryLogStore) Claim(ctx context.Context, streamName, group, consumer string, minIdleMs int64, msgIDs []string) ([]StreamEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}

	byID := make(map[string]StreamEntry, len(s.entries))
	for _, e := range s.entries {
		byID[e.ID] = e
	}

	now := time.Now()
	var out []StreamEntry
	for _, id := range msgIDs {
		p, ok := g.pending[id]
		if !ok {
			continue
		}
		if now.Sub(p.deliveredAt).Milliseconds() < minIdleMs {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		g.consumers[consumer] = true
		if e, found := byID[id]; found {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len reports the current entry count of stream.
func (m *MemoryLogStore) Len(ctx context.Context, streamName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.stream(streamName).entries)), nil
}

// GroupInfo reports the pending count and distinct-consumer count for
// stream/group.
func (m *MemoryLogStore) GroupInfo(ctx context.Context, streamName, group string) (GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(streamName)
	g, ok := s.groups[group]
	if !ok {
		return GroupInfo{}, nil
	}
	return GroupInfo{Pending: int64(len(g.pending)), Consumers: int64(len(g.consumers))}, nil
}
