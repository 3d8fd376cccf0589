package core

import (
	"context"
	"sync"
	"time"
)

// MemoryKVStore is an in-memory KVStore implementation, used by tests and by
// standalone deployments that do not want a Redis dependency for checkpoints
// and task results.
type MemoryKVStore struct {
	mu     sync.RWMutex
	store  map[string]kvEntry
	logger Logger
}

type kvEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryKVStore creates an empty in-memory KVStore.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		store:  make(map[string]kvEntry),
		logger: &NoOpLogger{},
	}
}

// SetLogger configures the logger for this store, tagging it with the
// "store" component when the logger supports it.
func (m *MemoryKVStore) SetLogger(logger Logger) {
	if logger == nil {
		m.logger = &NoOpLogger{}
		return
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		m.logger = cal.WithComponent("store")
	} else {
		m.logger = logger
	}
}

// Get implements KVStore.
func (m *MemoryKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// SetEx implements KVStore. A ttlSeconds of 0 or less means no expiry.
func (m *MemoryKVStore) SetEx(ctx context.Context, key, value string, ttlSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := kvEntry{value: value}
	if ttlSeconds > 0 {
		entry.expiresAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	m.store[key] = entry

	if registry := GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("store.kv.operations", "op", "setex", "backend", "memory")
	}
	return nil
}

// Del implements KVStore.
func (m *MemoryKVStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Len returns the number of live (non-expired) keys. Not part of KVStore;
// useful in tests that assert on checkpoint cleanup.
func (m *MemoryKVStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	now := time.Now()
	for _, e := range m.store {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}
