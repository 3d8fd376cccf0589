package store

import (
	"context"
	"testing"
)

func newTestKVStore(t *testing.T) *RedisKVStore {
	t.Helper()
	requireRedis(t)

	client, err := NewClient(ClientOptions{RedisURL: "redis://localhost:6379", DB: DBQueue, Namespace: "ctrltest"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := NewRedisKVStore(client)
	t.Cleanup(func() {
		_ = store.Del(context.Background(), "kv-get")
		_ = store.Del(context.Background(), "kv-ttl")
		_ = store.Del(context.Background(), "kv-del")
	})
	return store
}

func TestRedisKVStore_GetMiss(t *testing.T) {
	store := newTestKVStore(t)
	_, ok, err := store.Get(context.Background(), "kv-does-not-exist")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("expected miss for unknown key")
	}
}

func TestRedisKVStore_SetExAndGet(t *testing.T) {
	store := newTestKVStore(t)
	ctx := context.Background()

	if err := store.SetEx(ctx, "kv-get", "hello", 0); err != nil {
		t.Fatalf("SetEx() error = %v", err)
	}
	val, ok, err := store.Get(ctx, "kv-get")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || val != "hello" {
		t.Errorf("Get() = (%q, %v), want (\"hello\", true)", val, ok)
	}
}

func TestRedisKVStore_SetExWithTTL(t *testing.T) {
	store := newTestKVStore(t)
	ctx := context.Background()

	if err := store.SetEx(ctx, "kv-ttl", "expiring", 3600); err != nil {
		t.Fatalf("SetEx() error = %v", err)
	}
	val, ok, err := store.Get(ctx, "kv-ttl")
	if err != nil || !ok || val != "expiring" {
		t.Errorf("Get() = (%q, %v, %v), want (\"expiring\", true, nil)", val, ok, err)
	}
}

func TestRedisKVStore_Del(t *testing.T) {
	store := newTestKVStore(t)
	ctx := context.Background()

	_ = store.SetEx(ctx, "kv-del", "gone-soon", 0)
	if err := store.Del(ctx, "kv-del"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	_, ok, _ := store.Get(ctx, "kv-del")
	if ok {
		t.Error("expected key to be gone after Del()")
	}

	// Deleting a key that never existed is not an error.
	if err := store.Del(ctx, "kv-never-existed"); err != nil {
		t.Errorf("Del() of nonexistent key error = %v", err)
	}
}
