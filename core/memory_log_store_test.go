package core

import (
	"context"
	"testing"
)

func TestMemoryLogStore_AppendAndLen(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	id, err := store.Append(ctx, "s1", map[string]string{"a": "1"}, 0)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id == "" {
		t.Error("expected non-empty ID")
	}
	n, _ := store.Len(ctx, "s1")
	if n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestMemoryLogStore_AppendTrimsToMaxLen(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, "s1", map[string]string{"i": "x"}, 3); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	n, _ := store.Len(ctx, "s1")
	if n != 3 {
		t.Errorf("Len() after trim = %d, want 3", n)
	}
}

func TestMemoryLogStore_EnsureGroupIdempotent(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	if err := store.EnsureGroup(ctx, "s1", "g1"); err != nil {
		t.Fatalf("EnsureGroup() first call error = %v", err)
	}
	if err := store.EnsureGroup(ctx, "s1", "g1"); err != nil {
		t.Fatalf("EnsureGroup() second call error = %v", err)
	}
}

func TestMemoryLogStore_ReadGroupDeliversOnce(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "s1", "g1")
	id, _ := store.Append(ctx, "s1", map[string]string{"k": "v"}, 0)

	batches, err := store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 10, 0)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(batches) != 1 || len(batches[0].Entries) != 1 || batches[0].Entries[0].ID != id {
		t.Fatalf("ReadGroup() first call = %+v, want one entry %q", batches, id)
	}

	// A second read with nothing new delivers an empty result immediately.
	batches, err = store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 10, 0)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(batches) != 0 {
		t.Errorf("ReadGroup() second call = %+v, want no batches", batches)
	}
}

func TestMemoryLogStore_PriorityOrderOfStreamsRespected(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "high", "g1")
	_ = store.EnsureGroup(ctx, "low", "g1")
	_, _ = store.Append(ctx, "low", map[string]string{"p": "low"}, 0)
	_, _ = store.Append(ctx, "high", map[string]string{"p": "high"}, 0)

	batches, err := store.ReadGroup(ctx, "g1", "c1", []string{"high", "low"}, 10, 0)
	if err != nil {
		t.Fatalf("ReadGroup() error = %v", err)
	}
	if len(batches) != 2 || batches[0].Stream != "high" {
		t.Fatalf("ReadGroup() = %+v, want high stream first", batches)
	}
}

func TestMemoryLogStore_AckRemovesFromPending(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "s1", "g1")
	_, _ = store.Append(ctx, "s1", map[string]string{"k": "v"}, 0)
	batches, _ := store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 10, 0)
	msgID := batches[0].Entries[0].ID

	info, _ := store.GroupInfo(ctx, "s1", "g1")
	if info.Pending != 1 {
		t.Fatalf("GroupInfo().Pending = %d, want 1 before Ack", info.Pending)
	}

	if err := store.Ack(ctx, "s1", "g1", msgID); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	info, _ = store.GroupInfo(ctx, "s1", "g1")
	if info.Pending != 0 {
		t.Errorf("GroupInfo().Pending after Ack = %d, want 0", info.Pending)
	}

	// Acking again is a no-op, not an error.
	if err := store.Ack(ctx, "s1", "g1", msgID); err != nil {
		t.Errorf("second Ack() error = %v", err)
	}
}

func TestMemoryLogStore_DelRemovesEntryEverywhere(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "s1", "g1")
	id, _ := store.Append(ctx, "s1", map[string]string{"k": "v"}, 0)
	_, _ = store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 10, 0)

	if err := store.Del(ctx, "s1", id); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	n, _ := store.Len(ctx, "s1")
	if n != 0 {
		t.Errorf("Len() after Del = %d, want 0", n)
	}
	info, _ := store.GroupInfo(ctx, "s1", "g1")
	if info.Pending != 0 {
		t.Errorf("GroupInfo().Pending after Del = %d, want 0", info.Pending)
	}
}

func TestMemoryLogStore_PendingRangeRespectsIdleThreshold(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "s1", "g1")
	_, _ = store.Append(ctx, "s1", map[string]string{"k": "v"}, 0)
	_, _ = store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 10, 0)

	pending, err := store.PendingRange(ctx, "s1", "g1", 10_000, 10)
	if err != nil {
		t.Fatalf("PendingRange() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("PendingRange() with high idle threshold = %+v, want none (just delivered)", pending)
	}

	pending, err = store.PendingRange(ctx, "s1", "g1", 0, 10)
	if err != nil {
		t.Fatalf("PendingRange() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Consumer != "c1" {
		t.Fatalf("PendingRange() with zero threshold = %+v, want one entry from c1", pending)
	}
}

func TestMemoryLogStore_ClaimReassignsIdleEntry(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "s1", "g1")
	id, _ := store.Append(ctx, "s1", map[string]string{"k": "v"}, 0)
	_, _ = store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 10, 0)

	claimed, err := store.Claim(ctx, "s1", "g1", "c2", 0, []string{id})
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("Claim() = %+v, want one entry %q", claimed, id)
	}

	pending, _ := store.PendingRange(ctx, "s1", "g1", 0, 10)
	if len(pending) != 1 || pending[0].Consumer != "c2" {
		t.Fatalf("after Claim, pending = %+v, want consumer c2", pending)
	}
}

func TestMemoryLogStore_GroupInfoCountsDistinctConsumers(t *testing.T) {
	store := NewMemoryLogStore()
	ctx := context.Background()

	_ = store.EnsureGroup(ctx, "s1", "g1")
	_, _ = store.Append(ctx, "s1", map[string]string{"k": "1"}, 0)
	_, _ = store.Append(ctx, "s1", map[string]string{"k": "2"}, 0)
	_, _ = store.ReadGroup(ctx, "g1", "c1", []string{"s1"}, 1, 0)
	_, _ = store.ReadGroup(ctx, "g1", "c2", []string{"s1"}, 1, 0)

	info, err := store.GroupInfo(ctx, "s1", "g1")
	if err != nil {
		t.Fatalf("GroupInfo() error = %v", err)
	}
	if info.Consumers != 2 {
		t.Errorf("GroupInfo().Consumers = %d, want 2", info.Consumers)
	}
	if info.Pending != 2 {
		t.Errorf("GroupInfo().Pending = %d, want 2", info.Pending)
	}
}

func TestMemoryLogStore_SetLogger(t *testing.T) {
	store := NewMemoryLogStore()
	logger := NewProductionLogger(LoggingConfig{Format: "text"}, DevelopmentConfig{}, "test")
	store.SetLogger(logger)
	if store.logger == nil {
		t.Error("expected logger to be set")
	}
	store.SetLogger(nil)
	if _, ok := store.logger.(*NoOpLogger); !ok {
		t.Error("expected nil logger to fall back to NoOpLogger")
	}
}
