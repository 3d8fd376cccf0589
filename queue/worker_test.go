package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_RegisterHandlerRejectsEmptyType(t *testing.T) {
	q := newTestQueue(t)
	pool := NewWorkerPool(q, DefaultWorkerPoolConfig(), nil)
	if err := pool.RegisterHandler("", func(ctx context.Context, task *Task) ([]byte, error) { return nil, nil }); err == nil {
		t.Error("expected error for empty task type")
	}
}

func TestWorkerPool_RegisterHandlerRejectsNil(t *testing.T) {
	q := newTestQueue(t)
	pool := NewWorkerPool(q, DefaultWorkerPoolConfig(), nil)
	if err := pool.RegisterHandler("work", nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestWorkerPool_ProcessesEnqueuedTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 1, ShutdownTimeout: 2 * time.Second}, nil)
	_ = pool.RegisterHandler("work", func(ctx context.Context, task *Task) ([]byte, error) {
		processed.Add(1)
		wg.Done()
		return []byte("done"), nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = pool.Start(runCtx) }()
	defer func() {
		cancel()
		_ = pool.Stop(context.Background())
	}()

	if _, err := q.Enqueue(ctx, "work", []byte("payload"), Normal, 3, 30, 0, ""); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	waitOrTimeout(t, &wg, 2*time.Second)
	if processed.Load() != 1 {
		t.Errorf("processed = %d, want 1", processed.Load())
	}
}

func TestWorkerPool_HandlerPanicIsRecoveredAndFailsTask(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	var calls atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 1, ShutdownTimeout: 2 * time.Second}, nil)
	_ = pool.RegisterHandler("work", func(ctx context.Context, task *Task) ([]byte, error) {
		n := calls.Add(1)
		if n == 1 {
			panic("boom")
		}
		wg.Done()
		return nil, nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = pool.Start(runCtx) }()
	defer func() {
		cancel()
		_ = pool.Stop(context.Background())
	}()

	if _, err := q.Enqueue(ctx, "work", []byte("payload"), Normal, 3, 30, 0, ""); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	waitOrTimeout(t, &wg, 2*time.Second)
	if calls.Load() < 2 {
		t.Errorf("handler calls = %d, want at least 2 (panic then retry)", calls.Load())
	}
}

func TestWorkerPool_UnknownTaskTypeFails(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 1, ShutdownTimeout: 2 * time.Second}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = pool.Start(runCtx) }()
	defer func() {
		cancel()
		_ = pool.Stop(context.Background())
	}()

	taskID, err := q.Enqueue(ctx, "unregistered", []byte("payload"), Normal, 1, 30, 0, "")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		stats, err := q.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if stats.DLQLength > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached DLQ", taskID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerPool_DoubleStartErrors(t *testing.T) {
	q := newTestQueue(t)
	pool := NewWorkerPool(q, WorkerPoolConfig{WorkerCount: 1}, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Start(runCtx) }()
	time.Sleep(20 * time.Millisecond)

	if err := pool.Start(context.Background()); err == nil {
		t.Error("expected error starting an already-running pool")
	}
	_ = pool.Stop(context.Background())
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for worker pool to process task")
	}
}
