package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

// Handler processes one task's payload and returns an optional result,
// cached by the queue under taskResult:{messageID} on success.
type Handler func(ctx context.Context, task *Task) ([]byte, error)

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	WorkerCount       int
	DequeuePriorities []Priority
	ShutdownTimeout   time.Duration
	RecoveryInterval  time.Duration
}

// DefaultWorkerPoolConfig returns sane concurrency defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:      5,
		ShutdownTimeout:  30 * time.Second,
		RecoveryInterval: 60 * time.Second,
	}
}

// WorkerPool drives a fixed number of goroutines consuming from a
// TaskQueue, dispatching to type-registered handlers, and feeding back
// Complete/Fail. A handler panic is recovered and reported as a failure so
// one bad task never kills a worker.
type WorkerPool struct {
	queue    *TaskQueue
	handlers map[string]Handler
	cfg      WorkerPoolConfig
	logger   core.Logger

	handlersMu sync.RWMutex
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    atomic.Bool
	workerSeq  atomic.Int64
}

// NewWorkerPool constructs a WorkerPool over queue.
func NewWorkerPool(queue *TaskQueue, cfg WorkerPoolConfig, logger core.Logger) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 60 * time.Second
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("queue")
	}

	return &WorkerPool{
		queue:    queue,
		handlers: make(map[string]Handler),
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterHandler registers a handler for a task type. Must be called
// before Start.
func (p *WorkerPool) RegisterHandler(taskType string, handler Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if p.running.Load() {
		return fmt.Errorf("cannot register handler while pool is running")
	}

	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[taskType] = handler
	return nil
}

// Start launches the worker goroutines and a pending-recovery loop. It
// blocks until ctx is cancelled or Stop is called.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return fmt.Errorf("worker pool already running")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("starting worker pool", map[string]interface{}{"worker_count": p.cfg.WorkerCount})

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", p.workerSeq.Add(1))
		p.wg.Add(1)
		go p.runWorker(workerCtx, workerID)
	}

	p.wg.Add(1)
	go p.runRecoveryLoop(workerCtx)

	p.wg.Wait()
	p.running.Store(false)
	p.logger.Info("worker pool stopped", map[string]interface{}{})
	return nil
}

// Stop cancels the worker context and waits up to ShutdownTimeout for
// workers to drain.
func (p *WorkerPool) Stop(ctx context.Context) error {
	if !p.running.Load() {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		return fmt.Errorf("queue.WorkerPool.Stop: %w: workers still draining after shutdown timeout", core.ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	p.logger.Info("worker started", map[string]interface{}{"worker_id": workerID})
	defer p.logger.Info("worker stopped", map[string]interface{}{"worker_id": workerID})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageID, task, err := p.queue.Consume(ctx, workerID, p.cfg.DequeuePriorities)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if task == nil {
			continue
		}

		p.process(ctx, workerID, messageID, task)
	}
}

func (p *WorkerPool) process(ctx context.Context, workerID, messageID string, task *Task) {
	p.handlersMu.RLock()
	handler, ok := p.handlers[task.Type]
	p.handlersMu.RUnlock()

	if !ok {
		_ = p.queue.Fail(ctx, messageID, fmt.Sprintf("no handler registered for task type %q", task.Type), task)
		return
	}

	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.executeHandler(taskCtx, workerID, task, handler)
	if err != nil {
		_ = p.queue.Fail(ctx, messageID, err.Error(), task)
		return
	}
	if err := p.queue.Complete(ctx, messageID, result); err != nil {
		p.logger.ErrorWithContext(ctx, "complete failed", map[string]interface{}{
			"task_id": task.ID, "message_id": messageID, "error": err.Error(),
		})
	}
}

func (p *WorkerPool) executeHandler(ctx context.Context, workerID string, task *Task, handler Handler) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorWithContext(ctx, "handler panicked", map[string]interface{}{
				"worker_id": workerID,
				"task_id":   task.ID,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

func (p *WorkerPool) runRecoveryLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RecoveryInterval)
	defer ticker.Stop()

	recoveryWorkerID := "recovery"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.RecoverPending(ctx, recoveryWorkerID); err != nil {
				p.logger.WarnWithContext(ctx, "recover pending failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
