package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestrix/ctrlplane/core"
	"github.com/orchestrix/ctrlplane/telemetry"
)

// Config configures one Orchestrator. Mirrors core.SagaConfig.
type Config struct {
	CheckpointPrefix          string
	CheckpointTtlSeconds      int64
	DefaultStepTimeoutSeconds int
	// Backoff computes the wait before retry attempt n (1-based). Defaults
	// to 2^n seconds; tests override this to keep runs fast.
	Backoff func(attempt int) time.Duration
}

// FromCoreConfig adapts the framework-wide saga config block.
func FromCoreConfig(c core.SagaConfig) Config {
	return Config{
		CheckpointPrefix:          c.CheckpointPrefix,
		CheckpointTtlSeconds:      c.CheckpointTtlSeconds,
		DefaultStepTimeoutSeconds: c.DefaultStepTimeoutSeconds,
	}
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Orchestrator runs a fixed, ordered step list against a KVStore-backed
// checkpoint. One Orchestrator instance is bound to the step list it was
// constructed with — restoring with a different ordered step list than the
// one that produced the checkpoint is a programmer error (spec.md §4.2).
type Orchestrator struct {
	kv     core.KVStore
	cfg    Config
	clock  core.Clock
	logger core.Logger
}

// NewOrchestrator constructs an Orchestrator over kv.
func NewOrchestrator(kv core.KVStore, cfg Config, clock core.Clock, logger core.Logger) *Orchestrator {
	if cfg.CheckpointPrefix == "" {
		cfg.CheckpointPrefix = "ctrl_saga"
	}
	if cfg.CheckpointTtlSeconds <= 0 {
		cfg.CheckpointTtlSeconds = 86400
	}
	if cfg.DefaultStepTimeoutSeconds <= 0 {
		cfg.DefaultStepTimeoutSeconds = 300
	}
	if cfg.Backoff == nil {
		cfg.Backoff = defaultBackoff
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("saga")
	}
	return &Orchestrator{kv: kv, cfg: cfg, clock: clock, logger: logger}
}

func (o *Orchestrator) checkpointKey(sagaID string) string {
	return fmt.Sprintf("%s:%s", o.cfg.CheckpointPrefix, sagaID)
}

// writeCheckpoint persists cp. A write failure is logged but never aborts
// the in-flight step — availability over durability at this layer.
func (o *Orchestrator) writeCheckpoint(ctx context.Context, cp *Checkpoint) {
	cp.UpdatedAt = o.clock.Now()
	data, err := json.Marshal(cp)
	if err != nil {
		o.logger.ErrorWithContext(ctx, "checkpoint marshal failed", map[string]interface{}{"saga_id": cp.SagaID, "error": err.Error()})
		return
	}
	if err := o.kv.SetEx(ctx, o.checkpointKey(cp.SagaID), string(data), o.cfg.CheckpointTtlSeconds); err != nil {
		o.logger.WarnWithContext(ctx, "checkpoint write failed", map[string]interface{}{"saga_id": cp.SagaID, "error": err.Error()})
	}
}

// Execute runs steps in order over initialContext, writing a checkpoint
// after every step outcome. On any step exhausting its retries, the
// orchestrator compensates completed steps in reverse order and returns a
// failed Result.
func (o *Orchestrator) Execute(ctx context.Context, sagaID string, steps []*Step, initialContext map[string]interface{}) (*Result, error) {
	sagaCtx := make(map[string]interface{}, len(initialContext))
	for k, v := range initialContext {
		sagaCtx[k] = v
	}

	cp := &Checkpoint{
		SagaID:    sagaID,
		State:     StateRunning,
		Context:   sagaCtx,
		CreatedAt: o.clock.Now(),
	}
	o.writeCheckpoint(ctx, cp)
	telemetry.Emit("saga.started", 1, "saga_id", sagaID)
	runStart := o.clock.Now()

	for i, step := range steps {
		cp.CurrentStepIndex = i
		step.Status = StatusExecuting
		step.StartedAt = o.clock.Now()

		result, err := o.runStepWithRetry(ctx, step, cp.Context)
		step.CompletedAt = o.clock.Now()
		telemetry.Emit("saga.step.duration_ms", float64(step.CompletedAt.Sub(step.StartedAt).Milliseconds()),
			"step_name", step.Name, "status", statusLabel(err))

		if err != nil {
			step.Status = StatusFailed
			step.Error = err.Error()
			cp.State = StateCompensating
			cp.FailureReason = fmt.Sprintf("failure at %s: %v", step.Name, err)
			o.writeCheckpoint(ctx, cp)
			telemetry.Emit("saga.step.failures", 1, "step_name", step.Name)

			o.compensate(ctx, steps, cp)

			cp.State = StateFailed
			o.writeCheckpoint(ctx, cp)
			telemetry.Emit("saga.completed", 1, "status", "failed")
			telemetry.Emit("saga.duration_ms", float64(o.clock.Now().Sub(runStart).Milliseconds()), "status", "failed")

			return &Result{
				SagaID:         sagaID,
				Status:         "failed",
				Results:        cp.CompletedSteps,
				Error:          fmt.Errorf("failure at %s: %w", step.Name, err),
				CompletedCount: len(cp.CompletedSteps),
			}, nil
		}

		step.Status = StatusCompleted
		step.Result = result
		if result != nil {
			for k, v := range result {
				cp.Context[k] = v
			}
		}
		cp.CompletedSteps = append(cp.CompletedSteps, CompletedStep{
			Name: step.Name, Status: StatusCompleted, RetryCount: step.RetryCount,
			Result: result, StartedAt: step.StartedAt, CompletedAt: step.CompletedAt,
		})
		o.writeCheckpoint(ctx, cp)
	}

	cp.State = StateCompleted
	o.writeCheckpoint(ctx, cp)
	telemetry.Emit("saga.completed", 1, "status", "completed")
	telemetry.Emit("saga.duration_ms", float64(o.clock.Now().Sub(runStart).Milliseconds()), "status", "completed")

	return &Result{
		SagaID:         sagaID,
		Status:         "completed",
		Results:        cp.CompletedSteps,
		CompletedCount: len(cp.CompletedSteps),
	}, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

// runStepWithRetry invokes step.Action under a wall-clock timeout, retrying
// on timeout or error up to step.MaxRetries with the configured backoff.
func (o *Orchestrator) runStepWithRetry(ctx context.Context, step *Step, sagaContext map[string]interface{}) (map[string]interface{}, error) {
	timeoutSeconds := step.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = o.cfg.DefaultStepTimeoutSeconds
	}

	var lastErr error
	for attempt := 0; attempt <= step.MaxRetries; attempt++ {
		if attempt > 0 {
			step.RetryCount = attempt
			o.clock.Sleep(o.cfg.Backoff(attempt))
		}

		stepCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		result, err := step.Action(stepCtx, sagaContext)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err
		if stepCtx.Err() != nil && ctx.Err() == nil {
			lastErr = fmt.Errorf("step timed out after %ds: %w", timeoutSeconds, core.ErrTimeout)
		}
		o.logger.WarnWithContext(ctx, "saga step attempt failed", map[string]interface{}{
			"step": step.Name, "attempt": attempt + 1, "error": lastErr.Error(),
		})
	}
	return nil, lastErr
}

// compensate walks completedSteps in reverse, invoking each step's
// compensation with its stored result. A compensation error is recorded on
// that step but never aborts compensating earlier peers.
func (o *Orchestrator) compensate(ctx context.Context, steps []*Step, cp *Checkpoint) {
	byName := make(map[string]*Step, len(steps))
	for _, s := range steps {
		byName[s.Name] = s
	}

	for i := len(cp.CompletedSteps) - 1; i >= 0; i-- {
		entry := &cp.CompletedSteps[i]
		step, ok := byName[entry.Name]
		if !ok || step.Compensation == nil {
			continue
		}

		timeoutSeconds := step.TimeoutSeconds
		if timeoutSeconds <= 0 {
			timeoutSeconds = o.cfg.DefaultStepTimeoutSeconds
		}
		compCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		err := step.Compensation(compCtx, entry.Result)
		cancel()

		if err != nil {
			entry.Status = StatusCompensated
			entry.Error = fmt.Sprintf("compensation failed: %v", err)
			o.logger.ErrorWithContext(ctx, "compensation failed", map[string]interface{}{
				"step": entry.Name, "error": err.Error(),
			})
			telemetry.Emit("saga.compensations", 1, "step_name", entry.Name, "status", "failed")
		} else {
			entry.Status = StatusCompensated
			telemetry.Emit("saga.compensations", 1, "step_name", entry.Name, "status", "completed")
		}
		o.writeCheckpoint(ctx, cp)
	}
}

// RestoreFromCheckpoint rehydrates state, currentStepIndex, context, and
// the identity of completed steps from KVStore. Side effects of completed
// steps are trusted to have happened; their returned values are not
// replayed. Returns false if no checkpoint exists for sagaID.
func (o *Orchestrator) RestoreFromCheckpoint(ctx context.Context, sagaID string) (*Checkpoint, bool, error) {
	raw, ok, err := o.kv.Get(ctx, o.checkpointKey(sagaID))
	if err != nil {
		return nil, false, fmt.Errorf("saga.RestoreFromCheckpoint: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return nil, false, fmt.Errorf("saga.RestoreFromCheckpoint: decode: %w", err)
	}
	return &cp, true, nil
}
