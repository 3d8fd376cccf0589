package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

func testConfig() Config {
	return Config{
		CheckpointPrefix:          "test_saga",
		CheckpointTtlSeconds:      60,
		DefaultStepTimeoutSeconds: 5,
		Backoff:                   func(attempt int) time.Duration { return time.Millisecond },
	}
}

// Scenario 4: saga success + restore. All steps succeed; the checkpoint
// left behind reflects COMPLETED state and can be restored afterward.
func TestOrchestrator_SuccessAndRestore(t *testing.T) {
	kv := core.NewMemoryKVStore()
	o := NewOrchestrator(kv, testConfig(), core.NewSystemClock(), &core.NoOpLogger{})
	ctx := context.Background()

	var order []string
	steps := []*Step{
		{Name: "s1", MaxRetries: 0, Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "s1")
			return map[string]interface{}{"from_s1": 1}, nil
		}},
		{Name: "s2", MaxRetries: 0, Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "s2")
			if sc["from_s1"] != 1 {
				t.Errorf("s2 did not see merged context from s1: %+v", sc)
			}
			return map[string]interface{}{"from_s2": 2}, nil
		}},
	}

	result, err := o.Execute(ctx, "saga-1", steps, map[string]interface{}{"input": "x"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != "completed" {
		t.Fatalf("Status = %q, want completed", result.Status)
	}
	if result.CompletedCount != 2 {
		t.Fatalf("CompletedCount = %d, want 2", result.CompletedCount)
	}
	if len(order) != 2 || order[0] != "s1" || order[1] != "s2" {
		t.Errorf("execution order = %v, want [s1 s2]", order)
	}

	cp, ok, err := o.RestoreFromCheckpoint(ctx, "saga-1")
	if err != nil {
		t.Fatalf("RestoreFromCheckpoint() error = %v", err)
	}
	if !ok {
		t.Fatal("expected a checkpoint to exist")
	}
	if cp.State != StateCompleted {
		t.Errorf("restored State = %q, want %q", cp.State, StateCompleted)
	}
	if len(cp.CompletedSteps) != 2 {
		t.Errorf("restored CompletedSteps = %d, want 2", len(cp.CompletedSteps))
	}
	if cp.Context["from_s2"] != float64(2) && cp.Context["from_s2"] != 2 {
		t.Errorf("restored context missing from_s2: %+v", cp.Context)
	}
}

func TestOrchestrator_RestoreMissingReturnsFalse(t *testing.T) {
	kv := core.NewMemoryKVStore()
	o := NewOrchestrator(kv, testConfig(), core.NewSystemClock(), &core.NoOpLogger{})

	_, ok, err := o.RestoreFromCheckpoint(context.Background(), "never-ran")
	if err != nil {
		t.Fatalf("RestoreFromCheckpoint() error = %v", err)
	}
	if ok {
		t.Error("expected no checkpoint for an unknown saga ID")
	}
}

// Scenario 5: saga compensation order. Steps [s1(ok, comp1), s2(ok, comp2),
// s3(fail)], s3.maxRetries=3. After Execute: s3 action invoked 4 times;
// compensations invoked in order [comp2, comp1]; state=FAILED; result error
// references "failure at s3".
func TestOrchestrator_CompensationOrder(t *testing.T) {
	kv := core.NewMemoryKVStore()
	o := NewOrchestrator(kv, testConfig(), core.NewSystemClock(), &core.NoOpLogger{})
	ctx := context.Background()

	var compensated []string
	var s3Calls int

	steps := []*Step{
		{
			Name: "s1",
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"s1_done": true}, nil
			},
			Compensation: func(ctx context.Context, result map[string]interface{}) error {
				compensated = append(compensated, "comp1")
				return nil
			},
		},
		{
			Name: "s2",
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"s2_done": true}, nil
			},
			Compensation: func(ctx context.Context, result map[string]interface{}) error {
				compensated = append(compensated, "comp2")
				return nil
			},
		},
		{
			Name:       "s3",
			MaxRetries: 3,
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				s3Calls++
				return nil, errors.New("boom")
			},
		},
	}

	result, err := o.Execute(ctx, "saga-2", steps, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if s3Calls != 4 {
		t.Errorf("s3 action invocations = %d, want 4 (1 + 3 retries)", s3Calls)
	}
	want := []string{"comp2", "comp1"}
	if len(compensated) != len(want) {
		t.Fatalf("compensated = %v, want %v", compensated, want)
	}
	for i := range want {
		if compensated[i] != want[i] {
			t.Errorf("compensation order[%d] = %s, want %s (full: %v)", i, compensated[i], want[i], compensated)
		}
	}

	if result.Status != "failed" {
		t.Errorf("Status = %q, want failed", result.Status)
	}
	if result.Error == nil || !containsSubstring(result.Error.Error(), "failure at s3") {
		t.Errorf("result.Error = %v, want it to reference %q", result.Error, "failure at s3")
	}

	cp, ok, err := o.RestoreFromCheckpoint(ctx, "saga-2")
	if err != nil || !ok {
		t.Fatalf("RestoreFromCheckpoint() error = %v, ok = %v", err, ok)
	}
	if cp.State != StateFailed {
		t.Errorf("restored State = %q, want %q", cp.State, StateFailed)
	}
}

func TestOrchestrator_CompensationErrorDoesNotAbortPeers(t *testing.T) {
	kv := core.NewMemoryKVStore()
	o := NewOrchestrator(kv, testConfig(), core.NewSystemClock(), &core.NoOpLogger{})
	ctx := context.Background()

	var compensated []string
	steps := []*Step{
		{
			Name: "s1",
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				return nil, nil
			},
			Compensation: func(ctx context.Context, result map[string]interface{}) error {
				compensated = append(compensated, "comp1")
				return nil
			},
		},
		{
			Name: "s2",
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				return nil, nil
			},
			Compensation: func(ctx context.Context, result map[string]interface{}) error {
				compensated = append(compensated, "comp2")
				return fmt.Errorf("compensation for s2 itself failed")
			},
		},
		{
			Name:       "s3",
			MaxRetries: 0,
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				return nil, errors.New("boom")
			},
		},
	}

	result, err := o.Execute(ctx, "saga-3", steps, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(compensated) != 2 {
		t.Fatalf("expected both compensations to run despite comp2 erroring, got %v", compensated)
	}
	if result.Status != "failed" {
		t.Errorf("Status = %q, want failed", result.Status)
	}
}

func TestOrchestrator_RetryBackoffSucceedsAfterTransientError(t *testing.T) {
	kv := core.NewMemoryKVStore()
	o := NewOrchestrator(kv, testConfig(), core.NewSystemClock(), &core.NoOpLogger{})
	ctx := context.Background()

	attempts := 0
	steps := []*Step{
		{
			Name:       "flaky",
			MaxRetries: 2,
			Action: func(ctx context.Context, sc map[string]interface{}) (map[string]interface{}, error) {
				attempts++
				if attempts < 2 {
					return nil, errors.New("transient")
				}
				return map[string]interface{}{"ok": true}, nil
			},
		},
	}

	result, err := o.Execute(ctx, "saga-4", steps, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Status != "completed" {
		t.Errorf("Status = %q, want completed", result.Status)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func containsSubstring(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
