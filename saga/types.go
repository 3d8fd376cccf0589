// Package saga implements the saga orchestrator: a linear sequence of
// steps executed in order, each retried with exponential backoff, with a
// durable KVStore checkpoint written after every step outcome and reverse-
// order compensation on terminal failure. Steps are represented as a tagged
// registry of named callables, never serialized themselves — only their
// name and outcome survive into the checkpoint.
package saga

import (
	"context"
	"time"
)

// Status is a step's runtime state.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusExecuting    Status = "EXECUTING"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusFailed       Status = "FAILED"
)

// State is the saga-level FSM state.
type State string

const (
	StateIdle         State = "IDLE"
	StateRunning      State = "RUNNING"
	StateCompensating State = "COMPENSATING"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

// ActionFunc performs one step's forward work over the shared saga
// context, returning a result map to merge back into that context.
type ActionFunc func(ctx context.Context, sagaContext map[string]interface{}) (map[string]interface{}, error)

// CompensationFunc reverses a step's effect, given the result it produced.
type CompensationFunc func(ctx context.Context, result map[string]interface{}) error

// Step is one stage of a saga: a named action with an optional
// compensation, both first-class functions bound in-process — never
// serialized. Checkpoints persist only Name, Status, and outcome.
type Step struct {
	Name          string
	Action        ActionFunc
	Compensation  CompensationFunc
	TimeoutSeconds int
	MaxRetries    int

	// Runtime fields, mutated during Execute.
	Status      Status
	RetryCount  int
	Result      map[string]interface{}
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// CompletedStep is the serializable part of Step recorded in a checkpoint —
// no callables, just name, status, and outcome.
type CompletedStep struct {
	Name        string                 `json:"name"`
	Status      Status                 `json:"status"`
	RetryCount  int                    `json:"retryCount"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
}

// Checkpoint is the durable snapshot in KVStore keyed by sagaID — the
// single source of truth for what has already happened across a restart.
type Checkpoint struct {
	SagaID           string                 `json:"sagaID"`
	State            State                  `json:"state"`
	CurrentStepIndex int                    `json:"currentStepIndex"`
	CompletedSteps   []CompletedStep        `json:"completedSteps"`
	Context          map[string]interface{} `json:"context"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	FailureReason    string                 `json:"failureReason,omitempty"`
}

// Result is what Execute returns.
type Result struct {
	SagaID         string
	Status         string // "completed" | "failed"
	Results        []CompletedStep
	Error          error
	CompletedCount int
}
