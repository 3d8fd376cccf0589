// Package queue implements the priority task queue: four fixed streams
// (critical, high, normal, low), a single consumer group per deployment,
// at-least-once delivery, retry-with-stable-taskID, and a dead-letter tail
// for exhausted tasks. It is built against core.LogStore and core.KVStore,
// so it runs identically over Redis Streams or the in-memory test double.
package queue

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Priority is the queue's fixed priority ladder. Higher values are always
// preferred over lower ones when both have pending work.
type Priority int

const (
	Low      Priority = 25
	Normal   Priority = 50
	High     Priority = 75
	Critical Priority = 100
)

// String renders the priority as its stream-suffix name.
func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority inverts Priority.String.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "normal":
		return Normal, nil
	case "low":
		return Low, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// allPriorities lists every priority highest-first — the order streams are
// always passed to a block-read call unless a caller narrows the set.
var allPriorities = []Priority{Critical, High, Normal, Low}

// Task is a unit of work on the queue. A task is, at any instant, pending on
// exactly one priority stream, in-flight claimed by exactly one worker,
// acked (and gone), or resting in the DLQ. Retries preserve ID.
type Task struct {
	ID             string
	Type           string
	Payload        []byte
	Priority       Priority
	CreatedAt      time.Time
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
}

// toFields serializes a Task into the string-only field map a LogStore
// entry carries. Payload is opaque bytes at this boundary, base64-encoded
// so it survives the map[string]string transport.
func (t *Task) toFields() map[string]string {
	return map[string]string{
		"id":             t.ID,
		"type":           t.Type,
		"payload":        base64.StdEncoding.EncodeToString(t.Payload),
		"priority":       t.Priority.String(),
		"createdAt":      t.CreatedAt.Format(time.RFC3339Nano),
		"retryCount":     strconv.Itoa(t.RetryCount),
		"maxRetries":     strconv.Itoa(t.MaxRetries),
		"timeoutSeconds": strconv.Itoa(t.TimeoutSeconds),
	}
}

// taskFromFields deserializes a Task from stream entry fields.
func taskFromFields(fields map[string]string) (*Task, error) {
	priority, err := ParsePriority(fields["priority"])
	if err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(fields["payload"])
	if err != nil {
		return nil, fmt.Errorf("decode task payload: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["createdAt"])
	if err != nil {
		createdAt = time.Time{}
	}
	retryCount, _ := strconv.Atoi(fields["retryCount"])
	maxRetries, _ := strconv.Atoi(fields["maxRetries"])
	timeoutSeconds, _ := strconv.Atoi(fields["timeoutSeconds"])

	return &Task{
		ID:             fields["id"],
		Type:           fields["type"],
		Payload:        payload,
		Priority:       priority,
		CreatedAt:      createdAt,
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeoutSeconds,
	}, nil
}
