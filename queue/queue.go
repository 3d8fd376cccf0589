package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

// Config configures one TaskQueue instance. Defaults mirror core.QueueConfig.
type Config struct {
	StreamPrefix     string
	ConsumerGroup    string
	MaxStreamLength  int64
	PendingTimeoutMs int64
	PollIntervalMs   int64
	BatchSize        int64
}

// FromCoreConfig adapts the framework-wide queue config block.
func FromCoreConfig(c core.QueueConfig) Config {
	return Config{
		StreamPrefix:     c.StreamPrefix,
		ConsumerGroup:    c.ConsumerGroup,
		MaxStreamLength:  c.MaxStreamLength,
		PendingTimeoutMs: c.PendingTimeoutMs,
		PollIntervalMs:   c.PollIntervalMs,
		BatchSize:        c.BatchSize,
	}
}

// Stats reports one priority stream's queue depth, pending count, and
// consumer count.
type Stats struct {
	Length    int64
	Pending   int64
	Consumers int64
}

// QueueStats is the full Stats() result: per-priority counters plus DLQ depth.
type QueueStats struct {
	ByPriority map[Priority]Stats
	DLQLength  int64
}

// dlqEntry is what's written to the DLQ stream for an exhausted task.
type dlqEntry struct {
	OriginalMessageID string `json:"original_message_id"`
	Error             string `json:"error"`
	TaskData          *Task  `json:"task_data"`
	FailedAt          string `json:"failed_at"`
}

// TaskQueue implements the priority task queue contract (spec.md §4.1) over
// a LogStore/KVStore pair. Four fixed streams, one consumer group, and a
// DLQ tail — created idempotently on construction.
type TaskQueue struct {
	logStore core.LogStore
	kvStore  core.KVStore
	cfg      Config
	idGen    core.IdGen
	clock    core.Clock
	logger   core.Logger

	mu             sync.Mutex
	messageStreams map[string]string // messageID -> stream name, for Ack/Fail
}

// NewTaskQueue constructs a TaskQueue and ensures the consumer group exists
// on each of the four priority streams. Group creation is idempotent: an
// "already exists" error from the store is treated as success.
func NewTaskQueue(ctx context.Context, logStore core.LogStore, kvStore core.KVStore, cfg Config, idGen core.IdGen, clock core.Clock, logger core.Logger) (*TaskQueue, error) {
	if cfg.StreamPrefix == "" {
		return nil, fmt.Errorf("queue: %w", core.ErrMissingConfiguration)
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("queue: %w", core.ErrMissingConfiguration)
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if idGen == nil {
		idGen = core.UUIDGen{}
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("queue")
	}

	q := &TaskQueue{
		logStore:       logStore,
		kvStore:        kvStore,
		cfg:            cfg,
		idGen:          idGen,
		clock:          clock,
		logger:         logger,
		messageStreams: make(map[string]string),
	}

	for _, p := range allPriorities {
		if err := q.logStore.EnsureGroup(ctx, q.streamName(p), cfg.ConsumerGroup); err != nil {
			return nil, fmt.Errorf("ensure group on %s: %w", q.streamName(p), err)
		}
	}

	return q, nil
}

func (q *TaskQueue) streamName(p Priority) string {
	return fmt.Sprintf("%s_%s", q.cfg.StreamPrefix, p.String())
}

func (q *TaskQueue) dlqStreamName() string {
	return q.cfg.StreamPrefix + "_dlq"
}

// Enqueue appends a task to its priority stream. Re-enqueue of the same
// taskID for retries is expected and supported — the caller supplies
// retryCount/taskID when retrying.
func (q *TaskQueue) Enqueue(ctx context.Context, taskType string, payload []byte, priority Priority, maxRetries, timeoutSeconds int, retryCount int, taskID string) (string, error) {
	if taskType == "" {
		return "", fmt.Errorf("queue.Enqueue: task type required: %w", core.ErrValidationFailed)
	}
	if taskID == "" {
		taskID = q.idGen.NewID()
	}

	task := &Task{
		ID:             taskID,
		Type:           taskType,
		Payload:        payload,
		Priority:       priority,
		CreatedAt:      q.clock.Now(),
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeoutSeconds,
	}

	stream := q.streamName(priority)
	msgID, err := q.logStore.Append(ctx, stream, task.toFields(), q.cfg.MaxStreamLength)
	if err != nil {
		q.logger.ErrorWithContext(ctx, "enqueue failed", map[string]interface{}{
			"task_id": taskID,
			"stream":  stream,
			"error":   err.Error(),
		})
		return "", fmt.Errorf("queue.Enqueue: %w", err)
	}

	q.mu.Lock()
	q.messageStreams[msgID] = stream
	q.mu.Unlock()

	q.logger.InfoWithContext(ctx, "task enqueued", map[string]interface{}{
		"task_id":     taskID,
		"message_id":  msgID,
		"priority":    priority.String(),
		"retry_count": retryCount,
	})

	return taskID, nil
}

// Consume polls once for the highest-priority available task, restricted to
// priorities if non-empty (defaults to all four). Blocks up to one poll
// interval; returns ("", nil, nil) when nothing is available.
func (q *TaskQueue) Consume(ctx context.Context, workerID string, priorities []Priority) (string, *Task, error) {
	if len(priorities) == 0 {
		priorities = allPriorities
	}
	streams := make([]string, 0, len(priorities))
	for _, p := range priorities {
		streams = append(streams, q.streamName(p))
	}

	// Streams are read one at a time, highest priority first, one entry per
	// read, so the only entry delivered to workerID is the one returned; only
	// the lowest-priority read blocks for the poll interval.
	var batches []core.StreamBatch
	var err error
	for i, s := range streams {
		blockMs := int64(-1)
		if i == len(streams)-1 {
			blockMs = q.cfg.PollIntervalMs
		}
		if batches, err = q.logStore.ReadGroup(ctx, q.cfg.ConsumerGroup, workerID, []string{s}, 1, blockMs); err != nil || len(batches) > 0 {
			break
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		// Transient LogStore errors are logged and retried on the next poll;
		// the consumer loop never dies from a single error.
		q.logger.WarnWithContext(ctx, "consume poll failed", map[string]interface{}{
			"worker_id": workerID,
			"error":     err.Error(),
		})
		return "", nil, nil
	}

	streamOrder := make(map[string]int, len(streams))
	for i, s := range streams {
		streamOrder[s] = i
	}

	var best *core.StreamBatch
	for i := range batches {
		if len(batches[i].Entries) == 0 {
			continue
		}
		if best == nil || streamOrder[batches[i].Stream] < streamOrder[best.Stream] {
			best = &batches[i]
		}
	}
	if best == nil {
		return "", nil, nil
	}

	entry := best.Entries[0]
	task, err := taskFromFields(entry.Fields)
	if err != nil {
		q.logger.ErrorWithContext(ctx, "failed to decode task", map[string]interface{}{
			"message_id": entry.ID,
			"error":      err.Error(),
		})
		return "", nil, fmt.Errorf("queue.Consume: %w", err)
	}

	q.mu.Lock()
	q.messageStreams[entry.ID] = best.Stream
	q.mu.Unlock()

	return entry.ID, task, nil
}

// Complete ACKs and deletes messageID, and — if result is non-nil — caches
// it in KV under taskResult:{messageID} with a 1h TTL.
func (q *TaskQueue) Complete(ctx context.Context, messageID string, result []byte) error {
	stream, err := q.streamForMessage(messageID)
	if err != nil {
		return err
	}

	if err := q.logStore.Ack(ctx, stream, q.cfg.ConsumerGroup, messageID); err != nil {
		return fmt.Errorf("queue.Complete: ack: %w", err)
	}
	if err := q.logStore.Del(ctx, stream, messageID); err != nil {
		return fmt.Errorf("queue.Complete: del: %w", err)
	}

	if result != nil && q.kvStore != nil {
		if err := q.kvStore.SetEx(ctx, "taskResult:"+messageID, string(result), 3600); err != nil {
			q.logger.WarnWithContext(ctx, "failed to cache task result", map[string]interface{}{
				"message_id": messageID,
				"error":      err.Error(),
			})
		}
	}

	q.forgetMessage(messageID)
	q.logger.InfoWithContext(ctx, "task completed", map[string]interface{}{"message_id": messageID})
	return nil
}

// Fail handles a failed delivery. If task.RetryCount < task.MaxRetries, the
// task is re-enqueued with the same taskID, same priority, and retryCount
// incremented; otherwise it is appended to the DLQ. Either way, the
// original message is ACKed and deleted.
func (q *TaskQueue) Fail(ctx context.Context, messageID string, errorText string, task *Task) error {
	stream, err := q.streamForMessage(messageID)
	if err != nil {
		return err
	}

	if task != nil && task.RetryCount < task.MaxRetries {
		if _, err := q.Enqueue(ctx, task.Type, task.Payload, task.Priority, task.MaxRetries, task.TimeoutSeconds, task.RetryCount+1, task.ID); err != nil {
			return fmt.Errorf("queue.Fail: re-enqueue: %w", err)
		}
		q.logger.WarnWithContext(ctx, "task failed, retrying", map[string]interface{}{
			"task_id":     task.ID,
			"message_id":  messageID,
			"retry_count": task.RetryCount + 1,
			"error":       errorText,
		})
	} else if task != nil {
		entry := dlqEntry{
			OriginalMessageID: messageID,
			Error:             errorText,
			TaskData:          task,
			FailedAt:          q.clock.Now().Format(time.RFC3339Nano),
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("queue.Fail: marshal dlq entry: %w", err)
		}
		if _, err := q.logStore.Append(ctx, q.dlqStreamName(), map[string]string{"entry": string(data)}, 0); err != nil {
			return fmt.Errorf("queue.Fail: append to dlq: %w", err)
		}
		q.logger.ErrorWithContext(ctx, "task exhausted retries, sent to dlq", map[string]interface{}{
			"task_id":    task.ID,
			"message_id": messageID,
			"error":      errorText,
		})
	}

	if err := q.logStore.Ack(ctx, stream, q.cfg.ConsumerGroup, messageID); err != nil {
		return fmt.Errorf("queue.Fail: ack: %w", err)
	}
	if err := q.logStore.Del(ctx, stream, messageID); err != nil {
		return fmt.Errorf("queue.Fail: del: %w", err)
	}
	q.forgetMessage(messageID)
	return nil
}

// RecoverPending claims, on behalf of workerID, every entry across all four
// priority streams idle for more than pendingTimeoutMs. Returns the number
// of entries claimed.
func (q *TaskQueue) RecoverPending(ctx context.Context, workerID string) (int, error) {
	claimed := 0
	for _, p := range allPriorities {
		stream := q.streamName(p)
		idle, err := q.logStore.PendingRange(ctx, stream, q.cfg.ConsumerGroup, q.cfg.PendingTimeoutMs, q.cfg.BatchSize)
		if err != nil {
			return claimed, fmt.Errorf("queue.RecoverPending: pending range on %s: %w", stream, err)
		}
		if len(idle) == 0 {
			continue
		}

		ids := make([]string, 0, len(idle))
		for _, e := range idle {
			ids = append(ids, e.ID)
		}
		entries, err := q.logStore.Claim(ctx, stream, q.cfg.ConsumerGroup, workerID, q.cfg.PendingTimeoutMs, ids)
		if err != nil {
			return claimed, fmt.Errorf("queue.RecoverPending: claim on %s: %w", stream, err)
		}
		q.mu.Lock()
		for _, e := range entries {
			q.messageStreams[e.ID] = stream
		}
		q.mu.Unlock()
		claimed += len(entries)
	}

	if claimed > 0 {
		q.logger.InfoWithContext(ctx, "recovered pending tasks", map[string]interface{}{
			"worker_id": workerID,
			"count":     claimed,
		})
	}
	return claimed, nil
}

// Stats reports per-priority {length, pending, consumers} plus DLQ length.
func (q *TaskQueue) Stats(ctx context.Context) (QueueStats, error) {
	out := QueueStats{ByPriority: make(map[Priority]Stats, len(allPriorities))}

	for _, p := range allPriorities {
		stream := q.streamName(p)
		length, err := q.logStore.Len(ctx, stream)
		if err != nil {
			return out, fmt.Errorf("queue.Stats: len %s: %w", stream, err)
		}
		info, err := q.logStore.GroupInfo(ctx, stream, q.cfg.ConsumerGroup)
		if err != nil {
			return out, fmt.Errorf("queue.Stats: group info %s: %w", stream, err)
		}
		out.ByPriority[p] = Stats{Length: length, Pending: info.Pending, Consumers: info.Consumers}
	}

	dlqLen, err := q.logStore.Len(ctx, q.dlqStreamName())
	if err != nil {
		return out, fmt.Errorf("queue.Stats: dlq len: %w", err)
	}
	out.DLQLength = dlqLen

	return out, nil
}

func (q *TaskQueue) streamForMessage(messageID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stream, ok := q.messageStreams[messageID]
	if !ok {
		return "", fmt.Errorf("queue: %w: message %s not tracked by this instance", core.ErrNotFound, messageID)
	}
	return stream, nil
}

// forgetMessage removes a message's stream mapping, bounding the map's
// memory to in-flight messages only.
func (q *TaskQueue) forgetMessage(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.messageStreams, messageID)
}
