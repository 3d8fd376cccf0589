// Package store's LogStore implementation drives Redis Streams with
// consumer groups: XADD, XREADGROUP, XACK, XPENDING, XCLAIM. It implements
// core.LogStore and is the substrate the queue package builds its priority
// task queue on.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orchestrix/ctrlplane/core"
)

// RedisLogStore implements core.LogStore over Redis Streams.
type RedisLogStore struct {
	client *Client
	logger core.Logger
}

// NewRedisLogStore wraps an already-connected Client as a LogStore.
func NewRedisLogStore(client *Client) *RedisLogStore {
	logger := client.logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("queue")
	}
	return &RedisLogStore{client: client, logger: logger}
}

// Append adds fields as a new entry on stream, approximately trimmed to maxLen.
func (s *RedisLogStore) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := s.client.raw.XAdd(ctx, args).Result()
	if err != nil {
		s.logger.ErrorWithContext(ctx, "append failed", map[string]interface{}{
			"stream": stream,
			"error":  err.Error(),
		})
		return "", fmt.Errorf("append to %s: %w", stream, core.ErrConnectionFailed)
	}
	return id, nil
}

// EnsureGroup creates the consumer group on stream, treating "already exists"
// as success — consumer groups are created idempotently on connect.
func (s *RedisLogStore) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.raw.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("ensure group %s/%s: %w", stream, group, core.ErrConnectionFailed)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ReadGroup reads up to count never-delivered entries per stream via XREADGROUP,
// blocking up to blockMs when nothing is immediately available. Streams are
// queried in the order given — callers enforce priority by ordering the
// slice highest-first, not by any internal sort here.
func (s *RedisLogStore) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, blockMs int64) ([]core.StreamBatch, error) {
	args := make([]string, 0, len(streams)*2)
	for _, st := range streams {
		args = append(args, st)
	}
	for range streams {
		args = append(args, ">")
	}

	res, err := s.client.raw.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    time.Duration(blockMs) * time.Millisecond,
		NoAck:    false,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.WarnWithContext(ctx, "read group failed", map[string]interface{}{
			"group": group,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("read group %s: %w", group, core.ErrConnectionFailed)
	}

	batches := make([]core.StreamBatch, 0, len(res))
	for _, streamRes := range res {
		entries := make([]core.StreamEntry, 0, len(streamRes.Messages))
		for _, msg := range streamRes.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				} else {
					fields[k] = fmt.Sprintf("%v", v)
				}
			}
			entries = append(entries, core.StreamEntry{ID: msg.ID, Fields: fields})
		}
		batches = append(batches, core.StreamBatch{Stream: streamRes.Stream, Entries: entries})
	}
	return batches, nil
}

// Ack acknowledges msgID on stream/group.
func (s *RedisLogStore) Ack(ctx context.Context, stream, group, msgID string) error {
	if err := s.client.raw.XAck(ctx, stream, group, msgID).Err(); err != nil {
		return fmt.Errorf("ack %s/%s/%s: %w", stream, group, msgID, core.ErrConnectionFailed)
	}
	return nil
}

// Del removes msgID from stream entirely.
func (s *RedisLogStore) Del(ctx context.Context, stream, msgID string) error {
	if err := s.client.raw.XDel(ctx, stream, msgID).Err(); err != nil {
		return fmt.Errorf("del %s/%s: %w", stream, msgID, core.ErrConnectionFailed)
	}
	return nil
}

// PendingRange lists entries idle for at least minIdleMs in stream/group.
func (s *RedisLogStore) PendingRange(ctx context.Context, stream, group string, minIdleMs int64, count int64) ([]core.PendingEntry, error) {
	res, err := s.client.raw.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   time.Duration(minIdleMs) * time.Millisecond,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("pending range %s/%s: %w", stream, group, core.ErrConnectionFailed)
	}

	out := make([]core.PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, core.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			IdleMillis: p.Idle.Milliseconds(),
			Deliveries: p.RetryCount,
		})
	}
	return out, nil
}

// Claim reassigns msgIDs idle for at least minIdleMs to consumer.
func (s *RedisLogStore) Claim(ctx context.Context, stream, group, consumer string, minIdleMs int64, msgIDs []string) ([]core.StreamEntry, error) {
	if len(msgIDs) == 0 {
		return nil, nil
	}
	msgs, err := s.client.raw.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Messages: msgIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim %s/%s: %w", stream, group, core.ErrConnectionFailed)
	}

	out := make([]core.StreamEntry, 0, len(msgs))
	for _, msg := range msgs {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			} else {
				fields[k] = fmt.Sprintf("%v", v)
			}
		}
		out = append(out, core.StreamEntry{ID: msg.ID, Fields: fields})
	}
	return out, nil
}

// Len reports the current entry count of stream.
func (s *RedisLogStore) Len(ctx context.Context, stream string) (int64, error) {
	n, err := s.client.raw.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("len %s: %w", stream, core.ErrConnectionFailed)
	}
	return n, nil
}

// GroupInfo reports the pending count and consumer count for stream/group.
func (s *RedisLogStore) GroupInfo(ctx context.Context, stream, group string) (core.GroupInfo, error) {
	groups, err := s.client.raw.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if err == redis.Nil {
			return core.GroupInfo{}, nil
		}
		return core.GroupInfo{}, fmt.Errorf("group info %s/%s: %w", stream, group, core.ErrConnectionFailed)
	}
	for _, g := range groups {
		if g.Name == group {
			consumers, err := s.client.raw.XInfoConsumers(ctx, stream, group).Result()
			if err != nil {
				return core.GroupInfo{Pending: g.Pending}, nil
			}
			return core.GroupInfo{Pending: g.Pending, Consumers: int64(len(consumers))}, nil
		}
	}
	return core.GroupInfo{}, nil
}
