// Package store provides the Redis-backed LogStore and KVStore
// implementations the control plane runs on, plus an isolated-DB connection
// wrapper modeled on the framework's own namespacing conventions.
//
// Database Allocation:
// Each component that touches Redis gets its own logical DB, so a flushed
// or inspected DB for one concern never collides with another:
//   - DB 0: task queue streams
//   - DB 1: saga checkpoints
//   - DB 2: isolation manager quotas/usage
//   - DB 3: audit log tail
//   - DB 4: router circuit-breaker state
//   - DB 5-15: available for extensions
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/orchestrix/ctrlplane/core"
)

// Client wraps go-redis with DB isolation and key namespacing.
type Client struct {
	raw       *redis.Client
	dbID      int
	namespace string
	logger    core.Logger
}

// ClientOptions configures Client.
type ClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    core.Logger
}

// Standard DB allocation for this deployment.
const (
	DBQueue      = 0
	DBSaga       = 1
	DBIsolation  = 2
	DBAudit      = 3
	DBBreaker    = 4
	ReservedFrom = 5
	ReservedTo   = 15
)

// IsReservedDB reports whether db falls in the range set aside for future
// components rather than application use.
func IsReservedDB(db int) bool {
	return db >= ReservedFrom && db <= ReservedTo
}

// DBName returns a human-readable label for a DB number.
func DBName(db int) string {
	switch db {
	case DBQueue:
		return "Queue"
	case DBSaga:
		return "Saga Checkpoints"
	case DBIsolation:
		return "Isolation"
	case DBAudit:
		return "Audit"
	case DBBreaker:
		return "Circuit Breaker"
	default:
		if IsReservedDB(db) {
			return fmt.Sprintf("Reserved DB %d", db)
		}
		return fmt.Sprintf("DB %d", db)
	}
}

// NewClient connects to Redis with the given DB and namespace, verifying
// connectivity with a bounded-timeout ping before returning.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", core.ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", core.ErrInvalidConfiguration)
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	raw := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis DB %d: %w", opts.DB, core.ErrConnectionFailed)
	}

	logger := opts.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("store")
	}

	logger.Info("redis client connected", map[string]interface{}{
		"db":        opts.DB,
		"db_name":   DBName(opts.DB),
		"namespace": opts.Namespace,
	})

	return &Client{raw: raw, dbID: opts.DB, namespace: opts.Namespace, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.raw.Close()
}

// Raw exposes the underlying go-redis client for components (Streams,
// pipelines) this wrapper does not cover directly.
func (c *Client) Raw() *redis.Client {
	return c.raw
}

func (c *Client) formatKey(key string) string {
	if c.namespace != "" {
		return fmt.Sprintf("%s:%s", c.namespace, key)
	}
	return key
}

// HealthCheck verifies connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.raw.Ping(ctx).Err(); err != nil {
		c.logger.ErrorWithContext(ctx, "redis health check failed", map[string]interface{}{
			"error": err.Error(),
			"db":    c.dbID,
		})
		return fmt.Errorf("redis health check failed: %w", core.ErrConnectionFailed)
	}
	return nil
}
