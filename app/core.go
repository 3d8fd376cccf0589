// Package app wires every component into a single Core value, constructed
// once at process start and passed around by reference. No package in this
// module keeps a package-level singleton; everything a component needs, it
// receives through its constructor.
package app

import (
	"context"
	"fmt"

	"github.com/orchestrix/ctrlplane/audit"
	"github.com/orchestrix/ctrlplane/core"
	"github.com/orchestrix/ctrlplane/crypto"
	"github.com/orchestrix/ctrlplane/isolation"
	"github.com/orchestrix/ctrlplane/monitor"
	"github.com/orchestrix/ctrlplane/notify"
	"github.com/orchestrix/ctrlplane/queue"
	"github.com/orchestrix/ctrlplane/router"
	"github.com/orchestrix/ctrlplane/saga"
	"github.com/orchestrix/ctrlplane/sandbox"
	"github.com/orchestrix/ctrlplane/store"
)

// Core holds every component this deployment runs, by reference. It is
// constructed once, in New, and its fields are read-only after that —
// components reach each other only through the references Core handed them
// at construction, never through a global.
type Core struct {
	Config *core.Config
	Logger core.Logger
	Clock  core.Clock

	LogStore core.LogStore
	QueueKV  core.KVStore
	SagaKV   core.KVStore

	Queue      *queue.TaskQueue
	Workers    *queue.WorkerPool
	Saga       *saga.Orchestrator
	Isolation  *isolation.Manager
	Sandbox    *sandbox.Runner
	Router     *router.Router
	Monitor    *monitor.Monitor
	Encryptor  *crypto.Encryptor
	KeyManager *crypto.KeyManager
	Audit      *audit.Log
	Notifier   core.Notifier

	redisClients  []*store.Client
	auditLogStore *store.RedisLogStore
}

// options accumulates the overrides New's functional Options apply, before
// Core's components are actually constructed.
type options struct {
	logStore        core.LogStore
	queueKV         core.KVStore
	sagaKV          core.KVStore
	sandboxBackend  core.SandboxBackend
	primaryClient   router.PrimaryClient
	directProviders map[string]router.DirectProvider
	keyRings        map[string][]string
	notifySink      notify.Sink
	workerHandlers  map[string]queue.Handler
	clock           core.Clock
	idGen           core.IdGen
}

// Option customizes Core construction. Every Option is optional; without
// any, New connects to the Redis URL in Config, builds an HTTP primary
// client from Config.Router.PrimaryURL (if set), and attempts a Docker
// sandbox backend (degrading to no sandbox if Docker is unreachable).
type Option func(*options)

// WithLogStore overrides the queue's LogStore, bypassing Redis entirely —
// for tests, pass core.NewMemoryLogStore().
func WithLogStore(ls core.LogStore) Option {
	return func(o *options) { o.logStore = ls }
}

// WithQueueKVStore overrides the task queue's result-cache KVStore.
func WithQueueKVStore(kv core.KVStore) Option {
	return func(o *options) { o.queueKV = kv }
}

// WithSagaKVStore overrides the saga orchestrator's checkpoint KVStore.
func WithSagaKVStore(kv core.KVStore) Option {
	return func(o *options) { o.sagaKV = kv }
}

// WithSandboxBackend overrides the Docker sandbox backend — for tests, pass
// a fake core.SandboxBackend.
func WithSandboxBackend(b core.SandboxBackend) Option {
	return func(o *options) { o.sandboxBackend = b }
}

// WithPrimaryClient overrides the router's co-hosted primary client and,
// where it also implements monitor.PrimaryAutoStart, the monitor's restart
// hook.
func WithPrimaryClient(c router.PrimaryClient) Option {
	return func(o *options) { o.primaryClient = c }
}

// WithDirectProvider registers a direct fallback upstream for one service
// name, used once the router trips to DIRECT mode.
func WithDirectProvider(service string, p router.DirectProvider) Option {
	return func(o *options) {
		if o.directProviders == nil {
			o.directProviders = make(map[string]router.DirectProvider)
		}
		o.directProviders[service] = p
	}
}

// WithKeyRing sets the direct-mode credential ring for one service.
func WithKeyRing(service string, keys []string) Option {
	return func(o *options) {
		if o.keyRings == nil {
			o.keyRings = make(map[string][]string)
		}
		o.keyRings[service] = keys
	}
}

// WithNotifySink installs the transport the audit/isolation/router
// notifications are ultimately delivered to (pager, chat, email...). Without
// one, notifications are accepted and rate-limited but delivered nowhere.
func WithNotifySink(sink notify.Sink) Option {
	return func(o *options) { o.notifySink = sink }
}

// WithTaskHandler registers one task-type handler on the worker pool.
func WithTaskHandler(taskType string, handler queue.Handler) Option {
	return func(o *options) {
		if o.workerHandlers == nil {
			o.workerHandlers = make(map[string]queue.Handler)
		}
		o.workerHandlers[taskType] = handler
	}
}

// WithClock overrides the shared clock every component receives — tests
// inject a fake clock here to drive cooldowns and backoffs deterministically.
func WithClock(clock core.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithIdGen overrides the shared ID generator.
func WithIdGen(idGen core.IdGen) Option {
	return func(o *options) { o.idGen = idGen }
}

// New constructs a Core from cfg, applying opts in order. The returned Core
// owns every Redis connection it opened; Close releases them along with
// every background loop New started implicitly (none — see Start).
func New(ctx context.Context, cfg *core.Config, opts ...Option) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config: %w", core.ErrMissingConfiguration)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := cfg.Logger()
	clock := o.clock
	if clock == nil {
		clock = core.NewSystemClock()
	}
	idGen := o.idGen
	if idGen == nil {
		idGen = core.UUIDGen{}
	}

	c := &Core{Config: cfg, Logger: logger, Clock: clock}

	if err := c.wireStores(ctx, cfg, o, logger); err != nil {
		return nil, err
	}

	taskQueue, err := queue.NewTaskQueue(ctx, c.LogStore, c.QueueKV, queue.FromCoreConfig(cfg.Queue), idGen, clock, logger)
	if err != nil {
		c.closeRedis()
		return nil, fmt.Errorf("app: %w", err)
	}
	c.Queue = taskQueue

	c.Workers = queue.NewWorkerPool(taskQueue, queue.DefaultWorkerPoolConfig(), logger)
	for taskType, handler := range o.workerHandlers {
		if err := c.Workers.RegisterHandler(taskType, handler); err != nil {
			c.closeRedis()
			return nil, fmt.Errorf("app: register handler %s: %w", taskType, err)
		}
	}

	c.Saga = saga.NewOrchestrator(c.SagaKV, saga.FromCoreConfig(cfg.Saga), clock, logger)

	sink := o.notifySink
	c.Notifier = notify.NewRateLimitedNotifier(sink, notify.Config{}, logger)

	c.Isolation = isolation.NewManager(isolation.FromCoreConfig(cfg.Isolation), clock, idGen, logger, c.Notifier)

	c.wireSandbox(cfg, o, logger, clock)

	c.wireRouterAndMonitor(cfg, o, logger, clock)

	c.Audit = audit.NewLog(idGen, clock, logger, audit.WithShipper(c.shipAuditEntry))

	c.wireCrypto(cfg, logger)

	return c, nil
}

// wireStores connects (or adopts, via options) the LogStore/KVStore pair the
// queue reads and writes, and the KVStore the saga orchestrator checkpoints
// into. Each gets its own logical Redis DB per store.DBName's allocation.
func (c *Core) wireStores(ctx context.Context, cfg *core.Config, o options, logger core.Logger) error {
	if o.logStore != nil {
		c.LogStore = o.logStore
	}
	if o.queueKV != nil {
		c.QueueKV = o.queueKV
	}
	if o.sagaKV != nil {
		c.SagaKV = o.sagaKV
	}
	if c.LogStore != nil && c.QueueKV != nil && c.SagaKV != nil {
		return nil
	}

	if c.LogStore == nil || c.QueueKV == nil {
		queueClient, err := store.NewClient(store.ClientOptions{
			RedisURL: cfg.RedisURL, DB: store.DBQueue, Namespace: "ctrl", Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("app: connect queue store: %w", err)
		}
		c.redisClients = append(c.redisClients, queueClient)
		if c.LogStore == nil {
			c.LogStore = store.NewRedisLogStore(queueClient)
		}
		if c.QueueKV == nil {
			c.QueueKV = store.NewRedisKVStore(queueClient)
		}
	}

	if c.SagaKV == nil {
		sagaClient, err := store.NewClient(store.ClientOptions{
			RedisURL: cfg.RedisURL, DB: store.DBSaga, Namespace: "ctrl", Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("app: connect saga store: %w", err)
		}
		c.redisClients = append(c.redisClients, sagaClient)
		c.SagaKV = store.NewRedisKVStore(sagaClient)
	}

	// The audit shipper piggybacks on its own connection to DBAudit so a
	// slow queue/saga DB never backs up audit durability, and vice versa.
	auditClient, err := store.NewClient(store.ClientOptions{
		RedisURL: cfg.RedisURL, DB: store.DBAudit, Namespace: "ctrl", Logger: logger,
	})
	if err != nil {
		logger.Warn("audit durability disabled: could not connect to audit store", map[string]interface{}{"error": err.Error()})
		return nil
	}
	c.redisClients = append(c.redisClients, auditClient)
	c.auditLogStore = store.NewRedisLogStore(auditClient)
	return nil
}

func (c *Core) closeRedis() {
	for _, client := range c.redisClients {
		client.Close()
	}
}

// wireSandbox attempts a Docker-backed SandboxBackend. Docker being
// unreachable is not fatal to the rest of Core — it degrades to a deployment
// with no sandboxed execution, logged once here rather than failing startup,
// mirroring the teacher's own graceful-degrade-on-discovery pattern.
func (c *Core) wireSandbox(cfg *core.Config, o options, logger core.Logger, clock core.Clock) {
	backend := o.sandboxBackend
	if backend == nil {
		docker, err := sandbox.NewDockerBackend(logger)
		if err != nil {
			logger.Warn("sandbox backend unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			backend = docker
		}
	}
	if backend == nil {
		return
	}
	validator := sandbox.NewCodeValidator()
	c.Sandbox = sandbox.NewRunner(backend, validator, sandbox.FromCoreConfig(cfg.Sandbox), clock, logger)
}

// wireRouterAndMonitor builds the reliability router and, only when a
// primary client exists to probe, the self-healing monitor above it.
func (c *Core) wireRouterAndMonitor(cfg *core.Config, o options, logger core.Logger, clock core.Clock) {
	primary := o.primaryClient
	if primary == nil && cfg.Router.PrimaryURL != "" {
		primary = router.NewHTTPClient(router.HTTPClientConfig{BaseURL: cfg.Router.PrimaryURL}, logger)
	}

	providers := o.directProviders
	if providers == nil {
		providers = make(map[string]router.DirectProvider)
	}

	c.Router = router.NewRouter(primary, providers, router.FromCoreConfig(cfg.Router), clock, logger)
	for service, keys := range o.keyRings {
		c.Router.SetKeyRing(service, keys)
	}

	if primary == nil {
		return
	}
	starter, _ := primary.(monitor.PrimaryAutoStart)
	c.Monitor = monitor.NewMonitor(primary, starter, c.Router, monitor.FromCoreConfig(cfg.Monitor), clock, logger)
}

// wireCrypto builds the Encryptor and its KeyManager. A missing master
// password is not fatal — key management is an optional capability some
// deployments never touch — but it is logged at Warn so a deployment that
// meant to configure it can tell its absence apart from a healthy start.
func (c *Core) wireCrypto(cfg *core.Config, logger core.Logger) {
	enc, err := crypto.NewEncryptor(crypto.FromCoreConfig(cfg.Encryptor))
	if err != nil {
		logger.Warn("encryption disabled: master password not configured", map[string]interface{}{"error": err.Error()})
		return
	}
	c.Encryptor = enc
	c.KeyManager = crypto.NewKeyManager(enc, cfg.Encryptor.KeysFilePath, logger)
	if err := c.KeyManager.Load(); err != nil {
		logger.Warn("failed to load persisted key ring", map[string]interface{}{"error": err.Error()})
	}
}

// shipAuditEntry is audit.Log's async shipper: a best-effort durable copy
// of every entry onto the audit Redis stream, keyed by DB allocation
// (store.DBAudit), independent of the in-memory ring's eviction.
func (c *Core) shipAuditEntry(entry audit.Entry) {
	if c.auditLogStore == nil {
		return
	}
	fields := map[string]string{
		"entry_id":   entry.EntryID,
		"action":     string(entry.Action),
		"subject_id": entry.SubjectID,
		"user_id":    entry.UserID,
		"success":    fmt.Sprintf("%t", entry.Success),
	}
	if entry.ErrorMessage != "" {
		fields["error"] = entry.ErrorMessage
	}
	if _, err := c.auditLogStore.Append(context.Background(), "ctrl_audit", fields, 1_000_000); err != nil {
		c.Logger.Debug("audit shipment failed", map[string]interface{}{"error": err.Error()})
	}
}

// Start launches every background loop Core's components own: the worker
// pool, the isolation manager's quota-decay/cooldown loop, and — when a
// primary client was configured — the self-healing monitor. WorkerPool.Start
// blocks its caller until the pool is stopped, so it runs in its own
// goroutine here; a failure to even begin (e.g. called twice) is logged
// rather than returned, since Start itself has already returned to the
// caller by the time it could occur.
func (c *Core) Start(ctx context.Context) error {
	go func() {
		if err := c.Workers.Start(ctx); err != nil {
			c.Logger.Error("worker pool exited", map[string]interface{}{"error": err.Error()})
		}
	}()
	c.Isolation.StartMonitor(ctx)
	if c.Monitor != nil {
		c.Monitor.Start(ctx)
	}
	return nil
}

// Close stops every background loop Start launched and releases every Redis
// connection Core opened. It is safe to call even if Start was never
// called.
func (c *Core) Close(ctx context.Context) error {
	if c.Monitor != nil {
		c.Monitor.Stop()
	}
	c.Isolation.StopMonitor()
	var err error
	if c.Workers != nil {
		err = c.Workers.Stop(ctx)
	}
	c.closeRedis()
	return err
}
