package core

import (
	"context"
	"sync"
	"time"
)

// Logger interface - minimal logging interface
type Logger interface {
	// Basic logging methods
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	// Context-aware methods for distributed tracing and request correlation
	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with component context support.
// This allows different parts of the application to have their own
// component identifier while sharing the same base configuration.
//
// ProductionLogger implements this interface. When a logger is
// component-aware, the component name appears in structured logs
// allowing filtering by component:
//
//	kubectl logs ... | jq 'select(.component == "isolation")'
//
// Component naming convention: "queue", "saga", "isolation", "sandbox",
// "router", "monitor", "crypto", "audit".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry interface - optional telemetry support
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Clock abstracts wall and monotonic time plus sleeping, so components can
// be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
	Sleep(d time.Duration)
}

// IdGen produces opaque unique identifiers (task IDs, saga IDs, message IDs).
type IdGen interface {
	NewID() string
}

// StreamEntry is one delivered message read from a LogStore stream.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// StreamBatch groups entries read from a single stream in one ReadGroup call.
type StreamBatch struct {
	Stream  string
	Entries []StreamEntry
}

// PendingEntry describes one message in a consumer group's pending list.
type PendingEntry struct {
	ID         string
	Consumer   string
	IdleMillis int64
	Deliveries int64
}

// GroupInfo summarizes a stream's consumer group.
type GroupInfo struct {
	Pending   int64
	Consumers int64
}

// LogStore is an append-only stream abstraction with consumer groups, ACK,
// pending inspection, and claim — the substrate the priority task queue is
// built on. Implementations must tolerate concurrent callers.
type LogStore interface {
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, blockMs int64) ([]StreamBatch, error)
	Ack(ctx context.Context, stream, group, msgID string) error
	Del(ctx context.Context, stream, msgID string) error
	PendingRange(ctx context.Context, stream, group string, minIdleMs int64, count int64) ([]PendingEntry, error)
	Claim(ctx context.Context, stream, group, consumer string, minIdleMs int64, msgIDs []string) ([]StreamEntry, error)
	Len(ctx context.Context, stream string) (int64, error)
	GroupInfo(ctx context.Context, stream, group string) (GroupInfo, error)
}

// KVStore is a TTL-indexed key/value abstraction with atomic single-key
// operations — used for task results, saga checkpoints, and key material.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEx(ctx context.Context, key, value string, ttlSeconds int64) error
	Del(ctx context.Context, key string) error
}

// SandboxLimits caps resource usage for one sandboxed execution.
type SandboxLimits struct {
	MemoryBytes     int64
	MemorySwapBytes int64
	CPUPeriodMicros int64
	CPUQuotaMicros  int64
	CapsDropped     []string
	NoNewPrivileges bool
	UserNonRoot     bool
	ReadOnlyRoot    bool
	NetworkMode     string
}

// SandboxMount describes one bind mount into the isolated environment.
type SandboxMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// SandboxUsage reports resources consumed by a finished execution.
type SandboxUsage struct {
	PeakMemoryBytes int64
	AvgCPUPercent   float64
}

// SandboxBackend is the isolated-execution substrate SandboxRunner drives.
// One handle corresponds to one created-but-not-yet-removed environment.
type SandboxBackend interface {
	Create(ctx context.Context, image string, cmd []string, mounts []SandboxMount, env map[string]string, limits SandboxLimits) (string, error)
	Start(ctx context.Context, handle string) error
	Wait(ctx context.Context, handle string, timeoutSec int) (exitCode int, err error)
	Logs(ctx context.Context, handle string) (stdout, stderr string, err error)
	Stats(ctx context.Context, handle string) (SandboxUsage, error)
	Remove(ctx context.Context, handle string, force bool) error
}

// NotifyLevel is the severity of a Notifier event.
type NotifyLevel string

const (
	NotifyInfo     NotifyLevel = "INFO"
	NotifyWarning  NotifyLevel = "WARNING"
	NotifyCritical NotifyLevel = "CRITICAL"
)

// Notifier fans critical events out to alerting transports. Implementations
// rate-limit per (level, title, source); CRITICAL bypasses the limit.
type Notifier interface {
	Send(ctx context.Context, level NotifyLevel, title, message, source string, metadata map[string]interface{}) error
}

// Encryptor performs authenticated symmetric encryption keyed by a
// process-bound master secret.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

func (n *NoOpLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}
func (n *NoOpLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
}

// NoOpTelemetry provides a no-op telemetry implementation
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}

// SystemClock is the real-time Clock backed by the standard library.
type SystemClock struct{ start time.Time }

// NewSystemClock creates a Clock whose Monotonic() is relative to construction time.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Time { return time.Now() }

func (c *SystemClock) Monotonic() time.Duration { return time.Since(c.start) }

func (c *SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// ============================================================================
// Global Registry Pattern for Telemetry Integration
// ============================================================================

// MetricsRegistry enables telemetry module to register itself with core.
// This avoids circular dependencies while enabling metrics emission from
// framework internals (discovery, cache, agent lifecycle).
//
// The telemetry module implements this interface via FrameworkMetricsRegistry
// and registers itself using SetMetricsRegistry() during initialization.
type MetricsRegistry interface {
	// === Existing methods (preserved for backward compatibility) ===

	// Counter increments a counter metric by 1
	// Example: Counter("discovery.registrations", "service_type", "agent")
	Counter(name string, labels ...string)

	// EmitWithContext emits a metric with context for trace correlation
	// This is the generic emission method - works for any metric type
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)

	// GetBaggage returns baggage from context for correlation
	GetBaggage(ctx context.Context) map[string]string

	// === New methods for explicit metric type semantics ===

	// Gauge sets a gauge metric to a specific value
	// Use for point-in-time measurements (active connections, queue size, etc.)
	// Example: Gauge("discovery.services.active", 5, "namespace", "default")
	Gauge(name string, value float64, labels ...string)

	// Histogram records a value in a histogram distribution
	// Use for latency, size distributions, etc.
	// Example: Histogram("discovery.lookup.duration_ms", 12.5, "service_type", "tool")
	Histogram(name string, value float64, labels ...string)
}

// Global registry - set by telemetry module when it initializes
var globalMetricsRegistry MetricsRegistry

// SetMetricsRegistry allows telemetry module to register itself
func SetMetricsRegistry(registry MetricsRegistry) {
	globalMetricsRegistry = registry

	// Enable metrics on all existing loggers
	enableMetricsOnExistingLoggers()
}

// GetGlobalMetricsRegistry returns the global metrics registry if available.
// Returns nil if telemetry module has not registered a metrics registry yet.
// This enables framework modules to emit metrics without creating circular dependencies.
//
// Usage pattern:
//
//	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
//	    registry.EmitWithContext(ctx, "metric.name", value, labels...)
//	}
func GetGlobalMetricsRegistry() MetricsRegistry {
	return globalMetricsRegistry
}

// Track created loggers to enable metrics when telemetry becomes available
var createdLoggers []*ProductionLogger
var loggersMutex sync.RWMutex

func trackLogger(logger *ProductionLogger) {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()

	createdLoggers = append(createdLoggers, logger)

	// If metrics already available, enable immediately
	if globalMetricsRegistry != nil {
		logger.EnableMetrics()
	}
}

func enableMetricsOnExistingLoggers() {
	loggersMutex.Lock()
	defer loggersMutex.Unlock()

	for _, logger := range createdLoggers {
		logger.EnableMetrics()
	}
}
