package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates every component's configuration. It supports
// three-layer precedence: defaults, then environment variables, then
// functional options — the same precedence the rest of this lineage uses.
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithName("ctrl-plane"),
//	    WithLogLevel("debug"),
//	)
type Config struct {
	Name string `json:"name" env:"CTRL_NAME"`

	// RedisURL is the backing store for every RedisLogStore/RedisKVStore
	// instance Core constructs; each gets its own logical DB per
	// store.DBName's allocation, all behind this one URL.
	RedisURL string `json:"redisURL" env:"CTRL_REDIS_URL" default:"redis://localhost:6379"`

	Queue     QueueConfig     `json:"queue"`
	Saga      SagaConfig      `json:"saga"`
	Isolation IsolationConfig `json:"isolation"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Router    RouterConfig    `json:"router"`
	Monitor   MonitorConfig   `json:"monitor"`
	Encryptor EncryptorConfig `json:"encryptor"`

	Logging     LoggingConfig     `json:"logging"`
	Development DevelopmentConfig `json:"development"`

	logger Logger
}

// QueueConfig configures the priority task queue (spec.md §6: Queue).
type QueueConfig struct {
	StreamPrefix    string `json:"streamPrefix" env:"CTRL_QUEUE_STREAM_PREFIX" default:"ctrl_tasks"`
	ConsumerGroup   string `json:"consumerGroup" env:"CTRL_QUEUE_CONSUMER_GROUP" default:"ctrl_workers"`
	MaxStreamLength int64  `json:"maxStreamLength" env:"CTRL_QUEUE_MAX_STREAM_LENGTH" default:"100000"`
	PendingTimeoutMs int64 `json:"pendingTimeoutMs" env:"CTRL_QUEUE_PENDING_TIMEOUT_MS" default:"300000"`
	PollIntervalMs  int64  `json:"pollIntervalMs" env:"CTRL_QUEUE_POLL_INTERVAL_MS" default:"100"`
	BatchSize       int64  `json:"batchSize" env:"CTRL_QUEUE_BATCH_SIZE" default:"10"`
}

// SagaConfig configures the saga orchestrator (spec.md §6: Saga).
type SagaConfig struct {
	CheckpointPrefix          string `json:"checkpointPrefix" env:"CTRL_SAGA_CHECKPOINT_PREFIX" default:"ctrl_saga"`
	CheckpointTtlSeconds      int64  `json:"checkpointTtlSeconds" env:"CTRL_SAGA_CHECKPOINT_TTL_SECONDS" default:"86400"`
	DefaultStepTimeoutSeconds int    `json:"defaultStepTimeoutSeconds" env:"CTRL_SAGA_DEFAULT_STEP_TIMEOUT_SECONDS" default:"300"`
}

// IsolationConfig configures the strategy isolation manager (spec.md §6: Isolation).
type IsolationConfig struct {
	DefaultQuota              ResourceQuotaConfig `json:"defaultQuota"`
	DefaultIsolationLevel     string              `json:"defaultIsolationLevel" env:"CTRL_ISOLATION_DEFAULT_LEVEL" default:"SOFT"`
	MonitoringIntervalSeconds int                 `json:"monitoringIntervalSeconds" env:"CTRL_ISOLATION_MONITORING_INTERVAL_SECONDS" default:"5"`
	BreakerCooldownSeconds    int                 `json:"breakerCooldownSeconds" env:"CTRL_ISOLATION_BREAKER_COOLDOWN_SECONDS" default:"300"`
	ErrorsToTripBreaker       int                 `json:"errorsToTripBreaker" env:"CTRL_ISOLATION_ERRORS_TO_TRIP_BREAKER" default:"5"`
}

// ResourceQuotaConfig mirrors ResourceQuota for the purposes of defaults.
type ResourceQuotaConfig struct {
	MaxMemoryMB           int64   `json:"maxMemoryMB" env:"CTRL_QUOTA_MAX_MEMORY_MB" default:"512"`
	MaxCPUPercent         float64 `json:"maxCPUPercent" env:"CTRL_QUOTA_MAX_CPU_PERCENT" default:"50"`
	MaxConcurrentTrades   int     `json:"maxConcurrentTrades" env:"CTRL_QUOTA_MAX_CONCURRENT_TRADES" default:"5"`
	MaxPositionSize       float64 `json:"maxPositionSize" env:"CTRL_QUOTA_MAX_POSITION_SIZE" default:"10000"`
	MaxDailyTrades        int     `json:"maxDailyTrades" env:"CTRL_QUOTA_MAX_DAILY_TRADES" default:"100"`
	MaxDailyLoss          float64 `json:"maxDailyLoss" env:"CTRL_QUOTA_MAX_DAILY_LOSS" default:"1000"`
	MaxDrawdownPercent    float64 `json:"maxDrawdownPercent" env:"CTRL_QUOTA_MAX_DRAWDOWN_PERCENT" default:"20"`
	ApiRateLimitPerMinute int     `json:"apiRateLimitPerMinute" env:"CTRL_QUOTA_API_RATE_LIMIT_PER_MINUTE" default:"60"`
}

// SandboxConfig configures untrusted code execution (spec.md §6: Sandbox).
type SandboxConfig struct {
	Image          string `json:"image" env:"CTRL_SANDBOX_IMAGE" default:"ctrl-sandbox-runner:latest"`
	TimeoutSeconds int    `json:"timeoutSeconds" env:"CTRL_SANDBOX_TIMEOUT_SECONDS" default:"30"`
	MemoryLimitMB  int64  `json:"memoryLimit" env:"CTRL_SANDBOX_MEMORY_LIMIT_MB" default:"256"`
	CPULimitCores  float64 `json:"cpuLimit" env:"CTRL_SANDBOX_CPU_LIMIT_CORES" default:"0.5"`
	ValidateCode   bool   `json:"validateCode" env:"CTRL_SANDBOX_VALIDATE_CODE" default:"true"`
	MaxRiskScore   int    `json:"maxRiskScore" env:"CTRL_SANDBOX_MAX_RISK_SCORE" default:"30"`
}

// RouterConfig configures the reliability router (spec.md §6: Router).
type RouterConfig struct {
	PrimaryURL            string `json:"primaryURL" env:"CTRL_ROUTER_PRIMARY_URL"`
	MaxFailures           int    `json:"maxFailures" env:"CTRL_ROUTER_MAX_FAILURES" default:"3"`
	CircuitTimeoutSeconds int    `json:"circuitTimeoutSeconds" env:"CTRL_ROUTER_CIRCUIT_TIMEOUT_SECONDS" default:"300"`
}

// MonitorConfig configures the self-healing monitor (spec.md §6: Monitor).
type MonitorConfig struct {
	CheckIntervalSeconds   int `json:"checkIntervalSeconds" env:"CTRL_MONITOR_CHECK_INTERVAL_SECONDS" default:"30"`
	RestartCooldownSeconds int `json:"restartCooldownSeconds" env:"CTRL_MONITOR_RESTART_COOLDOWN_SECONDS" default:"120"`
	MaxRestartAttempts     int `json:"maxRestartAttempts" env:"CTRL_MONITOR_MAX_RESTART_ATTEMPTS" default:"3"`
}

// EncryptorConfig configures the symmetric encryptor (spec.md §6: Encryptor).
type EncryptorConfig struct {
	MasterPasswordEnvName string `json:"masterPasswordEnvName" env:"CTRL_ENCRYPTOR_PASSWORD_ENV_NAME" default:"CTRL_MASTER_PASSWORD"`
	KdfIterations         int    `json:"kdfIterations" env:"CTRL_ENCRYPTOR_KDF_ITERATIONS" default:"100000"`
	KeysFilePath          string `json:"keysFilePath" env:"CTRL_ENCRYPTOR_KEYS_FILE_PATH" default:"./keys.enc.json"`
}

// CircuitBreakerConfig configures a CircuitBreaker implementation. The
// reliability router and the isolation manager keep their own breaker state
// and do not read it.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" env:"CTRL_BREAKER_ENABLED" default:"true"`
	Threshold        int           `json:"threshold" env:"CTRL_BREAKER_THRESHOLD" default:"5"`
	Timeout          time.Duration `json:"timeout" env:"CTRL_BREAKER_TIMEOUT" default:"30s"`
	HalfOpenRequests int           `json:"halfOpenRequests" env:"CTRL_BREAKER_HALF_OPEN_REQUESTS" default:"3"`
}

// LoggingConfig controls the ComponentAwareLogger.
type LoggingConfig struct {
	Level  string `json:"level" env:"CTRL_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"CTRL_LOG_FORMAT" default:"text"`
	Output string `json:"output" env:"CTRL_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig toggles local-dev conveniences.
type DevelopmentConfig struct {
	DebugLogging bool `json:"debugLogging" env:"CTRL_DEBUG"`
}

// Option configures a Config during NewConfig.
type Option func(*Config) error

// DefaultConfig returns a Config populated with every documented default.
func DefaultConfig() *Config {
	return &Config{
		Name:     "ctrl-plane",
		RedisURL: "redis://localhost:6379",
		Queue: QueueConfig{
			StreamPrefix:     "ctrl_tasks",
			ConsumerGroup:    "ctrl_workers",
			MaxStreamLength:  100000,
			PendingTimeoutMs: 300000,
			PollIntervalMs:   100,
			BatchSize:        10,
		},
		Saga: SagaConfig{
			CheckpointPrefix:          "ctrl_saga",
			CheckpointTtlSeconds:      86400,
			DefaultStepTimeoutSeconds: 300,
		},
		Isolation: IsolationConfig{
			DefaultQuota: ResourceQuotaConfig{
				MaxMemoryMB:           512,
				MaxCPUPercent:         50,
				MaxConcurrentTrades:   5,
				MaxPositionSize:       10000,
				MaxDailyTrades:        100,
				MaxDailyLoss:          1000,
				MaxDrawdownPercent:    20,
				ApiRateLimitPerMinute: 60,
			},
			DefaultIsolationLevel:     "SOFT",
			MonitoringIntervalSeconds: 5,
			BreakerCooldownSeconds:    300,
			ErrorsToTripBreaker:       5,
		},
		Sandbox: SandboxConfig{
			Image:          "ctrl-sandbox-runner:latest",
			TimeoutSeconds: 30,
			MemoryLimitMB:  256,
			CPULimitCores:  0.5,
			ValidateCode:   true,
			MaxRiskScore:   30,
		},
		Router: RouterConfig{
			MaxFailures:           3,
			CircuitTimeoutSeconds: 300,
		},
		Monitor: MonitorConfig{
			CheckIntervalSeconds:   30,
			RestartCooldownSeconds: 120,
			MaxRestartAttempts:     3,
		},
		Encryptor: EncryptorConfig{
			MasterPasswordEnvName: "CTRL_MASTER_PASSWORD",
			KdfIterations:         100000,
			KeysFilePath:          "./keys.enc.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays environment variables onto the current config,
// following the documented CTRL_* surface. Unset variables leave the
// existing (default or previously-set) value untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("CTRL_NAME"); v != "" {
		c.Name = v
	}
	setStr(&c.RedisURL, "CTRL_REDIS_URL")

	// Queue
	setStr(&c.Queue.StreamPrefix, "CTRL_QUEUE_STREAM_PREFIX")
	setStr(&c.Queue.ConsumerGroup, "CTRL_QUEUE_CONSUMER_GROUP")
	setInt64(&c.Queue.MaxStreamLength, "CTRL_QUEUE_MAX_STREAM_LENGTH")
	setInt64(&c.Queue.PendingTimeoutMs, "CTRL_QUEUE_PENDING_TIMEOUT_MS")
	setInt64(&c.Queue.PollIntervalMs, "CTRL_QUEUE_POLL_INTERVAL_MS")
	setInt64(&c.Queue.BatchSize, "CTRL_QUEUE_BATCH_SIZE")

	// Saga
	setStr(&c.Saga.CheckpointPrefix, "CTRL_SAGA_CHECKPOINT_PREFIX")
	setInt64(&c.Saga.CheckpointTtlSeconds, "CTRL_SAGA_CHECKPOINT_TTL_SECONDS")
	setInt(&c.Saga.DefaultStepTimeoutSeconds, "CTRL_SAGA_DEFAULT_STEP_TIMEOUT_SECONDS")

	// Isolation
	setStr(&c.Isolation.DefaultIsolationLevel, "CTRL_ISOLATION_DEFAULT_LEVEL")
	setInt(&c.Isolation.MonitoringIntervalSeconds, "CTRL_ISOLATION_MONITORING_INTERVAL_SECONDS")
	setInt(&c.Isolation.BreakerCooldownSeconds, "CTRL_ISOLATION_BREAKER_COOLDOWN_SECONDS")
	setInt(&c.Isolation.ErrorsToTripBreaker, "CTRL_ISOLATION_ERRORS_TO_TRIP_BREAKER")
	setInt64(&c.Isolation.DefaultQuota.MaxMemoryMB, "CTRL_QUOTA_MAX_MEMORY_MB")
	setFloat(&c.Isolation.DefaultQuota.MaxCPUPercent, "CTRL_QUOTA_MAX_CPU_PERCENT")
	setInt(&c.Isolation.DefaultQuota.MaxConcurrentTrades, "CTRL_QUOTA_MAX_CONCURRENT_TRADES")
	setFloat(&c.Isolation.DefaultQuota.MaxPositionSize, "CTRL_QUOTA_MAX_POSITION_SIZE")
	setInt(&c.Isolation.DefaultQuota.MaxDailyTrades, "CTRL_QUOTA_MAX_DAILY_TRADES")
	setFloat(&c.Isolation.DefaultQuota.MaxDailyLoss, "CTRL_QUOTA_MAX_DAILY_LOSS")
	setFloat(&c.Isolation.DefaultQuota.MaxDrawdownPercent, "CTRL_QUOTA_MAX_DRAWDOWN_PERCENT")
	setInt(&c.Isolation.DefaultQuota.ApiRateLimitPerMinute, "CTRL_QUOTA_API_RATE_LIMIT_PER_MINUTE")

	// Sandbox
	setStr(&c.Sandbox.Image, "CTRL_SANDBOX_IMAGE")
	setInt(&c.Sandbox.TimeoutSeconds, "CTRL_SANDBOX_TIMEOUT_SECONDS")
	setInt64(&c.Sandbox.MemoryLimitMB, "CTRL_SANDBOX_MEMORY_LIMIT_MB")
	setFloat(&c.Sandbox.CPULimitCores, "CTRL_SANDBOX_CPU_LIMIT_CORES")
	setBool(&c.Sandbox.ValidateCode, "CTRL_SANDBOX_VALIDATE_CODE")
	setInt(&c.Sandbox.MaxRiskScore, "CTRL_SANDBOX_MAX_RISK_SCORE")

	// Router
	setStr(&c.Router.PrimaryURL, "CTRL_ROUTER_PRIMARY_URL")
	setInt(&c.Router.MaxFailures, "CTRL_ROUTER_MAX_FAILURES")
	setInt(&c.Router.CircuitTimeoutSeconds, "CTRL_ROUTER_CIRCUIT_TIMEOUT_SECONDS")

	// Monitor
	setInt(&c.Monitor.CheckIntervalSeconds, "CTRL_MONITOR_CHECK_INTERVAL_SECONDS")
	setInt(&c.Monitor.RestartCooldownSeconds, "CTRL_MONITOR_RESTART_COOLDOWN_SECONDS")
	setInt(&c.Monitor.MaxRestartAttempts, "CTRL_MONITOR_MAX_RESTART_ATTEMPTS")

	// Encryptor
	setStr(&c.Encryptor.MasterPasswordEnvName, "CTRL_ENCRYPTOR_PASSWORD_ENV_NAME")
	setInt(&c.Encryptor.KdfIterations, "CTRL_ENCRYPTOR_KDF_ITERATIONS")
	setStr(&c.Encryptor.KeysFilePath, "CTRL_ENCRYPTOR_KEYS_FILE_PATH")

	// Logging
	setStr(&c.Logging.Level, "CTRL_LOG_LEVEL")
	setStr(&c.Logging.Format, "CTRL_LOG_FORMAT")
	setStr(&c.Logging.Output, "CTRL_LOG_OUTPUT")
	if os.Getenv("CTRL_DEBUG") == "true" {
		c.Development.DebugLogging = true
	}

	return nil
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Queue.StreamPrefix == "" {
		return fmt.Errorf("queue.streamPrefix: %w", ErrMissingConfiguration)
	}
	if c.Queue.ConsumerGroup == "" {
		return fmt.Errorf("queue.consumerGroup: %w", ErrMissingConfiguration)
	}
	if c.Sandbox.MaxRiskScore < 0 || c.Sandbox.MaxRiskScore > 100 {
		return fmt.Errorf("sandbox.maxRiskScore out of range [0,100]: %w", ErrInvalidConfiguration)
	}
	if c.Router.MaxFailures <= 0 {
		return fmt.Errorf("router.maxFailures must be positive: %w", ErrInvalidConfiguration)
	}
	return nil
}

// WithName overrides the process/service name used in log lines and spans.
func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

// WithLogLevel overrides the logging level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat overrides the logging format ("text" or "json").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithDevelopmentMode toggles debug logging.
func WithDevelopmentMode(enabled bool) Option {
	return func(c *Config) error {
		c.Development.DebugLogging = enabled
		return nil
	}
}

// WithLogger injects a pre-built logger, bypassing ProductionLogger construction.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithRedisURL overrides the Redis connection URL every store backend shares.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithQueueConfig overrides the whole queue configuration block.
func WithQueueConfig(qc QueueConfig) Option {
	return func(c *Config) error {
		c.Queue = qc
		return nil
	}
}

// WithSagaConfig overrides the whole saga configuration block.
func WithSagaConfig(sc SagaConfig) Option {
	return func(c *Config) error {
		c.Saga = sc
		return nil
	}
}

// WithIsolationConfig overrides the whole isolation configuration block.
func WithIsolationConfig(ic IsolationConfig) Option {
	return func(c *Config) error {
		c.Isolation = ic
		return nil
	}
}

// WithSandboxConfig overrides the whole sandbox configuration block.
func WithSandboxConfig(sc SandboxConfig) Option {
	return func(c *Config) error {
		c.Sandbox = sc
		return nil
	}
}

// WithRouterConfig overrides the whole router configuration block.
func WithRouterConfig(rc RouterConfig) Option {
	return func(c *Config) error {
		c.Router = rc
		return nil
	}
}

// WithMonitorConfig overrides the whole monitor configuration block.
func WithMonitorConfig(mc MonitorConfig) Option {
	return func(c *Config) error {
		c.Monitor = mc
		return nil
	}
}

// WithEncryptorConfig overrides the whole encryptor configuration block.
func WithEncryptorConfig(ec EncryptorConfig) Option {
	return func(c *Config) error {
		c.Encryptor = ec
		return nil
	}
}

// WithYAMLFile loads a YAML document at path and overlays its values onto
// the config, between environment variables and later options in the
// overall precedence chain. The document's keys follow the same naming as
// Config's json tags (e.g. `isolation: {defaultQuota: {maxMemoryMB: 512}}`);
// it is decoded through the json tags rather than dedicated yaml tags so
// the two file formats stay in sync by construction.
func WithYAMLFile(path string) Option {
	return func(c *Config) error {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read yaml config %s: %w", path, err)
		}

		var generic map[string]interface{}
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("failed to parse yaml config %s: %w", path, err)
		}
		if generic == nil {
			return nil
		}

		asJSON, err := json.Marshal(generic)
		if err != nil {
			return fmt.Errorf("failed to normalize yaml config %s: %w", path, err)
		}
		if err := json.Unmarshal(asJSON, c); err != nil {
			return fmt.Errorf("failed to apply yaml config %s: %w", path, err)
		}
		return nil
	}
}

// NewConfig builds a Config from defaults, then environment variables, then
// functional options, in that order of increasing priority.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Logger returns the configured logger, building the default ProductionLogger
// lazily if NewConfig has not yet run.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		c.logger = NewProductionLogger(c.Logging, c.Development, c.Name)
	}
	return c.logger
}

// ============================================================================
// ProductionLogger — layered, component-aware observability
// ============================================================================

// Log level constants, in ascending severity.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ProductionLogger provides layered, component-aware structured logging.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig, defaulting its
// component to "framework/core" until WithComponent narrows it.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	level := logging.Level
	if level == "" {
		level = LogLevelInfo
	}

	return &ProductionLogger{
		level:          strings.ToLower(level),
		debug:          dev.DebugLogging || strings.ToLower(level) == LogLevelDebug,
		serviceName:    serviceName,
		component:      "framework/core",
		format:         logging.Format,
		output:         output,
		metricsEnabled: false,
	}
}

// WithComponent returns a new logger tagged with the given component name,
// sharing this logger's level, format, service name, and output.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

// EnableMetrics is called by the telemetry package once a metrics registry
// becomes available.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.Debug(msg, fields)
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}
		fmt.Fprintf(p.output, "%s [%s] [%s] %s%s\n", timestamp, level, p.serviceName, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitMetric(level, fields)
	}
}

func (p *ProductionLogger) emitMetric(level string, fields map[string]interface{}) {
	labels := []string{"level", level, "service", p.serviceName, "component", p.component}
	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter("ctrl.operations", labels...)
	}
}

// createComponentLogger tags base with component if it implements
// ComponentAwareLogger; otherwise it is returned unchanged.
func createComponentLogger(base Logger, component string) Logger {
	if cal, ok := base.(ComponentAwareLogger); ok {
		return cal.WithComponent(component)
	}
	return base
}
