package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orchestrix/ctrlplane/core"
)

// Config configures one Runner. Mirrors core.SandboxConfig.
type Config struct {
	Image          string
	TimeoutSeconds int
	MemoryLimitMB  int64
	CPULimitCores  float64
	ValidateCode   bool
	MaxRiskScore   int
}

// FromCoreConfig adapts the framework-wide sandbox config block.
func FromCoreConfig(c core.SandboxConfig) Config {
	return Config{
		Image:          c.Image,
		TimeoutSeconds: c.TimeoutSeconds,
		MemoryLimitMB:  c.MemoryLimitMB,
		CPULimitCores:  c.CPULimitCores,
		ValidateCode:   c.ValidateCode,
		MaxRiskScore:   c.MaxRiskScore,
	}
}

// ExecutionResult is what Execute returns.
type ExecutionResult struct {
	Success     bool
	ExitCode    int
	Stdout      string
	Stderr      string
	DurationMs  int64
	Usage       core.SandboxUsage
	Validation  ValidationResult
	Error       string
}

// Runner validates then executes untrusted source under an isolated
// backend. A validation failure never reaches execution; the backend
// environment is destroyed on every path, success or failure.
type Runner struct {
	backend   core.SandboxBackend
	validator *CodeValidator
	cfg       Config
	clock     core.Clock
	logger    core.Logger
}

// NewRunner constructs a Runner.
func NewRunner(backend core.SandboxBackend, validator *CodeValidator, cfg Config, clock core.Clock, logger core.Logger) *Runner {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRiskScore <= 0 {
		cfg.MaxRiskScore = 30
	}
	if cfg.Image == "" {
		cfg.Image = "ctrl-sandbox-runner:latest"
	}
	if validator == nil {
		validator = NewCodeValidator()
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("sandbox")
	}
	return &Runner{backend: backend, validator: validator, cfg: cfg, clock: clock, logger: logger}
}

// Execute validates source, then runs it in a freshly created scratch
// directory under the backend, returning resource usage and output. The
// isolated environment is always removed, including on error paths.
func (r *Runner) Execute(ctx context.Context, source string, timeoutSeconds int, envVars map[string]string) *ExecutionResult {
	result := &ExecutionResult{}

	if r.cfg.ValidateCode {
		verdict := r.validator.Validate(source)
		result.Validation = verdict
		if !verdict.IsValid || verdict.RiskScore > r.cfg.MaxRiskScore {
			result.Success = false
			result.Error = fmt.Sprintf("validation rejected submission: risk score %d (max %d), valid=%v", verdict.RiskScore, r.cfg.MaxRiskScore, verdict.IsValid)
			return result
		}
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = r.cfg.TimeoutSeconds
	}

	scratchDir, outputDir, err := r.materialize(source)
	if err != nil {
		result.Error = fmt.Sprintf("failed to materialize scratch directory: %v", err)
		return result
	}
	defer os.RemoveAll(scratchDir)

	limits := core.SandboxLimits{
		MemoryBytes:     r.cfg.MemoryLimitMB * 1024 * 1024,
		MemorySwapBytes: r.cfg.MemoryLimitMB * 1024 * 1024,
		CPUPeriodMicros: 100000,
		CPUQuotaMicros:  int64(r.cfg.CPULimitCores * 100000),
		CapsDropped:     []string{"ALL"},
		NoNewPrivileges: true,
		UserNonRoot:     true,
		ReadOnlyRoot:    true,
		NetworkMode:     "none",
	}
	mounts := []core.SandboxMount{
		{HostPath: scratchDir, ContainerPath: "/workspace", ReadOnly: true},
		{HostPath: outputDir, ContainerPath: "/workspace/output", ReadOnly: false},
	}

	handle, err := r.backend.Create(ctx, r.cfg.Image, []string{"run", "/workspace/submission.go"}, mounts, envVars, limits)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create sandbox: %v", err)
		return result
	}
	defer func() {
		if rmErr := r.backend.Remove(context.Background(), handle, true); rmErr != nil {
			r.logger.Warn("failed to remove sandbox environment", map[string]interface{}{"handle": handle, "error": rmErr.Error()})
		}
	}()

	start := r.clock.Now()
	if err := r.backend.Start(ctx, handle); err != nil {
		result.Error = fmt.Sprintf("failed to start sandbox: %v", err)
		return result
	}

	exitCode, waitErr := r.backend.Wait(ctx, handle, timeoutSeconds)
	result.DurationMs = r.clock.Now().Sub(start).Milliseconds()

	if waitErr != nil {
		exitCode = -1
		result.Error = waitErr.Error()
	}
	result.ExitCode = exitCode
	result.Success = waitErr == nil && exitCode == 0

	if stdout, stderr, logErr := r.backend.Logs(ctx, handle); logErr == nil {
		result.Stdout, result.Stderr = stdout, stderr
	}
	if usage, usageErr := r.backend.Stats(ctx, handle); usageErr == nil {
		result.Usage = usage
	}

	return result
}

func (r *Runner) materialize(source string) (scratchDir, outputDir string, err error) {
	scratchDir, err = os.MkdirTemp("", "ctrl-sandbox-")
	if err != nil {
		return "", "", err
	}
	outputDir = filepath.Join(scratchDir, "output")
	if err := os.Mkdir(outputDir, 0700); err != nil {
		os.RemoveAll(scratchDir)
		return "", "", err
	}
	if err := os.WriteFile(filepath.Join(scratchDir, "submission.go"), []byte(source), 0400); err != nil {
		os.RemoveAll(scratchDir)
		return "", "", err
	}
	return scratchDir, outputDir, nil
}
