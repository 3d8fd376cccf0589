// Package monitor implements the self-healing probe loop: it watches the
// primary service, restarts it within rate limits when it goes unhealthy,
// and escalates the reliability router to DIRECT mode when restarts are
// exhausted.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

// Config configures one Monitor. Mirrors core.MonitorConfig.
type Config struct {
	CheckIntervalSeconds   int
	RestartCooldownSeconds int
	MaxRestartAttempts     int
}

// FromCoreConfig adapts the framework-wide monitor config block.
func FromCoreConfig(c core.MonitorConfig) Config {
	return Config{
		CheckIntervalSeconds:   c.CheckIntervalSeconds,
		RestartCooldownSeconds: c.RestartCooldownSeconds,
		MaxRestartAttempts:     c.MaxRestartAttempts,
	}
}

// PrimaryHealthChecker probes the primary service with a short timeout.
type PrimaryHealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// PrimaryAutoStart restarts the primary service out of process.
type PrimaryAutoStart interface {
	Restart(ctx context.Context) error
}

// RouterRecovery is the subset of the reliability router the monitor
// drives: recovery on health, and forced escalation once restarts run out.
type RouterRecovery interface {
	CheckHealthAndRecover(ctx context.Context) error
	ForceDirect()
}

const unhealthyThresholdToRestart = 3

// Monitor runs the periodic health/restart/escalate loop.
type Monitor struct {
	health  PrimaryHealthChecker
	starter PrimaryAutoStart
	router  RouterRecovery
	cfg     Config
	clock   core.Clock
	logger  core.Logger

	mu               sync.Mutex
	consecutiveFails int
	restartAttempts  int
	lastRestartAt    time.Time
	escalated        bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor constructs a Monitor. starter may be nil; auto-restart is then
// skipped and the monitor escalates directly once the unhealthy threshold
// is reached.
func NewMonitor(health PrimaryHealthChecker, starter PrimaryAutoStart, router RouterRecovery, cfg Config, clock core.Clock, logger core.Logger) *Monitor {
	if cfg.CheckIntervalSeconds <= 0 {
		cfg.CheckIntervalSeconds = 30
	}
	if cfg.RestartCooldownSeconds <= 0 {
		cfg.RestartCooldownSeconds = 120
	}
	if cfg.MaxRestartAttempts <= 0 {
		cfg.MaxRestartAttempts = 3
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("monitor")
	}
	return &Monitor{health: health, starter: starter, router: router, cfg: cfg, clock: clock, logger: logger}
}

// Start launches the background probe loop. It is safe to call once; a
// second call before Stop is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Duration(m.cfg.CheckIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.probe(loopCtx)
			}
		}
	}()
}

// Stop terminates the loop, waiting for the in-flight tick to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// probe runs one health-check tick. Exported as Probe for callers (and
// tests) that want to drive the loop deterministically rather than waiting
// on the ticker.
func (m *Monitor) Probe(ctx context.Context) {
	m.probe(ctx)
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.health.HealthCheck(ctx)

	m.mu.Lock()
	if err == nil {
		m.consecutiveFails = 0
		m.mu.Unlock()
		if m.router != nil {
			if recErr := m.router.CheckHealthAndRecover(ctx); recErr != nil {
				m.logger.Debug("router recovery deferred", map[string]interface{}{"error": recErr.Error()})
			}
		}
		return
	}

	m.consecutiveFails++
	m.logger.Warn("primary unhealthy", map[string]interface{}{"consecutive_failures": m.consecutiveFails})

	if m.escalated || m.consecutiveFails < unhealthyThresholdToRestart {
		m.mu.Unlock()
		return
	}

	if m.starter == nil {
		m.escalateLocked()
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	cooldownElapsed := m.lastRestartAt.IsZero() || now.Sub(m.lastRestartAt) >= time.Duration(m.cfg.RestartCooldownSeconds)*time.Second
	if !cooldownElapsed {
		m.mu.Unlock()
		return
	}
	if m.restartAttempts >= m.cfg.MaxRestartAttempts {
		m.escalateLocked()
		m.mu.Unlock()
		return
	}

	m.restartAttempts++
	m.lastRestartAt = now
	attempt := m.restartAttempts
	m.mu.Unlock()

	if restartErr := m.starter.Restart(ctx); restartErr != nil {
		m.logger.Error("primary auto-restart failed", map[string]interface{}{
			"attempt": attempt, "error": restartErr.Error(),
		})
	} else {
		m.logger.Info("primary auto-restart issued", map[string]interface{}{"attempt": attempt})
	}
}

// escalateLocked forces the router into DIRECT mode after restarts are
// exhausted. Caller holds m.mu.
func (m *Monitor) escalateLocked() {
	if m.escalated {
		return
	}
	m.escalated = true
	m.logger.Error("restart attempts exhausted, escalating to DIRECT", map[string]interface{}{
		"restart_attempts": m.restartAttempts,
	})
	if m.router != nil {
		m.router.ForceDirect()
	}
}

// Status reports the monitor's current counters, for diagnostics.
func (m *Monitor) Status() (consecutiveFails, restartAttempts int, escalated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFails, m.restartAttempts, m.escalated
}
