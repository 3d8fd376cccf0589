package isolation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

// ChangeHandler is invoked whenever a StrategyContext's State changes.
type ChangeHandler func(ctx *StrategyContext, oldState, newState State)

// BreakerHandler is invoked whenever a StrategyContext's circuit breaker trips.
type BreakerHandler func(ctx *StrategyContext, reason string)

// Config configures one Manager. Mirrors core.IsolationConfig.
type Config struct {
	DefaultQuota              ResourceQuota
	DefaultIsolationLevel     Level
	MonitoringIntervalSeconds int
	BreakerCooldownSeconds    int
	ErrorsToTripBreaker       int
}

// FromCoreConfig adapts the framework-wide isolation config block.
func FromCoreConfig(c core.IsolationConfig) Config {
	return Config{
		DefaultQuota: ResourceQuota{
			MaxMemoryMB:           c.DefaultQuota.MaxMemoryMB,
			MaxCPUPercent:         c.DefaultQuota.MaxCPUPercent,
			MaxConcurrentTrades:   c.DefaultQuota.MaxConcurrentTrades,
			MaxPositionSize:       c.DefaultQuota.MaxPositionSize,
			MaxDailyTrades:        c.DefaultQuota.MaxDailyTrades,
			MaxDailyLoss:          c.DefaultQuota.MaxDailyLoss,
			MaxDrawdownPercent:    c.DefaultQuota.MaxDrawdownPercent,
			ApiRateLimitPerMinute: c.DefaultQuota.ApiRateLimitPerMinute,
		},
		DefaultIsolationLevel:     Level(c.DefaultIsolationLevel),
		MonitoringIntervalSeconds: c.MonitoringIntervalSeconds,
		BreakerCooldownSeconds:    c.BreakerCooldownSeconds,
		ErrorsToTripBreaker:       c.ErrorsToTripBreaker,
	}
}

// Manager tracks a StrategyContext per registered strategy, enforcing quota,
// a per-strategy circuit breaker, and cooldown recovery.
type Manager struct {
	mu       sync.Mutex
	contexts map[string]*StrategyContext
	cfg      Config
	clock    core.Clock
	idGen    core.IdGen
	logger   core.Logger
	notifier core.Notifier

	changeHandlers  []ChangeHandler
	breakerHandlers []BreakerHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs a Manager.
func NewManager(cfg Config, clock core.Clock, idGen core.IdGen, logger core.Logger, notifier core.Notifier) *Manager {
	if cfg.MonitoringIntervalSeconds <= 0 {
		cfg.MonitoringIntervalSeconds = 5
	}
	if cfg.BreakerCooldownSeconds <= 0 {
		cfg.BreakerCooldownSeconds = 300
	}
	if cfg.ErrorsToTripBreaker <= 0 {
		cfg.ErrorsToTripBreaker = 5
	}
	if cfg.DefaultIsolationLevel == "" {
		cfg.DefaultIsolationLevel = LevelSoft
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if idGen == nil {
		idGen = core.UUIDGen{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("isolation")
	}
	return &Manager{
		contexts: make(map[string]*StrategyContext),
		cfg:      cfg,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
		notifier: notifier,
	}
}

// OnChange registers a handler invoked on every state transition.
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeHandlers = append(m.changeHandlers, h)
}

// OnBreakerTrip registers a handler invoked whenever a breaker trips.
func (m *Manager) OnBreakerTrip(h BreakerHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerHandlers = append(m.breakerHandlers, h)
}

// Register creates a StrategyContext. Idempotent on id: a second Register
// with the same id returns the existing context untouched.
func (m *Manager) Register(name string, id string, quota *ResourceQuota, level Level) *StrategyContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.idGen.NewID()
	}
	if existing, ok := m.contexts[id]; ok {
		return existing.snapshot()
	}

	q := m.cfg.DefaultQuota
	if quota != nil {
		q = *quota
	}
	if level == "" {
		level = m.cfg.DefaultIsolationLevel
	}

	sc := &StrategyContext{
		StrategyID:     id,
		StrategyName:   name,
		IsolationLevel: level,
		State:          StateIdle,
		Quota:          q,
		Usage:          ResourceUsage{LastUpdated: m.clock.Now()},
	}
	m.contexts[id] = sc
	return sc.snapshot()
}

// Unregister forces a context to STOPPED and removes it from tracking.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.contexts[id]
	if !ok {
		return false
	}
	m.transitionLocked(sc, StateStopped)
	delete(m.contexts, id)
	return true
}

func (m *Manager) get(id string) (*StrategyContext, error) {
	sc, ok := m.contexts[id]
	if !ok {
		return nil, fmt.Errorf("isolation: strategy %s: %w", id, core.ErrNotFound)
	}
	return sc, nil
}

func (m *Manager) transitionLocked(sc *StrategyContext, newState State) {
	old := sc.State
	sc.State = newState
	if old == newState {
		return
	}
	for _, h := range m.changeHandlers {
		h(sc.snapshot(), old, newState)
	}
}

// Start moves a context from IDLE/STOPPED/PAUSED to RUNNING. Refused while
// a cooldown is active; clears a prior tripped breaker on entry.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return err
	}
	if sc.Triggered && m.clock.Now().Before(sc.CooldownUntil) {
		return fmt.Errorf("isolation: strategy %s: %w", id, core.ErrCooldownActive)
	}

	sc.Triggered = false
	sc.Reason = ""
	sc.TriggeredAt = time.Time{}
	sc.CooldownUntil = time.Time{}
	m.transitionLocked(sc, StateRunning)
	return nil
}

// Stop moves a context to STOPPED, recording reason.
func (m *Manager) Stop(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return err
	}
	sc.LastError = reason
	m.transitionLocked(sc, StateStopped)
	return nil
}

// Pause moves a context to PAUSED, recording reason.
func (m *Manager) Pause(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return err
	}
	sc.LastError = reason
	m.transitionLocked(sc, StatePaused)
	return nil
}

// CheckQuota evaluates whether a trade of tradeSize may proceed, without
// reserving anything.
func (m *Manager) CheckQuota(id string, tradeSize float64) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return false, "", err
	}
	allowed, reason := m.checkQuotaLocked(sc, tradeSize)
	return allowed, reason, nil
}

func (m *Manager) checkQuotaLocked(sc *StrategyContext, tradeSize float64) (bool, string) {
	q, u := sc.Quota, sc.Usage
	if q.MaxDailyTrades > 0 && u.DailyTradeCount >= q.MaxDailyTrades {
		return false, "daily trade count limit reached"
	}
	if q.MaxDailyLoss > 0 && u.DailyPnL <= -q.MaxDailyLoss {
		return false, "daily loss limit reached"
	}
	if q.MaxDrawdownPercent > 0 && u.CurrentDrawdownPercent >= q.MaxDrawdownPercent {
		return false, "drawdown limit reached"
	}
	if q.MaxConcurrentTrades > 0 && u.OpenTrades >= q.MaxConcurrentTrades {
		return false, "max concurrent trades reached"
	}
	if q.MaxPositionSize > 0 && u.CurrentPosition+tradeSize > q.MaxPositionSize {
		return false, "projected position exceeds max position size"
	}
	if q.ApiRateLimitPerMinute > 0 && u.ApiCallsLastMinute >= q.ApiRateLimitPerMinute {
		return false, "api rate limit reached"
	}
	return true, ""
}

func (m *Manager) tripLocked(ctx context.Context, sc *StrategyContext, reason string) {
	sc.Triggered = true
	sc.Reason = reason
	sc.TriggeredAt = m.clock.Now()
	sc.CooldownUntil = sc.TriggeredAt.Add(time.Duration(m.cfg.BreakerCooldownSeconds) * time.Second)
	m.transitionLocked(sc, StateCooldown)

	for _, h := range m.breakerHandlers {
		h(sc.snapshot(), reason)
	}
	if m.notifier != nil {
		_ = m.notifier.Send(ctx, core.NotifyCritical, "isolation breaker tripped",
			fmt.Sprintf("strategy %s: %s", sc.StrategyID, reason), "isolation", map[string]interface{}{
				"strategy_id": sc.StrategyID, "reason": reason,
			})
	}
}

// TradeContext is a scoped acquisition returned by Manager.TradeContext. It
// MUST be released via Release (typically deferred) on every code path.
type TradeContext struct {
	m          *Manager
	id         string
	tradeSize  float64
	released   bool
}

// RecordTrade updates lifetime and daily PnL counters and recomputes
// drawdown. It must be called before Release, at most once.
func (tc *TradeContext) RecordTrade(ctx context.Context, pnl float64) error {
	tc.m.mu.Lock()
	defer tc.m.mu.Unlock()

	sc, err := tc.m.get(tc.id)
	if err != nil {
		return err
	}
	sc.Usage.DailyTradeCount++
	sc.Usage.DailyPnL += pnl
	sc.TradeCountTotal++
	sc.TotalPnL += pnl
	sc.LastTradeAt = tc.m.clock.Now()

	equity := sc.TotalPnL
	if equity > sc.PeakEquity {
		sc.PeakEquity = equity
	}
	if sc.PeakEquity > 0 {
		dd := 100 * (sc.PeakEquity - equity) / sc.PeakEquity
		if dd < 0 {
			dd = 0
		}
		sc.Usage.CurrentDrawdownPercent = dd
	}
	sc.Usage.LastUpdated = tc.m.clock.Now()
	return nil
}

// Release returns the reserved trade size and open-trade slot. Safe to call
// more than once; only the first call has effect.
func (tc *TradeContext) Release(ctx context.Context) {
	tc.m.mu.Lock()
	defer tc.m.mu.Unlock()

	if tc.released {
		return
	}
	tc.released = true

	sc, err := tc.m.get(tc.id)
	if err != nil {
		return
	}
	sc.Usage.OpenTrades--
	if sc.Usage.OpenTrades < 0 {
		sc.Usage.OpenTrades = 0
	}
	sc.Usage.CurrentPosition -= tc.tradeSize
	sc.Usage.LastUpdated = tc.m.clock.Now()
}

// TradeContext acquires a scoped trade handle: re-checks quota, trips the
// breaker and returns an error wrapping core.ErrQuotaExceeded if denied,
// else reserves openTrades/currentPosition/apiCallsLastMinute.
func (m *Manager) TradeContext(ctx context.Context, id string, tradeSize float64) (*TradeContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return nil, err
	}

	allowed, reason := m.checkQuotaLocked(sc, tradeSize)
	if !allowed {
		m.tripLocked(ctx, sc, reason)
		return nil, fmt.Errorf("isolation: strategy %s: %s: %w", id, reason, core.ErrQuotaExceeded)
	}

	sc.Usage.OpenTrades++
	sc.Usage.CurrentPosition += tradeSize
	sc.Usage.ApiCallsLastMinute++
	sc.Usage.LastUpdated = m.clock.Now()

	return &TradeContext{m: m, id: id, tradeSize: tradeSize}, nil
}

// RecordError increments errorCount; at the configured threshold it trips
// the breaker with reason "Too many errors".
func (m *Manager) RecordError(ctx context.Context, id string, recordedErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return err
	}
	sc.ErrorCount++
	if recordedErr != nil {
		sc.LastError = recordedErr.Error()
	}
	if sc.ErrorCount >= m.cfg.ErrorsToTripBreaker {
		m.tripLocked(ctx, sc, "Too many errors")
	}
	return nil
}

// UpdateResourceUsage updates usage counters; memory over quota trips the breaker.
func (m *Manager) UpdateResourceUsage(ctx context.Context, id string, memoryMB *int64, cpuPercent *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, err := m.get(id)
	if err != nil {
		return err
	}
	if memoryMB != nil {
		sc.Usage.MemoryMB = *memoryMB
	}
	if cpuPercent != nil {
		sc.Usage.CPUPercent = *cpuPercent
	}
	sc.Usage.LastUpdated = m.clock.Now()

	if sc.Quota.MaxMemoryMB > 0 && sc.Usage.MemoryMB > sc.Quota.MaxMemoryMB {
		m.tripLocked(ctx, sc, "memory quota exceeded")
	}
	return nil
}

// ResetDailyCounters zeros daily trade count, daily PnL, error count, and
// last error for every tracked context.
func (m *Manager) ResetDailyCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sc := range m.contexts {
		sc.Usage.DailyTradeCount = 0
		sc.Usage.DailyPnL = 0
		sc.ErrorCount = 0
		sc.LastError = ""
	}
}

// Get returns a point-in-time snapshot of one context.
func (m *Manager) Get(id string) (*StrategyContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return sc.snapshot(), nil
}

// StartMonitor begins the monitoring loop: every MonitoringIntervalSeconds, decay
// apiCallsLastMinute by 1 (floor 0) and release any context whose cooldown
// has elapsed.
func (m *Manager) StartMonitor(ctx context.Context) {
	monitorCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Duration(m.cfg.MonitoringIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

// StopMonitor halts the monitoring loop started by StartMonitor.
func (m *Manager) StopMonitor() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for _, sc := range m.contexts {
		if sc.Usage.ApiCallsLastMinute > 0 {
			sc.Usage.ApiCallsLastMinute--
		}
		if sc.State == StateCooldown && !sc.CooldownUntil.After(now) {
			sc.Triggered = false
			sc.Reason = ""
			sc.TriggeredAt = time.Time{}
			sc.CooldownUntil = time.Time{}
			m.transitionLocked(sc, StateIdle)
		}
	}
}
