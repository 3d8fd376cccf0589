package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

// Config configures one Router. Mirrors core.RouterConfig.
type Config struct {
	MaxFailures           int
	CircuitTimeoutSeconds int
}

// FromCoreConfig adapts the framework-wide router config block.
func FromCoreConfig(c core.RouterConfig) Config {
	return Config{MaxFailures: c.MaxFailures, CircuitTimeoutSeconds: c.CircuitTimeoutSeconds}
}

// Router fails over between a co-hosted primary service and an ordered ring
// of direct-provider credentials per service, tracking consecutive primary
// failures with a simple open/probe/closed breaker.
type Router struct {
	mu sync.Mutex

	primary   PrimaryClient
	providers map[string]DirectProvider
	keyRing   map[string][]string
	keyIndex  map[string]int

	cfg   Config
	clock core.Clock

	mode             Mode
	consecutiveFails int
	circuitOpenUntil time.Time

	logger core.Logger
}

// NewRouter constructs a Router starting in PRIMARY mode.
func NewRouter(primary PrimaryClient, providers map[string]DirectProvider, cfg Config, clock core.Clock, logger core.Logger) *Router {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CircuitTimeoutSeconds <= 0 {
		cfg.CircuitTimeoutSeconds = 300
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("router")
	}
	return &Router{
		primary:   primary,
		providers: providers,
		keyRing:   make(map[string][]string),
		keyIndex:  make(map[string]int),
		cfg:       cfg,
		clock:     clock,
		mode:      ModePrimary,
		logger:    logger,
	}
}

// SetKeyRing installs the ordered credential list for one service, as
// loaded at startup by the key manager.
func (r *Router) SetKeyRing(service string, keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyRing[service] = keys
	if _, ok := r.keyIndex[service]; !ok {
		r.keyIndex[service] = 0
	}
}

// Mode returns the router's current routing posture.
func (r *Router) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Send routes one request according to the current mode, failing over to
// DIRECT after a probe or breaker trip as needed.
func (r *Router) Send(ctx context.Context, req Request) (*Response, error) {
	r.mu.Lock()
	mode := r.mode
	shouldProbe := mode == ModeDirect && !r.clock.Now().Before(r.circuitOpenUntil)
	r.mu.Unlock()

	if mode == ModePrimary || shouldProbe {
		resp, err := r.sendPrimary(ctx, req)
		if err == nil {
			r.mu.Lock()
			if shouldProbe {
				r.logger.Info("primary probe succeeded, reverting to PRIMARY", map[string]interface{}{"service": req.Service})
			}
			r.mode = ModePrimary
			r.consecutiveFails = 0
			r.mu.Unlock()
			return resp, nil
		}

		r.mu.Lock()
		r.consecutiveFails++
		tripped := r.consecutiveFails >= r.cfg.MaxFailures
		if tripped {
			r.mode = ModeDirect
			r.circuitOpenUntil = r.clock.Now().Add(time.Duration(r.cfg.CircuitTimeoutSeconds) * time.Second)
			r.logger.Warn("router circuit tripped, switching to DIRECT", map[string]interface{}{
				"service": req.Service, "consecutive_failures": r.consecutiveFails,
			})
		}
		if shouldProbe {
			// Probe failed: reset the cooldown window and stay in DIRECT.
			r.mode = ModeDirect
			r.circuitOpenUntil = r.clock.Now().Add(time.Duration(r.cfg.CircuitTimeoutSeconds) * time.Second)
		}
		r.mu.Unlock()

		if !tripped && !shouldProbe {
			return nil, fmt.Errorf("router: primary call failed: %w", err)
		}
		// A fresh trip or a failed probe serves this same call via DIRECT.
		if !tripped && shouldProbe {
			return r.sendDirect(ctx, req)
		}
	}

	return r.sendDirect(ctx, req)
}

func (r *Router) sendPrimary(ctx context.Context, req Request) (*Response, error) {
	if r.primary == nil {
		return nil, fmt.Errorf("router: no primary client configured")
	}
	resp, err := r.primary.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Source = "primary"
	resp.Service = req.Service
	return resp, nil
}

// sendDirect walks the key ring for req.Service starting at the stored
// index, advancing past the key that eventually succeeds.
func (r *Router) sendDirect(ctx context.Context, req Request) (*Response, error) {
	r.mu.Lock()
	provider, ok := r.providers[req.Service]
	keys := r.keyRing[req.Service]
	startIdx := r.keyIndex[req.Service]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("router: no direct provider configured for service %s", req.Service)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("router: no credentials in key ring for service %s", req.Service)
	}

	var lastErr error
	for offset := 0; offset < len(keys); offset++ {
		idx := (startIdx + offset) % len(keys)
		resp, err := provider.Send(ctx, req, keys[idx])
		if err == nil {
			resp.Source = "direct"
			resp.Service = req.Service

			r.mu.Lock()
			r.keyIndex[req.Service] = (idx + 1) % len(keys)
			r.mu.Unlock()

			return resp, nil
		}
		lastErr = err
		r.logger.Warn("direct key attempt failed, advancing ring", map[string]interface{}{
			"service": req.Service, "key_index": idx, "error": err.Error(),
		})
	}
	return nil, fmt.Errorf("router: all %d keys exhausted for service %s: %w", len(keys), req.Service, lastErr)
}

// ForceDirect pins the router into DIRECT mode indefinitely, bypassing the
// normal failure-count breaker. Used by the self-healing monitor once
// auto-restart attempts are exhausted.
func (r *Router) ForceDirect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = ModeDirect
	r.circuitOpenUntil = r.clock.Now().Add(time.Duration(r.cfg.CircuitTimeoutSeconds) * time.Second)
}

// CheckHealthAndRecover nudges the router back to PRIMARY when the primary
// appears up and the cooldown has elapsed. Intended to be called by the
// self-healing monitor.
func (r *Router) CheckHealthAndRecover(ctx context.Context) error {
	r.mu.Lock()
	if r.mode == ModePrimary {
		r.mu.Unlock()
		return nil
	}
	if r.clock.Now().Before(r.circuitOpenUntil) {
		r.mu.Unlock()
		return fmt.Errorf("router: cooldown has not elapsed")
	}
	r.mu.Unlock()

	if r.primary == nil {
		return fmt.Errorf("router: no primary client configured")
	}
	if err := r.primary.HealthCheck(ctx); err != nil {
		return fmt.Errorf("router: primary still unhealthy: %w", err)
	}

	r.mu.Lock()
	r.mode = ModePrimary
	r.consecutiveFails = 0
	r.mu.Unlock()
	return nil
}
