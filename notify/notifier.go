// Package notify implements the rate-limited Notifier used to fan
// isolation-breaker and router-failover events out to alerting transports.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orchestrix/ctrlplane/core"
	"github.com/orchestrix/ctrlplane/telemetry"
)

// Sink delivers one notification to a transport (pager, chat, email...).
type Sink interface {
	Notify(ctx context.Context, level core.NotifyLevel, title, message, source string, metadata map[string]interface{}) error
}

// Config configures rate limiting.
type Config struct {
	// MinInterval is the minimum spacing between two notifications sharing
	// the same (level, title, source) key. CRITICAL always bypasses this.
	MinInterval time.Duration
}

// RateLimitedNotifier rate-limits repeated notifications per (level, title,
// source), while letting CRITICAL severity always through. It satisfies
// core.Notifier.
type RateLimitedNotifier struct {
	sink Sink
	cfg  Config

	mu       sync.Mutex
	limiters map[string]*telemetry.RateLimiter

	logger core.Logger
}

// NewRateLimitedNotifier constructs a RateLimitedNotifier wrapping sink.
func NewRateLimitedNotifier(sink Sink, cfg Config, logger core.Logger) *RateLimitedNotifier {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("notify")
	}
	return &RateLimitedNotifier{
		sink:     sink,
		cfg:      cfg,
		limiters: make(map[string]*telemetry.RateLimiter),
		logger:   logger,
	}
}

// Send delivers the notification to the sink unless it is rate-limited.
// CRITICAL notifications always bypass the limiter.
func (n *RateLimitedNotifier) Send(ctx context.Context, level core.NotifyLevel, title, message, source string, metadata map[string]interface{}) error {
	if level != core.NotifyCritical {
		key := fmt.Sprintf("%s|%s|%s", level, title, source)
		if !n.limiterFor(key).Allow() {
			n.logger.Debug("notification rate-limited", map[string]interface{}{
				"level": level, "title": title, "source": source,
			})
			return nil
		}
	}
	if n.sink == nil {
		return nil
	}
	if err := n.sink.Notify(ctx, level, title, message, source, metadata); err != nil {
		n.logger.Error("notification delivery failed", map[string]interface{}{
			"level": level, "title": title, "error": err.Error(),
		})
		return fmt.Errorf("notify: delivery failed: %w", err)
	}
	return nil
}

func (n *RateLimitedNotifier) limiterFor(key string) *telemetry.RateLimiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[key]
	if !ok {
		l = telemetry.NewRateLimiter(n.cfg.MinInterval)
		n.limiters[key] = l
	}
	return l
}
