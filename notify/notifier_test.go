package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) Notify(ctx context.Context, level core.NotifyLevel, title, message, source string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, title)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestRateLimitedNotifier_SuppressesRepeatsWithinWindow(t *testing.T) {
	sink := &fakeSink{}
	n := NewRateLimitedNotifier(sink, Config{MinInterval: time.Hour}, &core.NoOpLogger{})

	for i := 0; i < 5; i++ {
		if err := n.Send(context.Background(), core.NotifyWarning, "breaker-tripped", "msg", "isolation", nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if sink.count() != 1 {
		t.Errorf("expected exactly 1 delivery within the rate-limit window, got %d", sink.count())
	}
}

func TestRateLimitedNotifier_CriticalAlwaysBypassesLimiter(t *testing.T) {
	sink := &fakeSink{}
	n := NewRateLimitedNotifier(sink, Config{MinInterval: time.Hour}, &core.NoOpLogger{})

	for i := 0; i < 5; i++ {
		if err := n.Send(context.Background(), core.NotifyCritical, "breaker-tripped", "msg", "isolation", nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if sink.count() != 5 {
		t.Errorf("expected all 5 CRITICAL sends delivered, got %d", sink.count())
	}
}

func TestRateLimitedNotifier_DistinctKeysAreIndependentlyLimited(t *testing.T) {
	sink := &fakeSink{}
	n := NewRateLimitedNotifier(sink, Config{MinInterval: time.Hour}, &core.NoOpLogger{})

	if err := n.Send(context.Background(), core.NotifyWarning, "title-a", "msg", "isolation", nil); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	if err := n.Send(context.Background(), core.NotifyWarning, "title-b", "msg", "isolation", nil); err != nil {
		t.Fatalf("Send b: %v", err)
	}
	if sink.count() != 2 {
		t.Errorf("expected distinct titles to be independently rate-limited, got %d", sink.count())
	}
}

func TestRateLimitedNotifier_NilSinkIsSafe(t *testing.T) {
	n := NewRateLimitedNotifier(nil, Config{}, &core.NoOpLogger{})
	if err := n.Send(context.Background(), core.NotifyCritical, "t", "m", "s", nil); err != nil {
		t.Errorf("expected nil sink to be a safe no-op, got %v", err)
	}
}
