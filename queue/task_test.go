package queue

import (
	"testing"
	"time"
)

func TestPriorityString(t *testing.T) {
	tests := []struct {
		p    Priority
		want string
	}{
		{Critical, "critical"},
		{High, "high"},
		{Normal, "normal"},
		{Low, "low"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestParsePriorityRoundTrip(t *testing.T) {
	for _, p := range allPriorities {
		got, err := ParsePriority(p.String())
		if err != nil {
			t.Fatalf("ParsePriority(%q) error = %v", p.String(), err)
		}
		if got != p {
			t.Errorf("ParsePriority(%q) = %d, want %d", p.String(), got, p)
		}
	}
}

func TestParsePriorityUnknown(t *testing.T) {
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown priority name")
	}
}

func TestTaskFieldsRoundTrip(t *testing.T) {
	original := &Task{
		ID:             "task-1",
		Type:           "backtest",
		Payload:        []byte(`{"symbol":"AAPL"}`),
		Priority:       High,
		CreatedAt:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		RetryCount:     1,
		MaxRetries:     3,
		TimeoutSeconds: 60,
	}

	fields := original.toFields()
	restored, err := taskFromFields(fields)
	if err != nil {
		t.Fatalf("taskFromFields() error = %v", err)
	}

	if restored.ID != original.ID || restored.Type != original.Type ||
		string(restored.Payload) != string(original.Payload) ||
		restored.Priority != original.Priority ||
		restored.RetryCount != original.RetryCount ||
		restored.MaxRetries != original.MaxRetries ||
		restored.TimeoutSeconds != original.TimeoutSeconds ||
		!restored.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("round trip mismatch: got %+v, want %+v", restored, original)
	}
}
