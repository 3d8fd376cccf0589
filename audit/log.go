// Package audit implements the append-only, size-bounded record of
// security-relevant actions fed by isolation, encryption, and routing
// events.
package audit

import (
	"sync"
	"time"

	"github.com/orchestrix/ctrlplane/core"
)

// Action enumerates the recognized audit action kinds.
type Action string

const (
	ActionKeyCreate   Action = "key_create"
	ActionKeyRetrieve Action = "key_retrieve"
	ActionEncrypt     Action = "encrypt"
	ActionDecrypt     Action = "decrypt"
	ActionRotate      Action = "rotate"
	ActionDelete      Action = "delete"
	ActionList        Action = "list"
	ActionCacheHit    Action = "cache_hit"
	ActionCacheMiss   Action = "cache_miss"
	ActionError       Action = "error"
)

// Entry is one recorded audit event.
type Entry struct {
	EntryID      string
	Timestamp    time.Time
	Action       Action
	SubjectID    string
	UserID       string
	Success      bool
	ErrorMessage string
	Details      map[string]interface{}
}

// Query filters a Log listing.
type Query struct {
	SubjectID string // matches AuditLogEntry.subjectID ("keyID" in the spec vocabulary)
	Action    Action
	Since     time.Time
	Until     time.Time
	Limit     int
}

const defaultCapacity = 10000

// Log is an append-only bounded ring of Entry values: once size exceeds
// its capacity, the oldest entries are dropped to make room for new ones.
// Writes never block on transport; an optional shipper receives a
// best-effort async copy of every entry.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
	idGen    core.IdGen
	clock    core.Clock
	shipper  func(Entry)
	logger   core.Logger
}

// Option configures a Log at construction.
type Option func(*Log)

// WithCapacity overrides the default ring capacity (10000).
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithShipper installs an async shipment hook. It is invoked in its own
// goroutine per entry so a slow or blocked shipper never backs up writers.
func WithShipper(shipper func(Entry)) Option {
	return func(l *Log) { l.shipper = shipper }
}

// NewLog constructs an empty Log.
func NewLog(idGen core.IdGen, clock core.Clock, logger core.Logger, opts ...Option) *Log {
	if idGen == nil {
		idGen = core.UUIDGen{}
	}
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("audit")
	}
	l := &Log{capacity: defaultCapacity, idGen: idGen, clock: clock, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one entry, stamping EntryID and Timestamp if unset, and
// evicting the oldest entry if the ring is at capacity. Never blocks on
// the optional shipper.
func (l *Log) Record(e Entry) Entry {
	if e.EntryID == "" {
		e.EntryID = l.idGen.NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		overflow := len(l.entries) - l.capacity
		l.entries = l.entries[overflow:]
	}
	shipper := l.shipper
	l.mu.Unlock()

	if shipper != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("audit shipper panicked", map[string]interface{}{"recover": r})
				}
			}()
			shipper(e)
		}()
	}
	return e
}

// Query returns entries matching every set filter, newest first, capped at
// q.Limit entries (0 means unlimited).
func (l *Log) Query(q Query) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	matches := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if q.SubjectID != "" && e.SubjectID != q.SubjectID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		matches = append(matches, e)
		if q.Limit > 0 && len(matches) >= q.Limit {
			break
		}
	}
	return matches
}

// Len reports the current number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
