package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEvents is the default maximum number of events to store.
const DefaultMaxEvents = 10000

// MemoryAuditLogger is an in-memory implementation of AuditLogger.
// It stores events in a slice with newest events first, capped to prevent
// unbounded growth. Thread-safe.
type MemoryAuditLogger struct {
	mu        sync.RWMutex
	events    []*Event
	maxEvents int
}

// MemoryAuditLoggerOption configures a MemoryAuditLogger.
type MemoryAuditLoggerOption func(*MemoryAuditLogger)

// WithMaxEvents sets the maximum number of events to store.
func WithMaxEvents(max int) MemoryAuditLoggerOption {
	return func(m *MemoryAuditLogger) {
		if max > 0 {
			m.maxEvents = max
		}
	}
}

// NewMemoryAuditLogger creates a new in-memory audit logger.
func NewMemoryAuditLogger(opts ...MemoryAuditLoggerOption) *MemoryAuditLogger {
	m := &MemoryAuditLogger{
		events:    make([]*Event, 0),
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log records an access decision.
func (m *MemoryAuditLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Store a copy to prevent external modification.
	eventCopy := *event
	m.events = append([]*Event{&eventCopy}, m.events...)

	if len(m.events) > m.maxEvents {
		m.events = m.events[:m.maxEvents]
	}
	return nil
}

// List retrieves events with optional filtering, newest first.
func (m *MemoryAuditLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []*Event
	for _, e := range m.events {
		if !matchesFilters(e, opts) {
			continue
		}
		filtered = append(filtered, e)
	}
	total := len(filtered)

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page := filtered[start:end]

	copies := make([]*Event, len(page))
	for i, e := range page {
		c := *e
		copies[i] = &c
	}
	return copies, total, nil
}

// matchesFilters checks if an event matches the provided filter options.
func matchesFilters(e *Event, opts ListOptions) bool {
	if opts.Actor != "" && e.Actor != opts.Actor {
		return false
	}
	if opts.ProviderKey != "" && e.ProviderKey != opts.ProviderKey {
		return false
	}
	if opts.Decision != "" && e.Decision != opts.Decision {
		return false
	}
	if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && e.Timestamp.After(*opts.Until) {
		return false
	}
	return true
}
