// Package notify fans transaction lifecycle events out to the parties
// involved. Delivery is strictly best-effort: the engine never blocks on
// or fails because of notification problems.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventPaymentSecured       EventType = "payment.secured"
	EventPaymentFailed        EventType = "payment.failed"
	EventItemShipped          EventType = "item.shipped"
	EventItemDelivered        EventType = "item.delivered"
	EventDisputeOpened        EventType = "dispute.opened"
	EventDisputeMessage       EventType = "dispute.message"
	EventDisputeEscalated     EventType = "dispute.escalated"
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionCancelled EventType = "transaction.cancelled"
	EventAdminReversed        EventType = "admin.reversed"
)

// Event is one notification delivered to a user.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Dispatcher delivers events to a user. Implementations must be safe for
// concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, e *Event) error
}

// LogDispatcher writes events to the log. The default sink when no
// delivery channel is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, userID string, e *Event) error {
	d.logger.Info("event",
		"event_id", e.ID,
		"type", string(e.Type),
		"user_id", userID,
		"data", e.Data)
	return nil
}

// maxRetained bounds the per-user event buffer in the memory dispatcher.
const maxRetained = 100

// MemoryDispatcher retains recent events per user for polling. Used in
// demo mode to back the events endpoint, and in tests.
type MemoryDispatcher struct {
	mu     sync.RWMutex
	events map[string][]*Event
}

// NewMemoryDispatcher creates an in-memory dispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{events: make(map[string][]*Event)}
}

func (d *MemoryDispatcher) Dispatch(ctx context.Context, userID string, e *Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := append(d.events[userID], e)
	if len(buf) > maxRetained {
		buf = buf[len(buf)-maxRetained:]
	}
	d.events[userID] = buf
	return nil
}

// Recent returns a user's retained events, newest last.
func (d *MemoryDispatcher) Recent(userID string, limit int) []*Event {
	d.mu.RLock()
	defer d.mu.RUnlock()

	buf := d.events[userID]
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]*Event, len(buf))
	copy(out, buf)
	return out
}
