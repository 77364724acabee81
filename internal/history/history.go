package history

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType defines the kind of session event.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventSegmentStarted  EventType = "segment_started"
	EventSegmentFinished EventType = "segment_finished"
	EventReconnect       EventType = "reconnect"
	EventSessionEnded    EventType = "session_ended"
	EventMergeCompleted  EventType = "merge_completed"
	EventMergeFailed     EventType = "merge_failed"
)

// Table is the default table (or index) name used by the sinks.
const Table = "session_history"

// Event is one recording lifecycle event exported to external systems.
type Event struct {
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	RoomID      string    `json:"room_id"`
	DisplayName string    `json:"display_name,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	SegmentPath string    `json:"segment_path,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emitter stamps and sends events without ever failing the caller;
// sink errors are logged.
type Emitter struct {
	Sink    Sink
	Log     *slog.Logger
	Timeout time.Duration
	Now     func() time.Time
}

// Emit fills OccurredAt when empty and delivers the event.
func (em *Emitter) Emit(ctx context.Context, e Event) {
	if em == nil || em.Sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		now := time.Now
		if em.Now != nil {
			now = em.Now
		}
		e.OccurredAt = now().UTC()
	}
	timeout := em.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := em.Sink.Send(ctx, e); err != nil && em.Log != nil {
		em.Log.Warn("history sink failed", "event", e.Type, "room", e.RoomID, "error", err)
	}
}
