// Package telemetry defines the observability boundary. Every coordination
// operation reports a structured event here; transport beyond the process is
// someone else's job.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event describes one completed coordination operation.
type Event struct {
	Operation        string        `json:"operation"`
	Duration         time.Duration `json:"duration"`
	Success          bool          `json:"success"`
	ErrorKind        string        `json:"error_kind,omitempty"`
	Epoch            int64         `json:"coordination_epoch,omitempty"`
	ParticipantCount int           `json:"participant_count,omitempty"`
	CorrelationID    string        `json:"correlation_id"`
}

// Emitter receives operation events. Implementations must be safe for
// concurrent use and must never block the calling operation.
type Emitter interface {
	Emit(ctx context.Context, ev Event)
}

// NewCorrelationID returns a fresh correlation identifier for tying an
// operation's events together across components.
func NewCorrelationID() string {
	return uuid.NewString()
}

// SlogEmitter writes events as structured log lines.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter over the given logger.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	return &SlogEmitter{logger: logger}
}

// Emit logs the event. Failures log at warn, successes at debug, so steady
// state stays quiet.
func (e *SlogEmitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.logger == nil {
		return
	}
	attrs := []any{
		"operation", ev.Operation,
		"duration_ms", ev.Duration.Milliseconds(),
		"success", ev.Success,
		"correlation_id", ev.CorrelationID,
	}
	if ev.ErrorKind != "" {
		attrs = append(attrs, "error_kind", ev.ErrorKind)
	}
	if ev.Epoch != 0 {
		attrs = append(attrs, "coordination_epoch", ev.Epoch)
	}
	if ev.ParticipantCount != 0 {
		attrs = append(attrs, "participant_count", ev.ParticipantCount)
	}
	if ev.Success {
		e.logger.DebugContext(ctx, "operation completed", attrs...)
	} else {
		e.logger.WarnContext(ctx, "operation failed", attrs...)
	}
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit does nothing.
func (NopEmitter) Emit(context.Context, Event) {}

// Timer measures one operation and reports it on Done.
type Timer struct {
	emitter   Emitter
	operation string
	started   time.Time
	event     Event
}

// Start begins timing an operation.
func Start(emitter Emitter, operation string) *Timer {
	return &Timer{
		emitter:   emitter,
		operation: operation,
		started:   time.Now(),
		event:     Event{CorrelationID: NewCorrelationID()},
	}
}

// WithEpoch attaches the coordination epoch to the eventual event.
func (t *Timer) WithEpoch(epoch int64) *Timer {
	t.event.Epoch = epoch
	return t
}

// WithParticipants attaches the participant count to the eventual event.
func (t *Timer) WithParticipants(n int) *Timer {
	t.event.ParticipantCount = n
	return t
}

// Done emits the event for the finished operation. errKind is empty on
// success.
func (t *Timer) Done(ctx context.Context, err error, errKind string) {
	if t == nil || t.emitter == nil {
		return
	}
	ev := t.event
	ev.Operation = t.operation
	ev.Duration = time.Since(t.started)
	ev.Success = err == nil
	if err != nil {
		ev.ErrorKind = errKind
	}
	t.emitter.Emit(ctx, ev)
}
