package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event types emitted by the supply-chain engine.
const (
	LotStatusChanged = "lot.status_changed"
	LotStageAdvanced = "lot.stage_advanced"
	LotPlanSynced    = "lot.plan_synced"
	LotApproved      = "lot.approved"
	LotRejected      = "lot.rejected"
)

// Sink receives domain events. Emission is fire-and-forget from the engine's
// perspective; delivery guarantees are the sink's responsibility.
type Sink interface {
	Emit(ctx context.Context, eventType string, payload map[string]any)
}

// LogSink writes events to the structured log. It is the default sink until
// a real notification transport is wired in.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a Sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, eventType string, payload map[string]any) {
	s.logger.Info("domain event",
		zap.String("event_type", eventType),
		zap.Any("payload", payload))
}

// CaptureSink records emitted events for assertions in tests.
type CaptureSink struct {
	mu     sync.Mutex
	events []CapturedEvent
}

// CapturedEvent is one recorded emission.
type CapturedEvent struct {
	Type    string
	Payload map[string]any
}

// NewCaptureSink creates an empty CaptureSink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

func (s *CaptureSink) Emit(ctx context.Context, eventType string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, CapturedEvent{Type: eventType, Payload: payload})
}

// Events returns a copy of the recorded events.
func (s *CaptureSink) Events() []CapturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapturedEvent, len(s.events))
	copy(out, s.events)
	return out
}
