package events

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives audit events. Implementations must not call back into the
// core from Emit. Engines emit after their state commits and never propagate
// the returned error into the operation result, so a durable sink is
// responsible for logging its own write failures.
type Sink interface {
	Emit(event Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) error { return nil }

// MemorySink buffers events in memory, primarily for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of the buffered events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByName returns buffered events matching the given name.
func (s *MemorySink) ByName(name string) []Event {
	var out []Event
	for _, event := range s.Events() {
		if event.Name() == name {
			out = append(out, event)
		}
	}
	return out
}

// ZapSink logs each event through a structured logger.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(event Event) error {
	s.logger.Info("audit event", zap.String("event", event.Name()), zap.Any("fields", event))
	return nil
}

// MultiSink fans an event out to several sinks. Every sink receives the
// event even when an earlier one fails; the first failure is returned once
// the fan-out completes.
type MultiSink []Sink

func (m MultiSink) Emit(event Event) error {
	var firstErr error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
