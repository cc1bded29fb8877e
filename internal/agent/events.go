package agent

import (
	"log/slog"
	"sync"

	"github.com/aegis-dev/aegis/pkg/models"
)

// EventSink receives runtime events. Emission never blocks the turn:
// sinks must return quickly or buffer internally.
type EventSink interface {
	Emit(event *models.RuntimeEvent)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(event *models.RuntimeEvent)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(event *models.RuntimeEvent) { f(event) }

// ChannelSink buffers events on a channel. When the buffer is full the
// event is dropped rather than stalling dispatch.
type ChannelSink struct {
	ch     chan *models.RuntimeEvent
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int, logger *slog.Logger) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelSink{
		ch:     make(chan *models.RuntimeEvent, buffer),
		logger: logger.With("component", "event-sink"),
	}
}

// Events exposes the receive side.
func (s *ChannelSink) Events() <-chan *models.RuntimeEvent { return s.ch }

// Emit implements EventSink.
func (s *ChannelSink) Emit(event *models.RuntimeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.logger.Warn("event dropped, sink buffer full", "type", string(event.Type))
	}
}

// Close stops the sink; later Emit calls are no-ops.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// multiSink fans one event out to several sinks.
type multiSink []EventSink

// Emit implements EventSink.
func (m multiSink) Emit(event *models.RuntimeEvent) {
	for _, sink := range m {
		sink.Emit(event)
	}
}

// CombineSinks merges sinks into one, ignoring nils.
func CombineSinks(sinks ...EventSink) EventSink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
