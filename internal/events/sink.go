package events

import (
	"context"
	"fmt"

	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/go-kit/kit/metrics"
)

type logSink struct {
	log logger.Logger
}

// NewLogSink writes every event to the process logger.
func NewLogSink() Sink {
	return &logSink{log: logger.GetLogger().Named("events")}
}

func (s *logSink) Emit(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	s.log.Infow("Event",
		"id", event.ID,
		"type", event.Type,
		"ts", event.TS,
		"message", event.Payload.Message,
		"data", event.Payload.Data,
	)

	return nil
}

type multiSink []Sink

// Multi emits to every sink in order and stops at the first failure.
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multiSink(sinks)
}

func (m multiSink) Emit(ctx context.Context, event Event) error {
	for i, sink := range m {
		if err := sink.Emit(ctx, event); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

type countingSink struct {
	Sink
	counter metrics.Counter
}

// Counted increments counter once per successfully emitted event.
func Counted(sink Sink, counter metrics.Counter) Sink {
	return &countingSink{Sink: sink, counter: counter}
}

func (s *countingSink) Emit(ctx context.Context, event Event) error {
	if err := s.Sink.Emit(ctx, event); err != nil {
		return err
	}

	s.counter.With("type", event.Type).Add(1)
	return nil
}
