// Package sinks contains Sink implementations for the lifecycle event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/servicegraph/internal/events"
)

// LogSink emits structured logs for lifecycle event streams. It is the
// default consumer during development and in deployments without a metrics
// backend.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("lifecycle event",
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("service", evt.Service),
			zap.String("phase", evt.Phase),
			zap.Bool("healthy", evt.Healthy),
			zap.Int("attempts", evt.Attempts),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
