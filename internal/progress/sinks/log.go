package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("channel_id", evt.ChannelID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("page", evt.Page),
			zap.Int("total_pages", evt.TotalPages),
			zap.Float64("percent", evt.Percent),
			zap.Int("kept", evt.Kept),
		}
		if evt.CatalogURL != "" {
			fields = append(fields, zap.String("catalog_url", evt.CatalogURL))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
