package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/telefonbuch-scraper/internal/progress"
)

// LogSink writes one structured log line per event.
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

// Consume logs each event. Page events are frequent, so they go to debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Key != "" {
			fields = append(fields,
				zap.String("key", evt.Key),
				zap.Int("key_index", evt.KeyIndex),
				zap.Int("key_count", evt.KeyCount),
			)
		}
		switch evt.Stage {
		case progress.StagePageStored:
			fields = append(fields, zap.Int("offset", evt.Offset), zap.Int("total", evt.Total), zap.Int("records", evt.Records))
			s.logger.Debug("progress", fields...)
			continue
		case progress.StageKeyCommitted:
			fields = append(fields, zap.Int("total", evt.Total), zap.Int("records", evt.Records), zap.Duration("dur", evt.Dur))
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
