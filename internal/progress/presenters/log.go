package presenters

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// Log emits one structured log entry per event. Intermediate updates log at
// debug, first and last updates at info.
type Log struct {
	logger *zap.Logger
}

// NewLog wires a Zap logger to the presenter interface.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Present logs evt.
func (l *Log) Present(_ context.Context, evt progress.Event) error {
	fields := []zap.Field{
		zap.String("task_id", evt.TaskID.String()),
		zap.String("task", evt.Name),
		zap.Int64("done", evt.Done),
		zap.Int64("total", evt.Total),
		zap.Int("pid", evt.PID),
		zap.Time("ts", evt.TS),
	}
	switch {
	case evt.Last && evt.Note != "":
		l.logger.Warn("task failed", append(fields, zap.String("note", evt.Note))...)
	case evt.Last:
		l.logger.Info("task finished", fields...)
	case evt.First:
		l.logger.Info("task started", fields...)
	default:
		l.logger.Debug("task progress", fields...)
	}
	return nil
}

// Close flushes buffered log entries.
func (l *Log) Close(context.Context) error {
	_ = l.logger.Sync()
	return nil
}
