package presenters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/progress"
	"github.com/JakeFAU/progressrelay/internal/store"
)

// Store persists task progress via a store.TaskRepository. Intermediate
// updates are written at most once per interval per task.
type Store struct {
	repo     store.TaskRepository
	interval time.Duration
	logger   *zap.Logger
	written  map[uuid.UUID]time.Time
}

// NewStore constructs a Store presenter for the provided repository.
func NewStore(repo store.TaskRepository, interval time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:     repo,
		interval: interval,
		logger:   logger,
		written:  make(map[uuid.UUID]time.Time),
	}
}

// Present upserts the task row and completes it on the last update. It
// respects ctx deadlines and returns repository errors wrapped.
func (s *Store) Present(ctx context.Context, evt progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	prev, seen := s.written[evt.TaskID]
	if seen && !evt.Last && evt.TS.Sub(prev) < s.interval {
		return nil
	}
	run := store.TaskRun{
		TaskID:    evt.TaskID,
		Name:      evt.Name,
		PID:       evt.PID,
		Done:      evt.Done,
		Total:     evt.Total,
		Status:    store.TaskRunning,
		UpdatedAt: evt.TS,
	}
	if evt.First {
		run.StartedAt = evt.TS
	}
	if err := s.repo.UpsertTask(ctx, run); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	s.written[evt.TaskID] = evt.TS
	if !evt.Last {
		return nil
	}
	delete(s.written, evt.TaskID)

	status := store.TaskSuccess
	var note *string
	if evt.Note != "" {
		status = store.TaskFailed
		note = &evt.Note
	}
	if err := s.repo.CompleteTask(ctx, evt.TaskID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// Close drops throttling state for tasks that never finished.
func (s *Store) Close(context.Context) error {
	if n := len(s.written); n > 0 {
		s.logger.Debug("session ended with unfinished tasks", zap.Int("tasks", n))
	}
	s.written = make(map[uuid.UUID]time.Time)
	return nil
}
