// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/progressrelay/internal/store"
)

// TaskStore keeps task runs in a map.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]store.TaskRun
}

var _ store.TaskRepository = (*TaskStore)(nil)

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]store.TaskRun)}
}

// UpsertTask inserts a task or updates its counts while it is running.
func (s *TaskStore) UpsertTask(_ context.Context, run store.TaskRun) error {
	if run.TaskID == uuid.Nil {
		return fmt.Errorf("task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[run.TaskID]
	if !ok {
		if run.Status == "" {
			run.Status = store.TaskRunning
		}
		if run.StartedAt.IsZero() {
			run.StartedAt = run.UpdatedAt
		}
		s.tasks[run.TaskID] = cloneRun(run)
		return nil
	}
	if existing.Status != store.TaskRunning {
		return nil
	}
	existing.Name = run.Name
	existing.PID = run.PID
	existing.Done = run.Done
	existing.Total = run.Total
	existing.UpdatedAt = run.UpdatedAt
	s.tasks[run.TaskID] = existing
	return nil
}

// CompleteTask marks the task finished.
func (s *TaskStore) CompleteTask(
	_ context.Context,
	taskID uuid.UUID,
	finishedAt time.Time,
	status store.TaskStatus,
	note *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = finishedAt
	run.FinishedAt = pointerTime(finishedAt)
	run.Note = nil
	if note != nil {
		n := *note
		run.Note = &n
	}
	s.tasks[taskID] = run
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID uuid.UUID) (store.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.tasks[taskID]
	if !ok {
		return store.TaskRun{}, store.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListTasks returns tasks ordered by start time, newest first.
func (s *TaskStore) ListTasks(
	_ context.Context,
	status *store.TaskStatus,
	limit,
	offset int,
) ([]store.TaskRun, error) {
	s.mu.RLock()
	out := make([]store.TaskRun, 0, len(s.tasks))
	for _, run := range s.tasks {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].TaskID.String() < out[j].TaskID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.TaskRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run store.TaskRun) store.TaskRun {
	if run.FinishedAt != nil {
		run.FinishedAt = pointerTime(*run.FinishedAt)
	}
	if run.Note != nil {
		n := *run.Note
		run.Note = &n
	}
	return run
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
