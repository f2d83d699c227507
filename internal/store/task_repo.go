package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("task record not found")

// TaskStatus mirrors the task_runs status column.
type TaskStatus string

// Task statuses persisted in task_runs.status.
const (
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskRunning, TaskSuccess, TaskFailed:
		return true
	}
	return false
}

// TaskRun models the task_runs table for API responses.
type TaskRun struct {
	// TaskID is the producer-assigned task identifier.
	TaskID uuid.UUID `json:"task_id"`
	// Name is the label the producer reported.
	Name string `json:"name"`
	// PID is the process that ran the task.
	PID int `json:"pid"`
	// Done and Total are the latest reported counts.
	Done  int64 `json:"done"`
	Total int64 `json:"total"`
	// Status is running/success/failed.
	Status TaskStatus `json:"status"`
	// StartedAt captures the first event timestamp.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt captures the latest event timestamp.
	UpdatedAt time.Time `json:"updated_at"`
	// FinishedAt is nil until the task completes.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Note optionally stores the failure reason.
	Note *string `json:"note,omitempty"`
}

// TaskRepository persists per-task progress.
type TaskRepository interface {
	// UpsertTask inserts the task or moves its counts forward.
	UpsertTask(ctx context.Context, run TaskRun) error
	// CompleteTask marks the task finished with the provided status and note.
	CompleteTask(ctx context.Context, taskID uuid.UUID, finishedAt time.Time, status TaskStatus, note *string) error
	// GetTask loads a single task or returns ErrNotFound.
	GetTask(ctx context.Context, taskID uuid.UUID) (TaskRun, error)
	// ListTasks returns tasks filtered by optional status plus limit/offset,
	// most recently started first.
	ListTasks(ctx context.Context, status *TaskStatus, limit, offset int) ([]TaskRun, error)
}
