package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/store"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
	taskTimeout      = 3 * time.Second
)

// TaskHandler exposes read-only task progress endpoints.
type TaskHandler struct {
	repo    store.TaskRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewTaskHandler wires the repository and logger.
func NewTaskHandler(repo store.TaskRepository, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		repo:    repo,
		timeout: taskTimeout,
		logger:  logger,
	}
}

// ListTasks handles GET /api/tasks?status=&limit=&offset=. It returns
// {"tasks": [...]} on success, 400 for invalid filters, 503 when no store is
// configured, or 500 if the repository call fails.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultTaskLimit, maxTaskLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.TaskStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tasks, err := h.repo.ListTasks(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": toTaskDTOs(tasks),
	})
}

// GetTask handles GET /api/tasks/{task_id}. 404 when the repository reports
// store.ErrNotFound.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	task, err := h.repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", zap.Stringer("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": toTaskDTO(task)})
}

func parseTaskID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "task_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("task_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid task_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.TaskStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.TaskRunning, nil
	case "success", "done":
		return store.TaskSuccess, nil
	case "failed", "failure", "error":
		return store.TaskFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

type taskDTO struct {
	TaskID     string     `json:"task_id"`
	Name       string     `json:"name"`
	PID        int        `json:"pid"`
	Done       int64      `json:"done"`
	Total      int64      `json:"total"`
	Percent    *float64   `json:"percent,omitempty"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Note       *string    `json:"note,omitempty"`
}

func toTaskDTOs(in []store.TaskRun) []taskDTO {
	out := make([]taskDTO, 0, len(in))
	for _, task := range in {
		out = append(out, toTaskDTO(task))
	}
	return out
}

func toTaskDTO(task store.TaskRun) taskDTO {
	dto := taskDTO{
		TaskID:     task.TaskID.String(),
		Name:       task.Name,
		PID:        task.PID,
		Done:       task.Done,
		Total:      task.Total,
		Status:     string(task.Status),
		StartedAt:  task.StartedAt,
		UpdatedAt:  task.UpdatedAt,
		FinishedAt: task.FinishedAt,
		Note:       task.Note,
	}
	if task.Total > 0 {
		pct := float64(task.Done) / float64(task.Total) * 100
		dto.Percent = &pct
	}
	return dto
}
