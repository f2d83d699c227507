// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/progressrelay/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TaskStoreConfig controls the Postgres connection pool used for task rows.
type TaskStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// TaskStore implements store.TaskRepository on Postgres.
type TaskStore struct {
	pool  pool
	table string
}

var _ store.TaskRepository = (*TaskStore)(nil)

// NewTaskStore connects a pool using cfg.
func NewTaskStore(ctx context.Context, cfg TaskStoreConfig) (*TaskStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TaskStore{pool: p, table: table}, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(p pool, table string) (*TaskStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &TaskStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "task_runs"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the task table when it does not exist.
func (s *TaskStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	task_id     UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	pid         INTEGER NOT NULL,
	done        BIGINT NOT NULL,
	total       BIGINT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	note        TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// UpsertTask inserts the task or updates its counts while it is running.
func (s *TaskStore) UpsertTask(ctx context.Context, run store.TaskRun) error {
	if run.TaskID == uuid.Nil {
		return fmt.Errorf("task id is required")
	}
	status := run.Status
	if status == "" {
		status = store.TaskRunning
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (task_id, name, pid, done, total, status, started_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (task_id) DO UPDATE
SET name = EXCLUDED.name,
	pid = EXCLUDED.pid,
	done = EXCLUDED.done,
	total = EXCLUDED.total,
	updated_at = EXCLUDED.updated_at
WHERE %[1]s.status = 'running'`, s.table)
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = run.UpdatedAt
	}
	if _, err := s.pool.Exec(ctx, query,
		run.TaskID,
		run.Name,
		run.PID,
		run.Done,
		run.Total,
		string(status),
		startedAt,
		run.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// CompleteTask marks a task finished with a status and optional note.
func (s *TaskStore) CompleteTask(
	ctx context.Context,
	taskID uuid.UUID,
	finishedAt time.Time,
	status store.TaskStatus,
	note *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, updated_at = $1, status = $2, note = $3
WHERE task_id = $4`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), note, taskID)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetTask retrieves a single task by its ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (store.TaskRun, error) {
	query := fmt.Sprintf(`
SELECT task_id, name, pid, done, total, status, started_at, updated_at, finished_at, note
FROM %s
WHERE task_id = $1`, s.table)
	run, err := scanTask(s.pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TaskRun{}, store.ErrNotFound
		}
		return store.TaskRun{}, fmt.Errorf("get task: %w", err)
	}
	return run, nil
}

// ListTasks retrieves tasks with optional status filtering.
func (s *TaskStore) ListTasks(
	ctx context.Context,
	status *store.TaskStatus,
	limit,
	offset int,
) ([]store.TaskRun, error) {
	query := fmt.Sprintf(`
SELECT task_id, name, pid, done, total, status, started_at, updated_at, finished_at, note
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, s.table)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.pool.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var runs []store.TaskRun
	for rows.Next() {
		run, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return runs, nil
}

func scanTask(row pgx.Row) (store.TaskRun, error) {
	var (
		run    store.TaskRun
		status string
	)
	if err := row.Scan(
		&run.TaskID,
		&run.Name,
		&run.PID,
		&run.Done,
		&run.Total,
		&status,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&run.Note,
	); err != nil {
		return store.TaskRun{}, err
	}
	run.Status = store.TaskStatus(status)
	return run, nil
}
