package progress

import (
	"os"
	"time"

	"github.com/google/uuid"

	idgen "github.com/JakeFAU/progressrelay/internal/id/uuid"
)

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// TaskConfig describes one reported task.
//   - ID: task identifier (a fresh UUIDv7 when zero).
//   - Name: label shown next to the bar.
//   - Total: expected units; zero means unknown.
//   - Clock: timestamp source (UTC wall clock when nil).
type TaskConfig struct {
	ID    uuid.UUID
	Name  string
	Total int64
	Clock Clock
}

// Task turns loop iterations into progress events for a single task. The
// first emitted event carries First and the completing one carries Last. A
// Task is owned by one loop and is not safe for concurrent use.
type Task struct {
	reporter Reporter
	cfg      TaskConfig
	pid      int
	done     int64
	started  bool
	finished bool
}

// NewTask binds a task description to a reporter. A nil reporter yields a
// Task whose updates are discarded.
func NewTask(reporter Reporter, cfg TaskConfig) *Task {
	if cfg.ID == uuid.Nil {
		id, err := idgen.New().NewRawID()
		if err != nil {
			id = uuid.New()
		}
		cfg.ID = id
	}
	if cfg.Clock == nil {
		cfg.Clock = utcClock{}
	}
	if cfg.Total < 0 {
		cfg.Total = 0
	}
	return &Task{reporter: reporter, cfg: cfg, pid: os.Getpid()}
}

// ID returns the task identifier.
func (t *Task) ID() uuid.UUID {
	return t.cfg.ID
}

// Done returns the units completed so far.
func (t *Task) Done() int64 {
	return t.done
}

// Start emits the initial zero-progress event if nothing was reported yet.
func (t *Task) Start() {
	if t.started || t.finished {
		return
	}
	t.emit("")
}

// Add advances the task by n units.
func (t *Task) Add(n int64) {
	t.Set(t.done + n)
}

// Set moves the task to done units. Reaching a known total completes the
// task; later updates are ignored.
func (t *Task) Set(done int64) {
	if t.finished {
		return
	}
	if done < 0 {
		done = 0
	}
	if t.cfg.Total > 0 && done >= t.cfg.Total {
		done = t.cfg.Total
		t.finished = true
	}
	t.done = done
	t.emit("")
}

// Finish completes the task at its current count. Tasks with an unknown total
// adopt the current count as their total.
func (t *Task) Finish() {
	t.finish("")
}

// Fail completes the task early and attaches note to the final event.
func (t *Task) Fail(note string) {
	t.finish(note)
}

func (t *Task) finish(note string) {
	if t.finished {
		return
	}
	if t.cfg.Total == 0 {
		t.cfg.Total = t.done
	}
	t.finished = true
	t.emit(note)
}

func (t *Task) emit(note string) {
	evt := Event{
		TaskID: t.cfg.ID,
		Name:   t.cfg.Name,
		Done:   t.done,
		Total:  t.cfg.Total,
		First:  !t.started,
		Last:   t.finished,
		PID:    t.pid,
		TS:     t.cfg.Clock.Now(),
		Note:   note,
	}
	t.started = true
	if t.reporter == nil {
		return
	}
	t.reporter.Report(evt)
}
