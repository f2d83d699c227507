package progress

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event captures a single progress update for one task.
type Event struct {
	// TaskID uniquely identifies the task (one bar on the display).
	TaskID uuid.UUID `json:"task_id"`
	// Name is the human label shown next to the bar.
	Name string `json:"name"`
	// Done is the number of completed units.
	Done int64 `json:"done"`
	// Total is the expected number of units; zero means unknown.
	Total int64 `json:"total"`
	// First marks the first event reported for the task.
	First bool `json:"first,omitempty"`
	// Last marks the final event reported for the task.
	Last bool `json:"last,omitempty"`
	// PID is the process that emitted the event.
	PID int `json:"pid"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == uuid.Nil {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Done < 0 {
		return errors.New("done must be >= 0")
	}
	if e.Total < 0 {
		return errors.New("total must be >= 0")
	}
	if e.Total > 0 && e.Done > e.Total {
		return errors.New("done must not exceed total")
	}
	return nil
}

// Fraction reports completion in [0,1]. Unknown totals report 0 until the
// task is marked last.
func (e Event) Fraction() float64 {
	if e.Total <= 0 {
		if e.Last {
			return 1
		}
		return 0
	}
	return float64(e.Done) / float64(e.Total)
}
