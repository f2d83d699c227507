// Package worker implements the simulated progress loop run by the demo, both
// in-process and inside worker subprocesses.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// ErrSimulatedFailure is returned when a loop fails on purpose.
var ErrSimulatedFailure = errors.New("simulated task failure")

// Clock paces loop iterations and stamps events.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls one loop.
//   - Name: task label.
//   - Steps: iterations, each reported as one unit.
//   - Interval: pause before each step.
//   - FailRate: per-step probability of failing the task.
type Config struct {
	Name     string
	Steps    int
	Interval time.Duration
	FailRate float64
}

// Worker runs a single simulated task against a reporter.
type Worker struct {
	clock  Clock
	cfg    Config
	roll   func() float64
	logger *zap.Logger
}

// New constructs a Worker.
func New(clock Clock, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{clock: clock, cfg: cfg, roll: rand.Float64, logger: logger}
}

// Run reports cfg.Steps units of progress. Cancellation and simulated
// failures end the task with a note on its final event.
func (w *Worker) Run(ctx context.Context, reporter progress.Reporter) error {
	if w.cfg.Steps <= 0 {
		return fmt.Errorf("worker %q: steps must be > 0", w.cfg.Name)
	}
	task := progress.NewTask(reporter, progress.TaskConfig{
		Name:  w.cfg.Name,
		Total: int64(w.cfg.Steps),
		Clock: w.clock,
	})
	task.Start()
	w.logger.Debug("task started", zap.String("task", w.cfg.Name), zap.Int("steps", w.cfg.Steps))

	for step := 1; step <= w.cfg.Steps; step++ {
		if err := w.clock.Sleep(ctx, w.cfg.Interval); err != nil {
			task.Fail("canceled")
			return fmt.Errorf("worker %q: %w", w.cfg.Name, err)
		}
		if w.cfg.FailRate > 0 && w.roll() < w.cfg.FailRate {
			task.Fail(fmt.Sprintf("failed at step %d", step))
			w.logger.Debug("task failed", zap.String("task", w.cfg.Name), zap.Int("step", step))
			return fmt.Errorf("worker %q step %d: %w", w.cfg.Name, step, ErrSimulatedFailure)
		}
		task.Add(1)
	}
	return nil
}
