package presenters

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// Lines prints one line per update for output that is not a terminal. Each
// task prints at most once per interval, except for its first and last updates.
type Lines struct {
	out      io.Writer
	interval time.Duration
	last     map[uuid.UUID]time.Time
	name     *color.Color
	failed   *color.Color
}

// NewLines writes to out, throttling each task to one line per interval.
func NewLines(out io.Writer, interval time.Duration) *Lines {
	if out == nil {
		out = os.Stderr
	}
	return &Lines{
		out:      out,
		interval: interval,
		last:     make(map[uuid.UUID]time.Time),
		name:     color.New(color.Bold),
		failed:   color.New(color.FgRed),
	}
}

// Present prints evt unless the task printed within the interval.
func (l *Lines) Present(_ context.Context, evt progress.Event) error {
	prev, seen := l.last[evt.TaskID]
	if seen && !evt.First && !evt.Last && evt.TS.Sub(prev) < l.interval {
		return nil
	}
	l.last[evt.TaskID] = evt.TS
	if evt.Last {
		delete(l.last, evt.TaskID)
	}

	line := fmt.Sprintf("%s %s", l.name.Sprint(evt.Name), counts(evt))
	if evt.PID != 0 {
		line += fmt.Sprintf(" pid=%d", evt.PID)
	}
	if evt.Last && evt.Note != "" {
		line += " " + l.failed.Sprint(evt.Note)
	}
	if _, err := fmt.Fprintln(l.out, line); err != nil {
		return fmt.Errorf("write progress line: %w", err)
	}
	return nil
}

// Close forgets per-task throttling state.
func (l *Lines) Close(context.Context) error {
	l.last = make(map[uuid.UUID]time.Time)
	return nil
}

func counts(evt progress.Event) string {
	if evt.Total <= 0 {
		return fmt.Sprintf("%d/?", evt.Done)
	}
	return fmt.Sprintf("%d/%d (%3.0f%%)", evt.Done, evt.Total, evt.Fraction()*100)
}
