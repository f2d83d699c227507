package presenters

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

const (
	ansiUp        = "\x1b[%dA"
	ansiClearLine = "\x1b[2K\r"
	defaultWidth  = 30
)

// Bars draws one progress bar per task and redraws them in place. Finished
// bars scroll above the active ones and stay on screen.
type Bars struct {
	out   io.Writer
	width int
	pid   int

	order []uuid.UUID
	bars  map[uuid.UUID]*taskBar
	drawn int

	okMark   *color.Color
	failMark *color.Color
	stopMark *color.Color
}

type taskBar struct {
	pb       *progressbar.ProgressBar
	render   *lastLine
	label    string
	max      int64
	finished bool
	failed   bool
	stopped  bool
}

// NewBars renders to out with bars width columns wide.
func NewBars(out io.Writer, width int) *Bars {
	if out == nil {
		out = os.Stderr
	}
	if width <= 0 {
		width = defaultWidth
	}
	return &Bars{
		out:      out,
		width:    width,
		pid:      os.Getpid(),
		bars:     make(map[uuid.UUID]*taskBar),
		okMark:   color.New(color.FgGreen),
		failMark: color.New(color.FgRed),
		stopMark: color.New(color.FgYellow),
	}
}

// Present updates the task's bar and redraws the block of active bars.
func (b *Bars) Present(ctx context.Context, evt progress.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("present bar: %w", err)
	}
	tb, ok := b.bars[evt.TaskID]
	if !ok {
		tb = b.newBar(evt)
		b.bars[evt.TaskID] = tb
		b.order = append(b.order, evt.TaskID)
	}
	if tb.finished {
		return nil
	}
	if evt.Total > 0 && evt.Total != tb.max {
		tb.pb.ChangeMax64(evt.Total)
		tb.max = evt.Total
	}
	done := evt.Done
	if tb.max > 0 && done > tb.max {
		done = tb.max
	}
	if err := tb.pb.Set64(done); err != nil {
		return fmt.Errorf("update bar %q: %w", tb.label, err)
	}
	if evt.Last {
		tb.finished = true
		tb.failed = evt.Note != ""
	}
	return b.redraw()
}

// Close prints any bars still on screen as final lines. Tasks that never sent
// their last update are marked stopped.
func (b *Bars) Close(context.Context) error {
	for _, id := range b.order {
		tb := b.bars[id]
		if !tb.finished {
			tb.finished = true
			tb.stopped = true
		}
	}
	err := b.redraw()
	b.order = nil
	b.bars = make(map[uuid.UUID]*taskBar)
	b.drawn = 0
	return err
}

func (b *Bars) newBar(evt progress.Event) *taskBar {
	label := evt.Name
	if evt.PID != 0 && evt.PID != b.pid {
		label = fmt.Sprintf("%s (pid %d)", evt.Name, evt.PID)
	}
	limit := evt.Total
	if limit <= 0 {
		limit = -1
	}
	render := &lastLine{}
	pb := progressbar.NewOptions64(
		limit,
		progressbar.OptionSetWriter(render),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetWidth(b.width),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(0),
	)
	return &taskBar{pb: pb, render: render, label: label, max: evt.Total}
}

// redraw moves the cursor to the top of the active block, prints newly
// finished bars so they scroll away, then repaints the active ones.
func (b *Bars) redraw() error {
	var sb strings.Builder
	if b.drawn > 0 {
		fmt.Fprintf(&sb, ansiUp, b.drawn)
	}
	active := b.order[:0]
	for _, id := range b.order {
		tb := b.bars[id]
		if !tb.finished {
			active = append(active, id)
			continue
		}
		var mark string
		switch {
		case tb.stopped:
			mark = b.stopMark.Sprint("stopped")
		case tb.failed:
			mark = b.failMark.Sprint("fail")
		default:
			mark = b.okMark.Sprint("done")
		}
		fmt.Fprintf(&sb, "%s%s %s\n", ansiClearLine, tb.line(), mark)
		delete(b.bars, id)
	}
	b.order = active
	for _, id := range b.order {
		fmt.Fprintf(&sb, "%s%s\n", ansiClearLine, b.bars[id].line())
	}
	b.drawn = len(b.order)
	if _, err := io.WriteString(b.out, sb.String()); err != nil {
		return fmt.Errorf("write bars: %w", err)
	}
	return nil
}

func (tb *taskBar) line() string {
	if tb.render.line == "" {
		return tb.label
	}
	return tb.render.line
}

// lastLine keeps the most recent frame progressbar rendered.
type lastLine struct {
	line string
}

func (l *lastLine) Write(p []byte) (int, error) {
	for _, seg := range strings.Split(string(p), "\r") {
		seg = strings.TrimRight(seg, "\n")
		if strings.TrimSpace(seg) != "" {
			l.line = strings.TrimRight(seg, " ")
		}
	}
	return len(p), nil
}
