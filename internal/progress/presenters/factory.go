package presenters

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/progress"
	"github.com/JakeFAU/progressrelay/internal/store"
)

// Terminal presentation modes.
const (
	ModeAuto  = "auto"
	ModeBars  = "bars"
	ModeLines = "lines"
	ModeLog   = "log"
	ModeNone  = "none"
)

// FactoryConfig selects and tunes the presenters built for each session.
type FactoryConfig struct {
	Mode          string
	Width         int
	LineInterval  time.Duration
	StoreInterval time.Duration
}

// Deps carries the long-lived collaborators shared by every session. Nil
// members disable the matching presenter.
type Deps struct {
	Out       io.Writer
	Logger    *zap.Logger
	Metrics   *Prometheus
	Repo      store.TaskRepository
	Publisher Publisher
}

// NewFactory returns a factory building the terminal presenter for cfg.Mode
// plus whichever of metrics, storage and notices deps enables.
func NewFactory(cfg FactoryConfig, deps Deps) (progress.PresenterFactory, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}
	switch mode {
	case ModeAuto, ModeBars, ModeLines, ModeLog, ModeNone:
	default:
		return nil, fmt.Errorf("unknown presentation mode %q", mode)
	}
	out := deps.Out
	if out == nil {
		out = os.Stderr
	}
	if mode == ModeAuto {
		mode = ModeLines
		if IsTerminal(out) {
			mode = ModeBars
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func() (progress.Presenter, error) {
		var members Multi
		switch mode {
		case ModeBars:
			members = append(members, NewBars(colorableWriter(out), cfg.Width))
		case ModeLines:
			members = append(members, NewLines(out, cfg.LineInterval))
		case ModeLog:
			members = append(members, NewLog(logger.Named("progress")))
		}
		if deps.Metrics != nil {
			members = append(members, deps.Metrics)
		}
		if deps.Repo != nil {
			members = append(members, NewStore(deps.Repo, cfg.StoreInterval, logger))
		}
		if deps.Publisher != nil {
			members = append(members, NewNotify(deps.Publisher))
		}
		if len(members) == 1 {
			return members[0], nil
		}
		return members, nil
	}, nil
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func colorableWriter(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok {
		return colorable.NewColorable(f)
	}
	return w
}
