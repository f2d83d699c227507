package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/channel"
	"github.com/JakeFAU/progressrelay/internal/clock/system"
	"github.com/JakeFAU/progressrelay/internal/config"
	"github.com/JakeFAU/progressrelay/internal/dispatcher"
	"github.com/JakeFAU/progressrelay/internal/worker"
)

type demoFlags struct {
	loops    int
	workers  int
	steps    int
	interval time.Duration
	failRate float64
	hold     bool
}

// newDemoCmd creates the 'demo' subcommand, which runs simulated loops in
// goroutines and worker processes against one session.
func newDemoCmd(c *cli) *cobra.Command {
	var flags demoFlags
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run simulated loops that report into one progress display",
		Long: `Starts demo.loops goroutine loops and demo.workers worker processes.
Every loop reports to the same session; worker processes reach it through the
relay address handed down in their environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, c, flags)
		},
	}
	f := cmd.Flags()
	f.IntVar(&flags.loops, "loops", 0, "in-process loops (overrides demo.loops)")
	f.IntVar(&flags.workers, "workers", 0, "worker processes (overrides demo.workers)")
	f.IntVar(&flags.steps, "steps", 0, "steps per loop (overrides demo.steps)")
	f.DurationVar(&flags.interval, "interval", 0, "pause between steps (overrides demo.interval)")
	f.Float64Var(&flags.failRate, "fail-rate", 0, "per-step failure probability (overrides demo.fail_rate)")
	f.BoolVar(&flags.hold, "hold", false, "keep the session open until the command exits")
	return cmd
}

func runDemo(cmd *cobra.Command, c *cli, flags demoFlags) error {
	a, err := c.resolveApp()
	if err != nil {
		return err
	}
	demo := a.Config().Demo
	f := cmd.Flags()
	if f.Changed("loops") {
		demo.Loops = flags.loops
	}
	if f.Changed("workers") {
		demo.Workers = flags.workers
	}
	if f.Changed("steps") {
		demo.Steps = flags.steps
	}
	if f.Changed("interval") {
		demo.Interval = flags.interval
	}
	if f.Changed("fail-rate") {
		demo.FailRate = flags.failRate
	}
	if demo.Steps <= 0 {
		return errors.New("steps must be > 0")
	}

	logger := a.Logger()
	d := dispatcher.New(dispatcher.Config{
		Loops:   demo.Loops,
		Workers: demo.Workers,
		Loop: worker.Config{
			Steps:    demo.Steps,
			Interval: demo.Interval,
			FailRate: demo.FailRate,
		},
		Args:   []string{roleWorker},
		Env:    []string{config.EnvPrefix + "_LOGGING_LEVEL=warn"},
		Stderr: cmd.ErrOrStderr(),
	}, system.New(), logger.Named("dispatcher"))

	coord := a.Coordinator()
	return coord.WithReporter(func(rep *channel.Reporter) error {
		if flags.hold {
			coord.Detach()
		}
		res, err := d.Run(cmd.Context(), rep)
		if err != nil {
			return err
		}
		logger.Info("demo finished", zap.Int("succeeded", res.Succeeded), zap.Int("failed", res.Failed))
		if res.Failed > 0 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tasks failed\n", res.Failed, res.Succeeded+res.Failed)
		}
		return nil
	})
}
