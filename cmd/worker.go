package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/JakeFAU/progressrelay/internal/channel"
	"github.com/JakeFAU/progressrelay/internal/clock/system"
	"github.com/JakeFAU/progressrelay/internal/dispatcher"
	"github.com/JakeFAU/progressrelay/internal/worker"
)

// newWorkerCmd creates the hidden 'worker' subcommand that demo starts in
// each worker process.
func newWorkerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         roleWorker,
		Short:       "Run one simulated loop for a demo session",
		Hidden:      true,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{roleAnnotation: roleWorker},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, c)
		},
	}
}

// runWorker registers the inherited reporter handle, runs the loop and syncs
// every event to the parent before returning. Without a handle the loop
// reports into a local session of its own.
func runWorker(cmd *cobra.Command, c *cli) error {
	a, err := c.resolveApp()
	if err != nil {
		return err
	}
	coord := a.Coordinator()
	handle, ok, err := channel.HandleFromEnv()
	if err != nil {
		return fmt.Errorf("read reporter handle: %w", err)
	}
	if ok {
		if err := coord.RegisterReporter(handle); err != nil {
			return err
		}
	}

	demo := a.Config().Demo
	loop, err := dispatcher.LoopFromEnv(os.Getenv, worker.Config{
		Name:     fmt.Sprintf("worker-%d", os.Getpid()),
		Steps:    demo.Steps,
		Interval: demo.Interval,
		FailRate: demo.FailRate,
	})
	if err != nil {
		return err
	}
	rep, err := coord.FindReporter()
	if err != nil {
		return fmt.Errorf("find reporter: %w", err)
	}
	runErr := worker.New(system.New(), loop, a.Logger().Named("worker")).Run(cmd.Context(), rep)
	return multierr.Append(runErr, a.Flush())
}
