// Package cmd defines the progressrelay command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/app"
	"github.com/JakeFAU/progressrelay/internal/config"
	"github.com/JakeFAU/progressrelay/internal/dispatcher"
	"github.com/JakeFAU/progressrelay/internal/worker"
)

const (
	roleAnnotation = "progressrelay/role"
	roleWorker     = "worker"
)

// cli carries state shared by the commands of one invocation.
type cli struct {
	cfgFile string
	// opts seeds app.Options; tests swap the metrics registry here.
	opts app.Options
	app  *app.App
}

// newRootCmd creates and configures the root command.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progressrelay",
		Short: "Consolidated progress display for concurrent loops and worker processes.",
		Long: `progressrelay collects progress events from goroutines and worker
processes into one reporting session and renders them as terminal bars,
plain lines, or structured logs. Finished tasks can be persisted to Postgres
and announced on Pub/Sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.build(cmd)
		},

		// Flush and close on the normal exit path. Execute repeats the close
		// when a command fails, since cobra skips this hook then.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return c.close(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newDemoCmd(c))
	cmd.AddCommand(newWorkerCmd(c))
	return cmd
}

func (c *cli) build(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts := c.opts
	if opts.Out == nil {
		opts.Out = cmd.ErrOrStderr()
	}
	opts.Worker = cmd.Annotations[roleAnnotation] == roleWorker
	a, err := app.Build(cmd.Context(), cfg, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	c.app = a
	if err := a.Start(); err != nil {
		return fmt.Errorf("start status server: %w", err)
	}
	return nil
}

func (c *cli) close(ctx context.Context) error {
	if c.app == nil {
		return nil
	}
	if err := c.app.Close(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (c *cli) resolveApp() (*app.App, error) {
	if c.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return c.app, nil
}

// run executes args and always flushes the session before returning.
func run(ctx context.Context, c *cli, args []string) error {
	root := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := c.close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command; the progress session is flushed before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	c := &cli{}
	err := run(ctx, c, os.Args[1:])
	stop()
	if err == nil {
		return
	}
	if errors.Is(err, worker.ErrSimulatedFailure) {
		os.Exit(dispatcher.ExitTaskFailed)
	}
	if c.app != nil {
		c.app.Fatal("command execution failed", zap.Error(err))
	}
	fmt.Fprintf(os.Stderr, "progressrelay: %v\n", err)
	os.Exit(1)
}
