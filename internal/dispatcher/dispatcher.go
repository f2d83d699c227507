// Package dispatcher fans producer loops out over goroutines and worker
// processes that all report into one progress session.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/progressrelay/internal/channel"
	"github.com/JakeFAU/progressrelay/internal/worker"
)

// ExitTaskFailed is the exit status of a worker process whose task failed.
const ExitTaskFailed = 3

// Environment variables describing the loop a worker process runs.
const (
	EnvWorkerName     = "PROGRESSRELAY_WORKER_NAME"
	EnvWorkerSteps    = "PROGRESSRELAY_WORKER_STEPS"
	EnvWorkerInterval = "PROGRESSRELAY_WORKER_INTERVAL"
	EnvWorkerFailRate = "PROGRESSRELAY_WORKER_FAIL_RATE"
)

// Config controls the fan-out.
type Config struct {
	// Loops is the number of in-process goroutine loops.
	Loops int
	// Workers is the number of worker processes.
	Workers int
	// Loop is the template every loop runs; Name is replaced per loop.
	Loop worker.Config
	// Executable and Args start a worker process. Executable defaults to
	// the running binary.
	Executable string
	Args       []string
	// Env is appended to every worker process environment.
	Env []string
	// Stderr receives worker process diagnostics. Discarded when nil.
	Stderr io.Writer
}

// Result summarizes a run.
type Result struct {
	Succeeded int
	Failed    int
}

// Dispatcher runs loops against a reporter.
type Dispatcher struct {
	cfg    Config
	clock  worker.Clock
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, clock worker.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{cfg: cfg, clock: clock, logger: logger}
}

// Run starts every loop and blocks until all of them finish. Task failures
// are counted in the Result; process or context errors are returned.
func (d *Dispatcher) Run(ctx context.Context, reporter *channel.Reporter) (Result, error) {
	var env string
	if d.cfg.Workers > 0 {
		var err error
		env, err = reporter.Handle().Environ()
		if err != nil {
			return Result{}, fmt.Errorf("worker processes need a relay: %w", err)
		}
	}
	var succeeded, failed atomic.Int64
	record := func(err error) error {
		if err == nil {
			succeeded.Add(1)
			return nil
		}
		if isTaskFailure(err) {
			failed.Add(1)
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= d.cfg.Loops; i++ {
		loop := d.cfg.Loop
		loop.Name = fmt.Sprintf("loop-%d", i)
		g.Go(func() error {
			err := worker.New(d.clock, loop, d.logger.Named("loop")).Run(gctx, reporter)
			return record(err)
		})
	}
	for i := 1; i <= d.cfg.Workers; i++ {
		loop := d.cfg.Loop
		loop.Name = fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			return record(d.spawn(gctx, loop, env))
		})
	}
	err := g.Wait()
	res := Result{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	d.logger.Info("loops finished",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Error(err),
	)
	if err != nil {
		return res, fmt.Errorf("run loops: %w", err)
	}
	return res, nil
}

func (d *Dispatcher) spawn(ctx context.Context, loop worker.Config, handleEnv string) error {
	exe := d.cfg.Executable
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}
	cmd := exec.CommandContext(ctx, exe, d.cfg.Args...)
	cmd.Env = append(os.Environ(), handleEnv)
	cmd.Env = append(cmd.Env, d.cfg.Env...)
	cmd.Env = append(cmd.Env, Environ(loop)...)
	cmd.Stderr = d.cfg.Stderr
	d.logger.Debug("starting worker process", zap.String("name", loop.Name), zap.String("executable", exe))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitTaskFailed {
			return fmt.Errorf("worker %q: %w", loop.Name, worker.ErrSimulatedFailure)
		}
		return fmt.Errorf("worker process %q: %w", loop.Name, err)
	}
	return nil
}

func isTaskFailure(err error) bool {
	return errors.Is(err, worker.ErrSimulatedFailure)
}

// Environ returns the variables describing loop for a worker process.
func Environ(loop worker.Config) []string {
	return []string{
		EnvWorkerName + "=" + loop.Name,
		EnvWorkerSteps + "=" + strconv.Itoa(loop.Steps),
		EnvWorkerInterval + "=" + loop.Interval.String(),
		EnvWorkerFailRate + "=" + strconv.FormatFloat(loop.FailRate, 'g', -1, 64),
	}
}

// LoopFromEnv rebuilds the loop a worker process was started for. Unset
// variables keep the fallback's values.
func LoopFromEnv(getenv func(string) string, fallback worker.Config) (worker.Config, error) {
	loop := fallback
	if v := getenv(EnvWorkerName); v != "" {
		loop.Name = v
	}
	if v := getenv(EnvWorkerSteps); v != "" {
		steps, err := strconv.Atoi(v)
		if err != nil {
			return worker.Config{}, fmt.Errorf("parse %s: %w", EnvWorkerSteps, err)
		}
		loop.Steps = steps
	}
	if v := getenv(EnvWorkerInterval); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return worker.Config{}, fmt.Errorf("parse %s: %w", EnvWorkerInterval, err)
		}
		loop.Interval = interval
	}
	if v := getenv(EnvWorkerFailRate); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return worker.Config{}, fmt.Errorf("parse %s: %w", EnvWorkerFailRate, err)
		}
		loop.FailRate = rate
	}
	return loop, nil
}
