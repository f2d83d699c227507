package dispatcher

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/channel"
	"github.com/JakeFAU/progressrelay/internal/clock/system"
	"github.com/JakeFAU/progressrelay/internal/progress"
	"github.com/JakeFAU/progressrelay/internal/session"
	"github.com/JakeFAU/progressrelay/internal/worker"
)

const helperEnv = "PROGRESSRELAY_TEST_HELPER_PROCESS"

// TestHelperProcess is not a real test. It is the worker process started by
// the subprocess tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	os.Exit(runHelper())
}

func runHelper() int {
	handle, ok, err := channel.HandleFromEnv()
	if err != nil || !ok {
		return 2
	}
	coord := session.New(session.Options{})
	if err := coord.RegisterReporter(handle); err != nil {
		return 2
	}
	loop, err := LoopFromEnv(os.Getenv, worker.Config{})
	if err != nil {
		return 2
	}
	reporter, err := coord.FindReporter()
	if err != nil {
		return 2
	}
	runErr := worker.New(system.New(), loop, nil).Run(context.Background(), reporter)
	if err := coord.Flush(); err != nil {
		return 1
	}
	if errors.Is(runErr, worker.ErrSimulatedFailure) {
		return ExitTaskFailed
	}
	if runErr != nil {
		return 1
	}
	return 0
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Present(_ context.Context, evt progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) Close(context.Context) error { return nil }

func (r *recorder) byTask() map[string][]progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]progress.Event)
	for _, evt := range r.events {
		out[evt.Name] = append(out[evt.Name], evt)
	}
	return out
}

func hostCoordinator(rec *recorder, relay bool) *session.Coordinator {
	return session.New(session.Options{
		Factory: func() (progress.Presenter, error) { return rec, nil },
		Relay:   session.RelayOptions{Enabled: relay},
		Logger:  zap.NewNop(),
	})
}

func TestDispatcherRunsInProcessLoops(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	coord := hostCoordinator(rec, false)
	reporter, err := coord.FindReporter()
	require.NoError(t, err)

	d := New(Config{Loops: 3, Loop: worker.Config{Steps: 5}}, system.New(), zap.NewNop())
	res, err := d.Run(context.Background(), reporter)
	require.NoError(t, err)
	require.Equal(t, Result{Succeeded: 3}, res)
	require.NoError(t, coord.Flush())

	tasks := rec.byTask()
	require.Len(t, tasks, 3)
	for _, name := range []string{"loop-1", "loop-2", "loop-3"} {
		events := tasks[name]
		require.Len(t, events, 6, name)
		require.True(t, events[0].First)
		require.True(t, events[5].Last)
		require.Equal(t, int64(5), events[5].Done)
	}
}

func TestDispatcherCountsTaskFailures(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	coord := hostCoordinator(rec, false)
	reporter, err := coord.FindReporter()
	require.NoError(t, err)

	d := New(Config{Loops: 2, Loop: worker.Config{Steps: 3, FailRate: 1}}, system.New(), nil)
	res, err := d.Run(context.Background(), reporter)
	require.NoError(t, err)
	require.Equal(t, Result{Failed: 2}, res)
	require.NoError(t, coord.Flush())

	for name, events := range rec.byTask() {
		last := events[len(events)-1]
		require.True(t, last.Last, name)
		require.Equal(t, "failed at step 1", last.Note, name)
	}
}

func TestDispatcherWorkersNeedRelay(t *testing.T) {
	t.Parallel()

	coord := hostCoordinator(&recorder{}, false)
	reporter, err := coord.FindReporter()
	require.NoError(t, err)
	defer func() { require.NoError(t, coord.Flush()) }()

	_, err = New(Config{Workers: 1, Loop: worker.Config{Steps: 1}}, system.New(), nil).Run(context.Background(), reporter)
	require.ErrorIs(t, err, channel.ErrNoRelay)
}

func TestDispatcherWorkerProcesses(t *testing.T) {
	t.Setenv(helperEnv, "1")

	rec := &recorder{}
	coord := hostCoordinator(rec, true)
	reporter, err := coord.FindReporter()
	require.NoError(t, err)

	d := New(Config{
		Loops:      1,
		Workers:    2,
		Loop:       worker.Config{Steps: 5, Interval: time.Millisecond},
		Executable: os.Args[0],
		Args:       []string{"-test.run=^TestHelperProcess$"},
	}, system.New(), zap.NewNop())
	res, err := d.Run(context.Background(), reporter)
	require.NoError(t, err)
	require.Equal(t, Result{Succeeded: 3}, res)
	require.NoError(t, coord.Flush())

	tasks := rec.byTask()
	require.Len(t, tasks, 3)
	for _, name := range []string{"worker-1", "worker-2"} {
		events := tasks[name]
		require.Len(t, events, 6, name)
		require.NotEqual(t, os.Getpid(), events[0].PID, name)
		for i, evt := range events {
			require.Equal(t, int64(i), evt.Done, name)
		}
	}
}

func TestDispatcherWorkerProcessFailure(t *testing.T) {
	t.Setenv(helperEnv, "1")

	rec := &recorder{}
	coord := hostCoordinator(rec, true)
	reporter, err := coord.FindReporter()
	require.NoError(t, err)

	d := New(Config{
		Workers:    1,
		Loop:       worker.Config{Steps: 2, FailRate: 1},
		Executable: os.Args[0],
		Args:       []string{"-test.run=^TestHelperProcess$"},
	}, system.New(), nil)
	res, err := d.Run(context.Background(), reporter)
	require.NoError(t, err)
	require.Equal(t, Result{Failed: 1}, res)
	require.NoError(t, coord.Flush())

	events := rec.byTask()["worker-1"]
	require.NotEmpty(t, events)
	require.Equal(t, "failed at step 1", events[len(events)-1].Note)
}

func TestLoopFromEnv(t *testing.T) {
	t.Parallel()

	loop := worker.Config{Name: "worker-7", Steps: 12, Interval: 250 * time.Millisecond, FailRate: 0.25}
	env := map[string]string{}
	for _, kv := range Environ(loop) {
		for i := range kv {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	got, err := LoopFromEnv(func(k string) string { return env[k] }, worker.Config{})
	require.NoError(t, err)
	require.Equal(t, loop, got)

	fallback := worker.Config{Name: "x", Steps: 3}
	got, err = LoopFromEnv(func(string) string { return "" }, fallback)
	require.NoError(t, err)
	require.Equal(t, fallback, got)

	_, err = LoopFromEnv(func(k string) string {
		if k == EnvWorkerSteps {
			return "many"
		}
		return ""
	}, fallback)
	require.Error(t, err)
}

func TestHandleReachesWorkerEnvironment(t *testing.T) {
	t.Parallel()

	h := channel.Handle{Network: "unix", Address: "/tmp/relay.sock", Session: uuid.New()}
	kv, err := h.Environ()
	require.NoError(t, err)
	parsed, err := channel.ParseHandle(kv[len(channel.EnvHandle)+1:])
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}
