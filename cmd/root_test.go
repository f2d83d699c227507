package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/app"
	"github.com/JakeFAU/progressrelay/internal/dispatcher"
	"github.com/JakeFAU/progressrelay/internal/worker"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testCLI(out *lockedBuffer) *cli {
	return &cli{opts: app.Options{
		Out:        out,
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
	}}
}

func TestDemoRunsLoopsAndFlushes(t *testing.T) {
	t.Setenv("PROGRESSRELAY_PRESENTATION_MODE", "lines")

	out := &lockedBuffer{}
	c := testCLI(out)
	err := run(context.Background(), c, []string{
		"demo", "--loops", "2", "--workers", "0", "--steps", "3", "--interval", "1ms",
	})
	require.NoError(t, err)
	require.False(t, c.app.Coordinator().Active())
	require.Contains(t, out.String(), "loop-1")
	require.Contains(t, out.String(), "loop-2")
	require.Contains(t, out.String(), "3/3")
}

func TestDemoHoldKeepsSessionUntilExit(t *testing.T) {
	t.Setenv("PROGRESSRELAY_PRESENTATION_MODE", "lines")

	out := &lockedBuffer{}
	c := testCLI(out)
	root := newRootCmd(c)
	root.SetArgs([]string{"demo", "--loops", "1", "--workers", "0", "--steps", "2", "--interval", "0s", "--hold"})

	var activeAfterRun bool
	root.PersistentPostRunE = func(*cobra.Command, []string) error {
		activeAfterRun = c.app.Coordinator().Active()
		return c.close(context.Background())
	}
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.True(t, activeAfterRun)
	require.False(t, c.app.Coordinator().Active())
	require.Contains(t, out.String(), "loop-1")
}

func TestWorkerCommandStandalone(t *testing.T) {
	t.Setenv("PROGRESSRELAY_PRESENTATION_MODE", "lines")
	t.Setenv(dispatcher.EnvWorkerName, "solo")
	t.Setenv(dispatcher.EnvWorkerSteps, "2")
	t.Setenv(dispatcher.EnvWorkerInterval, "0s")

	out := &lockedBuffer{}
	c := testCLI(out)
	require.NoError(t, run(context.Background(), c, []string{"worker"}))
	require.Contains(t, out.String(), "solo")
}

func TestWorkerCommandReportsTaskFailure(t *testing.T) {
	t.Setenv("PROGRESSRELAY_PRESENTATION_MODE", "lines")
	t.Setenv(dispatcher.EnvWorkerName, "doomed")
	t.Setenv(dispatcher.EnvWorkerSteps, "4")
	t.Setenv(dispatcher.EnvWorkerInterval, "0s")
	t.Setenv(dispatcher.EnvWorkerFailRate, "1")

	out := &lockedBuffer{}
	err := run(context.Background(), testCLI(out), []string{"worker"})
	require.ErrorIs(t, err, worker.ErrSimulatedFailure)
	require.Contains(t, out.String(), "failed at step 1")
}

func TestMissingConfigFileFails(t *testing.T) {
	c := testCLI(&lockedBuffer{})
	err := run(context.Background(), c, []string{
		"demo", "--config", filepath.Join(t.TempDir(), "absent.yaml"),
	})
	require.ErrorContains(t, err, "load config")
	require.Nil(t, c.app)
}
