package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

type collector struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collector) Report(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func TestWorkerRunReportsEveryStep(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	sink := &collector{}
	w := New(clock, Config{Name: "copy", Steps: 4, Interval: time.Second}, zap.NewNop())

	require.NoError(t, w.Run(context.Background(), sink))

	require.Len(t, sink.events, 5)
	require.True(t, sink.events[0].First)
	require.Equal(t, int64(0), sink.events[0].Done)
	last := sink.events[4]
	require.True(t, last.Last)
	require.Equal(t, int64(4), last.Done)
	require.Equal(t, int64(4), last.Total)
	require.Empty(t, last.Note)
	require.Equal(t, 4, clock.sleeps)
	require.Equal(t, clock.now, last.TS)
}

func TestWorkerRunSimulatedFailure(t *testing.T) {
	t.Parallel()

	sink := &collector{}
	w := New(&fakeClock{}, Config{Name: "flaky", Steps: 10, FailRate: 0.5}, nil)
	rolls := []float64{0.9, 0.9, 0.1}
	w.roll = func() float64 {
		r := rolls[0]
		rolls = rolls[1:]
		return r
	}

	err := w.Run(context.Background(), sink)
	require.ErrorIs(t, err, ErrSimulatedFailure)

	last := sink.events[len(sink.events)-1]
	require.True(t, last.Last)
	require.Equal(t, int64(2), last.Done)
	require.Equal(t, "failed at step 3", last.Note)
}

func TestWorkerRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &collector{}
	w := New(&fakeClock{}, Config{Name: "stopped", Steps: 3}, nil)

	err := w.Run(ctx, sink)
	require.True(t, errors.Is(err, context.Canceled))
	require.Len(t, sink.events, 2)
	require.Equal(t, "canceled", sink.events[1].Note)
}

func TestWorkerRunRejectsZeroSteps(t *testing.T) {
	t.Parallel()

	w := New(&fakeClock{}, Config{Name: "empty"}, nil)
	require.Error(t, w.Run(context.Background(), &collector{}))
}
