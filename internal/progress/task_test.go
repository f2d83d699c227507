package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recorder struct {
	events []Event
}

func (r *recorder) Report(evt Event) {
	r.events = append(r.events, evt)
}

// TestTaskMarksFirstAndLast verifies the flags on a task with a known total.
func TestTaskMarksFirstAndLast(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	id := uuid.New()
	task := NewTask(rec, TaskConfig{ID: id, Name: "loop", Total: 3, Clock: fixedClock{now: time.Unix(10, 0)}})

	task.Start()
	for i := 0; i < 3; i++ {
		task.Add(1)
	}
	task.Add(1)
	task.Finish()

	require.Len(t, rec.events, 4)
	require.True(t, rec.events[0].First)
	require.Equal(t, int64(0), rec.events[0].Done)
	for _, evt := range rec.events[1:] {
		require.False(t, evt.First)
		require.Equal(t, id, evt.TaskID)
		require.NoError(t, evt.Validate())
	}
	last := rec.events[3]
	require.True(t, last.Last)
	require.Equal(t, int64(3), last.Done)
	require.False(t, rec.events[2].Last)
}

// TestTaskUnknownTotalAdoptsCount ensures Finish fixes the total for open-ended loops.
func TestTaskUnknownTotalAdoptsCount(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	task := NewTask(rec, TaskConfig{Name: "stream"})
	task.Add(5)
	task.Add(2)
	task.Finish()

	require.Len(t, rec.events, 3)
	require.True(t, rec.events[0].First)
	last := rec.events[2]
	require.True(t, last.Last)
	require.Equal(t, int64(7), last.Total)
	require.Equal(t, int64(7), last.Done)
	require.NotEqual(t, uuid.Nil, task.ID())
}

// TestTaskFailAttachesNote checks early completion carries the failure note.
func TestTaskFailAttachesNote(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	task := NewTask(rec, TaskConfig{Name: "flaky", Total: 10})
	task.Add(4)
	task.Fail("boom")
	task.Add(1)

	require.Len(t, rec.events, 2)
	require.True(t, rec.events[1].Last)
	require.Equal(t, "boom", rec.events[1].Note)
	require.Equal(t, int64(4), task.Done())
}

// TestTaskNilReporter confirms updates without a reporter are discarded.
func TestTaskNilReporter(t *testing.T) {
	t.Parallel()

	task := NewTask(nil, TaskConfig{Total: 2})
	require.NotPanics(t, func() {
		task.Add(1)
		task.Finish()
	})
}
