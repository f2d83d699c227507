package presenters

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressrelay/internal/publisher/memory"
)

func TestNotifyPublishesOnCompletion(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	n := NewNotify(pub)
	ctx := context.Background()
	ok, bad := uuid.New(), uuid.New()

	require.NoError(t, n.Present(ctx, evt(ok, "ok", 0, 2, 0)))
	require.NoError(t, n.Present(ctx, evt(ok, "ok", 2, 2, 0)))
	failed := evt(bad, "bad", 1, 2, 0)
	failed.Last = true
	failed.Note = "boom"
	require.NoError(t, n.Present(ctx, failed))

	finished := pub.OnTopic(TopicTaskFinished)
	require.Len(t, finished, 1)
	notice, isNotice := finished[0].Payload.(TaskNotice)
	require.True(t, isNotice)
	require.Equal(t, ok, notice.TaskID)
	require.False(t, notice.Failed)

	failures := pub.OnTopic(TopicTaskFailed)
	require.Len(t, failures, 1)
	require.Equal(t, "boom", failures[0].Payload.(TaskNotice).Note)
}
