package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

func TestQueueFIFOAndSentinel(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Put(sampleEvent(i)))
	}
	require.NoError(t, q.PutClose())
	require.ErrorIs(t, q.Put(sampleEvent(4)), ErrClosed)
	require.ErrorIs(t, q.PutClose(), ErrClosed)
	require.True(t, q.Closed())
	require.Equal(t, 4, q.Len())

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		item, err := q.Get(ctx)
		require.NoError(t, err)
		require.False(t, item.Close)
		require.Equal(t, i, item.Event.Done)
	}
	item, err := q.Get(ctx)
	require.NoError(t, err)
	require.True(t, item.Close)
	require.Equal(t, 0, q.Len())
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan Item, 1)
	go func() {
		item, err := q.Get(context.Background())
		if err == nil {
			result <- item
		}
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to park
	require.NoError(t, q.Put(sampleEvent(7)))
	select {
	case item := <-result:
		require.Equal(t, int64(7), item.Event.Done)
	case <-time.After(time.Second):
		t.Fatal("Get did not return queued item")
	}
}

func TestQueueGetHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Get(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}

// TestQueuePreservesPerProducerOrder pushes from several goroutines and checks
// each producer's events arrive in the order they were pushed.
func TestQueuePreservesPerProducerOrder(t *testing.T) {
	t.Parallel()

	const producers = 8
	const perProducer = 2000
	q := NewQueue()
	ids := make([]uuid.UUID, producers)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for n := int64(1); n <= perProducer; n++ {
				evt := sampleEvent(n)
				evt.TaskID = id
				evt.Total = perProducer
				_ = q.Put(evt)
			}
		}(ids[p])
	}
	wg.Wait()
	require.NoError(t, q.PutClose())

	last := make(map[uuid.UUID]int64)
	count := 0
	for {
		item, err := q.Get(context.Background())
		require.NoError(t, err)
		if item.Close {
			break
		}
		require.Equal(t, last[item.Event.TaskID]+1, item.Event.Done)
		last[item.Event.TaskID] = item.Event.Done
		count++
	}
	require.Equal(t, producers*perProducer, count)
}

func sampleEvent(done int64) progress.Event {
	return progress.Event{
		TaskID: uuid.New(),
		Name:   "sample",
		Done:   done,
		Total:  10,
		TS:     time.Now(),
	}
}
