package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// ErrClosed is returned when pushing onto a queue that has received its close sentinel.
var ErrClosed = errors.New("event channel closed")

// compactThreshold bounds how many consumed slots accumulate before the
// backing slice is shifted down.
const compactThreshold = 1024

// Item is one queue entry: either an event or the close sentinel.
type Item struct {
	Event progress.Event
	Close bool
}

// Queue is an unbounded multi-producer/single-consumer FIFO. Put never blocks;
// Get blocks until an item arrives or ctx ends.
type Queue struct {
	mu     sync.Mutex
	items  []Item
	head   int
	closed bool
	ready  chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Put appends an event. It returns ErrClosed once the sentinel was pushed.
func (q *Queue) Put(evt progress.Event) error {
	return q.push(Item{Event: evt})
}

// PutClose appends the close sentinel. Later pushes fail with ErrClosed; items
// already queued are still delivered ahead of the sentinel.
func (q *Queue) PutClose() error {
	return q.push(Item{Close: true})
}

func (q *Queue) push(item Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	if item.Close {
		q.closed = true
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Get pops the next item, respecting context cancellation. Only one goroutine
// may call Get at a time.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	for {
		if item, ok := q.pop(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return Item{}, fmt.Errorf("get canceled: %w", ctx.Err())
		case <-q.ready:
		}
	}
}

func (q *Queue) pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return Item{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = Item{}
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Closed reports whether the sentinel has been pushed.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
