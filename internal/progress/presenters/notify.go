package presenters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// Notice topics.
const (
	TopicTaskFinished = "progressrelay.task.finished"
	TopicTaskFailed   = "progressrelay.task.failed"
)

// Publisher sends a payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TaskNotice is published once per finished task.
type TaskNotice struct {
	TaskID     uuid.UUID `json:"task_id"`
	Name       string    `json:"name"`
	Done       int64     `json:"done"`
	Total      int64     `json:"total"`
	PID        int       `json:"pid"`
	Failed     bool      `json:"failed"`
	Note       string    `json:"note,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Notify publishes a TaskNotice for every last update.
type Notify struct {
	pub Publisher
}

// NewNotify publishes through pub.
func NewNotify(pub Publisher) *Notify {
	return &Notify{pub: pub}
}

// Present publishes evt when it completes a task.
func (n *Notify) Present(ctx context.Context, evt progress.Event) error {
	if n == nil || n.pub == nil || !evt.Last {
		return nil
	}
	notice := TaskNotice{
		TaskID:     evt.TaskID,
		Name:       evt.Name,
		Done:       evt.Done,
		Total:      evt.Total,
		PID:        evt.PID,
		Failed:     evt.Note != "",
		Note:       evt.Note,
		FinishedAt: evt.TS,
	}
	topic := TopicTaskFinished
	if notice.Failed {
		topic = TopicTaskFailed
	}
	if _, err := n.pub.Publish(ctx, topic, notice); err != nil {
		return fmt.Errorf("publish task notice: %w", err)
	}
	return nil
}

// Close is a no-op; the publisher outlives sessions.
func (n *Notify) Close(context.Context) error {
	return nil
}
