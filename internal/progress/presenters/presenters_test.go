package presenters

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

var baseTS = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func evt(id uuid.UUID, name string, done, total int64, offset time.Duration) progress.Event {
	return progress.Event{
		TaskID: id,
		Name:   name,
		Done:   done,
		Total:  total,
		First:  done == 0,
		Last:   total > 0 && done == total,
		PID:    1,
		TS:     baseTS.Add(offset),
	}
}
