// Package system provides the wall clock used for event timestamps and loop pacing.
package system

import (
	"context"
	"fmt"
	"time"
)

// Clock implements progress.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Sleep pauses for d or until ctx ends, whichever comes first.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
