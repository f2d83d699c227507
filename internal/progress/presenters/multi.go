package presenters

import (
	"context"

	"go.uber.org/multierr"

	"github.com/JakeFAU/progressrelay/internal/progress"
)

// Multi fans every call out to its members. A failing member does not stop
// the others; their errors are combined.
type Multi []progress.Presenter

// Present forwards evt to every member.
func (m Multi) Present(ctx context.Context, evt progress.Event) error {
	var err error
	for _, p := range m {
		if p == nil {
			continue
		}
		err = multierr.Append(err, p.Present(ctx, evt))
	}
	return err
}

// Close closes every member.
func (m Multi) Close(ctx context.Context) error {
	var err error
	for _, p := range m {
		if p == nil {
			continue
		}
		err = multierr.Append(err, p.Close(ctx))
	}
	return err
}
