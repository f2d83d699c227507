package progress

import "context"

// Presenter renders progress events. Implementations are driven from a single
// pickup goroutine, must honor ctx deadlines and must not block indefinitely.
type Presenter interface {
	Present(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// PresenterFactory builds a fresh Presenter for each session.
type PresenterFactory func() (Presenter, error)

// Reporter publishes individual events; channel.Reporter satisfies this
// interface so loops can remain agnostic about where events are rendered.
type Reporter interface {
	Report(evt Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(evt Event)

// Report calls f(evt).
func (f ReporterFunc) Report(evt Event) {
	f(evt)
}
