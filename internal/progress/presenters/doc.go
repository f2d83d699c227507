// Package presenters implements concrete progress presentations: terminal
// bars, plain line output, structured logs, Prometheus collectors, task
// persistence and completion notices. NewFactory assembles them into the
// progress.PresenterFactory a session coordinator calls at session start.
package presenters
