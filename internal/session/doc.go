// Package session coordinates the lifetime of a progress reporting session.
//
// A Coordinator lazily creates at most one session: an event queue, an
// optional relay for worker processes, a presenter and the pickup goroutine
// that connects them. Callers obtain the session's reporter through
// FindReporter or a Scope from Fetch. The scope that created the session owns
// it and tears it down on Release unless Detach was called in between. Flush
// tears the session down unconditionally and is meant for process exit.
//
// Worker processes never start a session of their own. They call
// RegisterReporter with the handle inherited from the main process, so every
// Report travels back over the relay.
package session
