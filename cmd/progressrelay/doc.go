// Package main hosts the progressrelay entrypoint.
//
// Architecture overview:
//   - Session: internal/session.Coordinator lazily starts one reporting session per process. The session owns an
//     event queue, a pickup goroutine that forwards events to the presentation, and (optionally) a relay listener
//     that worker processes dial.
//   - Producers: goroutines report through the session's local reporter; worker processes receive the relay handle
//     in PROGRESSRELAY_REPORTER, register it, and sync every event back before exiting.
//   - Presentation: terminal bars (TTY) or plain lines, plus optional Prometheus task metrics, Postgres task
//     records, and Pub/Sub completion notices.
//   - Shutdown: the session is flushed after every command, on SIGINT/SIGTERM, and before fatal exits, so every
//     queued event is presented before the process ends.
//
// Quick checklist:
//   - Run locally: go run ./cmd/progressrelay demo --loops 3 --workers 2
//   - Configure via file (--config) or PROGRESSRELAY_* env vars, e.g. PROGRESSRELAY_PRESENTATION_MODE=lines,
//     PROGRESSRELAY_DB_DSN, PROGRESSRELAY_PUBSUB_PROJECT_ID, PROGRESSRELAY_SERVER_ENABLED=true.
package main
