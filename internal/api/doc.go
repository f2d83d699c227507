// Package api hosts the status server for a running progress session.
// Routes:
//   - GET /healthz and /readyz for probes (readyz pings the task store).
//   - GET /metrics for Prometheus scraping.
//   - GET /api/session for the coordinator's current session.
//   - GET /api/tasks and /api/tasks/{task_id} for persisted task runs via the
//     TaskRepository interface.
package api
