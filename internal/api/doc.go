// Package api hosts the HTTP server, middleware, and REST handlers for task
// progress. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks and /v1/tasks/{task_id}/... for workers reporting progress.
//   - GET /v1/tasks/{task_id} and /v1/tasks/{task_id}/stream for clients
//     polling or following a task over server-sent events.
//   - GET /v1/metrics/summary and /v1/metrics/export for aggregate reporting.
package api
