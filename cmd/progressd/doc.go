// Package main hosts the progressd entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, Prometheus metrics and the /v1 task routes. Workers
//     create a task, report counts (or raw progress bar lines) and complete it; clients follow a task over
//     server-sent events at /v1/tasks/{task_id}/stream.
//   - Registry: internal/progress.Registry owns all task state behind one lock and hands out immutable snapshots.
//     Subscriptions are level-triggered: each one re-reads the snapshot when the task changes or the poll interval
//     elapses, so a slow client only ever skips intermediate counts.
//   - Lifecycle fanout: every create, update, completion and slow warning is sent to a non-blocking Hub which batches
//     events for its sinks (zap log, Prometheus, the durable event log, terminal-outcome notifications and the
//     in-process metrics collector). A full buffer drops events instead of stalling task updates.
//   - Persistence: the event log lives in memory, Postgres (migrated with goose on startup) or Redis. Metrics exports
//     are written to memory, a local directory, GCS or MinIO. Notifications go to Pub/Sub or NATS JetStream.
//   - Housekeeping: a cron scheduler purges event log entries past the retention window and, when export.schedule is
//     set, writes periodic metrics exports.
//
// Quick checklist:
//   - Configure with a YAML file (-config or PROGRESSD_CONFIG) and PROGRESSD_* env overrides, for example
//     PROGRESSD_SERVER_PORT, PROGRESSD_EVENT_LOG_BACKEND=postgres and PROGRESSD_DATABASE_DSN.
//   - Run locally: go run ./cmd/progressd -config config.yaml
//   - The process drains HTTP connections and flushes the Hub on SIGINT/SIGTERM.
package main
