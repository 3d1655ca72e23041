// Package progress owns task progress state. The Registry is the single source
// of truth for every tracked task: workers create, update and complete tasks,
// readers receive immutable Snapshots, and subscribers receive a live sequence
// of snapshots until the task reaches a terminal status.
//
// Every lifecycle transition is also reported as an Event through an Emitter.
// The Hub batches those events on a background goroutine and fans them out to
// pluggable sinks such as structured logs, Prometheus collectors or an
// append-only event log.
package progress
