// Package sinks implements concrete lifecycle consumers: structured logging,
// Prometheus collectors, the durable event log and outbound notifications.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
