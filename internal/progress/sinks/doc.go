// Package sinks implements concrete progress consumers: structured logging,
// Prometheus counters, the persistent activity store and an in-memory ring of
// recent events. Each sink satisfies progress.Sink.
package sinks
