// Package progress carries the activity narrated by running operations. A
// Stream is the per-operation broadcast channel: it multicasts ordered events
// to every subscriber attached at emission time and never replays history. The
// Hub is the process-wide collector that batches forwarded events on a
// background goroutine and fans them out to pluggable sinks such as logs,
// Prometheus counters or the activity store.
package progress
