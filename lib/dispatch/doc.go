// Package dispatch implements an ordered concurrent task dispatcher.
//
// Tasks are submitted under a numeric key. Tasks that share a key are executed
// strictly one at a time and in submission order; tasks with different keys run
// on separate workers and may overlap. Each key owns an unbounded lock-free
// queue (see util.LockFreeMPSC) drained by a single worker goroutine, so Submit
// never blocks on task execution.
//
// dLink uses the dispatcher to deliver inbound server events to listeners:
// the key is the event's command code, so successive updates of one kind are
// applied in order while unrelated kinds are not stalled behind a slow listener.
//
// Failure semantics: an error returned by a task, or a panic raised inside it,
// is logged and counted; the key's queue continues with its next task.
//
// Per-dispatcher counters (submitted, completed, failed, panicked) and a task
// duration histogram are kept in a private go-metrics registry and exposed via
// Stats.
package dispatch
