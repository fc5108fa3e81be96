// Package reconcile merges the realtime push stream with periodic catch-up
// polls into one ordered, duplicate-free message sequence.
//
// # Why both paths exist
//
// Push is fast but lossy: a session's buffer can overflow, a connection can
// drop mid-broadcast. The store poll is slow but authoritative. A consumer
// that rendered only pushes would show gaps forever; one that only polled
// would lag every message by the poll interval. The reconciler runs both
// and guarantees each message id surfaces exactly once.
//
// # Resync semantics
//
// When a poll's newest id differs from the reconciler's cursor, the visible
// sequence is replaced wholesale with the poll batch (in store order) and
// the seen-set is reset to exactly that batch. Pushed messages never delay
// or block on a poll: the poll runs in its own goroutine with a per-call
// deadline, and a store failure only logs and retries on the next tick.
package reconcile
