// Package reconcile merges the live stream and backfill results into
// one ordered, deduplicated event stream per symbol.
//
// The Reconciler is the single authority for the canonical stream: no
// other component emits to the writer for a given symbol. Events
// arriving out of order wait in a bounded holding buffer until their
// predecessors arrive; when the wait or the span bound is exceeded the
// reconciler emits what it has and records the still-missing range as
// a gap, accepting a controlled, logged loss over unbounded memory.
package reconcile
