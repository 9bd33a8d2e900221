// Package queue implements the per-session durable operation queue.
//
// Entries are appended to an in-memory tail by Put and persisted by Flush in
// a single forced-sync Pebble batch. The consumer reads with GetBatch, which
// peeks without removing, and removes entries only once they have been
// acknowledged with Ack. Entries persisted by an earlier run and not yet
// acknowledged are served from disk, oldest first, before anything put in
// this run.
//
// Keyspace (byte-wise sortable):
//
//	q/m             highest flushed version (be8)
//	q/e/{ver_be8}   record(header=ver_be8|flags, payload)
//
// Flush also range-deletes acknowledged entries, so the on-disk log only
// holds what may still need replay while q/m keeps the tail stable.
package queue
