// Package sql provides a bun-based relational implementation of
// store.RequestStore and queue.Queue, adapted from the teacher
// (github.com/romanqed/gqs)'s sql package: the same atomic
// UPDATE ... RETURNING lease pattern, re-keyed to the request state
// machine (WAITING/UPLOADING/QUEUED/PROCESSING/PROCESSED/FAILED)
// instead of the teacher's generic job-retry states.
//
// # Schema
//
// InitDB creates two tables:
//
//   - requests: one row per request.Request, indexed by
//     (status, last_modified) and (collection, user_id, status) for
//     broker admission accounting.
//   - queue_messages: one row per currently-enqueued request id, with
//     visibility-timeout columns (locked_until, next_run_at) mirroring
//     the teacher's jobs table, indexed by (in_flight, next_run_at) and
//     (in_flight, locked_until).
//
// Both tables live in the same database so Dequeue and crash-recovery
// status checks stay consistent without a distributed transaction, but
// they are independent bun models: nothing stops a future deployment
// from pointing Queue at a message broker while keeping RequestStore on
// SQL, per spec.md's pluggable-backend design.
//
// # Concurrency Model
//
// Dequeue uses the same single atomic UPDATE statement with a subquery
// the teacher's Puller.Pull uses, to avoid races between selecting
// eligible rows and claiming them. SQLite users should enable WAL mode
// and a busy_timeout, exactly as the teacher's tests do.
package sql
