// Package store provides the SQLite-backed durable local queue of capture
// records.
//
// The queue is the only durable copy of a capture between application
// sessions, so every mutation runs in a single transaction: a crash mid-write
// leaves the previously committed records intact.
//
// # Ordering
//
// Records are numbered by an AUTOINCREMENT seq column at append time. ListAll
// always returns ORDER BY seq ASC, which is the order the user captured data.
//
// # Idempotency
//
//   - local_id is UNIQUE; a second Append with the same id fails with DUPLICATE
//   - Remove of an unknown id is a no-op
//   - remote_id is write-once (COALESCE on update)
//
// # Database Configuration
//
//   - WAL mode: readers (status display) never block the drain
//   - synchronous=FULL: a committed append survives power loss
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: attachments cascade with their record
//
// Failures of the medium are reported as syncerr STORAGE_UNAVAILABLE errors.
package store
