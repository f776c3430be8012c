// Package engine drains the offline capture queue against the remote
// collaborators and routes new captures to either the remote or the queue.
//
// ARCHITECTURE:
//
// Submission Router:
// Router.Submit freezes a capture session and consults the connectivity
// monitor. Reachable captures go straight to Engine.SubmitOne; a failure on
// that path appends the record to the queue instead of dropping it.
// Unreachable captures are appended directly.
//
// Drain Pass:
//  1. List the queue in FIFO order
//  2. For each record: mark syncing, upload attachments that have no URL,
//     create the remote entity, mark synced, remove
//  3. Persist the pass summary and push it to observers (the Reporter)
//
// A failure on one record is recorded on that record and the pass moves on
// to the next one. Records flagged as needing correction are skipped until
// Engine.Correct requeues them. Only a failure to list the queue aborts a
// pass.
//
// CRITICAL PATTERNS:
//
// Single Drain:
// The only state held across calls to the queue or the remote is an
// atomic "drain in progress" flag. A second Drain while one is running
// returns ErrDrainInProgress without touching anything.
//
// Remote ID Guard:
// Once the entity-creation call returns, the remote id is persisted before
// the record is removed. A record that already carries a remote id is
// removed without calling create again, so a crash between create and
// removal never duplicates the remote entity.
//
// Cancellation:
// Context cancellation is checked between records. Work on the record in
// flight runs to completion so no attachment is left uploaded without its
// URL being persisted.
package engine
