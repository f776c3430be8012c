package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// Patch is a partial update of a queued record. Nil or zero fields are left
// unchanged.
type Patch struct {
	State *capture.SyncState

	// LastError replaces the stored error text; pointer to "" clears it.
	LastError *string

	// RemoteID is write-once. Writing the same id again is a no-op; writing a
	// different id over an existing one fails with REMOTE_ID_CONFLICT.
	RemoteID string

	// AttachmentURLs maps local attachment ids to their uploaded URLs.
	AttachmentURLs map[string]string

	IncrementAttempts bool
	NeedsCorrection   *bool

	// Payload, if non-nil, replaces the stored payload document.
	Payload map[string]any
}

// Append adds rec at the tail of the queue. The record and its attachments
// are written in one transaction.
//
// Returns a DUPLICATE error if a record with the same LocalID is queued, and
// STORAGE_UNAVAILABLE if the medium fails; in both cases nothing is written.
//
// Uniqueness covers queued records only. Remove forgets the LocalID, so a
// removed record's id may be appended again and goes to the tail as a new
// record. Session ids are UUIDv7, so reuse does not happen in practice.
func (s *Store) Append(ctx context.Context, rec capture.Record) error {
	const op = "store.append"

	if rec.LocalID == "" {
		return syncerr.New(syncerr.CodeStorageUnavailable, op, "record has no local id")
	}

	payloadJSON, err := marshalPayload(rec.Payload)
	if err != nil {
		return syncerr.Storage(op, err)
	}

	state := rec.SyncState
	if state == "" {
		state = capture.StateQueued
	}

	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO records
			(local_id, collection, title, payload, created_at, sync_state, last_error, remote_id, attempts, needs_correction)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO NOTHING
		`,
			rec.LocalID,
			rec.Collection,
			rec.Title,
			payloadJSON,
			encodeTime(rec.CreatedAt),
			string(state),
			nullString(rec.LastError),
			nullString(rec.RemoteID),
			rec.Attempts,
			boolToInt(rec.NeedsCorrection),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rows == 0 {
			return syncerr.Newf(syncerr.CodeDuplicate, op, "record %s already queued", rec.LocalID)
		}

		for pos, a := range rec.Attachments {
			data := a.Data
			if data == nil {
				data = []byte{}
			}
			digest := a.Digest
			if digest == "" {
				digest = capture.Digest(data)
			}
			contentType := a.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO attachments
				(record_local_id, position, attachment_id, content_type, data, digest, uploaded_url)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				rec.LocalID,
				pos,
				a.ID,
				contentType,
				data,
				digest,
				nullString(a.URL),
			)
			if err != nil {
				return fmt.Errorf("insert attachment %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

// Update applies p to the record identified by localID atomically.
// Returns NOT_FOUND if the record (or a referenced attachment) does not exist.
func (s *Store) Update(ctx context.Context, localID string, p Patch) error {
	const op = "store.update"

	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		var existing sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT remote_id FROM records WHERE local_id = ?`, localID).Scan(&existing)
		if err == sql.ErrNoRows {
			return syncerr.Newf(syncerr.CodeNotFound, op, "record %s", localID)
		}
		if err != nil {
			return fmt.Errorf("select record: %w", err)
		}

		if p.RemoteID != "" && existing.Valid && existing.String != "" && existing.String != p.RemoteID {
			return syncerr.Newf(syncerr.CodeRemoteIDConflict, op,
				"record %s already has remote id %s, refusing %s", localID, existing.String, p.RemoteID)
		}

		var sets []string
		var args []any
		if p.State != nil {
			sets = append(sets, "sync_state = ?")
			args = append(args, string(*p.State))
		}
		if p.LastError != nil {
			sets = append(sets, "last_error = ?")
			args = append(args, nullString(*p.LastError))
		}
		if p.RemoteID != "" {
			sets = append(sets, "remote_id = COALESCE(remote_id, ?)")
			args = append(args, p.RemoteID)
		}
		if p.IncrementAttempts {
			sets = append(sets, "attempts = attempts + 1")
		}
		if p.NeedsCorrection != nil {
			sets = append(sets, "needs_correction = ?")
			args = append(args, boolToInt(*p.NeedsCorrection))
		}
		if p.Payload != nil {
			payloadJSON, err := marshalPayload(p.Payload)
			if err != nil {
				return err
			}
			sets = append(sets, "payload = ?")
			args = append(args, payloadJSON)
		}

		if len(sets) > 0 {
			args = append(args, localID)
			query := "UPDATE records SET " + strings.Join(sets, ", ") + " WHERE local_id = ?"
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("update record: %w", err)
			}
		}

		// Deterministic write order keeps failures reproducible
		ids := make([]string, 0, len(p.AttachmentURLs))
		for id := range p.AttachmentURLs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			result, err := tx.ExecContext(ctx, `
				UPDATE attachments SET uploaded_url = ?
				WHERE record_local_id = ? AND attachment_id = ?
			`, p.AttachmentURLs[id], localID, id)
			if err != nil {
				return fmt.Errorf("update attachment %s: %w", id, err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if rows == 0 {
				return syncerr.Newf(syncerr.CodeNotFound, op, "attachment %s of record %s", id, localID)
			}
		}

		return nil
	})
}

// Remove deletes a record and its attachments. Removing an unknown id is a
// no-op.
func (s *Store) Remove(ctx context.Context, localID string) error {
	return s.inTx(ctx, "store.remove", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, localID); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
