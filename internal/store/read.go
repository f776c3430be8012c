package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

const recordColumns = `local_id, collection, title, payload, created_at, sync_state, last_error, remote_id, attempts, needs_correction`

// ListAll returns every queued record in enqueue (FIFO) order, attachments
// included. Returns an empty slice, not nil, when the queue is empty.
func (s *Store) ListAll(ctx context.Context) ([]capture.Record, error) {
	const op = "store.list"

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY seq ASC`)
	if err != nil {
		return nil, syncerr.Storage(op, fmt.Errorf("query records: %w", err))
	}
	defer rows.Close()

	records := []capture.Record{}
	index := make(map[string]int)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, syncerr.Storage(op, err)
		}
		index[rec.LocalID] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Storage(op, fmt.Errorf("iterate records: %w", err))
	}
	rows.Close()

	if len(records) == 0 {
		return records, nil
	}

	attRows, err := s.db.QueryContext(ctx, `
		SELECT a.record_local_id, a.attachment_id, a.content_type, a.data, a.digest, a.uploaded_url
		FROM attachments a
		JOIN records r ON r.local_id = a.record_local_id
		ORDER BY r.seq ASC, a.position ASC
	`)
	if err != nil {
		return nil, syncerr.Storage(op, fmt.Errorf("query attachments: %w", err))
	}
	defer attRows.Close()

	for attRows.Next() {
		owner, a, err := scanAttachment(attRows)
		if err != nil {
			return nil, syncerr.Storage(op, err)
		}
		if i, ok := index[owner]; ok {
			records[i].Attachments = append(records[i].Attachments, a)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, syncerr.Storage(op, fmt.Errorf("iterate attachments: %w", err))
	}

	return records, nil
}

// Get retrieves a single record by local id.
// Returns a NOT_FOUND error if it is not queued.
func (s *Store) Get(ctx context.Context, localID string) (capture.Record, error) {
	const op = "store.get"

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE local_id = ?`, localID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return capture.Record{}, syncerr.Newf(syncerr.CodeNotFound, op, "record %s", localID)
	}
	if err != nil {
		return capture.Record{}, syncerr.Storage(op, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_local_id, attachment_id, content_type, data, digest, uploaded_url
		FROM attachments
		WHERE record_local_id = ?
		ORDER BY position ASC
	`, localID)
	if err != nil {
		return capture.Record{}, syncerr.Storage(op, fmt.Errorf("query attachments: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		_, a, err := scanAttachment(rows)
		if err != nil {
			return capture.Record{}, syncerr.Storage(op, err)
		}
		rec.Attachments = append(rec.Attachments, a)
	}
	if err := rows.Err(); err != nil {
		return capture.Record{}, syncerr.Storage(op, fmt.Errorf("iterate attachments: %w", err))
	}

	return rec, nil
}

// Count returns the queue depth.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, syncerr.Storage("store.count", err)
	}
	return n, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (capture.Record, error) {
	var (
		rec        capture.Record
		payload    string
		createdAt  int64
		state      string
		lastError  sql.NullString
		remoteID   sql.NullString
		correction int
	)
	err := row.Scan(
		&rec.LocalID,
		&rec.Collection,
		&rec.Title,
		&payload,
		&createdAt,
		&state,
		&lastError,
		&remoteID,
		&rec.Attempts,
		&correction,
	)
	if err == sql.ErrNoRows {
		return capture.Record{}, err
	}
	if err != nil {
		return capture.Record{}, fmt.Errorf("scan record: %w", err)
	}

	rec.Payload, err = unmarshalPayload(payload)
	if err != nil {
		return capture.Record{}, err
	}
	rec.SyncState, err = capture.ParseSyncState(state)
	if err != nil {
		return capture.Record{}, err
	}
	rec.CreatedAt = decodeTime(createdAt)
	rec.LastError = lastError.String
	rec.RemoteID = remoteID.String
	rec.NeedsCorrection = correction != 0

	return rec, nil
}

func scanAttachment(row scanner) (string, capture.Attachment, error) {
	var (
		owner string
		a     capture.Attachment
		url   sql.NullString
	)
	if err := row.Scan(&owner, &a.ID, &a.ContentType, &a.Data, &a.Digest, &url); err != nil {
		return "", capture.Attachment{}, fmt.Errorf("scan attachment: %w", err)
	}
	a.URL = url.String
	return owner, a, nil
}
