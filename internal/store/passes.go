package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// PassRecord is the persisted outcome of one drain pass.
type PassRecord struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Synced     int
	Failed     int
	Skipped    int
	Pending    int
}

// passHistoryLimit bounds the sync_passes table.
const passHistoryLimit = 100

// RecordPass appends a pass outcome and trims history beyond the newest
// passHistoryLimit rows.
func (s *Store) RecordPass(ctx context.Context, p PassRecord) error {
	return s.inTx(ctx, "store.record_pass", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_passes (started_at, finished_at, synced, failed, skipped, pending)
			VALUES (?, ?, ?, ?, ?, ?)
		`, encodeTime(p.StartedAt), encodeTime(p.FinishedAt), p.Synced, p.Failed, p.Skipped, p.Pending)
		if err != nil {
			return fmt.Errorf("insert pass: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM sync_passes
			WHERE id NOT IN (SELECT id FROM sync_passes ORDER BY id DESC LIMIT ?)
		`, passHistoryLimit)
		if err != nil {
			return fmt.Errorf("trim passes: %w", err)
		}
		return nil
	})
}

// LastPass returns the most recent pass. ok is false when no pass has run yet.
func (s *Store) LastPass(ctx context.Context) (p PassRecord, ok bool, err error) {
	var started, finished int64
	err = s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, synced, failed, skipped, pending
		FROM sync_passes
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&started, &finished, &p.Synced, &p.Failed, &p.Skipped, &p.Pending)
	if err == sql.ErrNoRows {
		return PassRecord{}, false, nil
	}
	if err != nil {
		return PassRecord{}, false, syncerr.Storage("store.last_pass", err)
	}
	p.StartedAt = decodeTime(started)
	p.FinishedAt = decodeTime(finished)
	return p, true, nil
}
