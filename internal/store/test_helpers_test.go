package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// createTestRecord creates a queued record with n small attachments.
func createTestRecord(localID string, n int) capture.Record {
	rec := capture.Record{
		LocalID:    localID,
		Collection: "inspections",
		Title:      "Inspection " + localID,
		Payload:    map[string]any{"unit": "4B", "severity": 2},
		CreatedAt:  testEpoch,
		SyncState:  capture.StateQueued,
	}
	for i := 0; i < n; i++ {
		data := []byte{byte('a' + i), byte('0' + i)}
		rec.Attachments = append(rec.Attachments, capture.Attachment{
			ID:          localID + "-att-" + string(rune('1'+i)),
			ContentType: "image/jpeg",
			Data:        data,
			Digest:      capture.Digest(data),
		})
	}
	return rec
}

func statePtr(s capture.SyncState) *capture.SyncState { return &s }
func strPtr(s string) *string                       { return &s }
func boolPtr(b bool) *bool                          { return &b }
