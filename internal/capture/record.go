// Package capture holds the data model of the offline capture workflow: the
// mutable Session a user edits and the immutable Record it freezes into.
//
// Nothing in this package performs network or storage I/O.
package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// SyncState is the lifecycle position of a Record.
type SyncState string

const (
	StateDraft   SyncState = "draft"
	StateQueued  SyncState = "queued"
	StateSyncing SyncState = "syncing"
	StateSynced  SyncState = "synced"
	StateFailed  SyncState = "failed"
)

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case StateDraft, StateQueued, StateSyncing, StateSynced, StateFailed:
		return true
	}
	return false
}

// ParseSyncState converts the stored representation back into a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	st := SyncState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown sync state %q", s)
	}
	return st, nil
}

// Attachment is a binary blob captured with a record.
//
// Data holds the raw bytes until the blob is uploaded. Digest is the
// hex SHA-256 of Data and serves as the content reference. URL is empty until
// the object-upload service has accepted the blob.
type Attachment struct {
	ID          string
	ContentType string
	Data        []byte
	Digest      string
	URL         string
}

// Uploaded reports whether the blob already has a stable remote URL.
func (a Attachment) Uploaded() bool {
	return a.URL != ""
}

// Size returns the blob length in bytes.
func (a Attachment) Size() int {
	return len(a.Data)
}

// Digest computes the content reference for a blob.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Record is a pending unit of work: one finished capture.
//
// Invariants:
//   - LocalID is assigned when the session is frozen and never changes
//   - RemoteID is set at most once and never cleared
type Record struct {
	LocalID         string
	Collection      string
	Title           string
	Payload         map[string]any
	Attachments     []Attachment
	CreatedAt       time.Time
	SyncState       SyncState
	LastError       string
	RemoteID        string
	Attempts        int
	NeedsCorrection bool
}

// Synced reports whether a remote entity exists for the record.
func (r *Record) Synced() bool {
	return r.RemoteID != ""
}

// PendingUploads returns the indexes of attachments without a URL,
// in attachment order.
func (r *Record) PendingUploads() []int {
	var idx []int
	for i, a := range r.Attachments {
		if !a.Uploaded() {
			idx = append(idx, i)
		}
	}
	return idx
}

// AttachmentURLs returns the uploaded URLs in attachment order. It returns
// an error if any attachment has not been uploaded yet.
func (r *Record) AttachmentURLs() ([]string, error) {
	urls := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		if !a.Uploaded() {
			return nil, fmt.Errorf("attachment %s not uploaded", a.ID)
		}
		urls = append(urls, a.URL)
	}
	return urls, nil
}

// Clone returns a deep copy. Blob bytes and nested payload values are copied.
func (r *Record) Clone() *Record {
	c := *r
	c.Payload = ClonePayload(r.Payload)
	if r.Attachments != nil {
		c.Attachments = make([]Attachment, len(r.Attachments))
		for i, a := range r.Attachments {
			a.Data = append([]byte(nil), a.Data...)
			c.Attachments[i] = a
		}
	}
	return &c
}

// ClonePayload deep-copies a payload document. Nested maps, slices and byte
// slices are copied; other values are shared.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// NormalizePayload returns a deep copy of p with top-level keys
// NFC-normalized, matching what Session.SetField stores.
func NormalizePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[norm.NFC.String(k)] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ClonePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}
