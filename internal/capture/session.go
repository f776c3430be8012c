package capture

import (
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Session is the mutable in-progress state of one capture: field values plus
// attached blobs. It is not safe for concurrent use; a session belongs to the
// form that edits it.
type Session struct {
	collection  string
	title       string
	fields      map[string]any
	attachments []Attachment

	ids   IDGenerator
	clock Clock
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithIDGenerator overrides the UUIDv7 default.
func WithIDGenerator(g IDGenerator) SessionOption {
	return func(s *Session) {
		s.ids = g
	}
}

// WithClock overrides time.Now.
func WithClock(c Clock) SessionOption {
	return func(s *Session) {
		s.clock = c
	}
}

// NewSession starts an empty capture targeting collection.
func NewSession(collection string, opts ...SessionOption) *Session {
	s := &Session{
		collection: collection,
		fields:     make(map[string]any),
		ids:        UUIDv7Generator{},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the target collection name.
func (s *Session) Collection() string {
	return s.collection
}

// SetTitle sets the display title used in the pending list.
func (s *Session) SetTitle(title string) {
	s.title = title
}

// SetField sets a payload field. Keys are NFC-normalized so that visually
// identical keys typed on different keyboards collapse to one field.
func (s *Session) SetField(key string, value any) {
	s.fields[norm.NFC.String(key)] = value
}

// Field returns a payload field.
func (s *Session) Field(key string) (any, bool) {
	v, ok := s.fields[norm.NFC.String(key)]
	return v, ok
}

// DeleteField removes a payload field.
func (s *Session) DeleteField(key string) {
	delete(s.fields, norm.NFC.String(key))
}

// Fields returns the field names in sorted order.
func (s *Session) Fields() []string {
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddAttachment copies data into the session and returns its local attachment id.
func (s *Session) AddAttachment(data []byte, contentType string) string {
	id := s.ids.NewID()
	blob := append([]byte(nil), data...)
	s.attachments = append(s.attachments, Attachment{
		ID:          id,
		ContentType: contentType,
		Data:        blob,
		Digest:      Digest(blob),
	})
	return id
}

// RemoveAttachment drops an attachment. It returns false if id is unknown.
// The order of the remaining attachments is preserved.
func (s *Session) RemoveAttachment(id string) bool {
	for i, a := range s.attachments {
		if a.ID == id {
			s.attachments = append(s.attachments[:i], s.attachments[i+1:]...)
			return true
		}
	}
	return false
}

// Attachments returns a copy of the current attachment list.
func (s *Session) Attachments() []Attachment {
	out := make([]Attachment, len(s.attachments))
	copy(out, s.attachments)
	return out
}

// ToCaptureRecord freezes the session into a Record with a fresh LocalID and
// SyncState draft. The record shares no memory with the session, so further
// edits to the session do not affect it. Each call yields a distinct LocalID.
func (s *Session) ToCaptureRecord() Record {
	title := s.title
	if title == "" {
		if t, ok := s.fields["title"].(string); ok {
			title = t
		}
	}

	draft := Record{
		LocalID:     s.ids.NewID(),
		Collection:  s.collection,
		Title:       title,
		Payload:     s.fields,
		Attachments: s.attachments,
		CreatedAt:   s.clock(),
		SyncState:   StateDraft,
	}
	rec := draft.Clone()
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}
	return *rec
}
