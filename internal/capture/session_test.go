package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
}

func newTestSession() *Session {
	return NewSession("inspections",
		WithIDGenerator(NewSequentialIDs("id")),
		WithClock(fixedClock),
	)
}

func TestSession_AddAndRemoveAttachment(t *testing.T) {
	s := newTestSession()

	a := s.AddAttachment([]byte("photo-a"), "image/jpeg")
	b := s.AddAttachment([]byte("photo-b"), "image/png")
	c := s.AddAttachment([]byte("photo-c"), "image/jpeg")
	assert.Equal(t, "id-1", a)
	assert.Len(t, s.Attachments(), 3)

	assert.True(t, s.RemoveAttachment(b))
	assert.False(t, s.RemoveAttachment(b), "second removal reports unknown id")

	got := s.Attachments()
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].ID)
	assert.Equal(t, c, got[1].ID)
	assert.Equal(t, Digest([]byte("photo-a")), got[0].Digest)
}

func TestSession_AddAttachmentCopiesData(t *testing.T) {
	s := newTestSession()
	data := []byte("original")
	s.AddAttachment(data, "image/jpeg")

	data[0] = 'X'
	assert.Equal(t, "original", string(s.Attachments()[0].Data))
}

func TestSession_ToCaptureRecord(t *testing.T) {
	s := newTestSession()
	s.SetField("title", "Lobby leak")
	s.SetField("floor", 3)
	s.AddAttachment([]byte("photo"), "image/jpeg")

	rec := s.ToCaptureRecord()

	assert.Equal(t, "id-2", rec.LocalID)
	assert.Equal(t, "inspections", rec.Collection)
	assert.Equal(t, "Lobby leak", rec.Title)
	assert.Equal(t, StateDraft, rec.SyncState)
	assert.Equal(t, fixedClock(), rec.CreatedAt)
	assert.Equal(t, 3, rec.Payload["floor"])
	assert.Empty(t, rec.RemoteID)
	require.Len(t, rec.Attachments, 1)
	assert.False(t, rec.Attachments[0].Uploaded())
}

func TestSession_ToCaptureRecordIsIsolated(t *testing.T) {
	s := newTestSession()
	s.SetField("notes", map[string]any{"a": 1})
	s.AddAttachment([]byte("photo"), "image/jpeg")

	rec := s.ToCaptureRecord()

	s.SetField("extra", true)
	s.Attachments()[0].Data[0] = 'X'
	nested, _ := s.Field("notes")
	nested.(map[string]any)["a"] = 2

	assert.NotContains(t, rec.Payload, "extra")
	assert.Equal(t, 1, rec.Payload["notes"].(map[string]any)["a"])
	assert.Equal(t, "photo", string(rec.Attachments[0].Data))
}

func TestSession_FreezeAssignsFreshIDs(t *testing.T) {
	s := newTestSession()
	first := s.ToCaptureRecord()
	second := s.ToCaptureRecord()
	assert.NotEqual(t, first.LocalID, second.LocalID)
}

func TestSession_ExplicitTitleWins(t *testing.T) {
	s := newTestSession()
	s.SetField("title", "from field")
	s.SetTitle("explicit")
	assert.Equal(t, "explicit", s.ToCaptureRecord().Title)
}

func TestSession_FieldKeysAreNormalized(t *testing.T) {
	s := newTestSession()
	// "é" as e + combining acute accent, and as the precomposed rune.
	s.SetField("cafe\u0301", "decomposed")
	s.SetField("caf\u00e9", "precomposed")

	assert.Equal(t, []string{"caf\u00e9"}, s.Fields())
	v, ok := s.Field("cafe\u0301")
	require.True(t, ok)
	assert.Equal(t, "precomposed", v)

	s.DeleteField("caf\u00e9")
	assert.Empty(t, s.Fields())
}

func TestSession_EmptyPayloadIsNotNil(t *testing.T) {
	rec := newTestSession().ToCaptureRecord()
	assert.NotNil(t, rec.Payload)
	assert.Empty(t, rec.Attachments)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.NewID(), g.NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
