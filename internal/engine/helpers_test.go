package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store  *store.Store
	remote *testutil.FakeRemote
	clock  *testutil.FakeClock
	engine *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:  testutil.OpenStore(t),
		remote: testutil.NewFakeRemote(),
		clock:  testutil.NewFakeClock(testEpoch, time.Second),
	}
	base := []Option{WithLogger(discardLogger()), WithClock(f.clock.Now)}
	f.engine = New(f.store, f.remote, f.remote, append(base, opts...)...)
	return f
}

// queueRecord appends a record with n JPEG attachments named <id>-a1..an.
func queueRecord(t *testing.T, q Queue, id string, n int) capture.Record {
	t.Helper()
	rec := capture.Record{
		LocalID:    id,
		Collection: "inspections",
		Title:      "Unit " + id,
		Payload:    map[string]any{"unit": id, "severity": 2},
		CreatedAt:  testEpoch,
		SyncState:  capture.StateQueued,
	}
	for i := 1; i <= n; i++ {
		data := []byte(fmt.Sprintf("%s-photo-%d", id, i))
		rec.Attachments = append(rec.Attachments, capture.Attachment{
			ID:          fmt.Sprintf("%s-a%d", id, i),
			ContentType: "image/jpeg",
			Data:        data,
			Digest:      capture.Digest(data),
		})
	}
	require.NoError(t, q.Append(context.Background(), rec))
	return rec
}

func queuedIDs(t *testing.T, q Queue) []string {
	t.Helper()
	records, err := q.ListAll(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.LocalID)
	}
	return ids
}

func createKeys(r *testutil.FakeRemote) []string {
	var keys []string
	for _, c := range r.SuccessfulCalls(testutil.CallCreate) {
		keys = append(keys, c.IdempotencyKey)
	}
	return keys
}

type validatorFunc func(collection string, payload map[string]any) error

func (f validatorFunc) Validate(collection string, payload map[string]any) error {
	return f(collection, payload)
}
