package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/remote"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

func TestFakeRemote_AssignsSequentialResults(t *testing.T) {
	r := NewFakeRemote()
	ctx := context.Background()

	u1, err := r.Upload(ctx, []byte("a"), "image/jpeg")
	require.NoError(t, err)
	u2, err := r.Upload(ctx, []byte("b"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/blob-1", u1)
	assert.Equal(t, "https://blobs.test/blob-2", u2)

	id, err := r.Create(ctx, "inspections", map[string]any{"unit": "4B"})
	require.NoError(t, err)
	assert.Equal(t, "entity-1", id)

	ents := r.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, "inspections", ents[0].Collection)
	assert.Equal(t, "4B", ents[0].Payload["unit"])
}

func TestFakeRemote_IdempotencyKeyCollapsesRepeats(t *testing.T) {
	r := NewFakeRemote()
	ctx := remote.WithIdempotencyKey(context.Background(), "r1")

	first, err := r.Create(ctx, "inspections", map[string]any{})
	require.NoError(t, err)
	second, err := r.Create(ctx, "inspections", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, r.Entities(), 1)
	assert.Len(t, r.SuccessfulCalls(CallCreate), 2)
}

func TestFakeRemote_Failures(t *testing.T) {
	r := NewFakeRemote()
	boom := syncerr.New(syncerr.CodeServer, "fake", "boom")
	r.FailUploadsFor("r2", boom)
	r.FailCreatesFor("r3", boom)

	_, err := r.Upload(remote.WithIdempotencyKey(context.Background(), "r2/a1"), []byte("x"), "")
	assert.ErrorIs(t, err, boom)

	_, err = r.Upload(remote.WithIdempotencyKey(context.Background(), "r20/a1"), []byte("x"), "")
	assert.NoError(t, err, "prefix match includes the separator")

	_, err = r.Create(remote.WithIdempotencyKey(context.Background(), "r3"), "c", nil)
	assert.ErrorIs(t, err, boom)

	r.SetOffline(true)
	_, err = r.Create(context.Background(), "c", nil)
	assert.True(t, syncerr.Is(err, syncerr.CodeNetwork))

	r.Reset()
	_, err = r.Create(remote.WithIdempotencyKey(context.Background(), "r3"), "c", nil)
	assert.NoError(t, err)

	calls := r.Calls()
	require.Len(t, calls, 5)
	assert.Error(t, calls[0].Err)
	assert.Equal(t, capture.Digest([]byte("x")), calls[1].Digest)
}

func TestFakeRemote_AfterCallRunsOnSuccessOnly(t *testing.T) {
	r := NewFakeRemote()
	var seen []CallKind
	r.AfterCall(func(c Call) { seen = append(seen, c.Kind) })
	r.FailWhen(func(c Call) error {
		if c.Collection == "bad" {
			return errors.New("rejected")
		}
		return nil
	})

	_, _ = r.Upload(context.Background(), nil, "")
	_, _ = r.Create(context.Background(), "bad", nil)
	_, _ = r.Create(context.Background(), "good", nil)

	assert.Equal(t, []CallKind{CallUpload, CallCreate}, seen)
}

func TestFailingQueue(t *testing.T) {
	s := OpenStore(t)
	q := NewFailingQueue(s)
	ctx := context.Background()

	rec := capture.Record{
		LocalID:    "r1",
		Collection: "inspections",
		Payload:    map[string]any{},
		CreatedAt:  time.Unix(0, 0).UTC(),
	}

	q.Fail(OpAppend)
	err := q.Append(ctx, rec)
	assert.True(t, syncerr.IsStorage(err))

	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed call must not reach the backend")

	q.Heal(OpAppend)
	require.NoError(t, q.Append(ctx, rec))
	assert.Equal(t, 2, q.Calls(OpAppend))

	n, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
