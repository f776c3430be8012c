package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/testutil"
)

func TestDrain_TwoRecordScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 2)
	queueRecord(t, f.store, "r2", 0)

	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Synced)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Pending)

	calls := f.remote.Calls()
	require.Len(t, calls, 4)

	assert.Equal(t, testutil.CallUpload, calls[0].Kind)
	assert.Equal(t, "r1/r1-a1", calls[0].IdempotencyKey)
	assert.Equal(t, testutil.CallUpload, calls[1].Kind)
	assert.Equal(t, "r1/r1-a2", calls[1].IdempotencyKey)

	assert.Equal(t, testutil.CallCreate, calls[2].Kind)
	assert.Equal(t, "r1", calls[2].IdempotencyKey)
	assert.Equal(t, "inspections", calls[2].Collection)
	assert.Equal(t, []string{calls[0].Result, calls[1].Result}, calls[2].Payload[DefaultAttachmentsKey])

	assert.Equal(t, testutil.CallCreate, calls[3].Kind)
	assert.Equal(t, "r2", calls[3].IdempotencyKey)
	assert.Equal(t, []string{}, calls[3].Payload[DefaultAttachmentsKey])

	r, err := NewReporter(ctx, f.engine, f.store)
	require.NoError(t, err)
	n, err := r.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrain_FIFOOrder(t *testing.T) {
	f := newFixture(t)
	ids := []string{"r1", "r2", "r3", "r4", "r5"}
	for i, id := range ids {
		queueRecord(t, f.store, id, i%2)
	}

	_, err := f.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids, createKeys(f.remote))
}

func TestDrain_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 1)
	queueRecord(t, f.store, "r2", 1)
	queueRecord(t, f.store, "r3", 1)
	f.remote.FailUploadsFor("r2", syncerr.New(syncerr.CodeNetwork, "fake.upload", "connection reset"))

	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err, "per-record failures never escape the drain")
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, []string{"r1", "r3"}, createKeys(f.remote))

	assert.Equal(t, []string{"r2"}, queuedIDs(t, f.store))
	r2, err := f.store.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, capture.StateFailed, r2.SyncState)
	assert.Contains(t, r2.LastError, "connection reset")
	assert.Equal(t, 1, r2.Attempts)
	assert.False(t, r2.NeedsCorrection)

	require.Len(t, summary.Items, 3)
	assert.Equal(t, capture.StateFailed, summary.Items[1].State)
}

func TestDrain_Resumability(t *testing.T) {
	f := newFixture(t)
	queueRecord(t, f.store, "r1", 1)
	queueRecord(t, f.store, "r2", 1)
	queueRecord(t, f.store, "r3", 0)

	// Interrupt after r1's entity is created
	ctx, cancel := context.WithCancel(context.Background())
	f.remote.AfterCall(func(c testutil.Call) {
		if c.Kind == testutil.CallCreate && c.IdempotencyKey == "r1" {
			cancel()
		}
	})

	summary, err := f.engine.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 2, summary.Pending)
	assert.Equal(t, []string{"r2", "r3"}, queuedIDs(t, f.store))

	summary, err = f.engine.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Synced)
	assert.Zero(t, summary.Pending)

	assert.Equal(t, []string{"r1", "r2", "r3"}, createKeys(f.remote))
	assert.Len(t, f.remote.SuccessfulCalls(testutil.CallUpload), 2, "r1's attachment is not uploaded again")
}

func TestDrain_RemoteIDGuardSkipsCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 1)
	require.NoError(t, f.store.Update(ctx, "r1", store.Patch{
		RemoteID:       "entity-existing",
		AttachmentURLs: map[string]string{"r1-a1": "https://blobs.test/old"},
	}))

	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Empty(t, f.remote.Calls(), "existing remote entity is not recreated")
	assert.Empty(t, queuedIDs(t, f.store))
	assert.Equal(t, "entity-existing", summary.Items[0].RemoteID)
}

func TestDrain_CrashBetweenCreateAndRemove(t *testing.T) {
	s := testutil.OpenStore(t)
	q := testutil.NewFailingQueue(s)
	fake := testutil.NewFakeRemote()
	e := New(q, fake, fake, WithLogger(discardLogger()))
	ctx := context.Background()

	queueRecord(t, s, "r1", 0)

	q.Fail(testutil.OpRemove)
	_, err := e.Drain(ctx)
	require.NoError(t, err)

	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, capture.StateSynced, rec.SyncState)
	assert.Equal(t, "entity-1", rec.RemoteID)

	q.Heal(testutil.OpRemove)
	_, err = e.Drain(ctx)
	require.NoError(t, err)

	assert.Empty(t, queuedIDs(t, s))
	assert.Len(t, fake.Calls(), 1, "create ran exactly once")
	assert.Len(t, fake.Entities(), 1)
}

func TestDrain_PersistsURLsBeforeCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 2)
	f.remote.FailCreatesFor("r1", syncerr.New(syncerr.CodeServer, "fake.create", "503 Service Unavailable"))

	_, err := f.engine.Drain(ctx)
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, capture.StateFailed, rec.SyncState)
	assert.Empty(t, rec.PendingUploads(), "both URLs were stored")

	f.remote.Reset()
	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)

	uploads := f.remote.SuccessfulCalls(testutil.CallUpload)
	assert.Len(t, uploads, 2, "no attachment uploaded twice")

	creates := f.remote.SuccessfulCalls(testutil.CallCreate)
	require.Len(t, creates, 1)
	assert.Equal(t, []string{uploads[0].Result, uploads[1].Result}, creates[0].Payload[DefaultAttachmentsKey])
}

func TestDrain_RetryClearsLastErrorAndCountsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 0)
	f.remote.SetOffline(true)

	_, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	_, err = f.engine.Drain(ctx)
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, capture.StateFailed, rec.SyncState)
	assert.Contains(t, rec.LastError, string(syncerr.CodeNetwork))

	f.remote.SetOffline(false)
	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Empty(t, queuedIDs(t, f.store))
}

func TestDrain_ValidationErrorFlagsRecordAndSkipsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 0)
	queueRecord(t, f.store, "r2", 0)
	f.remote.FailCreatesFor("r1", syncerr.New(syncerr.CodeValidation, "fake.create", "422 Unprocessable Entity: unit required"))

	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	assert.True(t, summary.Items[0].NeedsCorrection)

	rec, err := f.store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, rec.NeedsCorrection)

	// Flagged records are not retried verbatim
	calls := len(f.remote.Calls())
	summary, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Pending)
	assert.Len(t, f.remote.Calls(), calls)

	rec, err = f.store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts, "skipped records are not attempted")
}

func TestDrain_RejectedUploadIsRetriedNotFlagged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 2)
	rejected := false
	f.remote.FailWhen(func(c testutil.Call) error {
		if c.Kind == testutil.CallUpload && !rejected {
			rejected = true
			return syncerr.New(syncerr.CodeValidation, "fake.upload", "409 Conflict: digest mismatch")
		}
		return nil
	})

	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Items[0].NeedsCorrection)

	rec, err := f.store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, capture.StateFailed, rec.SyncState)
	assert.False(t, rec.NeedsCorrection)
	assert.Contains(t, rec.LastError, string(syncerr.CodeServer))

	summary, err = f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Zero(t, summary.Skipped)
	assert.Empty(t, queuedIDs(t, f.store))
	assert.Len(t, f.remote.SuccessfulCalls(testutil.CallUpload), 2)
}

func TestCorrect_RequeuesWithNewPayload(t *testing.T) {
	var validated []string
	f := newFixture(t, WithValidator(validatorFunc(func(collection string, payload map[string]any) error {
		validated = append(validated, collection)
		if _, ok := payload["unit"]; !ok {
			return syncerr.New(syncerr.CodeValidation, "schema.validate", "unit required")
		}
		return nil
	})))
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 0)
	f.remote.FailCreatesFor("r1", syncerr.New(syncerr.CodeValidation, "fake.create", "rejected"))
	_, err := f.engine.Drain(ctx)
	require.NoError(t, err)

	err = f.engine.Correct(ctx, "r1", map[string]any{"severity": 1})
	assert.True(t, syncerr.IsValidation(err), "invalid correction is refused")

	require.NoError(t, f.engine.Correct(ctx, "r1", map[string]any{"unit": "4C", "severity": 1}))
	assert.Equal(t, []string{"inspections", "inspections"}, validated)

	rec, err := f.store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, rec.NeedsCorrection)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, capture.StateQueued, rec.SyncState)

	f.remote.Reset()
	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)

	ents := f.remote.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, "4C", ents[0].Payload["unit"])
}

func TestCorrect_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Correct(context.Background(), "missing", map[string]any{})
	assert.True(t, syncerr.Is(err, syncerr.CodeNotFound))
}

func TestDrain_ReentrantCallIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	queueRecord(t, f.store, "r1", 1)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.AfterCall(func(c testutil.Call) {
		if c.Kind == testutil.CallUpload {
			close(entered)
			<-release
		}
	})

	done := make(chan PassSummary, 1)
	go func() {
		s, _ := f.engine.Drain(ctx)
		done <- s
	}()

	<-entered
	assert.True(t, f.engine.Draining())

	_, err := f.engine.Drain(ctx)
	assert.ErrorIs(t, err, ErrDrainInProgress)
	assert.ErrorIs(t, f.engine.Correct(ctx, "r1", map[string]any{}), ErrDrainInProgress)

	close(release)
	summary := <-done
	assert.Equal(t, 1, summary.Synced)
	assert.False(t, f.engine.Draining())
	assert.Len(t, f.remote.SuccessfulCalls(testutil.CallCreate), 1)
}

func TestDrain_ListFailureIsReturned(t *testing.T) {
	s := testutil.OpenStore(t)
	q := testutil.NewFailingQueue(s)
	fake := testutil.NewFakeRemote()
	e := New(q, fake, fake, WithLogger(discardLogger()))

	q.Fail(testutil.OpListAll)
	_, err := e.Drain(context.Background())
	assert.True(t, syncerr.IsStorage(err))
	assert.False(t, e.Draining(), "flag released after failure")
}

func TestDrain_PersistsAndPublishesSummary(t *testing.T) {
	var published []PassSummary
	f := newFixture(t, WithPassObserver(func(s PassSummary) { published = append(published, s) }))
	ctx := context.Background()

	queueRecord(t, f.store, "r1", 0)
	summary, err := f.engine.Drain(ctx)
	require.NoError(t, err)

	require.Len(t, published, 1)
	assert.Equal(t, summary, published[0])
	assert.Equal(t, testEpoch, summary.StartedAt)
	assert.True(t, summary.FinishedAt.After(summary.StartedAt))

	last, ok, err := f.store.LastPass(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, summary.record(), last)
}

func TestDrain_CustomAttachmentsKey(t *testing.T) {
	f := newFixture(t, WithAttachmentsKey("photos"))
	queueRecord(t, f.store, "r1", 1)

	_, err := f.engine.Drain(context.Background())
	require.NoError(t, err)

	creates := f.remote.SuccessfulCalls(testutil.CallCreate)
	require.Len(t, creates, 1)
	assert.Len(t, creates[0].Payload["photos"], 1)
	assert.NotContains(t, creates[0].Payload, DefaultAttachmentsKey)
}

func TestSubmitOne_UpdatesRecordInPlace(t *testing.T) {
	f := newFixture(t)
	rec := &capture.Record{
		LocalID:     "r1",
		Collection:  "inspections",
		Payload:     map[string]any{"unit": "4B"},
		Attachments: []capture.Attachment{{ID: "a1", ContentType: "image/png", Data: []byte("png")}},
		SyncState:   capture.StateDraft,
	}

	require.NoError(t, f.engine.SubmitOne(context.Background(), rec))
	assert.Equal(t, capture.StateSynced, rec.SyncState)
	assert.Equal(t, "entity-1", rec.RemoteID)
	assert.Equal(t, "https://blobs.test/blob-1", rec.Attachments[0].URL)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "single-item path never touches the queue")
}

func TestSubmitOne_KeepsURLsOnCreateFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.FailCreatesFor("r1", syncerr.New(syncerr.CodeServer, "fake.create", "500"))
	rec := &capture.Record{
		LocalID:     "r1",
		Collection:  "inspections",
		Payload:     map[string]any{},
		Attachments: []capture.Attachment{{ID: "a1", Data: []byte("x")}},
	}

	err := f.engine.SubmitOne(context.Background(), rec)
	assert.True(t, syncerr.Is(err, syncerr.CodeServer))
	assert.Equal(t, capture.StateFailed, rec.SyncState)
	assert.NotEmpty(t, rec.LastError)
	assert.True(t, rec.Attachments[0].Uploaded())
	assert.Empty(t, rec.RemoteID)
}
