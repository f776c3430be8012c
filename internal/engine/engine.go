package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/remote"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// ErrDrainInProgress is returned by Drain and Correct while another drain
// pass is running. Nothing was changed.
var ErrDrainInProgress = errors.New("drain already in progress")

// DefaultAttachmentsKey is the payload key carrying the uploaded attachment
// URLs in the entity-creation call.
const DefaultAttachmentsKey = "attachments"

// ItemResult is the outcome of one record within a drain pass.
type ItemResult struct {
	LocalID         string
	State           capture.SyncState
	RemoteID        string
	Error           string
	Skipped         bool
	NeedsCorrection bool
}

// PassSummary is the outcome of one drain pass.
//
// Pending is the queue depth after the pass: failed and skipped records plus
// any left unattempted because the pass was cancelled.
type PassSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Synced     int
	Failed     int
	Skipped    int
	Pending    int

	// Items is not persisted; a summary loaded from the store has none.
	Items []ItemResult
}

func (s PassSummary) record() store.PassRecord {
	return store.PassRecord{
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Synced:     s.Synced,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		Pending:    s.Pending,
	}
}

func summaryFromRecord(p store.PassRecord) PassSummary {
	return PassSummary{
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
		Synced:     p.Synced,
		Failed:     p.Failed,
		Skipped:    p.Skipped,
		Pending:    p.Pending,
	}
}

// Engine drains the queue against the object-upload and entity-creation
// collaborators.
//
// Thread-safety model:
//   - Drain(), Correct(): safe from any goroutine, mutually exclusive
//   - SubmitOne(): safe from any goroutine, touches only the record passed in
//   - OnPass(): safe from any goroutine
type Engine struct {
	queue    Queue
	uploader remote.Uploader
	creator  remote.Creator

	logger         *slog.Logger
	now            func() time.Time
	attachmentsKey string
	validator      Validator

	draining atomic.Bool

	mu        sync.Mutex
	observers []func(PassSummary)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock overrides time.Now for pass timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithAttachmentsKey sets the payload key for attachment URLs.
// Default: DefaultAttachmentsKey.
func WithAttachmentsKey(key string) Option {
	return func(e *Engine) {
		if key != "" {
			e.attachmentsKey = key
		}
	}
}

// WithValidator checks corrected payloads before they are re-queued.
func WithValidator(v Validator) Option {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithPassObserver registers fn to receive every pass summary.
func WithPassObserver(fn func(PassSummary)) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, fn)
	}
}

// New creates an Engine over q using u for blobs and c for entities.
func New(q Queue, u remote.Uploader, c remote.Creator, opts ...Option) *Engine {
	e := &Engine{
		queue:          q,
		uploader:       u,
		creator:        c,
		logger:         slog.Default(),
		now:            time.Now,
		attachmentsKey: DefaultAttachmentsKey,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnPass registers fn to receive every pass summary after it is persisted.
// Observers run synchronously on the draining goroutine.
func (e *Engine) OnPass(fn func(PassSummary)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

// Draining reports whether a drain pass is running.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// Drain runs one pass over the queue in FIFO order.
//
// A second call while a pass is running returns ErrDrainInProgress. Per-record
// failures are recorded on the records and reported in the summary; the
// returned error is non-nil only if the queue could not be listed or ctx was
// cancelled between records.
func (e *Engine) Drain(ctx context.Context) (PassSummary, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return PassSummary{}, ErrDrainInProgress
	}
	defer e.draining.Store(false)

	summary := PassSummary{StartedAt: e.now()}

	records, err := e.queue.ListAll(ctx)
	if err != nil {
		e.logger.Error("drain: list queue", "error", err)
		return summary, err
	}
	e.logger.Info("drain started", "records", len(records))

	// Records in flight finish even if ctx is cancelled
	workCtx := context.WithoutCancel(ctx)

	var cancelErr error
	for i := range records {
		if err := ctx.Err(); err != nil {
			e.logger.Info("drain cancelled", "remaining", len(records)-i)
			cancelErr = err
			break
		}

		rec := &records[i]
		if rec.NeedsCorrection {
			summary.Skipped++
			summary.Items = append(summary.Items, ItemResult{
				LocalID:         rec.LocalID,
				State:           rec.SyncState,
				Error:           rec.LastError,
				Skipped:         true,
				NeedsCorrection: true,
			})
			continue
		}

		result := e.syncRecord(workCtx, rec)
		if result.State == capture.StateSynced {
			summary.Synced++
		} else {
			summary.Failed++
		}
		summary.Items = append(summary.Items, result)
	}

	summary.FinishedAt = e.now()
	summary.Pending = e.pendingAfter(workCtx, summary, len(records))
	e.finishPass(workCtx, summary)

	e.logger.Info("drain finished",
		"synced", summary.Synced,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"pending", summary.Pending,
	)
	return summary, cancelErr
}

// syncRecord runs steps a-e for one record. It never returns an error; the
// outcome is in the result and on the stored record.
func (e *Engine) syncRecord(ctx context.Context, rec *capture.Record) ItemResult {
	log := e.logger.With("local_id", rec.LocalID, "collection", rec.Collection)

	syncing := capture.StateSyncing
	cleared := ""
	if err := e.queue.Update(ctx, rec.LocalID, store.Patch{
		State:             &syncing,
		LastError:         &cleared,
		IncrementAttempts: true,
	}); err != nil {
		log.Error("mark syncing", "error", err)
		return ItemResult{LocalID: rec.LocalID, State: rec.SyncState, Error: err.Error()}
	}
	rec.SyncState = syncing
	rec.LastError = ""
	rec.Attempts++

	if rec.RemoteID != "" {
		// A previous pass created the entity but did not get to remove the record
		log.Info("remote entity exists, removing", "remote_id", rec.RemoteID)
		return e.complete(ctx, log, rec)
	}

	if err := e.uploadPending(ctx, rec, true); err != nil {
		return e.fail(ctx, log, rec, "upload", err)
	}

	id, err := e.create(ctx, rec)
	if err != nil {
		return e.fail(ctx, log, rec, "create", err)
	}

	synced := capture.StateSynced
	if err := e.queue.Update(ctx, rec.LocalID, store.Patch{RemoteID: id, State: &synced}); err != nil {
		// The entity exists remotely. The retry repeats create with the same
		// idempotency key.
		log.Error("persist remote id", "remote_id", id, "error", err)
		return e.fail(ctx, log, rec, "persist", err)
	}
	rec.RemoteID = id
	log.Info("record synced", "remote_id", id)

	return e.complete(ctx, log, rec)
}

// complete marks rec synced and removes it from the queue.
func (e *Engine) complete(ctx context.Context, log *slog.Logger, rec *capture.Record) ItemResult {
	result := ItemResult{LocalID: rec.LocalID, State: capture.StateSynced, RemoteID: rec.RemoteID}

	if rec.SyncState != capture.StateSynced {
		synced := capture.StateSynced
		if err := e.queue.Update(ctx, rec.LocalID, store.Patch{State: &synced}); err != nil {
			log.Error("mark synced", "error", err)
		}
		rec.SyncState = synced
	}

	if err := e.queue.Remove(ctx, rec.LocalID); err != nil {
		// The remote id is stored, so the next pass removes it without recreating
		log.Error("remove synced record", "error", err)
		result.Error = err.Error()
	}
	return result
}

// fail records err on rec and leaves it in the queue.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, rec *capture.Record, stage string, err error) ItemResult {
	msg := err.Error()
	failed := capture.StateFailed
	patch := store.Patch{State: &failed, LastError: &msg}

	validation := syncerr.IsValidation(err)
	if validation {
		flag := true
		patch.NeedsCorrection = &flag
	}

	if uerr := e.queue.Update(ctx, rec.LocalID, patch); uerr != nil {
		log.Error("record failure", "error", uerr)
	}
	rec.SyncState = failed
	rec.LastError = msg
	rec.NeedsCorrection = rec.NeedsCorrection || validation

	log.Warn("record failed",
		"stage", stage,
		"code", syncerr.CodeOf(err),
		"error", err,
	)
	return ItemResult{
		LocalID:         rec.LocalID,
		State:           failed,
		Error:           msg,
		NeedsCorrection: validation,
	}
}

// uploadPending uploads attachments without a URL in order. With persist set,
// each URL is written to the queue as soon as it is returned.
func (e *Engine) uploadPending(ctx context.Context, rec *capture.Record, persist bool) error {
	for _, i := range rec.PendingUploads() {
		a := &rec.Attachments[i]

		uctx := remote.WithIdempotencyKey(ctx, rec.LocalID+"/"+a.ID)
		url, err := e.uploader.Upload(uctx, a.Data, a.ContentType)
		if err != nil {
			// Correct cannot change attachment bytes, so a rejected upload is
			// retried rather than flagged.
			if syncerr.IsValidation(err) {
				err = syncerr.Wrap(syncerr.CodeServer, "engine.upload", err)
			}
			return fmt.Errorf("upload attachment %s: %w", a.ID, err)
		}
		if url == "" {
			return syncerr.Newf(syncerr.CodeServer, "engine.upload", "empty url for attachment %s", a.ID)
		}

		if persist {
			if err := e.queue.Update(ctx, rec.LocalID, store.Patch{
				AttachmentURLs: map[string]string{a.ID: url},
			}); err != nil {
				return fmt.Errorf("persist url of attachment %s: %w", a.ID, err)
			}
		}
		a.URL = url
	}
	return nil
}

// create sends the payload with the attachment URLs under the attachments key.
// The local id is the idempotency key.
func (e *Engine) create(ctx context.Context, rec *capture.Record) (string, error) {
	payload, err := e.buildPayload(rec)
	if err != nil {
		return "", err
	}

	cctx := remote.WithIdempotencyKey(ctx, rec.LocalID)
	id, err := e.creator.Create(cctx, rec.Collection, payload)
	if err != nil {
		return "", fmt.Errorf("create entity: %w", err)
	}
	if id == "" {
		return "", syncerr.New(syncerr.CodeServer, "engine.create", "empty remote id")
	}
	return id, nil
}

func (e *Engine) buildPayload(rec *capture.Record) (map[string]any, error) {
	urls, err := rec.AttachmentURLs()
	if err != nil {
		return nil, syncerr.Wrap(syncerr.CodeServer, "engine.create", err)
	}
	payload := capture.ClonePayload(rec.Payload)
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload[e.attachmentsKey] = urls
	return payload, nil
}

// SubmitOne synchronizes a single record without touching the queue.
//
// rec is updated in place: uploaded URLs, RemoteID and SyncState. On failure
// rec keeps the URLs obtained so far, so a caller that enqueues it does not
// upload them again.
func (e *Engine) SubmitOne(ctx context.Context, rec *capture.Record) error {
	log := e.logger.With("local_id", rec.LocalID, "collection", rec.Collection)

	rec.SyncState = capture.StateSyncing
	rec.Attempts++

	if err := e.uploadPending(ctx, rec, false); err != nil {
		rec.SyncState = capture.StateFailed
		rec.LastError = err.Error()
		log.Warn("submit failed", "stage", "upload", "code", syncerr.CodeOf(err), "error", err)
		return err
	}

	id, err := e.create(ctx, rec)
	if err != nil {
		rec.SyncState = capture.StateFailed
		rec.LastError = err.Error()
		log.Warn("submit failed", "stage", "create", "code", syncerr.CodeOf(err), "error", err)
		return err
	}

	rec.RemoteID = id
	rec.SyncState = capture.StateSynced
	rec.LastError = ""
	log.Info("record submitted", "remote_id", id)
	return nil
}

// Correct replaces the payload of a queued record, clears its correction flag
// and last error, and puts it back in the queue as queued.
//
// Returns ErrDrainInProgress while a drain runs, NOT_FOUND for an unknown id,
// and the validator's error if the new payload is rejected.
func (e *Engine) Correct(ctx context.Context, localID string, payload map[string]any) error {
	if !e.draining.CompareAndSwap(false, true) {
		return ErrDrainInProgress
	}
	defer e.draining.Store(false)

	rec, err := e.queue.Get(ctx, localID)
	if err != nil {
		return err
	}

	normalized := capture.NormalizePayload(payload)
	if e.validator != nil {
		if err := e.validator.Validate(rec.Collection, normalized); err != nil {
			return err
		}
	}

	queued := capture.StateQueued
	cleared := ""
	off := false
	if err := e.queue.Update(ctx, localID, store.Patch{
		State:           &queued,
		LastError:       &cleared,
		NeedsCorrection: &off,
		Payload:         normalized,
	}); err != nil {
		return err
	}

	e.logger.Info("record corrected", "local_id", localID, "collection", rec.Collection)
	return nil
}

func (e *Engine) pendingAfter(ctx context.Context, s PassSummary, listed int) int {
	n, err := e.queue.Count(ctx)
	if err != nil {
		e.logger.Warn("drain: count queue", "error", err)
		return listed - s.Synced
	}
	return n
}

func (e *Engine) finishPass(ctx context.Context, s PassSummary) {
	if err := e.queue.RecordPass(ctx, s.record()); err != nil {
		e.logger.Warn("drain: record pass", "error", err)
	}

	e.mu.Lock()
	observers := make([]func(PassSummary), len(e.observers))
	copy(observers, e.observers)
	e.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}
