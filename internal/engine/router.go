package engine

import (
	"context"
	"log/slog"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/connectivity"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// Outcome tells the UI what happened to a submitted capture.
type Outcome string

const (
	// OutcomeSynced means the remote entity was created immediately.
	OutcomeSynced Outcome = "synced"

	// OutcomeSavedOffline means the device was unreachable and the capture
	// was queued without trying the remote.
	OutcomeSavedOffline Outcome = "saved_offline"

	// OutcomeQueuedAfterFailure means the direct submission failed and the
	// capture was queued for the next drain.
	OutcomeQueuedAfterFailure Outcome = "queued_after_failure"
)

// Submission is the result of Router.Submit.
type Submission struct {
	Outcome  Outcome
	LocalID  string
	RemoteID string

	// Cause is the direct-submission failure for OutcomeQueuedAfterFailure.
	Cause error
}

// Router is the single entry point turning a finished capture session into
// either a direct remote submission or a queued record.
type Router struct {
	engine    *Engine
	queue     Queue
	monitor   connectivity.StateSource
	validator Validator
	logger    *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterValidator rejects invalid payloads before any I/O.
func WithRouterValidator(v Validator) RouterOption {
	return func(r *Router) {
		r.validator = v
	}
}

// WithRouterLogger sets the logger. Default: slog.Default().
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// NewRouter creates a router. q must be the queue e drains.
func NewRouter(e *Engine, q Queue, m connectivity.StateSource, opts ...RouterOption) *Router {
	r := &Router{
		engine:  e,
		queue:   q,
		monitor: m,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit freezes s and delivers or queues the resulting record.
//
// A completed capture is never discarded: if the direct submission fails for
// any reason the record is appended to the queue. The only error returned is
// a failed append (STORAGE_UNAVAILABLE or DUPLICATE) or a local validation
// failure; in both cases nothing was stored and s is unchanged, so the caller
// can retry.
func (r *Router) Submit(ctx context.Context, s *capture.Session) (Submission, error) {
	rec := s.ToCaptureRecord()
	log := r.logger.With("local_id", rec.LocalID, "collection", rec.Collection)

	if r.validator != nil {
		if err := r.validator.Validate(rec.Collection, rec.Payload); err != nil {
			log.Info("capture rejected by schema", "error", err)
			return Submission{LocalID: rec.LocalID}, err
		}
	}

	if !r.monitor.State().Reachable {
		if err := r.enqueue(ctx, &rec); err != nil {
			log.Error("save offline", "error", err)
			return Submission{LocalID: rec.LocalID}, err
		}
		log.Info("capture saved offline")
		return Submission{Outcome: OutcomeSavedOffline, LocalID: rec.LocalID}, nil
	}

	cause := r.engine.SubmitOne(ctx, &rec)
	if cause == nil {
		return Submission{Outcome: OutcomeSynced, LocalID: rec.LocalID, RemoteID: rec.RemoteID}, nil
	}

	// Reachability was stale or the remote misbehaved; keep the capture
	rec.LastError = cause.Error()
	rec.NeedsCorrection = syncerr.IsValidation(cause)

	// The user's work must survive a cancelled request
	if err := r.enqueue(context.WithoutCancel(ctx), &rec); err != nil {
		log.Error("queue after failed submit", "cause", cause, "error", err)
		return Submission{LocalID: rec.LocalID, Cause: cause}, err
	}
	log.Info("capture queued after failed submit", "cause", cause)
	return Submission{Outcome: OutcomeQueuedAfterFailure, LocalID: rec.LocalID, Cause: cause}, nil
}

func (r *Router) enqueue(ctx context.Context, rec *capture.Record) error {
	rec.SyncState = capture.StateQueued
	return r.queue.Append(ctx, *rec)
}
