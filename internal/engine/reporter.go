package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
)

// PendingItem is one unsynced record as shown in the pending list.
type PendingItem struct {
	LocalID         string
	Collection      string
	Title           string
	CreatedAt       time.Time
	AttachmentCount int
	State           capture.SyncState
	LastError       string
	Attempts        int
	NeedsCorrection bool
}

// Reporter exposes queue depth and the latest pass outcome for display and
// lets the user start a drain. It only reads the queue.
type Reporter struct {
	engine *Engine
	queue  Queue

	mu      sync.RWMutex
	last    PassSummary
	hasLast bool
}

// NewReporter creates a reporter subscribed to e's pass summaries. The last
// persisted summary is loaded from q so it survives restarts.
func NewReporter(ctx context.Context, e *Engine, q Queue) (*Reporter, error) {
	r := &Reporter{engine: e, queue: q}

	last, ok, err := q.LastPass(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		r.last = summaryFromRecord(last)
		r.hasLast = true
	}

	e.OnPass(r.observe)
	return r, nil
}

func (r *Reporter) observe(s PassSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = s
	r.hasLast = true
}

// PendingCount returns the number of records still in the queue.
func (r *Reporter) PendingCount(ctx context.Context) (int, error) {
	return r.queue.Count(ctx)
}

// LastPassSummary returns the most recent pass outcome. ok is false if no pass
// has ever completed.
func (r *Reporter) LastPassSummary() (s PassSummary, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

// TriggerSync runs a drain pass. started is false, with no error, if a pass
// was already running.
func (r *Reporter) TriggerSync(ctx context.Context) (s PassSummary, started bool, err error) {
	s, err = r.engine.Drain(ctx)
	if errors.Is(err, ErrDrainInProgress) {
		return PassSummary{}, false, nil
	}
	return s, true, err
}

// PendingItems lists the queued records in FIFO order.
func (r *Reporter) PendingItems(ctx context.Context) ([]PendingItem, error) {
	records, err := r.queue.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]PendingItem, 0, len(records))
	for _, rec := range records {
		items = append(items, PendingItem{
			LocalID:         rec.LocalID,
			Collection:      rec.Collection,
			Title:           rec.Title,
			CreatedAt:       rec.CreatedAt,
			AttachmentCount: len(rec.Attachments),
			State:           rec.SyncState,
			LastError:       rec.LastError,
			Attempts:        rec.Attempts,
			NeedsCorrection: rec.NeedsCorrection,
		})
	}
	return items, nil
}
