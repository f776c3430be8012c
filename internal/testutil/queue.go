package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// QueueOp names a queue operation for failure injection.
type QueueOp string

const (
	OpAppend     QueueOp = "append"
	OpListAll    QueueOp = "list_all"
	OpGet        QueueOp = "get"
	OpUpdate     QueueOp = "update"
	OpRemove     QueueOp = "remove"
	OpCount      QueueOp = "count"
	OpRecordPass QueueOp = "record_pass"
	OpLastPass   QueueOp = "last_pass"
)

// Backend is the queue surface FailingQueue wraps. *store.Store implements it.
type Backend interface {
	Append(ctx context.Context, rec capture.Record) error
	ListAll(ctx context.Context) ([]capture.Record, error)
	Get(ctx context.Context, localID string) (capture.Record, error)
	Update(ctx context.Context, localID string, p store.Patch) error
	Remove(ctx context.Context, localID string) error
	Count(ctx context.Context) (int, error)
	RecordPass(ctx context.Context, p store.PassRecord) error
	LastPass(ctx context.Context) (store.PassRecord, bool, error)
}

// FailingQueue forwards to a Backend and fails selected operations with
// STORAGE_UNAVAILABLE. Failed calls do not reach the backend.
type FailingQueue struct {
	Backend

	mu    sync.Mutex
	fail  map[QueueOp]bool
	calls map[QueueOp]int
}

// NewFailingQueue wraps b with no failures enabled.
func NewFailingQueue(b Backend) *FailingQueue {
	return &FailingQueue{
		Backend: b,
		fail:    make(map[QueueOp]bool),
		calls:   make(map[QueueOp]int),
	}
}

// Fail makes op fail until Heal is called.
func (q *FailingQueue) Fail(op QueueOp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fail[op] = true
}

// Heal lets op reach the backend again.
func (q *FailingQueue) Heal(op QueueOp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.fail, op)
}

// Calls returns how many times op was invoked, failed or not.
func (q *FailingQueue) Calls(op QueueOp) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[op]
}

func (q *FailingQueue) check(op QueueOp) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls[op]++
	if q.fail[op] {
		return syncerr.New(syncerr.CodeStorageUnavailable, "store."+string(op), "injected failure")
	}
	return nil
}

func (q *FailingQueue) Append(ctx context.Context, rec capture.Record) error {
	if err := q.check(OpAppend); err != nil {
		return err
	}
	return q.Backend.Append(ctx, rec)
}

func (q *FailingQueue) ListAll(ctx context.Context) ([]capture.Record, error) {
	if err := q.check(OpListAll); err != nil {
		return nil, err
	}
	return q.Backend.ListAll(ctx)
}

func (q *FailingQueue) Get(ctx context.Context, localID string) (capture.Record, error) {
	if err := q.check(OpGet); err != nil {
		return capture.Record{}, err
	}
	return q.Backend.Get(ctx, localID)
}

func (q *FailingQueue) Update(ctx context.Context, localID string, p store.Patch) error {
	if err := q.check(OpUpdate); err != nil {
		return err
	}
	return q.Backend.Update(ctx, localID, p)
}

func (q *FailingQueue) Remove(ctx context.Context, localID string) error {
	if err := q.check(OpRemove); err != nil {
		return err
	}
	return q.Backend.Remove(ctx, localID)
}

func (q *FailingQueue) Count(ctx context.Context) (int, error) {
	if err := q.check(OpCount); err != nil {
		return 0, err
	}
	return q.Backend.Count(ctx)
}

func (q *FailingQueue) RecordPass(ctx context.Context, p store.PassRecord) error {
	if err := q.check(OpRecordPass); err != nil {
		return err
	}
	return q.Backend.RecordPass(ctx, p)
}

func (q *FailingQueue) LastPass(ctx context.Context) (store.PassRecord, bool, error) {
	if err := q.check(OpLastPass); err != nil {
		return store.PassRecord{}, false, err
	}
	return q.Backend.LastPass(ctx)
}

// OpenStore opens a store in a fresh temporary directory, closed at cleanup.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/queue.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
