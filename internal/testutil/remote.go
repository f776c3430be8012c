package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/remote"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// CallKind distinguishes the two remote operations.
type CallKind string

const (
	CallUpload CallKind = "upload"
	CallCreate CallKind = "create"
)

// Call is one request seen by FakeRemote, successful or not.
type Call struct {
	Kind           CallKind
	IdempotencyKey string

	// Upload
	ContentType string
	Digest      string
	Size        int

	// Create
	Collection string
	Payload    map[string]any

	// Result is the URL or entity id returned; empty when Err is set.
	Result string
	Err    error
}

// Entity is an entity created on the fake remote.
type Entity struct {
	ID         string
	Collection string
	Payload    map[string]any
}

// FailFunc decides whether a call fails. Returning nil lets it succeed.
type FailFunc func(c Call) error

// FakeRemote is an in-memory Uploader and Creator with a call log and
// scriptable failures. Repeated calls with the same idempotency key return the
// first result without creating anything new.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeRemote struct {
	mu       sync.Mutex
	calls    []Call
	offline  bool
	failures []FailFunc
	after    []func(Call)

	blobs    int
	entities []Entity
	byKey    map[string]string
}

var (
	_ remote.Uploader = (*FakeRemote)(nil)
	_ remote.Creator  = (*FakeRemote)(nil)
)

// NewFakeRemote creates an empty, reachable fake remote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{byKey: make(map[string]string)}
}

// SetOffline makes every call fail with NETWORK_ERROR until reset.
func (r *FakeRemote) SetOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

// FailWhen adds a failure rule. Rules are consulted in order; the first
// non-nil error wins.
func (r *FakeRemote) FailWhen(fn FailFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, fn)
}

// FailUploadsFor fails every upload of the record with localID.
func (r *FakeRemote) FailUploadsFor(localID string, err error) {
	prefix := localID + "/"
	r.FailWhen(func(c Call) error {
		if c.Kind == CallUpload && strings.HasPrefix(c.IdempotencyKey, prefix) {
			return err
		}
		return nil
	})
}

// FailCreatesFor fails every create of the record with localID.
func (r *FakeRemote) FailCreatesFor(localID string, err error) {
	r.FailWhen(func(c Call) error {
		if c.Kind == CallCreate && c.IdempotencyKey == localID {
			return err
		}
		return nil
	})
}

// AfterCall registers fn to run after every successful call, outside the
// lock. Tests use it to cancel a drain at a precise point.
func (r *FakeRemote) AfterCall(fn func(Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, fn)
}

// Reset clears failure rules and the offline flag. The call log and stored
// data are kept.
func (r *FakeRemote) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = false
	r.failures = nil
}

// Upload implements remote.Uploader.
func (r *FakeRemote) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	key, _ := remote.IdempotencyKey(ctx)
	c := Call{
		Kind:           CallUpload,
		IdempotencyKey: key,
		ContentType:    contentType,
		Digest:         capture.Digest(data),
		Size:           len(data),
	}
	return r.handle(c, func() string {
		r.blobs++
		return fmt.Sprintf("https://blobs.test/blob-%d", r.blobs)
	})
}

// Create implements remote.Creator.
func (r *FakeRemote) Create(ctx context.Context, collection string, payload map[string]any) (string, error) {
	key, _ := remote.IdempotencyKey(ctx)
	c := Call{
		Kind:           CallCreate,
		IdempotencyKey: key,
		Collection:     collection,
		Payload:        capture.ClonePayload(payload),
	}
	return r.handle(c, func() string {
		id := fmt.Sprintf("entity-%d", len(r.entities)+1)
		r.entities = append(r.entities, Entity{ID: id, Collection: collection, Payload: c.Payload})
		return id
	})
}

func (r *FakeRemote) handle(c Call, produce func() string) (string, error) {
	r.mu.Lock()

	c.Err = r.failure(c)
	if c.Err == nil {
		cacheKey := string(c.Kind) + ":" + c.IdempotencyKey
		if prev, ok := r.byKey[cacheKey]; ok && c.IdempotencyKey != "" {
			c.Result = prev
		} else {
			c.Result = produce()
			if c.IdempotencyKey != "" {
				r.byKey[cacheKey] = c.Result
			}
		}
	}
	r.calls = append(r.calls, c)

	var after []func(Call)
	if c.Err == nil {
		after = append(after, r.after...)
	}
	r.mu.Unlock()

	for _, fn := range after {
		fn(c)
	}
	return c.Result, c.Err
}

func (r *FakeRemote) failure(c Call) error {
	if r.offline {
		return syncerr.New(syncerr.CodeNetwork, "fake."+string(c.Kind), "remote unreachable")
	}
	for _, fn := range r.failures {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns a copy of the call log in order.
func (r *FakeRemote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// SuccessfulCalls returns the calls of kind that did not fail.
func (r *FakeRemote) SuccessfulCalls(kind CallKind) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == kind && c.Err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Entities returns the created entities in creation order.
func (r *FakeRemote) Entities() []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entity, len(r.entities))
	copy(out, r.entities)
	return out
}
