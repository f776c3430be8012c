package engine

import (
	"context"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/store"
)

// Queue is the durable local queue as seen by the engine, router and
// reporter. *store.Store implements it.
type Queue interface {
	Append(ctx context.Context, rec capture.Record) error
	ListAll(ctx context.Context) ([]capture.Record, error)
	Get(ctx context.Context, localID string) (capture.Record, error)
	Update(ctx context.Context, localID string, p store.Patch) error
	Remove(ctx context.Context, localID string) error
	Count(ctx context.Context) (int, error)
	RecordPass(ctx context.Context, p store.PassRecord) error
	LastPass(ctx context.Context) (store.PassRecord, bool, error)
}

var _ Queue = (*store.Store)(nil)

// Validator checks a payload against the schema of its collection before any
// I/O. *schema.Registry implements it.
type Validator interface {
	Validate(collection string, payload map[string]any) error
}
