// Package remote defines the collaborators the synchronization engine talks
// to (object upload and entity creation) and an HTTP client for them.
package remote

import "context"

// Uploader stores a blob and returns a stable, retrievable URL.
// Failures are NETWORK_ERROR or SERVER_ERROR.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (url string, err error)
}

// Creator creates an entity in a collection and returns its id.
// Failures are NETWORK_ERROR, VALIDATION_ERROR or SERVER_ERROR.
type Creator interface {
	Create(ctx context.Context, collection string, payload map[string]any) (id string, err error)
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches a dedupe key to ctx. Transports that support it
// send the key so the server can collapse retried creates.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey, if any.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}
