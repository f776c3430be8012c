package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces identifiers for records and attachments.
// Implemented by UUIDv7Generator (production) and SequentialIDs (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a hyphenated UUIDv7. Panics if the random source fails.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialIDs returns prefix-1, prefix-2, ... for deterministic tests.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator producing ids with the given prefix.
func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Clock returns the current time. time.Now satisfies it.
type Clock func() time.Time
