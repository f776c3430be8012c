// Package schema validates capture payloads against per-collection CUE
// definitions.
//
// A schema source declares one struct per collection:
//
//	collections: inspections: {
//		unit:     string & != ""
//		severity: int & >=1 & <=5
//		notes?:   string
//	}
//
// A payload is valid if it unifies with its collection's struct and the result
// is concrete; a required field that the payload omits is therefore an error.
// Structs are open unless wrapped in close(). Collections without a definition
// accept any payload.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// Registry holds compiled collection schemas.
//
// Thread-safety: Validate is safe for concurrent use. cue.Context is not, so
// calls are serialized.
type Registry struct {
	mu          sync.Mutex
	ctx         *cue.Context
	collections cue.Value
	names       []string
}

// Compile builds a registry from CUE source.
func Compile(src string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	collections := v.LookupPath(cue.ParsePath("collections"))
	r := &Registry{ctx: ctx, collections: collections}
	if !collections.Exists() {
		return r, nil
	}

	iter, err := collections.Fields()
	if err != nil {
		return nil, fmt.Errorf("collections must be a struct: %w", err)
	}
	for iter.Next() {
		if iter.Value().IncompleteKind() != cue.StructKind {
			return nil, fmt.Errorf("collection %q: schema must be a struct", iter.Selector().String())
		}
		r.names = append(r.names, iter.Selector().Unquoted())
	}
	sort.Strings(r.names)
	return r, nil
}

// Load compiles the CUE file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Compile(string(data))
}

// Collections returns the names of the defined collections in sorted order.
func (r *Registry) Collections() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Has reports whether collection has a definition.
func (r *Registry) Has(collection string) bool {
	i := sort.SearchStrings(r.names, collection)
	return i < len(r.names) && r.names[i] == collection
}

// Validate checks payload against the schema of collection. It returns a
// VALIDATION_ERROR describing every conflict, or nil if the payload is
// acceptable or the collection is undefined.
func (r *Registry) Validate(collection string, payload map[string]any) error {
	const op = "schema.validate"
	if !r.Has(collection) {
		return nil
	}

	// JSON is valid CUE, and this keeps json.Number values from the store
	// as plain numbers.
	data, err := json.Marshal(payload)
	if err != nil {
		return syncerr.Wrap(syncerr.CodeValidation, op, fmt.Errorf("encode payload: %w", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def := r.collections.LookupPath(cue.MakePath(cue.Str(collection)))
	doc := r.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := doc.Err(); err != nil {
		return syncerr.Wrap(syncerr.CodeValidation, op, err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return syncerr.Newf(syncerr.CodeValidation, op, "collection %s: %v", collection, err)
	}
	return nil
}
