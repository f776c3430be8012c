package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load("testdata/collections.cue")
	require.NoError(t, err)
	return r
}

func TestLoad_Collections(t *testing.T) {
	r := loadTestRegistry(t)
	assert.Equal(t, []string{"defects", "inspections"}, r.Collections())
	assert.True(t, r.Has("inspections"))
	assert.False(t, r.Has("permits"))
}

func TestValidate(t *testing.T) {
	r := loadTestRegistry(t)

	tests := []struct {
		name       string
		collection string
		payload    map[string]any
		wantErr    bool
	}{
		{
			name:       "valid inspection",
			collection: "inspections",
			payload:    map[string]any{"unit": "4B", "severity": 2},
		},
		{
			name:       "extra fields allowed in open struct",
			collection: "inspections",
			payload:    map[string]any{"unit": "4B", "severity": 2, "inspector": "kim"},
		},
		{
			name:       "attachments list",
			collection: "inspections",
			payload:    map[string]any{"unit": "4B", "severity": 2, "attachments": []string{"https://blobs/1"}},
		},
		{
			name:       "missing required field",
			collection: "inspections",
			payload:    map[string]any{"unit": "4B"},
			wantErr:    true,
		},
		{
			name:       "out of range",
			collection: "inspections",
			payload:    map[string]any{"unit": "4B", "severity": 9},
			wantErr:    true,
		},
		{
			name:       "wrong type",
			collection: "inspections",
			payload:    map[string]any{"unit": 4, "severity": 2},
			wantErr:    true,
		},
		{
			name:       "closed struct rejects extra field",
			collection: "defects",
			payload:    map[string]any{"location": "stair 2", "kind": "crack", "extra": true},
			wantErr:    true,
		},
		{
			name:       "disjunction",
			collection: "defects",
			payload:    map[string]any{"location": "stair 2", "kind": "rust"},
			wantErr:    true,
		},
		{
			name:       "unknown collection passes",
			collection: "permits",
			payload:    map[string]any{"anything": []any{1, "two"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.collection, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, syncerr.IsValidation(err))
				assert.Contains(t, err.Error(), tt.collection)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidate_JSONNumbers(t *testing.T) {
	r := loadTestRegistry(t)
	payload := map[string]any{"unit": "4B", "severity": json.Number("3")}
	assert.NoError(t, r.Validate("inspections", payload))
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(`collections: inspections: {`)
	assert.Error(t, err)

	_, err = Compile(`collections: inspections: "not a struct"`)
	assert.Error(t, err)
}

func TestCompile_NoCollections(t *testing.T) {
	r, err := Compile(`version: 1`)
	require.NoError(t, err)
	assert.Empty(t, r.Collections())
	assert.NoError(t, r.Validate("inspections", map[string]any{}))
}
