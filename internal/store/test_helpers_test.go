package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/roach88/offsync/internal/mutation"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMutation creates a mutation with minimal required fields.
func createTestMutation(id string, kind mutation.Kind, endpoint string, at int64) mutation.Mutation {
	return mutation.Mutation{
		ID:         id,
		Kind:       kind,
		Endpoint:   endpoint,
		Payload:    json.RawMessage(`{"n":"` + id + `"}`),
		EnqueuedAt: at,
	}
}
