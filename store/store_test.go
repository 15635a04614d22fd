package store

import "testing"

// newTestStore opens an isolated in-memory SQLite database for a single
// test, fully migrated, mirroring the teacher's style of building a fresh
// in-process database handle per test rather than mocking the DB layer.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
