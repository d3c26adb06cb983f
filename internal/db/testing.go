// Package db test helpers.
//
// Tests that need database access should use NewTestStore, which gives each
// test an isolated in-memory database with migrations applied and cleanup
// registered.
package db

import (
	"testing"
)

// NewTestStore creates an in-memory orchestration database for testing.
// The database is automatically closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    store := db.NewTestStore(t)
//	    // use store...
//	}
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	store, err := OpenStoreInMemory()
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
