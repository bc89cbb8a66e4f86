// Package storetest provides a fresh on-disk test database. It lives
// in its own package so helpers that do not need the store (and the
// packages the store depends on) can import testutil without pulling
// the store in.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/commsight/commsight/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})

	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	return st
}
