package testutil

import (
	"path/filepath"
	"testing"

	"github.com/gyaneshwarpardhi/eventrelay/internal/store"
)

// OpenTestStore returns a store backed by a fresh sqlite file under t.TempDir.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(store.DialectSQLite, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db, store.DialectSQLite)
}
