package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/overwatch-ai/reins/internal/eventlog"
)

// NewTestDB opens an in-memory SQLite database and registers t.Cleanup to
// close it.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewTestEventStore creates an event log store in a temp dir, signed with
// TestSigningKey, and registers t.Cleanup to close it.
func NewTestEventStore(t *testing.T) *eventlog.Store {
	t.Helper()
	store, err := eventlog.NewStore(filepath.Join(t.TempDir(), "events.db"), TestSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
