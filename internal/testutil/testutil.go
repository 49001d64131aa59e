// Package testutil provides shared test helpers for setting up stores.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/tapestry/internal/blob"
	"github.com/starford/tapestry/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tapestry-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(store.DialectSQLite, dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBlobs creates a blob store in a temporary directory.
func TestBlobs(t *testing.T) *blob.FS {
	t.Helper()
	fs, err := blob.NewFS(t.TempDir(), "http://localhost/blobs", "test-secret")
	if err != nil {
		t.Fatal(err)
	}
	return fs
}
