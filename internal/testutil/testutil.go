// Package testutil provides shared test helpers for setting up note stores.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/ansuz/internal/blob"
	"github.com/starford/ansuz/internal/notestore"
)

// TestBlobs creates a temporary blob directory that is cleaned up with the
// test.
func TestBlobs(t *testing.T) *blob.Dir {
	t.Helper()
	blobs, err := blob.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return blobs
}

// TestLocal creates a temporary SQLite-backed local note store.
func TestLocal(t *testing.T) (*notestore.Local, *blob.Dir) {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	blobs := TestBlobs(t)
	store, err := notestore.OpenLocal(dbFile.Name(), blobs)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store, blobs
}
