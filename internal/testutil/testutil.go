// Package testutil provides shared test helpers for setting up stores and services.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/recordservice"
	"github.com/starford/raido/internal/store"
)

// TestStore creates a temporary SQLite record store that is automatically cleaned up.
func TestStore(t *testing.T) *store.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "raido-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	st, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestService creates a record service backed by a temporary store and an
// in-memory cache.
func TestService(t *testing.T, opts ...recordservice.Option) *recordservice.Service {
	t.Helper()
	st := TestStore(t)
	c := cache.NewMemory()
	t.Cleanup(func() { c.Close() })
	return recordservice.NewService(st, c, opts...)
}
