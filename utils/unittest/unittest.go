package unittest

import (
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/require"
)

// RequireClosed requires ch to close within duration.
func RequireClosed(t testing.TB, ch <-chan struct{}, duration time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(duration):
		require.Fail(t, "channel not closed in time: "+msg)
	}
}

// TempDir creates a directory the caller removes.
func TempDir(t testing.TB) string {
	dir, err := os.MkdirTemp("", "sectionnet-test-")
	require.NoError(t, err)
	return dir
}

// BadgerDB opens a badger database in dir, keeping level zero in memory.
func BadgerDB(t testing.TB, dir string) *badger.DB {
	db, err := badger.Open(badger.DefaultOptions(dir).WithKeepL0InMemory(true).WithLogger(nil))
	require.NoError(t, err)
	return db
}

// RunWithBadgerDB runs f with a database in a temporary directory, removing
// both afterwards.
func RunWithBadgerDB(t testing.TB, f func(*badger.DB)) {
	dir := TempDir(t)
	defer os.RemoveAll(dir)
	db := BadgerDB(t, dir)
	defer db.Close()
	f(db)
}
