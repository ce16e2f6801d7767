package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"accounts/internal/storage/sqlite"
	"accounts/internal/storage/storagetest"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *sqlite.Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "accounts.db")
	require.NoError(t, sqlite.Migrate(path))

	storage, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	return storage
}

func TestStorage(t *testing.T) {
	storage := newTestStorage(t)
	require.NoError(t, storage.Ping(context.Background()))

	storagetest.Run(t, storage)
}

func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")

	require.NoError(t, sqlite.Migrate(path))
	require.NoError(t, sqlite.Migrate(path))
}
