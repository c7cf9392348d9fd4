package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Overall string `json:"overall"`
	Passed  int    `json:"passed"`
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "health", snapshot{Overall: "healthy", Passed: 4}))

	var got snapshot
	require.NoError(t, store.Get(ctx, "health", &got))
	assert.Equal(t, snapshot{Overall: "healthy", Passed: 4}, got)

	// Overwrite replaces the previous value.
	require.NoError(t, store.Set(ctx, "health", snapshot{Overall: "degraded", Passed: 3}))
	require.NoError(t, store.Get(ctx, "health", &got))
	assert.Equal(t, "degraded", got.Overall)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemoryStore()
	var got snapshot
	err := store.Get(context.Background(), "absent", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "appdoctor.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "health", snapshot{Overall: "critical", Passed: 1}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	var got snapshot
	require.NoError(t, reopened.Get(ctx, "health", &got))
	assert.Equal(t, snapshot{Overall: "critical", Passed: 1}, got)
}

func TestFileStoreMissingKey(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "empty.json"))
	require.NoError(t, err)

	var got snapshot
	assert.ErrorIs(t, store.Get(context.Background(), "absent", &got), ErrNotFound)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestMemoryStoreRejectsUnmarshalableValue(t *testing.T) {
	store := NewMemoryStore()
	err := store.Set(context.Background(), "bad", func() {})
	assert.Error(t, err)
}
