package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

func TestFileStoreLoadAbsent(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "ada")
	require.NoError(t, err)

	_, err = store.Load(context.Background(), "emergencyContactsData")
	assert.ErrorIs(t, err, ErrAbsent)
}

func TestFileStoreSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, "ada")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "b", []byte(`[{"id":"1"}]`)))
	require.NoError(t, store.Save(ctx, "a", []byte(`{"x":"y"}`)))

	got, err := store.Load(ctx, "b")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1"}]`, string(got))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	// A second store over the same file sees the data.
	other, err := NewFileStore(dir, "ada")
	require.NoError(t, err)
	got, err = other.Load(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":"y"}`, string(got))

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"))
	_, err = other.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrAbsent)

	_, err = os.Stat(filepath.Join(dir, "ada.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestFileStoreRejectsInvalidInput(t *testing.T) {
	_, err := NewFileStore(t.TempDir(), "../escape")
	assert.Error(t, err)
	_, err = NewFileStore(t.TempDir(), "")
	assert.Error(t, err)

	store, err := NewFileStore(t.TempDir(), "ada")
	require.NoError(t, err)
	assert.Error(t, store.Save(context.Background(), "a", []byte(`{not json`)))
}

func TestFileStoreCorruptDocument(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "ada")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0o600))

	_, err = store.Load(context.Background(), "a")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAbsent))
}

func TestFileStoreSaveRecoversFromCorruptDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir, "ada", WithFileLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), []byte("garbage"), 0o600))

	require.NoError(t, store.Save(ctx, "emergencyContactsData", []byte(`[]`)))

	got, err := store.Load(ctx, "emergencyContactsData")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	moved, err := filepath.Glob(store.Path() + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	kept, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(kept), "the corrupt document is kept for inspection")

	require.NoError(t, store.Save(ctx, "conclusionData", []byte(`{}`)))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conclusionData", "emergencyContactsData"}, keys)
}

func TestFileStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("form-%d", i)
		g.Go(func() error {
			store, err := NewFileStore(dir, "ada")
			if err != nil {
				return err
			}
			return store.Save(ctx, key, []byte(`{"n":1}`))
		})
	}
	require.NoError(t, g.Wait())

	store, err := NewFileStore(dir, "ada")
	require.NoError(t, err)
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 8)
}
