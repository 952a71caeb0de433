package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/poucher/metadata-worker/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing dir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "snapshots")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.EqualError(t, err, "archive.local_dir is required")
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "is not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/bm-1/abc.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)

	want := filepath.Join(dir, "snapshots", "bm-1", "abc.html")
	require.Equal(t, "file://"+want, uri)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(data))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPutObjectOverwrites(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.PutObject(ctx, "a.html", "text/html", strings.NewReader("first"))
	require.NoError(t, err)
	uri, err := store.PutObject(ctx, "a.html", "text/html", strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.EqualError(t, err, "path is required")

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", strings.NewReader("x"))
	require.ErrorIs(t, err, local.ErrPathTraversal)
}
