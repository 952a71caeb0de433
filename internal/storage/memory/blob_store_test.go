package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "snapshots/b-1/abc.html", "text/html", bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/b-1/abc.html", uri)

	blob, ok := store.Get("snapshots/b-1/abc.html")
	require.True(t, ok)
	require.Equal(t, "text/html", blob.ContentType)
	blob.Data[0] = 'C'

	again, _ := store.Get("snapshots/b-1/abc.html")
	require.Equal(t, "content", string(again.Data))

	_, ok = store.Get("missing")
	require.False(t, ok)
}
