package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	bytes.Buffer
	bucket, path, contentType, cacheControl string
	writeErr, closeErr                      error
	closed                                  bool
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.Buffer.Write(p)
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func newRecordingStore(t *testing.T, w *recordingWriter) *BlobStore {
	t.Helper()
	store, err := newBlobStore(func(_ context.Context, bucket, path, contentType, cacheControl string) objectWriter {
		w.bucket, w.path, w.contentType, w.cacheControl = bucket, path, contentType, cacheControl
		return w
	}, Config{Bucket: "snapshots"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	store := newRecordingStore(t, w)

	uri, err := store.PutObject(context.Background(), "/html/b-1/abc.html", "text/html; charset=utf-8", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots/html/b-1/abc.html", uri)
	require.Equal(t, "html/b-1/abc.html", w.path)
	require.Equal(t, "text/html; charset=utf-8", w.contentType)
	require.Equal(t, "private, max-age=0", w.cacheControl)
	require.Equal(t, "<html></html>", w.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	store := newRecordingStore(t, &recordingWriter{})
	_, err := store.PutObject(context.Background(), "  ", "text/html", strings.NewReader("x"))
	require.EqualError(t, err, "path is required")

	store = newRecordingStore(t, &recordingWriter{writeErr: errors.New("quota")})
	_, err = store.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("x"))
	require.EqualError(t, err, "copy object: quota")

	store = newRecordingStore(t, &recordingWriter{closeErr: errors.New("precondition failed")})
	_, err = store.PutObject(context.Background(), "a.html", "text/html", strings.NewReader("x"))
	require.EqualError(t, err, "close writer: precondition failed")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.EqualError(t, err, "storage client is required")
	_, err = newBlobStore(nil, Config{})
	require.EqualError(t, err, "bucket name is required")
}
