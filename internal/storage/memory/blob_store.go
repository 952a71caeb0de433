package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore keeps archived snapshots in memory and returns pseudo URIs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// Blob is one stored snapshot.
type Blob struct {
	ContentType string
	Data        []byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = Blob{ContentType: contentType, Data: data}
	return "memory://" + path, nil
}

// Get returns the blob stored at path.
func (s *BlobStore) Get(path string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return Blob{}, false
	}
	b.Data = append([]byte(nil), b.Data...)
	return b, true
}
