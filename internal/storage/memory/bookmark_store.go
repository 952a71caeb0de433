// Package memory provides in-process stores for local runs and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/poucher/metadata-worker/internal/enrich"
)

// Bookmark is the subset of a bookmark row the worker reads and writes.
type Bookmark struct {
	ID          string
	URL         string
	Title       string
	Description string
	Metadata    *enrich.Metadata
	Status      enrich.Status
	Error       string
	UpdatedAt   time.Time
}

// BookmarkStore keeps bookmarks in a map guarded by a mutex.
type BookmarkStore struct {
	mu        sync.RWMutex
	bookmarks map[string]Bookmark
}

// NewBookmarkStore constructs an empty BookmarkStore.
func NewBookmarkStore() *BookmarkStore {
	return &BookmarkStore{bookmarks: make(map[string]Bookmark)}
}

// CreateBookmark inserts a pending bookmark.
func (s *BookmarkStore) CreateBookmark(_ context.Context, b Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookmarks[b.ID]; exists {
		return errors.New("bookmark already exists")
	}
	if b.Status == "" {
		b.Status = enrich.StatusPending
	}
	s.bookmarks[b.ID] = b
	return nil
}

// GetBookmark fetches a bookmark by ID.
func (s *BookmarkStore) GetBookmark(_ context.Context, id string) (Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookmarks[id]
	if !ok {
		return Bookmark{}, enrich.ErrBookmarkNotFound
	}
	return b, nil
}

// DeleteBookmark removes a bookmark; later writes for it become no-ops.
func (s *BookmarkStore) DeleteBookmark(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bookmarks, id)
}

// SaveMetadata applies the ready transition and merge rules.
func (s *BookmarkStore) SaveMetadata(
	_ context.Context,
	bookmarkID string,
	pageURL string,
	md enrich.Metadata,
	updatedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[bookmarkID]
	if !ok {
		return enrich.ErrBookmarkNotFound
	}
	merged := enrich.MergeFields(enrich.Fields{Title: b.Title, Description: b.Description}, pageURL, md)
	b.Title = merged.Title
	b.Description = merged.Description
	b.Metadata = &md
	b.Status = enrich.StatusReady
	b.Error = ""
	b.UpdatedAt = updatedAt
	s.bookmarks[bookmarkID] = b
	return nil
}

// MarkFailed applies the failed transition.
func (s *BookmarkStore) MarkFailed(_ context.Context, bookmarkID, reason string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[bookmarkID]
	if !ok {
		return enrich.ErrBookmarkNotFound
	}
	b.Status = enrich.StatusFailed
	b.Error = enrich.TruncateError(reason)
	b.UpdatedAt = updatedAt
	s.bookmarks[bookmarkID] = b
	return nil
}

// Ping always succeeds.
func (s *BookmarkStore) Ping(context.Context) error {
	return nil
}
