package enrich

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves a page and returns its decoded HTML.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Store persists metadata transitions on the bookmark row.
// Both writes return ErrBookmarkNotFound when the row no longer exists.
type Store interface {
	SaveMetadata(ctx context.Context, bookmarkID, pageURL string, md Metadata, updatedAt time.Time) error
	MarkFailed(ctx context.Context, bookmarkID, reason string, updatedAt time.Time) error
}

// Queue hands out deliveries and takes back their outcome.
type Queue interface {
	Dequeue(ctx context.Context) (Message, error)
	Settle(ctx context.Context, msg Message, outcome Outcome) error
}

// DeliveryHandler processes one raw broker delivery and reports how it
// should be settled.
type DeliveryHandler interface {
	HandleDelivery(ctx context.Context, data []byte, attempt int) Outcome
}

// Publisher pushes result events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher computes digests for snapshot paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs.
type IDGenerator interface {
	NewID() (string, error)
}
