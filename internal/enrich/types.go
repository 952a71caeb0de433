// Package enrich defines the bookmark metadata types shared across subsystems
// and the pure steps of the enrichment pipeline (resolution, projection, merge).
package enrich

import (
	"time"
)

// Status represents the metadata lifecycle state of a bookmark.
type Status string

// Metadata status values persisted on the bookmark row.
const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

// MaxErrorLength bounds the failure reason stored on a bookmark.
const MaxErrorLength = 500

// Metadata is the structured record stored in the bookmark's metadata column.
// Empty strings mean the field was not found on the page.
type Metadata struct {
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	Image        string    `json:"image,omitempty"`
	SiteName     string    `json:"siteName,omitempty"`
	CanonicalURL string    `json:"canonicalUrl,omitempty"`
	OGURL        string    `json:"ogUrl,omitempty"`
	Favicon      string    `json:"favicon,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// Message is one unit of work delivered by the triggering system.
type Message struct {
	BookmarkID string `json:"bookmarkId"`
	URL        string `json:"url"`
	// Attempt is the 1-based delivery count reported by the transport.
	Attempt int `json:"-"`
}

// Page is the decoded HTML document returned by a Fetcher.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	HTML        string
	Bytes       int
	Truncated   bool
	Duration    time.Duration
}

// Fields are the user-owned bookmark columns the merge rules may overwrite.
type Fields struct {
	Title       string
	Description string
}

// Outcome is the per-message result reported back to the delivery system.
type Outcome int

// Outcome values.
const (
	// OutcomeReady means metadata was persisted; the message is consumed.
	OutcomeReady Outcome = iota
	// OutcomeRetry means the attempt failed below the ceiling; redeliver.
	OutcomeRetry
	// OutcomeFailed means the bookmark was marked failed; the delivery is
	// still reported as failed so the transport can dead-letter it.
	OutcomeFailed
	// OutcomeDiscarded means the message was malformed and is dropped.
	OutcomeDiscarded
)

// String returns the metric/log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeRetry:
		return "retry"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Acknowledge reports whether the transport should consume the message.
func (o Outcome) Acknowledge() bool {
	return o == OutcomeReady || o == OutcomeDiscarded
}

// ResultEvent is published after a terminal metadata transition.
type ResultEvent struct {
	ID         string    `json:"id"`
	BookmarkID string    `json:"bookmark_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
