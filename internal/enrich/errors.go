package enrich

import (
	"errors"
	"fmt"
)

var (
	// ErrNotExtractable marks a response that exists but is not HTML.
	ErrNotExtractable = errors.New("no metadata extracted")
	// ErrTimeout marks a fetch that exceeded its deadline.
	ErrTimeout = errors.New("fetch timed out")
	// ErrInvalidMessage marks a delivery that can never be processed.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrBookmarkNotFound is returned by stores when the target row is gone.
	ErrBookmarkNotFound = errors.New("bookmark not found")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("HTTP %s", e.Status)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// FailureReason renders err as the text stored on a failed bookmark.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		msg = "metadata extraction failed"
	}
	return TruncateError(msg)
}

// TruncateError cuts msg to MaxErrorLength characters.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	runes := []rune(msg)
	if len(runes) <= MaxErrorLength {
		return msg
	}
	return string(runes[:MaxErrorLength])
}
