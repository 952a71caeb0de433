package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecodeMessage parses a trigger payload and attaches the delivery count.
func DecodeMessage(data []byte, attempt int) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: decode body: %v", ErrInvalidMessage, err)
	}
	msg.Attempt = ClampAttempt(attempt)
	return msg, nil
}

// Validate checks the fields a message must carry to be processed.
func (m Message) Validate() error {
	if strings.TrimSpace(m.BookmarkID) == "" || strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("%w: missing bookmarkId or url", ErrInvalidMessage)
	}
	if _, err := uuid.Parse(m.BookmarkID); err != nil {
		return fmt.Errorf("%w: bookmarkId: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ClampAttempt treats the transport-reported delivery count as untrusted.
func ClampAttempt(attempt int) int {
	if attempt < 1 {
		return 1
	}
	return attempt
}

// maxRetryDelay caps RetryDelay.
const maxRetryDelay = 5 * time.Minute

// RetryDelay is how long to hold back the redelivery that follows a failed
// attempt: base doubled per attempt, capped at five minutes. A non-positive
// base means no delay.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < ClampAttempt(attempt); i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(d, maxRetryDelay)
}
