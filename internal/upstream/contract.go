package upstream

import (
	"fmt"
	"strconv"
	"time"
)

// StatusError captures an HTTP status code from an upstream response.
// Used by the dispatcher to return structured errors that Classify can inspect.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter sets RetryAfter from a Retry-After header value, if present
// and numeric (seconds). Non-numeric or empty values are ignored.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
}
