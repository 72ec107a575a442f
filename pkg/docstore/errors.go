package docstore

import (
	"errors"
	"fmt"
	"time"
)

// ClientError is raised by the backend client for failed calls. Failed calls
// still consume request units, reported in RequestCharge.
type ClientError struct {
	StatusCode    int
	RequestCharge float64
	RetryAfter    time.Duration
	Message       string
	ActivityID    string
}

func (e *ClientError) Error() string {
	if e.ActivityID == "" {
		return fmt.Sprintf("docstore: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("docstore: status %d: %s (activity %s)", e.StatusCode, e.Message, e.ActivityID)
}

// AsClientError extracts the backend client error from err's chain.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
