package adapters

import (
	"errors"
	"fmt"
	"net/http"
)

// ConnectivityError is returned instead of attempting a call while the
// service is offline.
type ConnectivityError struct {
	Service string
	Op      string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s is offline: %s skipped", e.Service, e.Op)
}

// IsOffline reports whether err is, or wraps, a ConnectivityError.
func IsOffline(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// HTTPStatusError carries a non-2xx response from an external service.
type HTTPStatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

func (e *HTTPStatusError) retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}
