package watchmode

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

// APIError is a non-2xx answer from the provider. 5xx and 429 are
// transient; every other status is permanent.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("watchmode %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("watchmode %s: status %d", e.Op, e.StatusCode)
}

func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) Unwrap() error {
	if e.Transient() {
		return apperrors.ErrTransientAPI
	}
	return apperrors.ErrPermanentAPI
}

// RetryDelay asks the retry loop for a longer wait after a 429.
func (e *APIError) RetryDelay() time.Duration {
	return e.retryAfter
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date, falling back to def.
func parseRetryAfter(header string, now time.Time, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return def
}
