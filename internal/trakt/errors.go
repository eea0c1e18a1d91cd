package trakt

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrNotConfigured = errors.New("trakt client ID is not configured")
	ErrAuth          = errors.New("trakt authorization failed")
	ErrRateLimited   = errors.New("trakt API rate limited")
	ErrNetwork       = errors.New("trakt API unreachable")
	ErrNotFound      = errors.New("trakt list not found")
	ErrAPIError      = errors.New("trakt API error")

	ErrDevicePending  = errors.New("authorization pending")
	ErrDeviceSlowDown = errors.New("polling too fast")
	ErrDeviceInvalid  = errors.New("invalid device code")
	ErrDeviceUsed     = errors.New("device code already used")
	ErrDeviceExpired  = errors.New("device code expired")
	ErrDeviceDenied   = errors.New("user denied authorization")
)

// RateLimitError is returned on HTTP 429. The caller should not retry within
// the same cycle.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrRateLimited, e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

func newRateLimitError(h http.Header) *RateLimitError {
	e := &RateLimitError{}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// statusError maps a non-2xx response status to the error taxonomy.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return newRateLimitError(resp.Header)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrNetwork, resp.Status)
	default:
		return fmt.Errorf("%w: %s", ErrAPIError, resp.Status)
	}
}
