package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrDisallowed is returned when the politeness policy denies the start URL.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// ErrorKind classifies fetch failures for retry decisions.
type ErrorKind int

// Error kinds.
const (
	ErrorTransient ErrorKind = iota + 1
	ErrorPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransient:
		return "transient"
	case ErrorPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// FetchError is a page-level fetch failure.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       ErrorKind
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d (%s)", e.URL, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %v (%s)", e.URL, e.Err, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CheckStatus returns nil for 2xx and a classified FetchError otherwise.
// 5xx, 408 and 429 are transient; other statuses are permanent.
func CheckStatus(rawURL string, code int) error {
	if code >= 200 && code < 300 {
		return nil
	}
	kind := ErrorPermanent
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		kind = ErrorTransient
	}
	return &FetchError{
		URL:        rawURL,
		StatusCode: code,
		Kind:       kind,
		Err:        fmt.Errorf("unexpected status %d", code),
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind != 0 {
		return fetchErr.Kind == ErrorTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrDisallowed):
		return false
	}
	// Anything left is a connection-level failure.
	return true
}
