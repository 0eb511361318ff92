// Package backend holds the error taxonomy and retry policy shared by the
// transcription and rewrite backends.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error kinds. Backends wrap one of these so callers can match with errors.Is.
var (
	ErrAuth        = errors.New("authentication failed")
	ErrRateLimited = errors.New("rate limited")
	ErrNetwork     = errors.New("network error")
	ErrInvalid     = errors.New("invalid response")
	ErrUnavailable = errors.New("backend unavailable")
)

// maxErrorBody caps how much of an error response body is kept in messages.
const maxErrorBody = 512

// CheckResponse maps a non-2xx HTTP response to an error kind.
// It returns nil for 2xx responses and never closes the body.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(snippet))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrAuth, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", ErrRateLimited, resp.StatusCode, detail)
	case resp.StatusCode >= 500:
		// Server-side failures are treated like transport failures: transient.
		return fmt.Errorf("%w: HTTP %d: %s", ErrNetwork, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvalid, resp.StatusCode, detail)
	}
}

// Transport wraps an error returned by http.Client.Do as ErrNetwork.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// Retryable reports whether err is a transient failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork)
}

// Kind returns a short category name for err, used in logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
