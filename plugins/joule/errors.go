package joule

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/supergoudvis116/joule-connector/internal/oauth"
	"github.com/supergoudvis116/joule-connector/internal/rate"
)

// ErrAPI is the root of every error returned by the Joule client.
var ErrAPI = errors.New("joule api error")

var (
	ErrAuth       = fmt.Errorf("%w: authentication failed", ErrAPI)
	ErrConnection = fmt.Errorf("%w: connection failed", ErrAPI)
	ErrResults    = fmt.Errorf("%w: unexpected response", ErrAPI)
	ErrTimeout    = fmt.Errorf("%w: request timed out", ErrAPI)
	ErrRateLimit  = fmt.Errorf("%w: rate limited", ErrAPI)
)

// ErrUpdateFailed wraps the cause of a failed coordinator poll.
var ErrUpdateFailed = errors.New("joule update failed")

var (
	ErrNotFound    = errors.New("thermostat not found")
	ErrUnsupported = errors.New("not supported")
)

// HTTPStatusError is returned for non-2xx API responses.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("joule api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func (e HTTPStatusError) Unwrap() error {
	if e.Status == 401 || e.Status == 403 {
		return ErrAuth
	}
	return ErrAPI
}

// ContentTypeError is returned when a response body is not JSON.
type ContentTypeError struct {
	ContentType string
	Body        string
}

func (e ContentTypeError) Error() string {
	return fmt.Sprintf("unexpected content type %q from joule api: %s", e.ContentType, truncate(e.Body, 200))
}

func (e ContentTypeError) Unwrap() error {
	return ErrResults
}

// classify maps transport and session failures onto the client error family.
// Errors already in the family pass through unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrAPI) {
		return err
	}

	var limited rate.RateLimitError
	if errors.As(err, &limited) {
		return fmt.Errorf("%w: %w", ErrRateLimit, err)
	}
	if errors.Is(err, oauth.ErrInvalidCredentials) {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return fmt.Errorf("%w: %w", ErrAPI, err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
