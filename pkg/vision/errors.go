package vision

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"
)

// ErrNotConfigured is returned when no vision provider is configured.
var ErrNotConfigured = errors.New("vision: no provider configured")

// TransientError marks a failure worth retrying through the task broker:
// rate limits, provider 5xx, network faults, timeouts. Everything else is
// permanent and fails the document without further attempts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Classify wraps retryable provider failures in *TransientError and returns
// everything else unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	if IsTransient(err) {
		return &TransientError{Err: err}
	}
	return err
}

// IsTransient reports whether the error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if status, ok := statusCode(err); ok {
		return status == http.StatusTooManyRequests ||
			status == http.StatusRequestTimeout ||
			status >= 500
	}

	// wrapped transport faults lose their type; fall back to message markers
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "overloaded", "unavailable", "connection reset",
		"connection refused", "timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func statusCode(err error) (int, bool) {
	var anthropicErr *anthropicsdk.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code, true
	}
	var genaiPtrErr *genai.APIError
	if errors.As(err, &genaiPtrErr) {
		return genaiPtrErr.Code, true
	}
	return 0, false
}
