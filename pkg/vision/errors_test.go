package vision

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), true},
		{"already classified", &TransientError{Err: errors.New("x")}, true},
		{"genai 429", genai.APIError{Code: 429, Message: "quota"}, true},
		{"genai 503", genai.APIError{Code: 503, Message: "unavailable"}, true},
		{"genai 400", genai.APIError{Code: 400, Message: "bad request"}, false},
		{"genai 404", genai.APIError{Code: 404, Message: "model not found"}, false},
		{"rate limit message", errors.New("request failed: rate limit exceeded"), true},
		{"overloaded message", errors.New("api error: overloaded_error"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"schema violation is permanent", errors.New("response is not valid JSON"), false},
		{"plain failure is permanent", errors.New("invalid image payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	// retryable errors get wrapped exactly once
	err := Classify(genai.APIError{Code: 500, Message: "internal"})
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Same(t, err, Classify(err))

	// permanent errors pass through untouched
	permanent := errors.New("invalid request")
	assert.Same(t, permanent, Classify(permanent))

	assert.NoError(t, Classify(nil))
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := genai.APIError{Code: 429, Message: "quota"}
	err := Classify(error(inner))

	var apiErr genai.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
}
