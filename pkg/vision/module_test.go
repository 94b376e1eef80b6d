package vision

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopClient(t *testing.T) {
	client := NewNoopClient()

	_, _, err := client.Generate(context.Background(), "", "prompt", nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, "noop", client.Name())
}

func TestNewNoopService(t *testing.T) {
	svc := NewNoopService(slog.Default())

	assert.False(t, svc.IsEnabled())
	assert.Equal(t, "noop", svc.Provider())

	_, err := svc.Generate(context.Background(), Request{Prompt: "read this page"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)

	// not-configured is permanent, never retried
	var te *TransientError
	assert.False(t, errors.As(err, &te))
}
