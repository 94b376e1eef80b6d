package tasks

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/jobs"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		Extraction: config.ExtractionConfig{
			BaseRetryDelaySec: 60,
			MaxRetryDelaySec:  3600,
		},
		Discovery: config.DiscoveryConfig{
			WorkerBatchSize: 2,
		},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(nil, cfg, log)
}

func TestNewService(t *testing.T) {
	svc := newTestService(t)

	assert.NotNil(t, svc.discovery)
	assert.NotNil(t, svc.extraction)
	assert.Equal(t, 60, svc.baseRetrySec)
	assert.Equal(t, 3600, svc.maxRetrySec)
}

func TestRetryDelay_ExponentialWithCap(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name       string
		retryCount int
		min        time.Duration
		max        time.Duration
	}{
		{"first retry about a minute", 0, 60 * time.Second, 66 * time.Second},
		{"second retry about two minutes", 1, 120 * time.Second, 132 * time.Second},
		{"deep retry capped at an hour", 8, 3600 * time.Second, 3960 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Jitter is random, so sample a few times
			for i := 0; i < 20; i++ {
				delay := svc.RetryDelay(tt.retryCount)
				assert.GreaterOrEqual(t, delay, tt.min)
				assert.LessOrEqual(t, delay, tt.max)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	st := &jobs.Stats{
		Pending:    4,
		Processing: 2,
		Completed:  30,
		Failed:     1,
		Cancelled:  3,
	}

	snap := snapshot(st)

	assert.Equal(t, int64(4), snap.Pending)
	assert.Equal(t, int64(2), snap.Processing)
	assert.Equal(t, int64(30), snap.Completed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(3), snap.Cancelled)
}

func TestQueueMetricsShape(t *testing.T) {
	m := QueueMetrics{
		Discovery:  QueueSnapshot{Pending: 1},
		Extraction: QueueSnapshot{Processing: 5, Completed: 12},
	}

	assert.Equal(t, int64(1), m.Discovery.Pending)
	assert.Equal(t, int64(5), m.Extraction.Processing)
	assert.Equal(t, int64(12), m.Extraction.Completed)
}
