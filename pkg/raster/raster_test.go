package raster

import (
	"context"
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/internal/config"
)

func newTestService(t *testing.T, dpi, workers int) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Extraction.RasterDPI = dpi
	cfg.Extraction.RasterWorkers = workers
	return NewService(cfg, slog.Default())
}

func TestNewServiceDefaults(t *testing.T) {
	s := newTestService(t, 200, 0)
	assert.Equal(t, 200, s.dpi)
	assert.Equal(t, runtime.NumCPU(), s.workers, "zero workers means one per core")

	s = newTestService(t, 150, 4)
	assert.Equal(t, 4, s.workers)
}

func TestPageCountRejectsGarbage(t *testing.T) {
	s := newTestService(t, 200, 1)

	_, err := s.PageCount([]byte("definitely not a pdf"))
	require.Error(t, err)

	_, err = s.PageCount(nil)
	require.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	s := newTestService(t, 200, 1)
	assert.Error(t, s.Validate([]byte("%PDF-1.7 truncated")))
}

func TestRasterizeInvalidPDF(t *testing.T) {
	s := newTestService(t, 200, 1)
	_, err := s.Rasterize(context.Background(), []byte("garbage"), Options{})
	require.Error(t, err)
}

func TestClampRange(t *testing.T) {
	tests := []struct {
		name                string
		first, last, pages  int
		wantFirst, wantLast int
	}{
		{"full document", 0, 0, 10, 1, 10},
		{"explicit window", 6, 10, 20, 6, 10},
		{"last beyond end clamps", 1, 99, 5, 1, 5},
		{"zero first clamps to one", 0, 3, 5, 1, 3},
		{"single page document", 0, 0, 1, 1, 1},
		{"window past end is empty", 7, 9, 5, 7, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := clampRange(tt.first, tt.last, tt.pages)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}
