package bulkjobs

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
)

func TestProcessingConfigNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      ProcessingConfig
		want    ProcessingConfig
		wantErr bool
	}{
		{
			name: "empty mode defaults to once",
			in:   ProcessingConfig{},
			want: ProcessingConfig{Mode: ModeOnce},
		},
		{
			name: "continuous is accepted",
			in:   ProcessingConfig{Mode: ModeContinuous, DiscoveryBatchSize: 250},
			want: ProcessingConfig{Mode: ModeContinuous, DiscoveryBatchSize: 250},
		},
		{
			name:    "unknown mode",
			in:      ProcessingConfig{Mode: "streaming"},
			wantErr: true,
		},
		{
			name:    "negative batch size",
			in:      ProcessingConfig{Mode: ModeOnce, DiscoveryBatchSize: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.normalize()
			if tt.wantErr {
				assertBadRequestErr(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.in)
		})
	}
}

func TestProcessingOptionsNormalize(t *testing.T) {
	tests := []struct {
		name           string
		in             ProcessingOptions
		wantPriority   int
		wantMaxRetries int
		wantErr        bool
	}{
		{
			name:           "zero values get defaults",
			in:             ProcessingOptions{},
			wantPriority:   3,
			wantMaxRetries: 3,
		},
		{
			name:           "explicit values survive",
			in:             ProcessingOptions{Priority: 1, MaxRetries: 5},
			wantPriority:   1,
			wantMaxRetries: 5,
		},
		{
			name:    "priority above range",
			in:      ProcessingOptions{Priority: 6},
			wantErr: true,
		},
		{
			name:    "priority below range",
			in:      ProcessingOptions{Priority: -2},
			wantErr: true,
		},
		{
			name:    "negative max retries",
			in:      ProcessingOptions{MaxRetries: -1},
			wantErr: true,
		},
		{
			name:    "negative parallel workers",
			in:      ProcessingOptions{ParallelWorkers: -4},
			wantErr: true,
		},
		{
			name:    "negative checkpoint interval",
			in:      ProcessingOptions{CheckpointInterval: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.normalize()
			if tt.wantErr {
				assertBadRequestErr(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPriority, tt.in.Priority)
			assert.Equal(t, tt.wantMaxRetries, tt.in.MaxRetries)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusCompleted, StatusFailed, StatusStopped} {
		assert.True(t, (&BulkJob{Status: s}).IsTerminal(), s)
	}
	for _, s := range []string{StatusPending, StatusRunning, StatusPaused} {
		assert.False(t, (&BulkJob{Status: s}).IsTerminal(), s)
	}
}

func TestAcceptsRetries(t *testing.T) {
	for _, s := range []string{StatusRunning, StatusCompleted} {
		assert.True(t, (&BulkJob{Status: s}).AcceptsRetries(), s)
	}
	for _, s := range []string{StatusPending, StatusPaused, StatusFailed, StatusStopped} {
		assert.False(t, (&BulkJob{Status: s}).AcceptsRetries(), s)
	}
}

func TestParseJobSource(t *testing.T) {
	t.Run("type injected from source_type", func(t *testing.T) {
		src, canonical, err := parseJobSource("folder", json.RawMessage(`{"path": "/mnt/docs"}`))
		require.NoError(t, err)
		assert.Equal(t, "folder", string(src.Type))
		assert.Equal(t, "/mnt/docs", src.Path)

		// The stored config must parse standalone.
		var round map[string]any
		require.NoError(t, json.Unmarshal(canonical, &round))
		assert.Equal(t, "folder", round["type"])
	})

	t.Run("config type wins when both present and match", func(t *testing.T) {
		src, _, err := parseJobSource("object_store", json.RawMessage(`{"type": "object_store", "prefix": "inbox/"}`))
		require.NoError(t, err)
		assert.Equal(t, "object_store", string(src.Type))
		assert.Equal(t, "inbox/", src.Prefix)
	})

	t.Run("mismatched types rejected", func(t *testing.T) {
		_, _, err := parseJobSource("folder", json.RawMessage(`{"type": "object_store", "prefix": "inbox/"}`))
		assertBadRequestErr(t, err)
	})

	t.Run("missing source_type and type", func(t *testing.T) {
		_, _, err := parseJobSource("", json.RawMessage(`{"path": "/mnt/docs"}`))
		assertBadRequestErr(t, err)
	})

	t.Run("empty config", func(t *testing.T) {
		_, _, err := parseJobSource("folder", nil)
		assertBadRequestErr(t, err)
	})

	t.Run("config not an object", func(t *testing.T) {
		_, _, err := parseJobSource("folder", json.RawMessage(`["/mnt/docs"]`))
		assertBadRequestErr(t, err)
	})

	t.Run("unknown source type", func(t *testing.T) {
		_, _, err := parseJobSource("ftp", json.RawMessage(`{"path": "/mnt/docs"}`))
		assertBadRequestErr(t, err)
	})
}

func TestValidJobStatus(t *testing.T) {
	for _, s := range []string{StatusPending, StatusRunning, StatusPaused,
		StatusCompleted, StatusFailed, StatusStopped} {
		assert.True(t, validJobStatus(s), s)
	}
	assert.False(t, validJobStatus("archived"))
	assert.False(t, validJobStatus(""))
	assert.False(t, validJobStatus("RUNNING"))
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// invalid-input paths return before the handler touches the service, so
// a nil service is fine here.
func newValidationHandler() *Handler {
	return NewHandler(nil, newTestLogger())
}

func requestContext(t *testing.T, method, target string, body io.Reader, names, values []string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func assertBadRequestErr(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok, "expected *apperror.Error, got %T", err)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
}

func TestListRejectsBadQuery(t *testing.T) {
	h := newValidationHandler()

	tests := []struct {
		name  string
		query string
	}{
		{"unknown status", "status=archived"},
		{"negative skip", "skip=-1"},
		{"non-numeric skip", "skip=ten"},
		{"zero limit", "limit=0"},
		{"oversized limit", "limit=501"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := requestContext(t, http.MethodGet, "/api/bulk-jobs?"+tt.query, nil, nil, nil)
			assertBadRequestErr(t, h.List(c))
		})
	}
}

func TestJobRoutesRejectInvalidID(t *testing.T) {
	h := newValidationHandler()

	tests := []struct {
		name    string
		handler func(echo.Context) error
	}{
		{"get", h.Get},
		{"update", h.Update},
		{"delete", h.Delete},
		{"start", h.Start},
		{"pause", h.Pause},
		{"resume", h.Resume},
		{"stop", h.Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := requestContext(t, http.MethodPost, "/api/bulk-jobs/nope", nil,
				[]string{"id"}, []string{"nope"})
			assertBadRequestErr(t, tt.handler(c))
		})
	}
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	h := newValidationHandler()

	c, _ := requestContext(t, http.MethodPost, "/api/bulk-jobs",
		strings.NewReader(`{"name":`), nil, nil)

	assertBadRequestErr(t, h.Create(c))
}

func TestUpdateRejectsMalformedBody(t *testing.T) {
	h := newValidationHandler()
	jobID := "3f6b51a8-9f1e-4f6a-b5d7-2a66c01e9340"

	c, _ := requestContext(t, http.MethodPut, "/api/bulk-jobs/"+jobID,
		strings.NewReader(`{"name": 7`), []string{"id"}, []string{jobID})

	assertBadRequestErr(t, h.Update(c))
}

func TestEstimateRejectsMalformedBody(t *testing.T) {
	h := newValidationHandler()

	c, _ := requestContext(t, http.MethodPost, "/api/estimate",
		strings.NewReader(`{"source_type":`), nil, nil)

	assertBadRequestErr(t, h.Estimate(c))
}
