package uploads

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assertBadRequestErr(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := err.(*apperror.Error)
	require.True(t, ok, "expected *apperror.Error, got %T", err)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
}

func TestSessionPrefix(t *testing.T) {
	assert.Equal(t, "sess-1", sessionPrefix("sess-1", "ignored/path"))
	assert.Equal(t, "sess-1", sessionPrefix(" sess-1 ", ""))
	assert.Equal(t, "sess-1", sessionPrefix("/sess-1/", ""))
	assert.Equal(t, "uploads/sess-2", sessionPrefix("", "/uploads/sess-2/"))
	assert.Equal(t, "", sessionPrefix("", ""))
	assert.Equal(t, "", sessionPrefix("  ", "  "))
}

func TestCreateJobWithFiles_Validation(t *testing.T) {
	// Validation runs before the service touches storage or the jobs
	// service, so zero-value dependencies are fine here.
	s := &Service{log: newTestLogger()}

	_, err := s.CreateJobWithFiles(context.Background(), CreateJobWithFilesRequest{
		SessionID: "sess-1",
	})
	assertBadRequestErr(t, err)

	_, err = s.CreateJobWithFiles(context.Background(), CreateJobWithFilesRequest{
		JobName: "August statements",
	})
	assertBadRequestErr(t, err)
}

func TestUploadOne_RejectsOversizedFile(t *testing.T) {
	s := &Service{log: newTestLogger()}
	fh := &multipart.FileHeader{Filename: "big.pdf", Size: MaxFileSize + 1}

	out := s.uploadOne(context.Background(), "sess-1", fh)
	assert.Equal(t, "failed", out.Status)
	assert.Contains(t, out.Error, "file size exceeds")
	assert.Equal(t, "big.pdf", out.OriginalName)
}

func TestUploadOne_RejectsUnsupportedType(t *testing.T) {
	s := &Service{log: newTestLogger()}
	fh := &multipart.FileHeader{Filename: "notes.exe", Size: 10}

	out := s.uploadOne(context.Background(), "sess-1", fh)
	assert.Equal(t, "failed", out.Status)
	assert.Equal(t, "unsupported file type", out.Error)
}

func TestUploadFilesHandler_RejectsNonMultipart(t *testing.T) {
	h := NewHandler(nil, newTestLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/upload-files", strings.NewReader(`{"not":"multipart"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assertBadRequestErr(t, h.UploadFiles(c))
}

func TestUploadFilesHandler_RequiresFiles(t *testing.T) {
	h := NewHandler(nil, newTestLogger())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("session_id", "sess-1"))
	require.NoError(t, mw.Close())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/upload-files", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assertBadRequestErr(t, h.UploadFiles(c))
}

func TestCreateJobHandler_RejectsMalformedBody(t *testing.T) {
	h := NewHandler(nil, newTestLogger())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/create-job-with-files", strings.NewReader(`{"jobName": 42`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	assertBadRequestErr(t, h.CreateJobWithFiles(c))
}
