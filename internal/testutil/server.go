package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/events"
	"github.com/veridoc-ai/veridoc/domain/exports"
	"github.com/veridoc-ai/veridoc/domain/health"
	"github.com/veridoc-ai/veridoc/domain/reviewqueue"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/domain/templates"
	"github.com/veridoc-ai/veridoc/domain/uploads"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/encryption"
)

// TestServer wraps an Echo instance for testing
type TestServer struct {
	Echo   *echo.Echo
	TestDB *TestDB
	DB     bun.IDB
	Config *config.Config
	Log    *slog.Logger

	// Services exposed for direct assertions in tests
	Jobs      *bulkjobs.Service
	Documents *documents.Service
	Tasks     *tasks.Service
	Review    *reviewqueue.Service
	Events    *events.Service
}

// NewTestServer creates a test server with all routes registered.
func NewTestServer(testDB *TestDB) *TestServer {
	return newTestServerWithDB(testDB, testDB.GetDB())
}

// newTestServerWithDB creates a test server with a specific DB connection
func newTestServerWithDB(testDB *TestDB, db bun.IDB) *TestServer {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Use custom error handler to properly handle apperror.Error types
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(log)

	// Register health probe routes
	healthHandler := health.NewHandler(testDB.Pool, testDB.Config)
	e.GET("/health", healthHandler.Health)
	e.GET("/healthz", healthHandler.Healthz)
	e.GET("/ready", healthHandler.Ready)

	// Storage stack. Without MinIO configuration in the test environment
	// the service is disabled and upload endpoints answer 503.
	storageSvc, _ := storage.NewService(testDB.Config, log)
	encryptionSvc := encryption.NewService(log)
	credStore := storage.NewCredentialStore(testDB.DB, encryptionSvc, log)
	gateway := storage.NewGateway(testDB.Config, storageSvc, credStore, log)

	// Task broker
	tasksSvc := tasks.NewService(db, testDB.Config, log)

	// Event bus
	eventsSvc := events.NewService(testDB.Config, log)
	eventsHandler := events.NewHandler(eventsSvc, log)
	events.RegisterRoutes(e, eventsHandler)

	// Documents and extracted fields
	docsRepo := documents.NewRepository(db, log)
	docsSvc := documents.NewService(docsRepo, tasksSvc, storageSvc, log)
	docsHandler := documents.NewHandler(docsSvc, log)
	documents.RegisterRoutes(e, docsHandler)

	// Review queue
	reviewRepo := reviewqueue.NewRepository(db, log)
	reviewSvc := reviewqueue.NewService(reviewRepo, docsSvc, log)
	reviewHandler := reviewqueue.NewHandler(reviewSvc, log)
	reviewqueue.RegisterRoutes(e, reviewHandler)

	// Bulk jobs
	jobsRepo := bulkjobs.NewRepository(db, log)
	jobsSvc := bulkjobs.NewService(jobsRepo, docsRepo, tasksSvc, reviewSvc, gateway, testDB.Config, log)
	jobsHandler := bulkjobs.NewHandler(jobsSvc, log)
	bulkjobs.RegisterRoutes(e, jobsHandler)

	// Mapping templates
	templatesRepo := templates.NewRepository(db, log)
	templatesSvc := templates.NewService(templatesRepo, jobsSvc, docsRepo, log)
	templatesHandler := templates.NewHandler(templatesSvc, log)
	templates.RegisterRoutes(e, templatesHandler)

	// Exports
	assembler := exports.NewAssembler(docsRepo, log)
	exportsSvc := exports.NewService(jobsSvc, templatesSvc, assembler, log)
	exportsHandler := exports.NewHandler(exportsSvc, log)
	exports.RegisterRoutes(e, exportsHandler)

	// Uploads
	uploadsSvc := uploads.NewService(storageSvc, jobsSvc, log)
	uploadsHandler := uploads.NewHandler(uploadsSvc, log)
	uploads.RegisterRoutes(e, uploadsHandler)

	return &TestServer{
		Echo:      e,
		TestDB:    testDB,
		DB:        db,
		Config:    testDB.Config,
		Log:       log,
		Jobs:      jobsSvc,
		Documents: docsSvc,
		Tasks:     tasksSvc,
		Review:    reviewSvc,
		Events:    eventsSvc,
	}
}

// Request performs an HTTP request against the test server
func (s *TestServer) Request(method, path string, opts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)

	// Apply options
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// GET performs a GET request
func (s *TestServer) GET(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (s *TestServer) POST(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request
func (s *TestServer) PUT(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request
func (s *TestServer) DELETE(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request
func (s *TestServer) PATCH(path string, opts ...RequestOption) *httptest.ResponseRecorder {
	return s.Request(http.MethodPatch, path, opts...)
}

// RequestOption modifies an HTTP request
type RequestOption func(*http.Request)

// WithHeader adds a header to the request
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithJSON adds Content-Type: application/json header
func WithJSON() RequestOption {
	return WithHeader("Content-Type", "application/json")
}

// WithBody adds a request body
func WithBody(body string) RequestOption {
	return func(r *http.Request) {
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

// WithJSONBody sets Content-Type to application/json and marshals the body to JSON
func WithJSONBody(body any) RequestOption {
	return func(r *http.Request) {
		data, err := json.Marshal(body)
		if err != nil {
			panic(err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(strings.NewReader(string(data)))
		r.ContentLength = int64(len(data))
	}
}

// MultipartForm represents a multipart form for testing file uploads
type MultipartForm struct {
	body        *bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

// NewMultipartForm creates a new multipart form builder
func NewMultipartForm() *MultipartForm {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	return &MultipartForm{
		body:   body,
		writer: writer,
	}
}

// AddFile adds a file to the multipart form
func (m *MultipartForm) AddFile(fieldName, filename string, content []byte) error {
	part, err := m.writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(content)
	return err
}

// AddField adds a regular field to the multipart form
func (m *MultipartForm) AddField(fieldName, value string) error {
	return m.writer.WriteField(fieldName, value)
}

// Close finalizes the multipart form and returns the content type
func (m *MultipartForm) Close() string {
	m.writer.Close()
	m.contentType = m.writer.FormDataContentType()
	return m.contentType
}

// WithMultipartForm adds a multipart form body to the request
func WithMultipartForm(form *MultipartForm) RequestOption {
	return func(r *http.Request) {
		r.Header.Set("Content-Type", form.contentType)
		r.Body = io.NopCloser(bytes.NewReader(form.body.Bytes()))
		r.ContentLength = int64(form.body.Len())
	}
}
