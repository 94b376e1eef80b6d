package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"time"
)

// HTTPClient is an HTTP-only test client that can hit either:
// - An in-process test server (via httptest)
// - An external server (via real HTTP)
//
// This allows the same tests to run against a locally built binary or a
// deployed instance.
type HTTPClient struct {
	// For in-process testing
	inProcessHandler http.Handler

	// For external server testing
	baseURL    string
	httpClient *http.Client
}

// HTTPResponse wraps both httptest.ResponseRecorder and http.Response
// to provide a unified interface for tests.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// NewHTTPClient creates a new HTTP client.
// If TEST_SERVER_URL env var is set, it uses that for external server testing.
// Otherwise, it requires an in-process handler.
func NewHTTPClient(handler http.Handler) *HTTPClient {
	baseURL := os.Getenv("TEST_SERVER_URL")

	client := &HTTPClient{
		inProcessHandler: handler,
		baseURL:          baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	return client
}

// NewExternalHTTPClient creates a client for external server testing only.
// baseURL should be like "http://localhost:3002"
func NewExternalHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsExternal returns true if this client hits an external server
func (c *HTTPClient) IsExternal() bool {
	return c.baseURL != ""
}

// BaseURL returns the base URL for external servers, or empty for in-process
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Request performs an HTTP request
func (c *HTTPClient) Request(method, path string, opts ...RequestOption) *HTTPResponse {
	if c.IsExternal() {
		return c.externalRequest(method, path, opts...)
	}
	return c.inProcessRequest(method, path, opts...)
}

// inProcessRequest handles requests to in-process test server
func (c *HTTPClient) inProcessRequest(method, path string, opts ...RequestOption) *HTTPResponse {
	req := httptest.NewRequest(method, path, nil)

	// Apply options
	for _, opt := range opts {
		opt(req)
	}

	rec := httptest.NewRecorder()
	c.inProcessHandler.ServeHTTP(rec, req)

	return &HTTPResponse{
		StatusCode: rec.Code,
		Body:       rec.Body.Bytes(),
		Headers:    rec.Header(),
	}
}

// externalRequest handles requests to external server
func (c *HTTPClient) externalRequest(method, path string, opts ...RequestOption) *HTTPResponse {
	// Build full URL
	url := c.baseURL + path

	// Create a temporary request to collect options
	tempReq := httptest.NewRequest(method, path, nil)
	for _, opt := range opts {
		opt(tempReq)
	}

	// Create the real request
	var body io.Reader
	if tempReq.Body != nil {
		bodyBytes, _ := io.ReadAll(tempReq.Body)
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return &HTTPResponse{StatusCode: 0, Body: []byte(err.Error())}
	}

	// Copy headers from temp request
	for k, v := range tempReq.Header {
		req.Header[k] = v
	}

	// Perform request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HTTPResponse{StatusCode: 0, Body: []byte(err.Error())}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return &HTTPResponse{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Headers:    resp.Header,
	}
}

// GET performs a GET request
func (c *HTTPClient) GET(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodGet, path, opts...)
}

// POST performs a POST request
func (c *HTTPClient) POST(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPost, path, opts...)
}

// PUT performs a PUT request
func (c *HTTPClient) PUT(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPut, path, opts...)
}

// DELETE performs a DELETE request
func (c *HTTPClient) DELETE(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodDelete, path, opts...)
}

// PATCH performs a PATCH request
func (c *HTTPClient) PATCH(path string, opts ...RequestOption) *HTTPResponse {
	return c.Request(http.MethodPatch, path, opts...)
}

// JSON unmarshals the response body into v
func (r *HTTPResponse) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the response body as a string
func (r *HTTPResponse) String() string {
	return string(r.Body)
}

// ============================================================================
// API Helper Methods for Creating Test Fixtures via HTTP
// ============================================================================

// CreateJob creates a bulk job via API and returns its ID.
// sourceConfig is the raw source configuration, e.g.
// map[string]any{"type": "folder", "path": "/tmp/docs"}.
func (c *HTTPClient) CreateJob(name, sourceType string, sourceConfig map[string]any) (string, error) {
	resp := c.POST("/api/bulk-jobs",
		WithJSONBody(map[string]any{
			"name":          name,
			"source_type":   sourceType,
			"source_config": sourceConfig,
		}),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to create job: status %d, body: %s", resp.StatusCode, resp.String())
	}

	var result map[string]any
	if err := resp.JSON(&result); err != nil {
		return "", fmt.Errorf("failed to parse job response: %w", err)
	}

	id, ok := result["id"].(string)
	if !ok {
		return "", fmt.Errorf("job response missing id field")
	}

	return id, nil
}

// GetJob fetches a bulk job by ID and returns the decoded body.
func (c *HTTPClient) GetJob(jobID string) (map[string]any, error) {
	resp := c.GET(fmt.Sprintf("/api/bulk-jobs/%s", jobID))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get job: status %d, body: %s", resp.StatusCode, resp.String())
	}

	var result map[string]any
	if err := resp.JSON(&result); err != nil {
		return nil, fmt.Errorf("failed to parse job response: %w", err)
	}

	return result, nil
}

// DeleteJob deletes a bulk job via API.
func (c *HTTPClient) DeleteJob(jobID string) error {
	resp := c.DELETE(fmt.Sprintf("/api/bulk-jobs/%s", jobID))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to delete job: status %d, body: %s", resp.StatusCode, resp.String())
	}

	return nil
}

// CreateTemplate creates a mapping template via API and returns its ID.
func (c *HTTPClient) CreateTemplate(name string, columns []map[string]any) (string, error) {
	resp := c.POST("/api/templates",
		WithJSONBody(map[string]any{
			"name":    name,
			"columns": columns,
		}),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to create template: status %d, body: %s", resp.StatusCode, resp.String())
	}

	var result map[string]any
	if err := resp.JSON(&result); err != nil {
		return "", fmt.Errorf("failed to parse template response: %w", err)
	}

	id, ok := result["id"].(string)
	if !ok {
		return "", fmt.Errorf("template response missing id field")
	}

	return id, nil
}
