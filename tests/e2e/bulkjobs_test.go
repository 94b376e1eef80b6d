package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/veridoc-ai/veridoc/internal/testutil"
)

// BulkJobsTestSuite tests the bulk job API end to end
type BulkJobsTestSuite struct {
	testutil.BaseSuite
}

func TestBulkJobsSuite(t *testing.T) {
	suite.Run(t, new(BulkJobsTestSuite))
}

func (s *BulkJobsTestSuite) SetupSuite() {
	s.SetDBSuffix("bulkjobs")
	s.BaseSuite.SetupSuite()
}

// makeSourceDir creates a temp folder with the given file names and
// returns its path.
func (s *BulkJobsTestSuite) makeSourceDir(names ...string) string {
	dir, err := os.MkdirTemp("", "veridoc-e2e-*")
	s.Require().NoError(err)
	s.T().Cleanup(func() { os.RemoveAll(dir) })

	for _, name := range names {
		err := os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4 stub"), 0o644)
		s.Require().NoError(err)
	}
	return dir
}

func (s *BulkJobsTestSuite) createFolderJob(name, dir string) string {
	id, err := s.Client.CreateJob(name, "folder", map[string]any{
		"path":       dir,
		"file_types": []string{"pdf"},
	})
	s.Require().NoError(err)
	return id
}

func (s *BulkJobsTestSuite) TestCreateJob_StartsPending() {
	dir := s.makeSourceDir("a.pdf")

	resp := s.Client.POST("/api/bulk-jobs",
		testutil.WithJSONBody(map[string]any{
			"name":          "Create starts pending",
			"source_type":   "folder",
			"source_config": map[string]any{"path": dir},
		}),
	)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var job map[string]any
	s.Require().NoError(resp.JSON(&job))
	s.Equal("pending", job["status"])
	s.Equal(float64(0), job["total_documents"])
	s.Equal(float64(0), job["processed_documents"])
	s.Nil(job["started_at"])
}

func (s *BulkJobsTestSuite) TestCreateJob_RejectsMissingName() {
	resp := s.Client.POST("/api/bulk-jobs",
		testutil.WithJSONBody(map[string]any{
			"name":          "",
			"source_type":   "folder",
			"source_config": map[string]any{"path": "/tmp"},
		}),
	)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestCreateJob_RejectsUnknownSourceType() {
	resp := s.Client.POST("/api/bulk-jobs",
		testutil.WithJSONBody(map[string]any{
			"name":          "Bad source",
			"source_type":   "carrier_pigeon",
			"source_config": map[string]any{"path": "/tmp"},
		}),
	)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestGetJob_InvalidAndMissing() {
	resp := s.Client.GET("/api/bulk-jobs/not-a-uuid")
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.Client.GET("/api/bulk-jobs/00000000-0000-0000-0000-000000000000")
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestListJobs_StatusFilter() {
	dir := s.makeSourceDir("a.pdf")
	id := s.createFolderJob("Listable job", dir)

	resp := s.Client.GET("/api/bulk-jobs?status=pending&limit=500")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var result struct {
		Jobs  []map[string]any `json:"jobs"`
		Total int              `json:"total"`
	}
	s.Require().NoError(resp.JSON(&result))
	s.GreaterOrEqual(result.Total, 1)

	found := false
	for _, j := range result.Jobs {
		s.Equal("pending", j["status"])
		if j["id"] == id {
			found = true
		}
	}
	s.True(found, "created job should appear in the pending listing")

	resp = s.Client.GET("/api/bulk-jobs?status=sideways")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestUpdateJob_Name() {
	dir := s.makeSourceDir("a.pdf")
	id := s.createFolderJob("Before rename", dir)

	resp := s.Client.PUT("/api/bulk-jobs/"+id,
		testutil.WithJSONBody(map[string]any{"name": "After rename"}),
	)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var job map[string]any
	s.Require().NoError(resp.JSON(&job))
	s.Equal("After rename", job["name"])
}

func (s *BulkJobsTestSuite) TestDeleteJob() {
	dir := s.makeSourceDir("a.pdf")
	id := s.createFolderJob("Deletable job", dir)

	resp := s.Client.DELETE("/api/bulk-jobs/" + id)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.Client.GET("/api/bulk-jobs/" + id)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestStart_TransitionsToRunning() {
	dir := s.makeSourceDir("a.pdf", "b.pdf")
	id := s.createFolderJob("Startable job", dir)

	resp := s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/start", id))
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var job map[string]any
	s.Require().NoError(resp.JSON(&job))
	s.Equal("running", job["status"])
	s.NotNil(job["started_at"])

	// A second start finds the job already running
	resp = s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/start", id))
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestPause_RequiresRunning() {
	dir := s.makeSourceDir("a.pdf")
	id := s.createFolderJob("Pending job", dir)

	resp := s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/pause", id))
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestPauseResumeStop_Lifecycle() {
	dir := s.makeSourceDir("a.pdf")
	id := s.createFolderJob("Lifecycle job", dir)

	resp := s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/start", id))
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp = s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/pause", id))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var job map[string]any
	s.Require().NoError(resp.JSON(&job))
	s.Equal("paused", job["status"])

	resp = s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/resume", id))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().NoError(resp.JSON(&job))
	s.Equal("running", job["status"])

	resp = s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/stop", id))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().NoError(resp.JSON(&job))
	s.Equal("stopped", job["status"])

	// Stopped is terminal: no resume
	resp = s.Client.POST(fmt.Sprintf("/api/bulk-jobs/%s/resume", id))
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *BulkJobsTestSuite) TestEstimate_CountsMatchingFiles() {
	dir := s.makeSourceDir("a.pdf", "b.pdf", "c.pdf", "notes.txt")

	sourceConfig, _ := json.Marshal(map[string]any{
		"path":       dir,
		"file_types": []string{"pdf"},
	})
	resp := s.Client.POST("/api/estimate",
		testutil.WithJSONBody(map[string]any{
			"source_type":   "folder",
			"source_config": json.RawMessage(sourceConfig),
		}),
	)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var est struct {
		EstimatedDocuments int    `json:"estimated_documents"`
		Message            string `json:"message"`
	}
	s.Require().NoError(resp.JSON(&est))
	s.Equal(3, est.EstimatedDocuments)
	s.Equal("3 documents", est.Message)
}

func (s *BulkJobsTestSuite) TestEstimate_MissingFolder() {
	resp := s.Client.POST("/api/estimate",
		testutil.WithJSONBody(map[string]any{
			"source_type":   "folder",
			"source_config": map[string]any{"path": "/nonexistent/veridoc-e2e"},
		}),
	)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}
