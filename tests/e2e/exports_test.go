package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/internal/testutil"
)

// ExportsTestSuite tests the CSV/Excel export endpoints end to end
type ExportsTestSuite struct {
	testutil.BaseSuite
}

func TestExportsSuite(t *testing.T) {
	suite.Run(t, new(ExportsTestSuite))
}

func (s *ExportsTestSuite) SetupSuite() {
	s.SetDBSuffix("exports")
	s.BaseSuite.SetupSuite()
}

func (s *ExportsTestSuite) SetupTest() {
	s.BaseSuite.SetupTest()
	if s.Server == nil {
		s.T().Skip("requires in-process server for field seeding")
	}
}

// seedCompletedDocument creates a job with one completed document
// carrying the given field values.
func (s *ExportsTestSuite) seedCompletedDocument(jobName string, fields map[string]string) string {
	jobID, err := s.Client.CreateJob(jobName, "folder", map[string]any{"path": "/tmp"})
	s.Require().NoError(err)

	docID := uuid.NewString()
	_, err = s.Server.DB.NewInsert().Model(&documents.Document{
		ID:         docID,
		JobID:      jobID,
		SourcePath: "/tmp/done.pdf",
		Filename:   "done.pdf",
		Status:     documents.StatusCompleted,
	}).Exec(s.Ctx)
	s.Require().NoError(err)

	order := 0
	for name, value := range fields {
		v := value
		_, err = s.Server.DB.NewInsert().Model(&documents.ExtractedField{
			ID:         uuid.NewString(),
			JobID:      jobID,
			DocumentID: docID,
			FieldName:  name,
			FieldValue: &v,
			PageNumber: 1,
			FieldOrder: order,
			Confidence: 0.9,
		}).Exec(s.Ctx)
		s.Require().NoError(err)
		order++
	}
	return jobID
}

func (s *ExportsTestSuite) TestFieldCSV() {
	jobID := s.seedCompletedDocument("CSV export", map[string]string{
		"nama_lengkap": "Budi Santoso",
	})

	resp := s.Client.GET(fmt.Sprintf("/api/bulk-jobs/%s/export/csv", jobID))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Contains(resp.Headers.Get("Content-Type"), "csv")
	s.Contains(resp.Headers.Get("Content-Disposition"), "attachment")

	body := string(resp.Body)
	s.Contains(body, "nama_lengkap")
	s.Contains(body, "Budi Santoso")
}

func (s *ExportsTestSuite) TestExcelFormats() {
	jobID := s.seedCompletedDocument("Excel export", map[string]string{
		"alamat": "Jl. Sudirman 1",
	})

	for _, format := range []string{"summary", "pivoted"} {
		resp := s.Client.GET(fmt.Sprintf("/api/bulk-jobs/%s/export/excel?format=%s", jobID, format))
		s.Require().Equal(http.StatusOK, resp.StatusCode, "format %s", format)
		s.Contains(resp.Headers.Get("Content-Type"), "spreadsheet")
	}

	resp := s.Client.GET(fmt.Sprintf("/api/bulk-jobs/%s/export/excel?format=sideways", jobID))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ExportsTestSuite) TestPreview() {
	jobID := s.seedCompletedDocument("Preview export", map[string]string{
		"nomor_rekening": "1234567890",
	})

	resp := s.Client.GET(fmt.Sprintf("/api/bulk-jobs/%s/export/preview?limit=5", jobID))
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var preview struct {
		Headers   []string            `json:"headers"`
		Rows      []map[string]string `json:"rows"`
		TotalRows int                 `json:"total_rows"`
	}
	s.Require().NoError(resp.JSON(&preview))
	s.Contains(preview.Headers, "nomor_rekening")
	s.Require().Len(preview.Rows, 1)
	s.Equal("1234567890", preview.Rows[0]["nomor_rekening"])
}

func (s *ExportsTestSuite) TestTemplateExport_AppliesTransforms() {
	jobID := s.seedCompletedDocument("Template export", map[string]string{
		"nilai_pasar": "Rp 1.500 Jutaan",
	})

	templateID, err := s.Client.CreateTemplate("Valuation columns", []map[string]any{
		{
			"external_column_name": "Market Value",
			"search_keywords":      []string{"nilai"},
			"data_type":            "currency",
			"post_process_type":    "strip_currency_unit",
		},
	})
	s.Require().NoError(err)

	resp := s.Client.POST(fmt.Sprintf("/api/templates/export/%s?template_id=%s", jobID, templateID))
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	lines := strings.Split(strings.TrimSpace(string(resp.Body)), "\n")
	s.Require().Len(lines, 2)
	s.Contains(lines[0], "Market Value")
	s.Contains(lines[1], "Rp 1.500")
	s.NotContains(lines[1], "Jutaan")
}

func (s *ExportsTestSuite) TestTemplateExport_RequiresTemplateID() {
	jobID := s.seedCompletedDocument("Template export no id", nil)

	resp := s.Client.POST(fmt.Sprintf("/api/templates/export/%s", jobID))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}
