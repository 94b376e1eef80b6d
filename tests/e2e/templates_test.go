package e2e

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/internal/testutil"
)

// TemplatesTestSuite tests the mapping template API end to end
type TemplatesTestSuite struct {
	testutil.BaseSuite
}

func TestTemplatesSuite(t *testing.T) {
	suite.Run(t, new(TemplatesTestSuite))
}

func (s *TemplatesTestSuite) SetupSuite() {
	s.SetDBSuffix("templates")
	s.BaseSuite.SetupSuite()
}

func textColumn(name string, keywords ...string) map[string]any {
	return map[string]any{
		"external_column_name": name,
		"search_keywords":      keywords,
		"data_type":            "text",
	}
}

func (s *TemplatesTestSuite) TestCreateTemplate() {
	resp := s.Client.POST("/api/templates",
		testutil.WithJSONBody(map[string]any{
			"name":        "KTP basic",
			"description": "National ID card columns",
			"columns": []map[string]any{
				textColumn("Full Name", "nama", "name"),
				textColumn("Address", "alamat", "address"),
			},
		}),
	)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var tmpl map[string]any
	s.Require().NoError(resp.JSON(&tmpl))
	s.NotEmpty(tmpl["id"])
	s.Equal("KTP basic", tmpl["name"])
	s.Len(tmpl["columns"], 2)
}

func (s *TemplatesTestSuite) TestCreateTemplate_DuplicateName() {
	body := map[string]any{
		"name":    "Duplicate name",
		"columns": []map[string]any{textColumn("Col", "kw")},
	}

	resp := s.Client.POST("/api/templates", testutil.WithJSONBody(body))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	resp = s.Client.POST("/api/templates", testutil.WithJSONBody(body))
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *TemplatesTestSuite) TestCreateTemplate_RejectsEmptyColumns() {
	resp := s.Client.POST("/api/templates",
		testutil.WithJSONBody(map[string]any{
			"name":    "No columns",
			"columns": []map[string]any{},
		}),
	)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *TemplatesTestSuite) TestListTemplates_DocumentTypeFilter() {
	resp := s.Client.POST("/api/templates",
		testutil.WithJSONBody(map[string]any{
			"name":          "Bank statement columns",
			"document_type": "bank_statement",
			"columns":       []map[string]any{textColumn("Account", "account")},
		}),
	)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	resp = s.Client.GET("/api/templates?document_type=bank_statement")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var templates []map[string]any
	s.Require().NoError(resp.JSON(&templates))
	s.Require().NotEmpty(templates)
	for _, tmpl := range templates {
		s.Equal("bank_statement", tmpl["document_type"])
	}
}

func (s *TemplatesTestSuite) TestDeleteTemplate() {
	id, err := s.Client.CreateTemplate("Short-lived template", []map[string]any{
		textColumn("Col", "kw"),
	})
	s.Require().NoError(err)

	resp := s.Client.DELETE("/api/templates/" + id)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.Client.GET("/api/templates/" + id)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *TemplatesTestSuite) TestApplyTemplate_MapsFields() {
	if s.Server == nil {
		s.T().Skip("requires in-process server for field seeding")
	}
	ctx := s.Ctx

	jobID, err := s.Client.CreateJob("Apply target", "folder", map[string]any{"path": "/tmp"})
	s.Require().NoError(err)

	docID := uuid.NewString()
	_, err = s.Server.DB.NewInsert().Model(&documents.Document{
		ID:         docID,
		JobID:      jobID,
		SourcePath: "/tmp/a.pdf",
		Filename:   "a.pdf",
		Status:     documents.StatusCompleted,
	}).Exec(ctx)
	s.Require().NoError(err)

	value := "Budi Santoso"
	_, err = s.Server.DB.NewInsert().Model(&documents.ExtractedField{
		ID:         uuid.NewString(),
		JobID:      jobID,
		DocumentID: docID,
		FieldName:  "nama_lengkap",
		FieldLabel: "Nama Lengkap",
		FieldValue: &value,
		PageNumber: 1,
		Confidence: 0.95,
	}).Exec(ctx)
	s.Require().NoError(err)

	templateID, err := s.Client.CreateTemplate("Apply template", []map[string]any{
		textColumn("Full Name", "nama"),
		textColumn("Blood Type", "golongan darah"),
	})
	s.Require().NoError(err)

	resp := s.Client.POST(fmt.Sprintf("/api/templates/apply/%s?template_id=%s", jobID, templateID))
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var result struct {
		TotalColumns  int `json:"total_columns"`
		MappedColumns int `json:"mapped_columns"`
		Mappings      []struct {
			ExternalColumn string `json:"external_column"`
			DBFieldName    string `json:"db_field_name"`
		} `json:"mappings"`
		Unmapped []string `json:"unmapped"`
	}
	s.Require().NoError(resp.JSON(&result))
	s.Equal(2, result.TotalColumns)
	s.Equal(1, result.MappedColumns)
	s.Require().Len(result.Mappings, 1)
	s.Equal("Full Name", result.Mappings[0].ExternalColumn)
	s.Equal("nama_lengkap", result.Mappings[0].DBFieldName)
	s.Equal([]string{"Blood Type"}, result.Unmapped)
}

func (s *TemplatesTestSuite) TestApplyTemplate_RequiresTemplateID() {
	jobID, err := s.Client.CreateJob("Apply without template", "folder", map[string]any{"path": "/tmp"})
	s.Require().NoError(err)

	resp := s.Client.POST("/api/templates/apply/" + jobID)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}
