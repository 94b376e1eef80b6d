package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/domain/documents"
)

func strp(s string) *string { return &s }

func field(name, label string, value *string, section string, confidence float64) *documents.ExtractedField {
	f := &documents.ExtractedField{
		FieldName:  name,
		FieldLabel: label,
		FieldValue: value,
		Confidence: confidence,
	}
	if section != "" {
		f.SectionName = &section
	}
	loc := "page 1 · " + name
	f.SourceLocation = &loc
	return f
}

func onColumn(cols ...TemplateColumn) *MappingTemplate {
	return &MappingTemplate{ID: "tpl-1", Name: "t", Columns: cols}
}

func TestResolve_NameBeatsLabelBeatsValue(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("summary.total", "total", strp("account balance shown"), "summary", 0.95),
		field("account_info.balance_note", "balance", strp("n/a"), "account_info", 0.95),
		field("account_info.closing_balance", "closing balance", strp("1,520.50"), "account_info", 0.95),
	}
	tpl := onColumn(TemplateColumn{
		ExternalColumnName: "Balance",
		SearchKeywords:     []string{"balance"},
	})

	res := Resolve(tpl, fields)
	require.Len(t, res.Mappings, 1)
	m := res.Mappings[0]
	// Both _balance fields match on name (1.0); the value-only match loses.
	assert.Equal(t, "account_info.balance_note", m.DBFieldName)
	assert.Equal(t, MatchFieldName, m.MatchMethod)
	assert.InDelta(t, 1.0, m.Confidence, 1e-9)
	assert.Equal(t, "page 1 · account_info.balance_note", m.SourceLocation)
}

func TestResolve_EarlyKeywordOutranksLaterOne(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("header.periode", "periode", strp("Mei 2024"), "header", 0.95),
		field("summary.statement_period", "statement period", strp("May 2024"), "summary", 0.95),
	}
	// Keyword 0 matches only "periode"; keyword 1 matches only
	// "statement_period". Same match quality, but index weight halves
	// the second keyword's score.
	tpl := onColumn(TemplateColumn{
		ExternalColumnName: "Period",
		SearchKeywords:     []string{"periode", "statement_period"},
	})

	res := Resolve(tpl, fields)
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, "header.periode", res.Mappings[0].DBFieldName)
	assert.InDelta(t, 1.0, res.Mappings[0].Confidence, 1e-9)
}

func TestResolve_WeightedLabelLosesToLateName(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("notes.remark", "saldo", nil, "notes", 0.95),
		field("summary.closing_total", "ending", nil, "summary", 0.95),
	}
	// Keyword 0 hits a label (0.9 × 1.0); keyword 1 hits a name
	// (1.0 × 0.5). The early label match wins.
	tpl := onColumn(TemplateColumn{
		ExternalColumnName: "Closing Balance",
		SearchKeywords:     []string{"saldo", "closing"},
	})

	res := Resolve(tpl, fields)
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, "notes.remark", res.Mappings[0].DBFieldName)
	assert.Equal(t, MatchFieldLabel, res.Mappings[0].MatchMethod)
	assert.InDelta(t, 0.9, res.Mappings[0].Confidence, 1e-9)
}

func TestResolve_ExpectedSectionBreaksTies(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("page_summary.account_number", "account number", nil, "page_summary", 0.95),
		field("account_info.account_number", "account number", nil, "account_info", 0.95),
	}
	tpl := onColumn(TemplateColumn{
		ExternalColumnName: "Account Number",
		SearchKeywords:     []string{"account_number"},
		ExpectedSection:    "account_info",
	})

	res := Resolve(tpl, fields)
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, "account_info.account_number", res.Mappings[0].DBFieldName)
}

func TestResolve_ConfidenceBreaksRemainingTies(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("a.amount", "amount", nil, "a", 0.5),
		field("b.amount", "amount", nil, "b", 0.95),
	}
	tpl := onColumn(TemplateColumn{
		ExternalColumnName: "Amount",
		SearchKeywords:     []string{"amount"},
	})

	res := Resolve(tpl, fields)
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, "b.amount", res.Mappings[0].DBFieldName)
}

func TestResolve_UnmappedColumnsAndRates(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("account_info.account_number", "account number", nil, "account_info", 0.95),
	}
	tpl := onColumn(
		TemplateColumn{ExternalColumnName: "Account Number", SearchKeywords: []string{"account_number"}},
		TemplateColumn{ExternalColumnName: "SWIFT Code", SearchKeywords: []string{"swift", "bic"}},
	)

	res := Resolve(tpl, fields)
	assert.Equal(t, 2, res.TotalColumns)
	assert.Equal(t, 1, res.MappedColumns)
	assert.Equal(t, 1, res.UnmappedColumns)
	assert.InDelta(t, 0.5, res.SuccessRate, 1e-9)
	assert.Equal(t, []string{"SWIFT Code"}, res.Unmapped)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "SWIFT Code")
}

func TestResolve_CaseInsensitive(t *testing.T) {
	fields := []*documents.ExtractedField{
		field("Header.IFSC", "IFSC", strp("HDFC0001"), "Header", 0.95),
	}
	tpl := onColumn(TemplateColumn{
		ExternalColumnName: "IFSC",
		SearchKeywords:     []string{"ifsc"},
	})

	res := Resolve(tpl, fields)
	require.Len(t, res.Mappings, 1)
	assert.Equal(t, MatchFieldName, res.Mappings[0].MatchMethod)
}

func TestValidate(t *testing.T) {
	valid := &MappingTemplate{
		Name: "t",
		Columns: []TemplateColumn{
			{ExternalColumnName: "A", SearchKeywords: []string{"a"}},
			{ExternalColumnName: "B", DefaultValue: "fixed"},
			{ExternalColumnName: "C", PostProcessType: "default_value"},
		},
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&MappingTemplate{Columns: valid.Columns}).Validate())
	assert.Error(t, (&MappingTemplate{Name: "t"}).Validate())

	dup := &MappingTemplate{Name: "t", Columns: []TemplateColumn{
		{ExternalColumnName: "A", SearchKeywords: []string{"a"}},
		{ExternalColumnName: "A", SearchKeywords: []string{"b"}},
	}}
	assert.Error(t, dup.Validate())

	noSource := &MappingTemplate{Name: "t", Columns: []TemplateColumn{
		{ExternalColumnName: "A"},
	}}
	assert.Error(t, noSource.Validate())

	badType := &MappingTemplate{Name: "t", Columns: []TemplateColumn{
		{ExternalColumnName: "A", SearchKeywords: []string{"a"}, DataType: "decimal"},
	}}
	assert.Error(t, badType.Validate())
}

func TestDefaultTemplates(t *testing.T) {
	defaults, err := defaultTemplates()
	require.NoError(t, err)
	require.Len(t, defaults, 2)

	byName := map[string]*MappingTemplate{}
	for _, d := range defaults {
		assert.True(t, d.IsDefault)
		assert.NoError(t, d.Validate())
		byName[d.Name] = d
	}

	bank := byName["Bank Statement Summary"]
	require.NotNil(t, bank)
	require.NotNil(t, bank.DocumentType)
	assert.Equal(t, "bank_statement", *bank.DocumentType)

	var closing *TemplateColumn
	for i := range bank.Columns {
		if bank.Columns[i].ExternalColumnName == "Closing Balance" {
			closing = &bank.Columns[i]
		}
	}
	require.NotNil(t, closing)
	assert.Equal(t, "currency_format", closing.PostProcessType)

	ktp := byName["Identity Card"]
	require.NotNil(t, ktp)
	var nik *TemplateColumn
	for i := range ktp.Columns {
		if ktp.Columns[i].ExternalColumnName == "Date of Birth" {
			nik = &ktp.Columns[i]
		}
	}
	require.NotNil(t, nik)
	assert.Equal(t, "extract_nik_dob", nik.PostProcessType)
}
