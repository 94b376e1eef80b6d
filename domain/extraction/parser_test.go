package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/veridoc-ai/veridoc/domain/documents"
)

func mustParse(t *testing.T, raw string) gjson.Result {
	t.Helper()
	root, err := parseModelJSON(raw)
	require.NoError(t, err)
	return root
}

func fieldByName(t *testing.T, fields []*documents.ExtractedField, name string) *documents.ExtractedField {
	t.Helper()
	for _, f := range fields {
		if f.FieldName == name {
			return f
		}
	}
	t.Fatalf("field %q not found", name)
	return nil
}

func TestParseModelJSON_StripsFencesAndProse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain", `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```"},
		{"prose", "Here is the extracted data:\n{\"a\": 1}\nLet me know if you need more."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := parseModelJSON(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, int64(1), root.Get("a").Int())
		})
	}
}

func TestParseModelJSON_Errors(t *testing.T) {
	_, err := parseModelJSON("no json here")
	assert.ErrorIs(t, err, errNoJSONObject)

	_, err = parseModelJSON(`[1, 2, 3]`)
	assert.ErrorIs(t, err, errNoJSONObject)

	_, err = parseModelJSON(`{"a": `)
	assert.ErrorIs(t, err, errNoJSONObject)

	_, err = parseModelJSON(`{"a": }`)
	assert.ErrorIs(t, err, errMalformedJSON)
}

func TestTableHeaders(t *testing.T) {
	root := mustParse(t, `{"_table_headers": ["Date", " Narration ", "", "Closing Balance"]}`)
	assert.Equal(t, []string{"Date", "Narration", "Closing Balance"}, tableHeaders(root))

	assert.Nil(t, tableHeaders(mustParse(t, `{"account": {}}`)))
	assert.Nil(t, tableHeaders(mustParse(t, `{"_table_headers": "Date"}`)))
}

func TestFlattenFields_GenericWalk(t *testing.T) {
	root := mustParse(t, `{
		"account_info": {
			"account_number": "1234567890",
			"holder": {"name": "PT Example"}
		},
		"items": ["first", "second"],
		"page_total": 1520.50
	}`)

	fields := flattenFields(root, flattenOptions{Page: 2, ReviewThreshold: 0.7})
	require.Len(t, fields, 5)

	num := fieldByName(t, fields, "account_info.account_number")
	require.NotNil(t, num.FieldValue)
	assert.Equal(t, "1234567890", *num.FieldValue)
	assert.Equal(t, "account number", num.FieldLabel)
	assert.Equal(t, "text", num.FieldType)
	assert.Equal(t, 2, num.PageNumber)
	assert.Equal(t, defaultConfidence, num.Confidence)
	assert.False(t, num.NeedsManualReview)
	require.NotNil(t, num.SectionName)
	assert.Equal(t, "account_info", *num.SectionName)
	require.NotNil(t, num.SourceLocation)
	assert.Equal(t, "page 2 · account_info.account_number", *num.SourceLocation)
	require.NotNil(t, num.ExtractionContext)
	assert.Equal(t, "1234567890", *num.ExtractionContext)

	fieldByName(t, fields, "account_info.holder.name")
	fieldByName(t, fields, "items[0]")
	second := fieldByName(t, fields, "items[1]")
	assert.Equal(t, "items", second.FieldLabel)

	total := fieldByName(t, fields, "page_total")
	assert.Equal(t, "number", total.FieldType)
}

func TestFlattenFields_SkipsMetadataKeys(t *testing.T) {
	root := mustParse(t, `{
		"_table_headers": ["Date"],
		"_low_confidence_fields": [],
		"account": {"number": "42"}
	}`)

	fields := flattenFields(root, flattenOptions{Page: 1, ReviewThreshold: 0.7})
	require.Len(t, fields, 1)
	assert.Equal(t, "account.number", fields[0].FieldName)
}

func TestFlattenFields_LowConfidencePathsFlagged(t *testing.T) {
	root := mustParse(t, `{
		"_low_confidence_fields": ["totals.grand_total"],
		"totals": {"grand_total": "1,520.50", "subtotal": "1,400.00"}
	}`)

	fields := flattenFields(root, flattenOptions{Page: 1, ReviewThreshold: 0.7})

	flagged := fieldByName(t, fields, "totals.grand_total")
	assert.Equal(t, lowConfidence, flagged.Confidence)
	assert.True(t, flagged.NeedsManualReview)

	clean := fieldByName(t, fields, "totals.subtotal")
	assert.Equal(t, defaultConfidence, clean.Confidence)
	assert.False(t, clean.NeedsManualReview)
}

func TestFlattenFields_ModelNullNotFlagged(t *testing.T) {
	// An explicit null the model is confident about stays unflagged;
	// only low confidence routes to review.
	root := mustParse(t, `{"header": {"ifsc_code": null}}`)

	fields := flattenFields(root, flattenOptions{Page: 1, ReviewThreshold: 0.7})
	require.Len(t, fields, 1)
	assert.Nil(t, fields[0].FieldValue)
	assert.False(t, fields[0].NeedsManualReview)
	assert.Nil(t, fields[0].ExtractionContext)
}

func TestFlattenFields_TypedLeaf(t *testing.T) {
	root := mustParse(t, `{
		"authorization": {
			"signature": {"_type": "signature", "value": null, "bbox": {"x": 0.1, "y": 0.8}},
			"stamp": {"_type": "stamp", "value": "BANK OF EXAMPLE"}
		}
	}`)

	fields := flattenFields(root, flattenOptions{Page: 3, ReviewThreshold: 0.7})
	require.Len(t, fields, 2)

	sig := fieldByName(t, fields, "authorization.signature")
	assert.Equal(t, "signature", sig.FieldType)
	assert.Nil(t, sig.FieldValue)
	require.NotNil(t, sig.BoundingBox)
	assert.Equal(t, 0.1, sig.BoundingBox["x"])

	stamp := fieldByName(t, fields, "authorization.stamp")
	assert.Equal(t, "stamp", stamp.FieldType)
	require.NotNil(t, stamp.FieldValue)
	assert.Equal(t, "BANK OF EXAMPLE", *stamp.FieldValue)
}

func TestFlattenFields_TransactionsReconciled(t *testing.T) {
	// Continuation pages drift column names and drop columns; cells are
	// persisted under the page-1 canonical headers regardless.
	headers := []string{"Date", "Narration", "Chq./Ref.No.", "Value Dt", "Deposit Amt."}
	root := mustParse(t, `{
		"transactions": [
			{
				"Date": "03-05-2024",
				"Narration": "UPI-COLLECT",
				"Chq/Ref": "UPI-500123",
				"Deposit Amt.": "2,500.00",
				"Remarks": "dropped extra column"
			}
		]
	}`)

	fields := flattenFields(root, flattenOptions{
		Page:            2,
		TableHeaders:    headers,
		ReviewThreshold: 0.7,
	})
	require.Len(t, fields, len(headers))

	ref := fieldByName(t, fields, "transactions[0].Chq./Ref.No.")
	require.NotNil(t, ref.FieldValue)
	assert.Equal(t, "UPI-500123", *ref.FieldValue)
	assert.Equal(t, "Chq./Ref.No.", ref.FieldLabel)
	assert.Equal(t, defaultConfidence, ref.Confidence)
	assert.False(t, ref.NeedsManualReview)

	missing := fieldByName(t, fields, "transactions[0].Value Dt")
	assert.Nil(t, missing.FieldValue)
	assert.Equal(t, float64(0), missing.Confidence)
	assert.True(t, missing.NeedsManualReview)

	for _, f := range fields {
		assert.NotContains(t, f.FieldName, "Remarks")
	}
}

func TestFlattenFields_TransactionsConfidenceByModelPath(t *testing.T) {
	// The model flags its own column names; the flag must follow the
	// cell to the canonical header.
	root := mustParse(t, `{
		"_low_confidence_fields": ["transactions[0].Chq/Ref"],
		"transactions": [{"Chq/Ref": "977?21"}]
	}`)

	fields := flattenFields(root, flattenOptions{
		Page:            2,
		TableHeaders:    []string{"Chq./Ref.No."},
		ReviewThreshold: 0.7,
	})
	require.Len(t, fields, 1)
	assert.Equal(t, lowConfidence, fields[0].Confidence)
	assert.True(t, fields[0].NeedsManualReview)
}

func TestFlattenFields_NoHeadersWalksTransactionsGenerically(t *testing.T) {
	root := mustParse(t, `{"transactions": [{"Date": "01-05-2024"}]}`)

	fields := flattenFields(root, flattenOptions{Page: 1, ReviewThreshold: 0.7})
	require.Len(t, fields, 1)
	assert.Equal(t, "transactions[0].Date", fields[0].FieldName)
}

func TestAssignFieldOrder_PerPage(t *testing.T) {
	fields := []*documents.ExtractedField{
		{FieldName: "a", PageNumber: 1},
		{FieldName: "b", PageNumber: 1},
		{FieldName: "c", PageNumber: 6},
		{FieldName: "d", PageNumber: 1},
	}
	assignFieldOrder(fields)

	assert.Equal(t, 0, fields[0].FieldOrder)
	assert.Equal(t, 1, fields[1].FieldOrder)
	assert.Equal(t, 0, fields[2].FieldOrder)
	assert.Equal(t, 2, fields[3].FieldOrder)
}

func TestMatchColumn_Ranking(t *testing.T) {
	row := gjson.Parse(`{"Chq/Ref": "overlap", "chq ref no": "normalized", "Chq./Ref.No.": "exact"}`)

	val, key, ok := matchColumn(row, "Chq./Ref.No.")
	require.True(t, ok)
	assert.Equal(t, "exact", val.String())
	assert.Equal(t, "Chq./Ref.No.", key)

	row = gjson.Parse(`{"Chq/Ref": "overlap", "chq ref no": "normalized"}`)
	val, key, ok = matchColumn(row, "Chq./Ref.No.")
	require.True(t, ok)
	assert.Equal(t, "normalized", val.String())
	assert.Equal(t, "chq ref no", key)

	row = gjson.Parse(`{"Chq/Ref": "overlap"}`)
	val, _, ok = matchColumn(row, "Chq./Ref.No.")
	require.True(t, ok)
	assert.Equal(t, "overlap", val.String())

	_, _, ok = matchColumn(gjson.Parse(`{"Narration": "x"}`), "Chq./Ref.No.")
	assert.False(t, ok)
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, "account number", labelFor("account_info.account_number"))
	assert.Equal(t, "Deposit Amt.", labelFor("transactions[3].Deposit Amt."))
	assert.Equal(t, "Chq./Ref.No.", labelFor("transactions[0].Chq./Ref.No."))
	assert.Equal(t, "items", labelFor("account.items[2]"))
	assert.Equal(t, "document date", labelFor("document_date"))
}
