package extraction

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/raster"
)

func renderedPages(numbers ...int) []raster.Page {
	pages := make([]raster.Page, 0, len(numbers))
	for _, n := range numbers {
		pages = append(pages, raster.Page{Number: n, PNG: []byte{byte(n)}})
	}
	return pages
}

func TestBuildBatches_Windows(t *testing.T) {
	batches := buildBatches(renderedPages(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12), 12, 5)
	require.Len(t, batches, 3)

	assert.Equal(t, 1, batches[0].start)
	assert.Equal(t, 5, batches[0].end)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, batches[0].pages)

	assert.Equal(t, 6, batches[1].start)
	assert.Equal(t, 10, batches[1].end)

	assert.Equal(t, 11, batches[2].start)
	assert.Equal(t, 12, batches[2].end)
	assert.Equal(t, []int{11, 12}, batches[2].pages)
	require.Len(t, batches[2].images, 2)
}

func TestBuildBatches_RenderGapsDoNotShiftWindows(t *testing.T) {
	// Page 3 failed to render; later batches keep their page numbering.
	batches := buildBatches(renderedPages(1, 2, 4, 5, 6, 7), 7, 5)
	require.Len(t, batches, 2)

	assert.Equal(t, []int{1, 2, 4, 5}, batches[0].pages)
	assert.Equal(t, 1, batches[0].start)
	assert.Equal(t, []int{6, 7}, batches[1].pages)
	assert.Equal(t, 6, batches[1].start)
}

func TestBuildBatches_DropsEmptyWindows(t *testing.T) {
	// Pages 4-6 all failed to render; their window disappears entirely.
	batches := buildBatches(renderedPages(1, 2, 3, 7), 7, 3)
	require.Len(t, batches, 2)
	assert.Equal(t, 1, batches[0].start)
	assert.Equal(t, 7, batches[1].start)
	assert.Equal(t, []int{7}, batches[1].pages)
}

func TestPageBatchSize_Default(t *testing.T) {
	w := &ExtractionWorker{cfg: &config.ExtractionConfig{}}
	assert.Equal(t, 5, w.pageBatchSize())

	w = &ExtractionWorker{cfg: &config.ExtractionConfig{PageBatchSize: 3}}
	assert.Equal(t, 3, w.pageBatchSize())
}

func TestPermanentError_Classification(t *testing.T) {
	cause := errors.New("schema mismatch")
	err := permanent(errTypeParse, cause)

	assert.True(t, isPermanent(err))
	assert.Equal(t, errTypeParse, errTypeOf(err))
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("batch 2: %w", err)
	assert.True(t, isPermanent(wrapped))
	assert.Equal(t, errTypeParse, errTypeOf(wrapped))

	assert.False(t, isPermanent(errors.New("connection reset")))
	assert.Equal(t, "processing_error", errTypeOf(errors.New("connection reset")))
}

func TestClassifyFetchError(t *testing.T) {
	missing := classifyFetchError(fmt.Errorf("open doc.pdf: %w", fs.ErrNotExist))
	assert.True(t, isPermanent(missing))
	assert.Equal(t, errTypeFetch, errTypeOf(missing))

	blip := errors.New("connection refused")
	assert.Same(t, blip, classifyFetchError(blip))
	assert.False(t, isPermanent(classifyFetchError(blip)))
}

func TestAllFailedType(t *testing.T) {
	parseFail := batchOutcome{err: errNoJSONObject}
	malformed := batchOutcome{err: fmt.Errorf("batch: %w", errMalformedJSON)}
	rejected := batchOutcome{err: errors.New("content policy refusal")}
	prompt := batchOutcome{err: permanent(errTypePrompt, errors.New("bad template"))}

	assert.Equal(t, errTypeParse, allFailedType([]batchOutcome{parseFail, malformed}))
	assert.Equal(t, errTypeVisionRejected, allFailedType([]batchOutcome{parseFail, rejected}))
	assert.Equal(t, errTypePrompt, allFailedType([]batchOutcome{prompt, parseFail}))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(apperror.NewNotFound("document", "doc-1")))
	assert.False(t, isNotFound(errors.New("boom")))
}
