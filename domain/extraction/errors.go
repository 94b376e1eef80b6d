package extraction

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
)

// error_type values recorded on terminally failed documents.
const (
	errTypeInvalidSource    = "invalid_source_config"
	errTypeFetch            = "source_fetch_failed"
	errTypeRasterization    = "rasterization_failed"
	errTypePrompt           = "prompt_build_failed"
	errTypeParse            = "parse_failed"
	errTypeVisionRejected   = "vision_rejected"
	errTypeRetriesExhausted = "max_retries_exceeded"
	errTypeDiscovery        = "discovery_failed"
	errTypeFieldsFlagged    = "fields_flagged"
)

// permanentError marks a failure retrying cannot fix. The document
// fails immediately, keeping its remaining retry budget.
type permanentError struct {
	errType string
	err     error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(errType string, err error) error {
	return &permanentError{errType: errType, err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// errTypeOf returns the recorded error_type of a permanent failure and
// a generic marker for anything else.
func errTypeOf(err error) string {
	var pe *permanentError
	if errors.As(err, &pe) {
		return pe.errType
	}
	return "processing_error"
}

// classifyFetchError splits source reads: a missing object never comes
// back, everything else is assumed to be an infrastructure blip worth
// retrying.
func classifyFetchError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return permanent(errTypeFetch, err)
	}
	return err
}

func isNotFound(err error) bool {
	var appErr *apperror.Error
	return errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusNotFound
}
