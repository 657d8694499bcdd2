package extract

import (
	"errors"
	"fmt"
)

// Sentinel errors for upload validation. All are returned before any
// extraction work begins.
var (
	// ErrEmptyPayload indicates a zero-length upload.
	ErrEmptyPayload = errors.New("extract: empty payload")

	// ErrPayloadTooLarge indicates the upload exceeds the configured size ceiling.
	ErrPayloadTooLarge = errors.New("extract: payload exceeds size limit")

	// ErrKindMismatch indicates the declared kind does not match detected content.
	ErrKindMismatch = errors.New("extract: declared kind does not match content")

	// ErrUnknownKind indicates the payload is neither a recognizable EPUB nor PDF.
	ErrUnknownKind = errors.New("extract: unrecognized document format")
)

// ExtractionError indicates the whole document could not be parsed.
// Per-unit failures are absorbed into placeholder chapters and never
// surface as an ExtractionError.
type ExtractionError struct {
	Kind string // "epub" or "pdf"
	Op   string // the parsing step that failed
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
