// Package extract parses raw EPUB and PDF uploads into normalized Book
// structures. Extractors hold no shared mutable state and are safe to run
// from any worker.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/folio/internal/types"
)

// Reading of this many leading bytes is enough to sniff the format.
const sniffLen = 4

// ProgressFunc receives coarse-grained stage updates during extraction.
// pct is 0-100 and non-decreasing.
type ProgressFunc func(stage string, pct int)

// Options configures an Extractor.
type Options struct {
	// MaxBytes is the upload size ceiling. Zero disables the check.
	MaxBytes int64

	// RenderImages enables PDF page image and thumbnail rendering
	// (requires pdftoppm on PATH).
	RenderImages bool

	// RenderDPI is the resolution for rendered page images (default 150).
	RenderDPI int

	// ThumbnailSize is the pixel bound for page thumbnails (default 150).
	ThumbnailSize int

	Logger *slog.Logger
}

// Extractor converts uploads into Books.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Extractor with the given options.
func New(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RenderDPI <= 0 {
		opts.RenderDPI = 150
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = 150
	}
	return &Extractor{opts: opts, logger: logger.With("component", "extract")}
}

// DetectKind sniffs the document format from content.
// Returns "" when the format is not recognized.
func DetectKind(data []byte) types.Kind {
	if len(data) < sniffLen {
		return ""
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return types.KindPDF
	}
	// EPUB is a ZIP archive; the mimetype entry is validated during parsing.
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return types.KindEPUB
	}
	return ""
}

// Validate rejects empty, oversized, and mismatched-kind payloads before
// any extraction work begins.
func (e *Extractor) Validate(data []byte, kind types.Kind) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if e.opts.MaxBytes > 0 && int64(len(data)) > e.opts.MaxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(data), e.opts.MaxBytes)
	}
	detected := DetectKind(data)
	if detected == "" {
		return ErrUnknownKind
	}
	if kind != "" && kind != detected {
		return fmt.Errorf("%w: declared %s, detected %s", ErrKindMismatch, kind, detected)
	}
	return nil
}

// Extract parses data into a Book. kind may be empty, in which case the
// detected format is used. progress may be nil.
func (e *Extractor) Extract(ctx context.Context, data []byte, kind types.Kind, progress ProgressFunc) (*types.Book, error) {
	if err := e.Validate(data, kind); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(string, int) {}
	}

	switch DetectKind(data) {
	case types.KindEPUB:
		return e.extractEPUB(ctx, data, progress)
	case types.KindPDF:
		return e.extractPDF(ctx, data, progress)
	default:
		return nil, ErrUnknownKind
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// countWords counts whitespace-separated tokens.
func countWords(s string) int {
	return len(strings.Fields(s))
}

// collapseWhitespace joins all whitespace runs into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
