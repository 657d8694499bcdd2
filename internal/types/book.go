// Package types provides shared types used across multiple packages.
// This package has no dependencies on other folio packages to avoid import cycles.
package types

import "time"

// Kind identifies the source format of an uploaded document.
type Kind string

const (
	KindEPUB Kind = "epub"
	KindPDF  Kind = "pdf"
)

// ParseKind converts a string (or file extension) to a Kind.
// Returns "" if the string is not recognized.
func ParseKind(s string) Kind {
	switch s {
	case "epub", ".epub":
		return KindEPUB
	case "pdf", ".pdf":
		return KindPDF
	default:
		return ""
	}
}

// Metadata holds document metadata extracted from the source file.
type Metadata struct {
	Title       string   `json:"title"`
	Language    string   `json:"language,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Date        string   `json:"date,omitempty"`
	Identifiers []string `json:"identifiers,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
}

// OutlineEntry is a node in the navigation tree (EPUB TOC or PDF outline).
type OutlineEntry struct {
	Title    string         `json:"title"`
	Href     string         `json:"href"`
	Children []OutlineEntry `json:"children,omitempty"`
}

// Annotation is a native annotation carried over from the source PDF.
type Annotation struct {
	Page    int        `json:"page"`
	Type    string     `json:"type"`
	Content string     `json:"content,omitempty"`
	Rect    [4]float64 `json:"rect"`
	Color   string     `json:"color,omitempty"`
	Author  string     `json:"author,omitempty"`
	Created string     `json:"created,omitempty"`
}

// Word is a positioned word on a PDF page, used for search highlighting.
type Word struct {
	Text string     `json:"text"`
	Rect [4]float64 `json:"rect"`
}

// Chapter is one ordered content unit of a Book: an EPUB spine item or a
// PDF page. Order is 0-based and immutable once assigned.
type Chapter struct {
	ID    string `json:"id"`
	Href  string `json:"href"`
	Title string `json:"title"`
	Order int    `json:"order"`

	// Text is the extracted plain text. Empty for degraded units.
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`

	// Degraded marks a unit that could not be parsed and was replaced
	// with placeholder content. DegradedReason explains why.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	// PDF-only fields.
	Image       string       `json:"image,omitempty"`     // rendered page image, relative path
	Thumbnail   string       `json:"thumbnail,omitempty"` // page thumbnail, relative path
	Width       float64      `json:"width,omitempty"`
	Height      float64      `json:"height,omitempty"`
	Rotation    int          `json:"rotation,omitempty"`
	Words       []Word       `json:"words,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Asset is a binary file produced during extraction (cover image, rendered
// page images, thumbnails). Assets are persisted by the store as part of the
// book's directory; they are never serialized into book.json.
type Asset struct {
	RelPath string `json:"-"`
	Data    []byte `json:"-"`
}

// Book is the normalized, durable representation of one uploaded document.
type Book struct {
	ID         string   `json:"id"`
	Kind       Kind     `json:"kind"`
	Metadata   Metadata `json:"metadata"`
	SourceFile string   `json:"source_file"`

	Chapters []Chapter      `json:"chapters"`
	Outline  []OutlineEntry `json:"outline,omitempty"`

	// HasNativeOutline is true when the outline came from the document
	// itself rather than from the flat fallback navigation.
	HasNativeOutline bool `json:"has_native_outline"`

	CoverImage    string `json:"cover_image,omitempty"`
	HasThumbnails bool   `json:"has_thumbnails"`

	// TotalWords is the word count across all non-degraded chapters.
	TotalWords int `json:"total_words"`

	ProcessedAt time.Time `json:"processed_at"`

	// Assets are staged to disk by the store on save.
	Assets []Asset `json:"-"`
}

// ChapterCount returns the number of content units in the book.
func (b *Book) ChapterCount() int {
	return len(b.Chapters)
}

// BookMetadata is a lightweight projection of Book used for library listings.
// It is stored in its own file so listing never loads full content.
type BookMetadata struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Title            string    `json:"title"`
	Authors          []string  `json:"authors,omitempty"`
	SourceFile       string    `json:"source_file"`
	ChapterCount     int       `json:"chapter_count"`
	TotalWords       int       `json:"total_words"`
	CoverImage       string    `json:"cover_image,omitempty"`
	HasThumbnails    bool      `json:"has_thumbnails"`
	HasNativeOutline bool      `json:"has_native_outline"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// MetadataOf builds the listing projection for a book.
func MetadataOf(b *Book) BookMetadata {
	return BookMetadata{
		ID:               b.ID,
		Kind:             b.Kind,
		Title:            b.Metadata.Title,
		Authors:          b.Metadata.Authors,
		SourceFile:       b.SourceFile,
		ChapterCount:     b.ChapterCount(),
		TotalWords:       b.TotalWords,
		CoverImage:       b.CoverImage,
		HasThumbnails:    b.HasThumbnails,
		HasNativeOutline: b.HasNativeOutline,
		ProcessedAt:      b.ProcessedAt,
	}
}
