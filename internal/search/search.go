// Package search implements position-aware text search over the persisted
// library. It is a lowercased scan per chapter, not a ranking engine: matches
// come back in chapter-then-position order, with context snippets and, for
// page-image books, the bounding boxes of the matched words.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jackzampolin/folio/internal/cache"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/types"
)

// ErrEmptyQuery is returned when the query contains no searchable tokens.
var ErrEmptyQuery = errors.New("search: empty query")

// DefaultSnippetRadius is the number of runes of context kept on each side
// of a match in EPUB snippets.
const DefaultSnippetRadius = 60

// Query describes one search request.
type Query struct {
	// Text is the phrase to find, matched case-insensitively.
	Text string

	// BookID restricts the search to one book; empty searches the library.
	BookID string

	// Page restricts matches to one chapter or page (1-based). Zero
	// means all.
	Page int

	// Limit caps the number of matches returned. Zero means no cap.
	Limit int
}

// Match is one occurrence of the query in persisted book content.
type Match struct {
	BookID    string `json:"book_id"`
	BookTitle string `json:"book_title"`

	// Chapter is the 1-based chapter or page number.
	Chapter      int    `json:"chapter"`
	ChapterTitle string `json:"chapter_title,omitempty"`
	Href         string `json:"href,omitempty"`

	// Position orders matches within a chapter: a rune offset for flowed
	// text, a word index for positioned pages.
	Position int    `json:"position"`
	Snippet  string `json:"snippet"`

	// Rects are the page-relative bounding boxes of the matched words.
	// Only set for books with positioned text.
	Rects [][4]float64 `json:"rects,omitempty"`
}

// fragment memoizes, per chapter, the query tokens already proven absent.
// A chapter whose text lacks any one token cannot contain the phrase, so
// repeat queries sharing that token skip the chapter without rescanning.
// One fragment is shared by every concurrent search of its book; mu guards
// the per-chapter maps.
type fragment struct {
	mu     sync.Mutex
	absent []map[string]bool
}

// Options configures the engine.
type Options struct {
	FragmentCacheSize int
	SnippetRadius     int
	Logger            *slog.Logger
}

// Engine scans persisted books for matches. Fragments are invalidated
// through the library whenever a book is saved or deleted, so results
// always reflect the current persisted content.
type Engine struct {
	lib       *library.Service
	fragments *cache.LRU[string, *fragment]
	radius    int
	logger    *slog.Logger
}

// New creates an engine bound to the library and registers its fragment
// cache for invalidation on library mutations.
func New(lib *library.Service, opts Options) *Engine {
	if opts.SnippetRadius <= 0 {
		opts.SnippetRadius = DefaultSnippetRadius
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		lib:       lib,
		fragments: cache.NewLRU[string, *fragment](opts.FragmentCacheSize),
		radius:    opts.SnippetRadius,
		logger:    opts.Logger.With("component", "search"),
	}
	lib.OnInvalidate(func(bookID string) {
		e.fragments.Remove(bookID)
	})
	return e
}

// Search runs the query and returns matches in book, then chapter, then
// position order.
func (e *Engine) Search(ctx context.Context, q Query) ([]Match, error) {
	tokens := tokenize(q.Text)
	if len(tokens) == 0 {
		return nil, ErrEmptyQuery
	}
	phrase := strings.ToLower(strings.Join(strings.Fields(q.Text), " "))

	ids := []string{q.BookID}
	if q.BookID == "" {
		metas, err := e.lib.ListMetadata()
		if err != nil {
			return nil, fmt.Errorf("listing books: %w", err)
		}
		ids = ids[:0]
		for _, m := range metas {
			ids = append(ids, m.ID)
		}
	}

	var matches []Match
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := e.searchBook(id, phrase, tokens, q.Page, remaining(q.Limit, len(matches)))
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
		if q.Limit > 0 && len(matches) >= q.Limit {
			return matches[:q.Limit], nil
		}
	}
	return matches, nil
}

func remaining(limit, have int) int {
	if limit <= 0 {
		return 0
	}
	return limit - have
}

func (e *Engine) searchBook(id, phrase string, tokens []string, page, limit int) ([]Match, error) {
	book, err := e.lib.Book(id)
	if err != nil {
		return nil, fmt.Errorf("loading book %s: %w", id, err)
	}
	frag := e.fragmentFor(id, len(book.Chapters))

	var matches []Match
	for i, ch := range book.Chapters {
		if page > 0 && ch.Order != page-1 {
			continue
		}
		if frag.skip(i, tokens) {
			continue
		}

		var found []Match
		if len(ch.Words) > 0 {
			found = e.scanWords(book, ch, tokens)
		} else {
			found = e.scanText(book, ch, phrase)
		}
		if len(found) == 0 {
			frag.record(i, ch, tokens)
			continue
		}

		matches = append(matches, found...)
		if limit > 0 && len(matches) >= limit {
			return matches[:limit], nil
		}
	}
	return matches, nil
}

// fragmentFor returns the memo for a book, resetting it if the chapter
// count no longer lines up with the persisted content.
func (e *Engine) fragmentFor(id string, chapters int) *fragment {
	if f, ok := e.fragments.Get(id); ok && len(f.absent) == chapters {
		return f
	}
	f := &fragment{absent: make([]map[string]bool, chapters)}
	e.fragments.Put(id, f)
	return f
}

// skip reports whether any query token is already known absent from the
// chapter.
func (f *fragment) skip(chapter int, tokens []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := f.absent[chapter]
	if seen == nil {
		return false
	}
	for _, tok := range tokens {
		if seen[tok] {
			return true
		}
	}
	return false
}

// record marks which of the query tokens the chapter turned out to lack.
// Absence is proven against the same channel the scan reads: positioned
// words when the chapter has them, flowed text otherwise.
func (f *fragment) record(chapter int, ch types.Chapter, tokens []string) {
	var text string
	if len(ch.Words) > 0 {
		var b strings.Builder
		for _, w := range ch.Words {
			b.WriteString(w.Text)
			b.WriteByte(' ')
		}
		text = strings.ToLower(b.String())
	} else {
		text = strings.ToLower(ch.Text)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.absent[chapter] == nil {
		f.absent[chapter] = make(map[string]bool, len(tokens))
	}
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			f.absent[chapter][tok] = true
		}
	}
}

// scanText finds phrase occurrences in flowed chapter text and builds
// rune-offset snippets around each.
func (e *Engine) scanText(book *types.Book, ch types.Chapter, phrase string) []Match {
	lower := strings.ToLower(ch.Text)

	// Match offsets index the lowered text. Snippets come from the original
	// only when folding preserved byte offsets; length-changing folds (such
	// as U+0130) shift them, so then the lowered text is the source.
	source := ch.Text
	if len(lower) != len(ch.Text) {
		source = lower
	}

	var matches []Match
	for from := 0; ; {
		idx := strings.Index(lower[from:], phrase)
		if idx < 0 {
			break
		}
		pos := from + idx
		matches = append(matches, Match{
			BookID:       book.ID,
			BookTitle:    book.Metadata.Title,
			Chapter:      ch.Order + 1,
			ChapterTitle: ch.Title,
			Href:         ch.Href,
			Position:     utf8.RuneCountInString(source[:pos]),
			Snippet:      e.snippet(source, pos, len(phrase)),
		})
		from = pos + len(phrase)
	}
	return matches
}

// scanWords matches the query tokens against consecutive positioned words
// and reports the matched words' bounding boxes.
func (e *Engine) scanWords(book *types.Book, ch types.Chapter, tokens []string) []Match {
	words := ch.Words
	var matches []Match
	for i := 0; i+len(tokens) <= len(words); i++ {
		if !wordsMatch(words[i:i+len(tokens)], tokens) {
			continue
		}
		rects := make([][4]float64, len(tokens))
		for j := range tokens {
			rects[j] = words[i+j].Rect
		}
		matches = append(matches, Match{
			BookID:       book.ID,
			BookTitle:    book.Metadata.Title,
			Chapter:      ch.Order + 1,
			ChapterTitle: ch.Title,
			Href:         ch.Href,
			Position:     i,
			Snippet:      wordSnippet(words, i, len(tokens)),
			Rects:        rects,
		})
	}
	return matches
}

func wordsMatch(words []types.Word, tokens []string) bool {
	for i, tok := range tokens {
		if !strings.Contains(strings.ToLower(words[i].Text), tok) {
			return false
		}
	}
	return true
}

// snippet extracts surrounding context, extending to rune boundaries and
// trimming ragged edges to whitespace where possible.
func (e *Engine) snippet(text string, pos, length int) string {
	start := pos
	for r := 0; r < e.radius && start > 0; r++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := pos + length
	for r := 0; r < e.radius && end < len(text); r++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}

	snip := text[start:end]
	if start > 0 {
		if i := strings.IndexAny(snip, " \t\n"); i >= 0 && i < len(snip)/2 {
			snip = snip[i+1:]
		}
		snip = "…" + snip
	}
	if end < len(text) {
		if i := strings.LastIndexAny(snip, " \t\n"); i > len(snip)/2 {
			snip = snip[:i]
		}
		snip += "…"
	}
	return strings.Join(strings.Fields(snip), " ")
}

// wordSnippet joins a window of words around a positioned match.
func wordSnippet(words []types.Word, pos, length int) string {
	const around = 8
	start := max(0, pos-around)
	end := min(len(words), pos+length+around)

	parts := make([]string, 0, end-start)
	for _, w := range words[start:end] {
		parts = append(parts, w.Text)
	}
	snip := strings.Join(parts, " ")
	if start > 0 {
		snip = "…" + snip
	}
	if end < len(words) {
		snip += "…"
	}
	return snip
}

// tokenize lowercases and splits the query into tokens.
func tokenize(q string) []string {
	return strings.Fields(strings.ToLower(q))
}
