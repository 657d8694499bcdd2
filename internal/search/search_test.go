package search

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/types"
)

func testEngine(t *testing.T) (*Engine, *library.Service) {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	lib := library.New(store.New(h, logger), library.Options{Logger: logger})
	return New(lib, Options{Logger: logger}), lib
}

func textBook(id, title string, chapterTexts ...string) *types.Book {
	b := &types.Book{
		ID:          id,
		Kind:        types.KindEPUB,
		Metadata:    types.Metadata{Title: title},
		SourceFile:  id + ".epub",
		ProcessedAt: time.Now().UTC(),
	}
	for i, text := range chapterTexts {
		b.Chapters = append(b.Chapters, types.Chapter{
			ID:        string(rune('a' + i)),
			Href:      "ch.xhtml",
			Title:     "Chapter",
			Order:     i,
			Text:      text,
			WordCount: len(text) / 5,
		})
	}
	return b
}

func wordBook(id, title string, pages ...[]string) *types.Book {
	b := &types.Book{
		ID:          id,
		Kind:        types.KindPDF,
		Metadata:    types.Metadata{Title: title},
		SourceFile:  id + ".pdf",
		ProcessedAt: time.Now().UTC(),
	}
	for i, pageWords := range pages {
		ch := types.Chapter{
			ID:     string(rune('a' + i)),
			Order:  i,
			Width:  612,
			Height: 792,
		}
		for j, w := range pageWords {
			ch.Words = append(ch.Words, types.Word{
				Text: w,
				Rect: [4]float64{float64(j) * 50, 700, float64(j)*50 + 45, 712},
			})
			ch.Text += w + " "
		}
		ch.WordCount = len(pageWords)
		b.Chapters = append(b.Chapters, ch)
	}
	return b
}

func mustSave(t *testing.T, lib *library.Service, b *types.Book) {
	t.Helper()
	if err := lib.SaveBook(b); err != nil {
		t.Fatalf("SaveBook(%s) error = %v", b.ID, err)
	}
}

func TestEngine_Search_Ordering(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales",
		"Call me Ishmael. The whale waits.",
		"No mention here.",
		"The whale, the whale, always the whale.",
	))

	matches, err := e.Search(t.Context(), Query{Text: "whale", BookID: "b1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 4 {
		t.Fatalf("got %d matches, want 4", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		prev, cur := matches[i-1], matches[i]
		if cur.Chapter < prev.Chapter {
			t.Errorf("match %d chapter %d before chapter %d", i, cur.Chapter, prev.Chapter)
		}
		if cur.Chapter == prev.Chapter && cur.Position <= prev.Position {
			t.Errorf("match %d position %d not after %d", i, cur.Position, prev.Position)
		}
	}
	if matches[0].Chapter != 1 || matches[1].Chapter != 3 {
		t.Errorf("chapters = [%d %d ...], want [1 3 ...]", matches[0].Chapter, matches[1].Chapter)
	}
}

func TestEngine_Search_Snippet(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales",
		"Call me Ishmael. Some years ago I thought I would sail about and see the watery part of the world.",
	))

	matches, err := e.Search(t.Context(), Query{Text: "years ago", BookID: "b1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	if m.Snippet == "" {
		t.Fatal("empty snippet")
	}
	if want := "years ago"; !strings.Contains(m.Snippet, want) {
		t.Errorf("snippet %q does not contain %q", m.Snippet, want)
	}
	if m.BookTitle != "Whales" {
		t.Errorf("BookTitle = %q", m.BookTitle)
	}
}

func TestEngine_Search_LibraryScope(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "One", "the harpoon flew true"))
	mustSave(t, lib, textBook("b2", "Two", "no harpoon in this one, wait, yes there is: harpoon"))
	mustSave(t, lib, textBook("b3", "Three", "nothing relevant"))

	matches, err := e.Search(t.Context(), Query{Text: "harpoon"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3 across the library", len(matches))
	}

	byBook := map[string]int{}
	for _, m := range matches {
		byBook[m.BookID]++
	}
	if byBook["b1"] != 1 || byBook["b2"] != 2 || byBook["b3"] != 0 {
		t.Errorf("matches per book = %v", byBook)
	}
}

func TestEngine_Search_PageFilter(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales",
		"whale here",
		"whale there",
		"whale everywhere",
	))

	matches, err := e.Search(t.Context(), Query{Text: "whale", BookID: "b1", Page: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Chapter != 2 {
		t.Fatalf("matches = %+v, want single match on page 2", matches)
	}
}

func TestEngine_Search_Limit(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales", "whale whale whale whale whale"))

	matches, err := e.Search(t.Context(), Query{Text: "whale", BookID: "b1", Limit: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("got %d matches, want limit of 2", len(matches))
	}
}

func TestEngine_Search_RepeatQueryStable(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales",
		"only prose in this chapter",
		"the whale appears once",
		"and more prose here",
	))

	first, err := e.Search(t.Context(), Query{Text: "whale", BookID: "b1"})
	if err != nil {
		t.Fatalf("first Search() error = %v", err)
	}
	// The second run takes the memoized skip path for the token-free
	// chapters and must return the same matches.
	second, err := e.Search(t.Context(), Query{Text: "whale", BookID: "b1"})
	if err != nil {
		t.Fatalf("second Search() error = %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("match counts = %d, %d, want 1 and 1", len(first), len(second))
	}
	if first[0].Chapter != second[0].Chapter || first[0].Position != second[0].Position || first[0].Snippet != second[0].Snippet {
		t.Errorf("repeat query diverged: %+v vs %+v", first[0], second[0])
	}
}

func TestEngine_Search_InvalidatedOnSave(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales", "no such creature here"))

	matches, err := e.Search(t.Context(), Query{Text: "kraken", BookID: "b1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches before rewrite, want 0", len(matches))
	}

	// Rewriting the book must drop the memoized absence.
	mustSave(t, lib, textBook("b1", "Whales", "the kraken wakes"))

	matches, err = e.Search(t.Context(), Query{Text: "kraken", BookID: "b1"})
	if err != nil {
		t.Fatalf("Search() after rewrite error = %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches after rewrite, want 1", len(matches))
	}
}

func TestEngine_Search_PositionedWords(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, wordBook("p1", "Scanned",
		[]string{"the", "white", "whale", "sounded"},
		[]string{"nothing", "on", "this", "page"},
	))

	matches, err := e.Search(t.Context(), Query{Text: "white whale", BookID: "p1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	m := matches[0]
	if m.Chapter != 1 || m.Position != 1 {
		t.Errorf("match = chapter %d position %d, want page 1 word 1", m.Chapter, m.Position)
	}
	if len(m.Rects) != 2 {
		t.Fatalf("got %d rects, want one per matched word", len(m.Rects))
	}
	if m.Rects[0] != [4]float64{50, 700, 95, 712} {
		t.Errorf("first rect = %v", m.Rects[0])
	}
	if !strings.Contains(m.Snippet, "white whale") {
		t.Errorf("snippet = %q", m.Snippet)
	}
}

func TestEngine_Search_ConcurrentSameBook(t *testing.T) {
	e, lib := testEngine(t)
	mustSave(t, lib, textBook("b1", "Whales",
		"alpha beta gamma delta",
		"epsilon zeta eta theta",
		"the whale appears here",
	))

	// Distinct tokens force every goroutine through the shared memo's
	// record path while others read it.
	queries := []string{
		"whale", "alpha", "beta", "gamma", "delta",
		"epsilon", "zeta", "eta", "theta",
		"nothing", "absent", "missing", "kraken", "squid", "ship", "mast",
	}

	var wg sync.WaitGroup
	for _, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Search(context.Background(), Query{Text: q, BookID: "b1"}); err != nil {
				t.Errorf("Search(%q) error = %v", q, err)
			}
		}()
	}
	wg.Wait()

	matches, err := e.Search(context.Background(), Query{Text: "whale", BookID: "b1"})
	if err != nil {
		t.Fatalf("Search() after concurrent runs error = %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}

func TestEngine_Search_MemoTracksWordsChannel(t *testing.T) {
	e, lib := testEngine(t)

	// The positioned words and the flowed text of a page disagree: the
	// memo must prove absence against the channel the scan reads.
	b := wordBook("p1", "Scanned", []string{"secret", "word"})
	b.Chapters[0].Text = "no hidden terms on this page"
	mustSave(t, lib, b)

	matches, err := e.Search(t.Context(), Query{Text: "secret zzz", BookID: "p1"})
	if err != nil {
		t.Fatalf("first Search() error = %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches for absent phrase, want 0", len(matches))
	}

	matches, err = e.Search(t.Context(), Query{Text: "secret", BookID: "p1"})
	if err != nil {
		t.Fatalf("second Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1; memoized absence must not shadow the words channel", len(matches))
	}
}

func TestEngine_Search_LengthChangingCaseFold(t *testing.T) {
	e, lib := testEngine(t)
	// U+0130 lowercases to two runes, so byte offsets in the folded text
	// run past the original.
	mustSave(t, lib, textBook("b1", "Folds", strings.Repeat("İ", 20)+" whale sighted"))

	matches, err := e.Search(t.Context(), Query{Text: "whale", BookID: "b1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if !strings.Contains(matches[0].Snippet, "whale") {
		t.Errorf("snippet = %q, want the matched phrase", matches[0].Snippet)
	}
	if matches[0].Position <= 0 {
		t.Errorf("Position = %d, want a positive rune offset", matches[0].Position)
	}
}

func TestEngine_Search_EmptyQuery(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.Search(t.Context(), Query{Text: "   "}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Search() error = %v, want ErrEmptyQuery", err)
	}
}

func TestEngine_Search_UnknownBook(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.Search(t.Context(), Query{Text: "whale", BookID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Search() error = %v, want ErrNotFound", err)
	}
}

