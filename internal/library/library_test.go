package library

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/types"
)

func testService(t *testing.T) *Service {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store.New(h, logger), Options{Logger: logger})
}

func testBook(id string, wordCounts ...int) *types.Book {
	b := &types.Book{
		ID:          id,
		Kind:        types.KindEPUB,
		Metadata:    types.Metadata{Title: "Book " + id},
		SourceFile:  id + ".epub",
		ProcessedAt: time.Now().UTC(),
	}
	for i, wc := range wordCounts {
		b.Chapters = append(b.Chapters, types.Chapter{
			ID:        string(rune('a' + i)),
			Order:     i,
			Text:      "chapter text",
			WordCount: wc,
		})
		b.TotalWords += wc
	}
	return b
}

func TestService_MetadataCaching(t *testing.T) {
	l := testService(t)
	if err := l.SaveBook(testBook("b1", 100, 200)); err != nil {
		t.Fatalf("SaveBook() error = %v", err)
	}

	md, err := l.Metadata("b1")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if md.ChapterCount != 2 || md.TotalWords != 300 {
		t.Errorf("metadata = %+v, want 2 chapters, 300 words", md)
	}

	// A second read must come from cache: identical even if the backing
	// store were unavailable.
	again, err := l.Metadata("b1")
	if err != nil {
		t.Fatalf("cached Metadata() error = %v", err)
	}
	if again.ID != md.ID || again.TotalWords != md.TotalWords || !again.ProcessedAt.Equal(md.ProcessedAt) {
		t.Errorf("cached metadata = %+v, want %+v", again, md)
	}
}

func TestService_SaveInvalidatesDerivedData(t *testing.T) {
	l := testService(t)
	if err := l.SaveBook(testBook("b1", 225)); err != nil {
		t.Fatalf("SaveBook() error = %v", err)
	}

	// Warm both caches.
	if _, err := l.Metadata("b1"); err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	min, err := l.ReadingTime("b1", WholeBook)
	if err != nil {
		t.Fatalf("ReadingTime() error = %v", err)
	}
	if min != 1.0 {
		t.Errorf("ReadingTime = %v, want 1.0 for 225 words", min)
	}

	// Replace the book with different content.
	if err := l.SaveBook(testBook("b1", 450, 450)); err != nil {
		t.Fatalf("second SaveBook() error = %v", err)
	}

	md, err := l.Metadata("b1")
	if err != nil {
		t.Fatalf("Metadata() after save error = %v", err)
	}
	if md.TotalWords != 900 || md.ChapterCount != 2 {
		t.Errorf("metadata after save = %+v, want fresh projection", md)
	}

	min, err = l.ReadingTime("b1", WholeBook)
	if err != nil {
		t.Fatalf("ReadingTime() after save error = %v", err)
	}
	if min != 4.0 {
		t.Errorf("ReadingTime after save = %v, want 4.0 for 900 words", min)
	}
}

func TestService_DeleteInvalidates(t *testing.T) {
	l := testService(t)
	if err := l.SaveBook(testBook("b1", 50)); err != nil {
		t.Fatalf("SaveBook() error = %v", err)
	}
	if _, err := l.Metadata("b1"); err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}

	if err := l.DeleteBook("b1"); err != nil {
		t.Fatalf("DeleteBook() error = %v", err)
	}
	if _, err := l.Metadata("b1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Metadata() after delete error = %v, want ErrNotFound", err)
	}
}

func TestService_OnInvalidateHook(t *testing.T) {
	l := testService(t)

	var invalidated []string
	l.OnInvalidate(func(id string) { invalidated = append(invalidated, id) })

	if err := l.SaveBook(testBook("b1", 10)); err != nil {
		t.Fatalf("SaveBook() error = %v", err)
	}
	if err := l.DeleteBook("b1"); err != nil {
		t.Fatalf("DeleteBook() error = %v", err)
	}

	if len(invalidated) != 2 || invalidated[0] != "b1" || invalidated[1] != "b1" {
		t.Errorf("hook calls = %v, want [b1 b1]", invalidated)
	}
}

func TestService_ReadingTime(t *testing.T) {
	l := testService(t)
	// 225 words/minute: chapter word counts chosen for clean fractions.
	if err := l.SaveBook(testBook("b1", 225, 450, 112)); err != nil {
		t.Fatalf("SaveBook() error = %v", err)
	}

	tests := []struct {
		name string
		unit int
		want float64
	}{
		{"whole_book", WholeBook, 3.5}, // 787 words
		{"first_chapter", 0, 1.0},
		{"second_chapter", 1, 2.0},
		{"half_chapter", 2, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.ReadingTime("b1", tt.unit)
			if err != nil {
				t.Fatalf("ReadingTime(%d) error = %v", tt.unit, err)
			}
			if got != tt.want {
				t.Errorf("ReadingTime(%d) = %v, want %v", tt.unit, got, tt.want)
			}
		})
	}

	t.Run("unit_out_of_range", func(t *testing.T) {
		if _, err := l.ReadingTime("b1", 10); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("ReadingTime(10) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("missing_book", func(t *testing.T) {
		if _, err := l.ReadingTime("nope", WholeBook); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("ReadingTime() error = %v, want ErrNotFound", err)
		}
	})
}

func TestService_RebuildAllMetadata(t *testing.T) {
	l := testService(t)
	for _, id := range []string{"b1", "b2", "b3"} {
		if err := l.SaveBook(testBook(id, 100)); err != nil {
			t.Fatalf("SaveBook(%s) error = %v", id, err)
		}
	}

	t.Run("current_metadata_untouched", func(t *testing.T) {
		count, err := l.RebuildAllMetadata(false)
		if err != nil {
			t.Fatalf("RebuildAllMetadata() error = %v", err)
		}
		if count != 0 {
			t.Errorf("rebuilt = %d, want 0 when metadata is current", count)
		}
	})

	t.Run("force_rebuilds_everything", func(t *testing.T) {
		count, err := l.RebuildAllMetadata(true)
		if err != nil {
			t.Fatalf("RebuildAllMetadata(force) error = %v", err)
		}
		if count != 3 {
			t.Errorf("rebuilt = %d, want 3 with force", count)
		}
	})
}

func TestService_ListMetadata(t *testing.T) {
	l := testService(t)

	older := testBook("older", 10)
	older.ProcessedAt = time.Now().UTC().Add(-time.Hour)
	newer := testBook("newer", 10)

	for _, b := range []*types.Book{older, newer} {
		if err := l.SaveBook(b); err != nil {
			t.Fatalf("SaveBook(%s) error = %v", b.ID, err)
		}
	}

	list, err := l.ListMetadata()
	if err != nil {
		t.Fatalf("ListMetadata() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "newer" {
		t.Errorf("list = %+v, want newest first", list)
	}
}
