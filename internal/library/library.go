// Package library composes the book store with the derived-data caches and
// enforces their invalidation contract: every mutation invalidates all
// derived data for the affected identifier before returning, so no caller
// can observe stale data after a completed write.
package library

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/jackzampolin/folio/internal/cache"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/types"
)

// WordsPerMinute is the fixed reading speed assumed by reading-time
// estimates.
const WordsPerMinute = 225

// rtKey identifies one reading-time estimate: a book plus a 0-based unit
// index, or WholeBook for the entire book.
type rtKey struct {
	BookID string
	Unit   int
}

// WholeBook selects the estimate across all chapters.
const WholeBook = -1

// Options configures a Service.
type Options struct {
	MetadataCacheSize    int
	ReadingTimeCacheSize int
	Logger               *slog.Logger
}

// Service owns the metadata and reading-time caches and brokers all book
// mutations so cache invalidation is never skipped.
type Service struct {
	store  *store.Store
	logger *slog.Logger

	metadata    *cache.LRU[string, types.BookMetadata]
	readingTime *cache.LRU[rtKey, float64]

	mu           sync.Mutex
	invalidators []func(bookID string)
}

// New creates a Service over the given store.
func New(s *store.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       s,
		logger:      logger.With("component", "library"),
		metadata:    cache.NewLRU[string, types.BookMetadata](opts.MetadataCacheSize),
		readingTime: cache.NewLRU[rtKey, float64](opts.ReadingTimeCacheSize),
	}
}

// OnInvalidate registers an additional per-book invalidation hook. The
// search engine registers its fragment cache here so all derived caches
// clear together.
func (l *Service) OnInvalidate(fn func(bookID string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidators = append(l.invalidators, fn)
}

// Invalidate removes every derived-data entry for the identifier across all
// registered caches.
func (l *Service) Invalidate(bookID string) {
	l.metadata.Remove(bookID)
	l.readingTime.RemoveFunc(func(k rtKey) bool { return k.BookID == bookID })

	l.mu.Lock()
	hooks := make([]func(string), len(l.invalidators))
	copy(hooks, l.invalidators)
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(bookID)
	}
}

// SaveBook persists the book and invalidates its derived data before
// returning.
func (l *Service) SaveBook(book *types.Book) error {
	if err := l.store.Save(book); err != nil {
		return err
	}
	l.Invalidate(book.ID)
	return nil
}

// DeleteBook removes the book and all derived data for its identifier.
// Deleting a non-existent identifier is a no-op.
func (l *Service) DeleteBook(id string) error {
	if err := l.store.Delete(id); err != nil {
		return err
	}
	l.Invalidate(id)
	return nil
}

// Book loads full book content. Content is not cached; it is read
// per-request from the store (the source of truth).
func (l *Service) Book(id string) (*types.Book, error) {
	return l.store.Load(id)
}

// Metadata returns the listing projection, cache-first.
func (l *Service) Metadata(id string) (types.BookMetadata, error) {
	if md, ok := l.metadata.Get(id); ok {
		return md, nil
	}
	md, err := l.store.LoadMetadata(id)
	if err != nil {
		return md, err
	}
	l.metadata.Put(id, md)
	return md, nil
}

// ListMetadata returns all stored books' metadata, newest first, and warms
// the metadata cache.
func (l *Service) ListMetadata() ([]types.BookMetadata, error) {
	list, err := l.store.ListMetadata()
	if err != nil {
		return nil, err
	}
	for _, md := range list {
		l.metadata.Put(md.ID, md)
	}
	return list, nil
}

// RebuildMetadata regenerates one book's metadata file and invalidates its
// derived data. Returns whether a write occurred.
func (l *Service) RebuildMetadata(id string, force bool) (bool, error) {
	rebuilt, err := l.store.RebuildMetadata(id, force)
	if err != nil {
		return false, err
	}
	if rebuilt {
		l.Invalidate(id)
	}
	return rebuilt, nil
}

// RebuildAllMetadata regenerates metadata for every stored book and returns
// how many records were rewritten.
func (l *Service) RebuildAllMetadata(force bool) (int, error) {
	list, err := l.store.ListMetadata()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, md := range list {
		rebuilt, err := l.RebuildMetadata(md.ID, force)
		if err != nil {
			l.logger.Warn("metadata rebuild failed", "book_id", md.ID, "error", err)
			continue
		}
		if rebuilt {
			count++
		}
	}
	return count, nil
}

// ReadingTime returns the estimated reading time in minutes for one chapter
// (0-based unit index) or the whole book (WholeBook). Estimates are
// word-count based at the fixed WordsPerMinute speed and memoized per unit.
func (l *Service) ReadingTime(id string, unit int) (float64, error) {
	key := rtKey{BookID: id, Unit: unit}
	if min, ok := l.readingTime.Get(key); ok {
		return min, nil
	}

	// The whole-book estimate only needs the metadata projection.
	if unit == WholeBook {
		md, err := l.Metadata(id)
		if err != nil {
			return 0, err
		}
		min := minutes(md.TotalWords)
		l.readingTime.Put(key, min)
		return min, nil
	}

	book, err := l.store.Load(id)
	if err != nil {
		return 0, err
	}
	if unit < 0 || unit >= len(book.Chapters) {
		return 0, fmt.Errorf("%w: %s unit %d", store.ErrNotFound, id, unit)
	}

	// One content load prices every unit; memoize them all.
	for _, ch := range book.Chapters {
		l.readingTime.Put(rtKey{BookID: id, Unit: ch.Order}, minutes(ch.WordCount))
	}
	return minutes(book.Chapters[unit].WordCount), nil
}

// minutes converts a word count to minutes at WordsPerMinute, rounded to
// one decimal place.
func minutes(words int) float64 {
	return math.Round(float64(words)/WordsPerMinute*10) / 10
}

// AssetPath resolves a stored asset's filesystem path.
func (l *Service) AssetPath(id, relPath string) (string, error) {
	return l.store.AssetPath(id, relPath)
}
