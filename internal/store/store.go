// Package store provides durable, atomic persistence for books.
//
// Each book lives in its own library directory holding book.json (full
// content), metadata.json (listing projection), and any generated assets.
// Writes are assembled in a staging directory and published with a final
// rename, so readers only ever observe a complete book or no book at all.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/types"
)

// ErrNotFound indicates the requested book or metadata record does not exist.
var ErrNotFound = errors.New("store: book not found")

// validID reports whether id is a plain single path segment. Identifiers
// arrive from the URL on every book route and name a directory under the
// library, so anything that could traverse out of it is rejected before
// any filesystem use.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

// Store owns the on-disk book namespace.
type Store struct {
	home   *home.Dir
	logger *slog.Logger

	// mu guards locks; each per-book mutex serializes writers for one
	// identifier so concurrent reprocesses cannot interleave publishes.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at the given home directory.
func New(h *home.Dir, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		home:   h,
		logger: logger.With("component", "store"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Store) idLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Save persists the book under its identifier using build-then-swap: the
// full representation is assembled in staging and published by rename as the
// last step. Metadata is regenerated on every save.
func (s *Store) Save(book *types.Book) error {
	if !validID(book.ID) {
		return fmt.Errorf("store: invalid book identifier %q", book.ID)
	}

	l := s.idLock(book.ID)
	l.Lock()
	defer l.Unlock()

	stage := filepath.Join(s.home.StagingPath(), book.ID+"-"+uuid.New().String())
	if err := s.buildStage(stage, book); err != nil {
		os.RemoveAll(stage)
		return err
	}

	if err := s.publish(stage, s.home.BookDir(book.ID)); err != nil {
		os.RemoveAll(stage)
		return err
	}

	s.logger.Info("book saved", "book_id", book.ID, "chapters", len(book.Chapters), "words", book.TotalWords)
	return nil
}

// buildStage writes the complete new representation into the staging dir.
func (s *Store) buildStage(stage string, book *types.Book) error {
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	for _, asset := range book.Assets {
		p := filepath.Join(stage, filepath.FromSlash(asset.RelPath))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create asset dir: %w", err)
		}
		if err := os.WriteFile(p, asset.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write asset %s: %w", asset.RelPath, err)
		}
	}

	if err := writeJSONFile(filepath.Join(stage, "book.json"), book); err != nil {
		return err
	}
	md := types.MetadataOf(book)
	return writeJSONFile(filepath.Join(stage, "metadata.json"), md)
}

// publish swaps the staged build into place. An existing version is renamed
// aside first so the destination path transitions in a single rename.
//
// rename cannot replace a non-empty directory, so replacement is two
// renames and a reader between them observes NotFound rather than a partial
// book, the same state a crash between the renames would leave.
func (s *Store) publish(stage, dest string) error {
	var aside string
	if _, err := os.Stat(dest); err == nil {
		aside = stage + ".replaced"
		if err := os.Rename(dest, aside); err != nil {
			return fmt.Errorf("failed to move previous version aside: %w", err)
		}
	}

	if err := os.Rename(stage, dest); err != nil {
		if aside != "" {
			// Best-effort rollback to the previous version.
			if rbErr := os.Rename(aside, dest); rbErr != nil {
				s.logger.Error("rollback after failed publish also failed", "book_dir", dest, "error", rbErr)
			}
		}
		return fmt.Errorf("failed to publish book: %w", err)
	}

	if aside != "" {
		os.RemoveAll(aside)
	}
	return nil
}

// Load reads a book's full content. Returns ErrNotFound if absent.
func (s *Store) Load(id string) (*types.Book, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var book types.Book
	if err := readJSONFile(s.home.BookContentPath(id), &book); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load book %s: %w", id, err)
	}
	return &book, nil
}

// LoadMetadata reads a book's listing projection without touching content.
func (s *Store) LoadMetadata(id string) (types.BookMetadata, error) {
	var md types.BookMetadata
	if !validID(id) {
		return md, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := readJSONFile(s.home.BookMetadataPath(id), &md); err != nil {
		if os.IsNotExist(err) {
			return md, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return md, fmt.Errorf("failed to load metadata %s: %w", id, err)
	}
	return md, nil
}

// ListMetadata returns one metadata record per stored book, most recently
// processed first. Directories missing a readable metadata file are skipped.
func (s *Store) ListMetadata() ([]types.BookMetadata, error) {
	entries, err := os.ReadDir(s.home.LibraryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read library: %w", err)
	}

	var list []types.BookMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		md, err := s.LoadMetadata(entry.Name())
		if err != nil {
			s.logger.Warn("skipping book with unreadable metadata", "book_id", entry.Name(), "error", err)
			continue
		}
		list = append(list, md)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].ProcessedAt.After(list[j].ProcessedAt)
	})
	return list, nil
}

// RebuildMetadata regenerates metadata.json from the persisted content.
// When force is false and the existing record already matches, the write is
// skipped and false is returned.
func (s *Store) RebuildMetadata(id string, force bool) (bool, error) {
	if !validID(id) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l := s.idLock(id)
	l.Lock()
	defer l.Unlock()

	book, err := s.Load(id)
	if err != nil {
		return false, err
	}
	fresh := types.MetadataOf(book)

	if !force {
		if existing, err := s.LoadMetadata(id); err == nil && metadataEqual(existing, fresh) {
			return false, nil
		}
	}

	// metadata.json is replaced via temp file + rename so a concurrent
	// reader never sees a partial record.
	tmp := s.home.BookMetadataPath(id) + ".tmp"
	if err := writeJSONFile(tmp, fresh); err != nil {
		os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, s.home.BookMetadataPath(id)); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("failed to replace metadata: %w", err)
	}
	return true, nil
}

func metadataEqual(a, b types.BookMetadata) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// Delete removes a book's persisted files. Deleting a non-existent
// identifier is a no-op.
func (s *Store) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l := s.idLock(id)
	l.Lock()
	defer l.Unlock()

	dir := s.home.BookDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete book %s: %w", id, err)
	}
	s.logger.Info("book deleted", "book_id", id)
	return nil
}

// CleanStaging removes abandoned staging builds left behind by a crash.
// Safe to call on every start; in-flight builds are never in staging once
// the process has exited.
func (s *Store) CleanStaging() error {
	entries, err := os.ReadDir(s.home.StagingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read staging: %w", err)
	}
	for _, entry := range entries {
		p := filepath.Join(s.home.StagingPath(), entry.Name())
		if err := os.RemoveAll(p); err != nil {
			s.logger.Warn("failed to remove abandoned staging build", "path", p, "error", err)
			continue
		}
		s.logger.Info("removed abandoned staging build", "path", p)
	}
	return nil
}

// AssetPath returns the filesystem path of a stored asset, or ErrNotFound.
// Both the identifier and the relative path are confined to the book's
// directory.
func (s *Store) AssetPath(id, relPath string) (string, error) {
	if !validID(id) || !filepath.IsLocal(filepath.FromSlash(relPath)) {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, id, relPath)
	}
	p := s.home.BookAssetPath(id, relPath)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s/%s", ErrNotFound, id, relPath)
	}
	return p, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
