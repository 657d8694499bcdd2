package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the folio home directory.
	DefaultDirName = ".folio"

	// LibraryDirName is the subdirectory holding one directory per book.
	LibraryDirName = "library"

	// StagingDirName is the subdirectory where book builds are assembled
	// before being atomically published into the library.
	StagingDirName = "staging"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the folio home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.folio).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// LibraryPath returns the path to the library directory.
func (d *Dir) LibraryPath() string {
	return filepath.Join(d.path, LibraryDirName)
}

// StagingPath returns the path to the staging directory.
func (d *Dir) StagingPath() string {
	return filepath.Join(d.path, StagingDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// BookDir returns the directory holding one book's persisted representation.
func (d *Dir) BookDir(bookID string) string {
	return filepath.Join(d.LibraryPath(), bookID)
}

// BookContentPath returns the path to a book's full content file.
func (d *Dir) BookContentPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "book.json")
}

// BookMetadataPath returns the path to a book's lightweight metadata file.
func (d *Dir) BookMetadataPath(bookID string) string {
	return filepath.Join(d.BookDir(bookID), "metadata.json")
}

// BookAssetPath returns the path to a book asset (page image, thumbnail,
// cover) given its book-relative path.
func (d *Dir) BookAssetPath(bookID, relPath string) string {
	return filepath.Join(d.BookDir(bookID), filepath.FromSlash(relPath))
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, p := range []string{d.LibraryPath(), d.StagingPath()} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
