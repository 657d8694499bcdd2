package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// serveAsset resolves a stored asset and writes it as a file response.
func serveAsset(w http.ResponseWriter, r *http.Request, relPath string) {
	id := r.PathValue("id")
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	path, err := lib.AssetPath(id, relPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	http.ServeFile(w, r, path)
}

// parsePage extracts and validates the 1-based page path value.
func parsePage(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || n < 1 {
		return 0, errors.New("page must be a positive integer")
	}
	return n, nil
}

// PageImageEndpoint handles GET /api/books/{id}/pages/{page}/image,
// serving the rendered page PNG.
type PageImageEndpoint struct{}

func (e *PageImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/pages/{page}/image", e.handler
}

func (e *PageImageEndpoint) RequiresInit() bool { return true }

func (e *PageImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	serveAsset(w, r, fmt.Sprintf("images/page_%d.png", page))
}

func (e *PageImageEndpoint) Command(_ func() string) *cobra.Command {
	// Binary asset, no CLI command.
	return nil
}

// PageThumbnailEndpoint handles GET /api/books/{id}/pages/{page}/thumbnail.
type PageThumbnailEndpoint struct{}

func (e *PageThumbnailEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/pages/{page}/thumbnail", e.handler
}

func (e *PageThumbnailEndpoint) RequiresInit() bool { return true }

func (e *PageThumbnailEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	serveAsset(w, r, fmt.Sprintf("thumbnails/thumb_%d.png", page))
}

func (e *PageThumbnailEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}

// CoverImageEndpoint handles GET /api/books/{id}/cover, serving the
// extracted cover image when the book has one.
type CoverImageEndpoint struct{}

func (e *CoverImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/cover", e.handler
}

func (e *CoverImageEndpoint) RequiresInit() bool { return true }

func (e *CoverImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	meta, err := lib.Metadata(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if meta.CoverImage == "" {
		writeError(w, http.StatusNotFound, "book has no cover image")
		return
	}
	serveAsset(w, r, meta.CoverImage)
}

func (e *CoverImageEndpoint) Command(_ func() string) *cobra.Command {
	return nil
}
