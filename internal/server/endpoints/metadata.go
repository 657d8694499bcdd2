package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/types"
)

// GetMetadataEndpoint handles GET /api/books/{id}/metadata.
type GetMetadataEndpoint struct{}

func (e *GetMetadataEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/metadata", e.handler
}

func (e *GetMetadataEndpoint) RequiresInit() bool { return true }

func (e *GetMetadataEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, meta)
}

func (e *GetMetadataEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <id>",
		Short: "Get a book's lightweight metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var meta types.BookMetadata
			if err := client.Get(cmd.Context(), "/api/books/"+args[0]+"/metadata", &meta); err != nil {
				return err
			}
			return api.Output(meta)
		},
	}
}

// RebuildResponse reports the outcome of a metadata rebuild.
type RebuildResponse struct {
	Rebuilt int `json:"rebuilt"`
}

// RebuildMetadataEndpoint handles POST /api/books/{id}/metadata/rebuild.
// The metadata file is regenerated from book content; with force=true it
// is rewritten even when already current.
type RebuildMetadataEndpoint struct{}

func (e *RebuildMetadataEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/{id}/metadata/rebuild", e.handler
}

func (e *RebuildMetadataEndpoint) RequiresInit() bool { return true }

func (e *RebuildMetadataEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	rebuilt, err := lib.RebuildMetadata(id, force)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := RebuildResponse{}
	if rebuilt {
		resp.Rebuilt = 1
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *RebuildMetadataEndpoint) Command(getServerURL func() string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rebuild-metadata <id>",
		Short: "Rebuild a book's metadata file from its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/books/" + args[0] + "/metadata/rebuild"
			if force {
				path += "?force=true"
			}
			client := api.NewClient(getServerURL())
			var resp RebuildResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rewrite even when already current")
	return cmd
}

// RebuildAllMetadataEndpoint handles POST /api/books/metadata/rebuild,
// rebuilding metadata for every book in the library.
type RebuildAllMetadataEndpoint struct{}

func (e *RebuildAllMetadataEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/books/metadata/rebuild", e.handler
}

func (e *RebuildAllMetadataEndpoint) RequiresInit() bool { return true }

func (e *RebuildAllMetadataEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	force := r.URL.Query().Get("force") == "true"
	rebuilt, err := lib.RebuildAllMetadata(force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{Rebuilt: rebuilt})
}

func (e *RebuildAllMetadataEndpoint) Command(getServerURL func() string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rebuild-all-metadata",
		Short: "Rebuild metadata files for every book",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/books/metadata/rebuild"
			if force {
				path += "?force=true"
			}
			client := api.NewClient(getServerURL())
			var resp RebuildResponse
			if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rewrite even when already current")
	return cmd
}
