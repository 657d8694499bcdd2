package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// ReadingTimeResponse is returned from GET /api/books/{id}/reading-time.
type ReadingTimeResponse struct {
	BookID  string  `json:"book_id"`
	Chapter int     `json:"chapter,omitempty"`
	Minutes float64 `json:"minutes"`
}

// ReadingTimeEndpoint handles GET /api/books/{id}/reading-time. Without a
// chapter query parameter it estimates the whole book; with one it
// estimates that chapter (1-based).
type ReadingTimeEndpoint struct{}

func (e *ReadingTimeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/books/{id}/reading-time", e.handler
}

func (e *ReadingTimeEndpoint) RequiresInit() bool { return true }

func (e *ReadingTimeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	unit := library.WholeBook
	chapter := 0
	if raw := r.URL.Query().Get("chapter"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "chapter must be a positive integer")
			return
		}
		chapter = n
		unit = n - 1
	}

	minutes, err := lib.ReadingTime(id, unit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book or chapter not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ReadingTimeResponse{
		BookID:  id,
		Chapter: chapter,
		Minutes: minutes,
	})
}

func (e *ReadingTimeEndpoint) Command(getServerURL func() string) *cobra.Command {
	var chapter int
	cmd := &cobra.Command{
		Use:   "reading-time <id>",
		Short: "Estimate reading time for a book or chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/books/" + args[0] + "/reading-time"
			if chapter > 0 {
				path += fmt.Sprintf("?chapter=%d", chapter)
			}
			client := api.NewClient(getServerURL())
			var resp ReadingTimeResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&chapter, "chapter", 0, "estimate a single chapter (1-based)")
	return cmd
}
