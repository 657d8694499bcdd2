package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/search"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// SearchResponse is returned from GET /api/search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Matches []search.Match `json:"matches"`
}

// SearchEndpoint handles GET /api/search. Query parameters: q (required),
// book (restrict to one book), page (restrict to one chapter/page, needs
// book), limit.
type SearchEndpoint struct{}

func (e *SearchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/search", e.handler
}

func (e *SearchEndpoint) RequiresInit() bool { return true }

func (e *SearchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	engine := svcctx.SearchFrom(r.Context())
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "search engine not initialized")
		return
	}

	params := r.URL.Query()
	q := search.Query{
		Text:   params.Get("q"),
		BookID: params.Get("book"),
	}
	if raw := params.Get("page"); raw != "" {
		if q.BookID == "" {
			writeError(w, http.StatusBadRequest, "page filter requires a book id")
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		q.Page = n
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	matches, err := engine.Search(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, "query parameter q is required")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "book not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: q.Text, Matches: matches})
}

func (e *SearchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		book  string
		page  int
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search book content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			params.Set("q", args[0])
			if book != "" {
				params.Set("book", book)
			}
			if page > 0 {
				params.Set("page", strconv.Itoa(page))
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}

			client := api.NewClient(getServerURL())
			var resp SearchResponse
			if err := client.Get(cmd.Context(), "/api/search?"+params.Encode(), &resp); err != nil {
				return err
			}

			if len(resp.Matches) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&book, "book", "", "restrict search to one book id")
	cmd.Flags().IntVar(&page, "page", 0, "restrict search to one chapter/page (requires --book)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of matches")
	return cmd
}
