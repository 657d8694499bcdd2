package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
)

type stubEndpoint struct {
	method       string
	path         string
	requiresInit bool
	cmdUse       string
	hits         int
}

func (e *stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		e.hits++
		w.WriteHeader(http.StatusOK)
	}
}

func (e *stubEndpoint) RequiresInit() bool { return e.requiresInit }

func (e *stubEndpoint) Command(_ func() string) *cobra.Command {
	if e.cmdUse == "" {
		return nil
	}
	return &cobra.Command{Use: e.cmdUse}
}

func TestRegistry_RegisterRoutes(t *testing.T) {
	reg := NewRegistry()
	open := &stubEndpoint{method: "GET", path: "/api/health"}
	gated := &stubEndpoint{method: "GET", path: "/api/books", requiresInit: true}
	reg.Register(open)
	reg.Register(gated)

	wrapped := 0
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc {
		wrapped++
		return h
	})

	if wrapped != 1 {
		t.Errorf("middleware wrapped %d handlers, want 1", wrapped)
	}

	for _, path := range []string{"/api/health", "/api/books"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
	if open.hits != 1 || gated.hits != 1 {
		t.Errorf("handler hits = %d/%d, want 1/1", open.hits, gated.hits)
	}
}

func TestRegistry_BuildCommands(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubEndpoint{method: "GET", path: "/api/health", cmdUse: "health"})
	reg.Register(&stubEndpoint{method: "GET", path: "/api/books/{id}/cover", cmdUse: ""})
	reg.Register(&stubEndpoint{method: "GET", path: "/api/search", cmdUse: "search <query>"})

	apiCmd := reg.BuildCommands(func() string { return "http://localhost:8182" })

	sub := apiCmd.Commands()
	if len(sub) != 2 {
		t.Fatalf("subcommand count = %d, want 2 (asset routes carry no command)", len(sub))
	}
	names := map[string]bool{}
	for _, c := range sub {
		names[c.Name()] = true
	}
	if !names["health"] || !names["search"] {
		t.Errorf("subcommands = %v, want health and search", names)
	}
}
