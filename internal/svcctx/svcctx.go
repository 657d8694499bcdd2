// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/jobs"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/search"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Library  *library.Service
	Tracker  *jobs.Tracker
	Executor *jobs.Executor
	Search   *search.Engine
	Config   *config.Manager
	Logger   *slog.Logger
	Home     *home.Dir

	// SyncThresholdBytes mirrors the upload config so the upload handler
	// does not reach into the config manager per request.
	SyncThresholdBytes int64
	MaxUploadBytes     int64
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// LibraryFrom extracts the library service from context.
func LibraryFrom(ctx context.Context) *library.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Library
	}
	return nil
}

// TrackerFrom extracts the job tracker from context.
func TrackerFrom(ctx context.Context) *jobs.Tracker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Tracker
	}
	return nil
}

// ExecutorFrom extracts the background executor from context.
func ExecutorFrom(ctx context.Context) *jobs.Executor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Executor
	}
	return nil
}

// SearchFrom extracts the search engine from context.
func SearchFrom(ctx context.Context) *search.Engine {
	if s := ServicesFrom(ctx); s != nil {
		return s.Search
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
