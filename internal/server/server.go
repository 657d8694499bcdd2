// Package server wires the library, job executor, and search engine into
// an HTTP server, managing their lifecycle around the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/extract"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/jobs"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/search"
	"github.com/jackzampolin/folio/internal/server/endpoints"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// Server is the main Folio HTTP server. It owns the library, tracker,
// executor, and search engine, starting them before the listener and
// draining them on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	configMgr  *config.Manager
	logger     *slog.Logger

	library  *library.Service
	tracker  *jobs.Tracker
	executor *jobs.Executor
	search   *search.Engine

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Home is the folio home directory.
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := cfg.ConfigManager.Get()

	s := &Server{
		home:      cfg.Home,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port)),
		Handler:     s.withServices(mux),
		ReadTimeout: 10 * time.Minute, // large uploads
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start initializes all services and runs the HTTP server. It blocks
// until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	c := s.configMgr.Get()

	bookStore := store.New(s.home, s.logger)
	if err := bookStore.CleanStaging(); err != nil {
		s.logger.Warn("staging cleanup failed", "error", err)
	}

	s.library = library.New(bookStore, library.Options{
		MetadataCacheSize:    c.Caches.Metadata,
		ReadingTimeCacheSize: c.Caches.ReadingTime,
		Logger:               s.logger,
	})

	s.search = search.New(s.library, search.Options{
		FragmentCacheSize: c.Caches.Search,
		Logger:            s.logger,
	})

	extractor := extract.New(extract.Options{
		MaxBytes:      c.Uploads.MaxBytes,
		RenderImages:  c.Render.Enabled,
		RenderDPI:     c.Render.DPI,
		ThumbnailSize: c.Render.ThumbnailSize,
		Logger:        s.logger,
	})

	s.tracker = jobs.NewTracker(s.logger)
	s.executor = jobs.NewExecutor(s.tracker, s.library, extractor, jobs.ExecutorOptions{
		Workers:        c.Jobs.Workers,
		QueueSize:      c.Jobs.QueueSize,
		ProcessTimeout: c.Jobs.ProcessTimeout,
		Logger:         s.logger,
	})

	// Background lifecycle: workers and the job sweeper run until shutdown.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	s.executor.Start(runCtx)
	go s.tracker.Run(runCtx, c.Jobs.SweepInterval, c.Jobs.Retention)

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Library:            s.library,
		Tracker:            s.tracker,
		Executor:           s.executor,
		Search:             s.search,
		Config:             s.configMgr,
		Logger:             s.logger,
		Home:               s.home,
		SyncThresholdBytes: c.Uploads.SyncThresholdBytes,
		MaxUploadBytes:     c.Uploads.MaxBytes,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			cancelRun()
			s.executor.Wait()
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown(cancelRun)
}

// shutdown performs graceful shutdown: stop accepting requests, then
// drain the executor so accepted uploads finish.
func (s *Server) shutdown(cancelRun context.CancelFunc) error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	cancelRun()
	s.executor.Wait()

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Library returns the library service.
// Returns nil if the server hasn't started yet.
func (s *Server) Library() *library.Service {
	return s.library
}

// Registry returns the endpoint registry.
func (s *Server) Registry() *api.Registry {
	return s.endpointRegistry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the library and executor are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.library == nil || s.executor == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
