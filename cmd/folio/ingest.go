package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/extract"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/jobs"
	"github.com/jackzampolin/folio/internal/library"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest books directly into the local library",
	Long: `Ingest EPUB or PDF files into the local library without a running
server. Each file is processed synchronously and its book id printed.

Examples:
  folio ingest moby-dick.epub
  folio ingest scans/*.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		cfgMgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))

		bookStore := store.New(h, logger)
		if err := bookStore.CleanStaging(); err != nil {
			logger.Warn("staging cleanup failed", "error", err)
		}
		lib := library.New(bookStore, library.Options{
			MetadataCacheSize:    cfg.Caches.Metadata,
			ReadingTimeCacheSize: cfg.Caches.ReadingTime,
			Logger:               logger,
		})
		extractor := extract.New(extract.Options{
			MaxBytes:      cfg.Uploads.MaxBytes,
			RenderImages:  cfg.Render.Enabled,
			RenderDPI:     cfg.Render.DPI,
			ThumbnailSize: cfg.Render.ThumbnailSize,
			Logger:        logger,
		})
		tracker := jobs.NewTracker(logger)
		executor := jobs.NewExecutor(tracker, lib, extractor, jobs.ExecutorOptions{
			ProcessTimeout: cfg.Jobs.ProcessTimeout,
			Logger:         logger,
		})

		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			filename := filepath.Base(path)
			kind := types.ParseKind(strings.ToLower(filepath.Ext(filename)))
			if kind == "" {
				kind = extract.DetectKind(data)
			}
			if kind == "" {
				return fmt.Errorf("%s: could not determine document format", path)
			}

			bookID, err := executor.RunSync(cmd.Context(), data, kind, filename)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Printf("%s\t%s\n", bookID, filename)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
