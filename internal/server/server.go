// Package server provides the main application server.
package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tunesync/tunesync/internal/config"
	"github.com/tunesync/tunesync/internal/events"
	"github.com/tunesync/tunesync/internal/library"
	"github.com/tunesync/tunesync/internal/notify"
	"github.com/tunesync/tunesync/internal/orchestrator"
	"github.com/tunesync/tunesync/internal/state"
	"github.com/tunesync/tunesync/internal/store"
	"github.com/tunesync/tunesync/internal/tasks"
	"github.com/tunesync/tunesync/internal/youtube"
	"github.com/tunesync/tunesync/internal/ytdlp"
)

// Options holds additional server options not in config.
type Options struct {
	Logger  zerolog.Logger
	Version string
}

// Server is the main application server.
type Server struct {
	cfg        config.Config
	httpServer *HTTPServer
	orch       *orchestrator.Orchestrator
	store      *store.Store
	bus        *events.Bus
	logger     zerolog.Logger
}

// New creates a new server with the given configuration.
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger

	db, err := store.Open(cfg.Database.Path,
		store.WithLogger(logger.With().Str("component", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bus := events.New(
		events.WithLogger(logger.With().Str("component", "events").Logger()))

	stateC := state.New(
		state.WithLogger(logger.With().Str("component", "state").Logger()),
		state.WithOnChange(func(status state.Status) {
			bus.Publish(events.Event{Type: events.StateChanged, Data: map[string]any{
				"phase":        string(status.Phase),
				"current_item": status.CurrentItem,
				"item_count":   status.ItemCount,
			}})
		}))

	ytClient := youtube.New(cfg.YouTube.APIKey,
		youtube.WithRateLimit(cfg.YouTube.APIRate),
		youtube.WithLogger(logger.With().Str("component", "youtube").Logger()))

	executor := ytdlp.NewExecutor(
		ytdlp.WithBinary(cfg.Download.Binary),
		ytdlp.WithLogger(logger.With().Str("component", "ytdlp").Logger()))
	if err := executor.CheckBinary(); err != nil {
		logger.Warn().Err(err).Msg("downloader binary not found, downloads will fail")
	}

	scanner := library.NewScanner(cfg.Download.MusicDir,
		library.WithLogger(logger.With().Str("component", "library").Logger()))

	notifier := notify.NewBusNotifier(bus,
		notify.WithLogger(logger.With().Str("component", "notify").Logger()))

	registry := tasks.NewRegistry(
		tasks.WithLogger(logger.With().Str("component", "tasks").Logger()))

	downloadOpts := ytdlp.Options{
		OutputDir:      cfg.Download.MusicDir,
		AudioFormat:    cfg.Download.AudioFormat,
		EmbedMetadata:  cfg.Download.EmbedMetadata,
		EmbedThumbnail: cfg.Download.EmbedThumbnail,
		RateLimit:      cfg.Download.RateLimit,
		SponsorBlock:   cfg.Download.SponsorBlock,
		CookiesPath:    cfg.Download.CookiesPath,
	}

	orch := orchestrator.New(
		ytClient,
		executor,
		scanner,
		db,
		stateC,
		orchestrator.WithLogger(logger.With().Str("component", "orchestrator").Logger()),
		orchestrator.WithBus(bus),
		orchestrator.WithNotifier(notifier),
		orchestrator.WithAPIKey(cfg.YouTube.APIKey),
		orchestrator.WithDownloadOptions(downloadOpts),
		orchestrator.WithTaskRegistry(registry),
	)

	httpOpts := []HTTPOption{
		WithHTTPLogger(logger.With().Str("component", "http").Logger()),
		WithVersion(opts.Version),
	}
	if cfg.YouTube.APIKey != "" {
		httpOpts = append(httpOpts, WithBrowser(ytClient))
	}

	httpServer := NewHTTPServer(orch, db, stateC, bus, httpOpts...)

	return &Server{
		cfg:        cfg,
		httpServer: httpServer,
		orch:       orch,
		store:      db,
		bus:        bus,
		logger:     logger,
	}, nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Str("listen", s.cfg.Server.Listen).
		Str("music_dir", s.cfg.Download.MusicDir).
		Str("database", s.cfg.Database.Path).
		Msg("starting tunesync")

	s.bus.Publish(events.Event{Type: events.SystemStarted})

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Start(s.cfg.Server.Listen); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("server shutdown error")
	}

	s.orch.Stop()
	s.bus.Close()

	if err := s.store.Close(); err != nil {
		s.logger.Error().Err(err).Msg("database close error")
	}

	s.logger.Info().Msg("shutdown complete")
	return nil
}
