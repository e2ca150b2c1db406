package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/tunesync/tunesync/apitypes"
	"github.com/tunesync/tunesync/internal/events"
	"github.com/tunesync/tunesync/internal/orchestrator"
	"github.com/tunesync/tunesync/internal/state"
	"github.com/tunesync/tunesync/internal/store"
	"github.com/tunesync/tunesync/internal/tasks"
	"github.com/tunesync/tunesync/internal/youtube"
)

// Browser lists channels and their playlists for the browse endpoints.
type Browser interface {
	GetChannelID(ctx context.Context, handle string) (string, error)
	GetChannelPlaylists(ctx context.Context, channelID string) ([]youtube.ChannelPlaylist, error)
	GetPlaylistInfo(ctx context.Context, playlistID string) (*youtube.PlaylistInfo, error)
}

// HTTPServer is the HTTP API server.
type HTTPServer struct {
	echo    *echo.Echo
	orch    *orchestrator.Orchestrator
	store   *store.Store
	state   *state.Container
	bus     *events.Bus
	browser Browser
	version string
	logger  zerolog.Logger
}

// HTTPOption is a functional option for configuring the HTTP server.
type HTTPOption func(*HTTPServer)

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger zerolog.Logger) HTTPOption {
	return func(s *HTTPServer) {
		s.logger = logger
	}
}

// WithBrowser sets the channel browse client.
func WithBrowser(b Browser) HTTPOption {
	return func(s *HTTPServer) {
		s.browser = b
	}
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) HTTPOption {
	return func(s *HTTPServer) {
		s.version = v
	}
}

// NewHTTPServer creates a new HTTP API server.
func NewHTTPServer(
	orch *orchestrator.Orchestrator,
	st *store.Store,
	stateC *state.Container,
	bus *events.Bus,
	opts ...HTTPOption,
) *HTTPServer {
	s := &HTTPServer{
		echo:   echo.New(),
		orch:   orch,
		store:  st,
		state:  stateC,
		bus:    bus,
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *HTTPServer) setupMiddleware() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request")
			}
			return nil
		},
	}))

	// Recovery
	s.echo.Use(middleware.Recover())

	// CORS
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
	}))
}

func (s *HTTPServer) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", s.healthHandler)
	api.GET("/state", s.stateHandler)

	api.GET("/playlists", s.listPlaylistsHandler)
	api.POST("/playlists", s.addPlaylistHandler)
	api.GET("/playlists/:id", s.getPlaylistHandler)
	api.DELETE("/playlists/:id", s.deletePlaylistHandler)

	api.POST("/sync", s.syncHandler)
	api.POST("/sync/cancel", s.cancelHandler)
	api.GET("/report", s.reportHandler)

	api.POST("/download", s.downloadHandler)
	api.POST("/download/selection", s.selectionHandler)
	api.GET("/metadata", s.metadataHandler)
	api.POST("/update", s.updateHandler)

	api.GET("/tasks", s.listTasksHandler)
	api.POST("/tasks", s.runTaskHandler)
	api.POST("/tasks/cancel", s.cancelTaskHandler)
	api.DELETE("/tasks", s.clearTasksHandler)

	api.GET("/channels/:handle/playlists", s.channelPlaylistsHandler)

	api.GET("/events", s.eventsHandler)
}

// Start starts the server.
func (s *HTTPServer) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Handlers

func (s *HTTPServer) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.HealthResponse{
		Status:  "ok",
		Version: s.version,
	})
}

func (s *HTTPServer) stateHandler(c echo.Context) error {
	snap := s.state.GetSnapshot()
	return c.JSON(http.StatusOK, apitypes.State{
		Phase:       string(snap.Status.Phase),
		CurrentItem: snap.Status.CurrentItem,
		ItemCount:   snap.Status.ItemCount,
		ErrorKind:   string(snap.Error.Kind),
		ErrorURL:    snap.Error.URL,
		ErrorReport: snap.Error.Report,
		Progress: apitypes.Progress{
			Title:   snap.Progress.Title,
			Percent: snap.Progress.Percent,
			Line:    snap.Progress.Line,
			TaskID:  snap.Progress.TaskID,
		},
	})
}

func toAPIPlaylist(p store.Playlist) apitypes.Playlist {
	return apitypes.Playlist{
		ID:           p.ID,
		Title:        p.Title,
		URL:          p.URL,
		ThumbnailURL: p.ThumbnailURL,
		PlaylistID:   p.PlaylistID,
		VideoCount:   p.VideoCount,
		ChannelTitle: p.ChannelTitle,
		Description:  p.Description,
		LastSynced:   p.LastSynced,
		DateAdded:    p.DateAdded,
	}
}

func (s *HTTPServer) listPlaylistsHandler(c echo.Context) error {
	playlists, err := s.store.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]apitypes.Playlist, 0, len(playlists))
	for _, p := range playlists {
		resp = append(resp, toAPIPlaylist(p))
	}
	return c.JSON(http.StatusOK, resp)
}

// addPlaylistHandler tracks a new playlist by URL. When a browse client is
// configured the playlist's metadata is resolved up front; otherwise it is
// stored bare and filled in by the next sync's refresh pass.
func (s *HTTPServer) addPlaylistHandler(c echo.Context) error {
	var req apitypes.AddPlaylistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	p := store.Playlist{
		Title:      req.URL,
		URL:        req.URL,
		PlaylistID: youtube.ExtractPlaylistID(req.URL),
	}
	if s.browser != nil && p.PlaylistID != "" {
		info, err := s.browser.GetPlaylistInfo(c.Request().Context(), p.PlaylistID)
		if err != nil {
			s.logger.Warn().Err(err).Str("playlist", p.PlaylistID).Msg("metadata lookup failed on add")
		} else {
			p.Title = info.Title
			p.VideoCount = info.VideoCount
			p.ChannelTitle = info.ChannelTitle
			p.Description = info.Description
			p.ThumbnailURL = info.ThumbnailURL
		}
	}

	added, err := s.store.Add(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusCreated, toAPIPlaylist(added))
}

func (s *HTTPServer) playlistID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid playlist id")
	}
	return id, nil
}

func (s *HTTPServer) getPlaylistHandler(c echo.Context) error {
	id, err := s.playlistID(c)
	if err != nil {
		return err
	}
	p, err := s.store.Get(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "playlist not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toAPIPlaylist(p))
}

func (s *HTTPServer) deletePlaylistHandler(c echo.Context) error {
	id, err := s.playlistID(c)
	if err != nil {
		return err
	}
	if err := s.store.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "playlist not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) syncHandler(c echo.Context) error {
	runID, err := s.orch.StartSync(c.Request().Context())
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNoPlaylists), errors.Is(err, orchestrator.ErrNoAPIKey):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, apitypes.SyncResponse{RunID: runID})
}

func (s *HTTPServer) cancelHandler(c echo.Context) error {
	if !s.orch.Cancel() {
		return echo.NewHTTPError(http.StatusConflict, "no operation running")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) reportHandler(c echo.Context) error {
	report, ok := s.orch.LastReport()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no completed run")
	}
	return c.JSON(http.StatusOK, apitypes.SyncReport{
		RunID:         report.RunID,
		StartedAt:     report.StartedAt.Format(time.RFC3339),
		FinishedAt:    report.FinishedAt.Format(time.RFC3339),
		Playlists:     report.Playlists,
		RemoteCount:   report.RemoteCount,
		Downloaded:    report.Downloaded,
		Deleted:       report.Deleted,
		Failed:        report.Failed,
		AlreadySynced: report.AlreadySynced,
		Cancelled:     report.Cancelled,
	})
}

func (s *HTTPServer) downloadHandler(c echo.Context) error {
	var req apitypes.DownloadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	if req.Quick {
		taskID := s.orch.QuickDownload(c.Request().Context(), req.URL)
		return c.JSON(http.StatusAccepted, apitypes.DownloadResponse{TaskID: taskID})
	}

	taskID, err := s.orch.GetInfoAndDownload(c.Request().Context(), req.URL)
	if errors.Is(err, orchestrator.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, apitypes.DownloadResponse{TaskID: taskID})
}

func (s *HTTPServer) selectionHandler(c echo.Context) error {
	var req apitypes.SelectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" || len(req.Indexes) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "url and indexes are required")
	}

	err := s.orch.DownloadPlaylistSelection(c.Request().Context(), req.URL, req.Indexes)
	if errors.Is(err, orchestrator.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *HTTPServer) metadataHandler(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	meta, err := s.orch.FetchMetadata(c.Request().Context(), url)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	resp := apitypes.MetadataResponse{
		IsPlaylist: meta.IsPlaylist(),
		ID:         meta.ID,
		Title:      meta.Title,
		Uploader:   meta.Uploader,
	}
	for _, e := range meta.Entries {
		resp.Entries = append(resp.Entries, apitypes.MetadataEntry{
			ID:       e.ID,
			Title:    e.Title,
			Uploader: e.Uploader,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) updateHandler(c echo.Context) error {
	version, err := s.orch.Update(c.Request().Context())
	if errors.Is(err, orchestrator.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, apitypes.UpdateResponse{Version: version})
}

func toAPITask(t tasks.Task) apitypes.Task {
	resp := apitypes.Task{
		ID:        t.ID,
		Template:  t.Template.Name,
		Command:   t.Template.Command,
		URL:       t.URL,
		State:     string(t.State),
		Output:    t.Output,
		Error:     t.Error,
		StartedAt: t.StartedAt.Format(time.RFC3339),
	}
	if !t.FinishedAt.IsZero() {
		resp.FinishedAt = t.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func (s *HTTPServer) listTasksHandler(c echo.Context) error {
	all := s.orch.Tasks().List()
	resp := make([]apitypes.Task, 0, len(all))
	for _, t := range all {
		resp = append(resp, toAPITask(t))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) runTaskHandler(c echo.Context) error {
	var req apitypes.RunTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Template == "" || req.Command == "" || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "template, command and url are required")
	}

	template := tasks.Template{Name: req.Template, Command: req.Command}
	task := s.orch.RunCommandTemplate(c.Request().Context(), template, req.URL)
	return c.JSON(http.StatusAccepted, toAPITask(task))
}

func (s *HTTPServer) cancelTaskHandler(c echo.Context) error {
	var req apitypes.CancelTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.orch.CancelTask(req.ID); err != nil {
		if errors.Is(err, tasks.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) clearTasksHandler(c echo.Context) error {
	removed := s.orch.Tasks().Clear()
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

func (s *HTTPServer) channelPlaylistsHandler(c echo.Context) error {
	if s.browser == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "youtube api not configured")
	}
	handle := c.Param("handle")

	ctx := c.Request().Context()
	channelID, err := s.browser.GetChannelID(ctx, handle)
	if errors.Is(err, youtube.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	playlists, err := s.browser.GetChannelPlaylists(ctx, channelID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	resp := make([]apitypes.ChannelPlaylist, 0, len(playlists))
	for _, p := range playlists {
		resp = append(resp, apitypes.ChannelPlaylist{
			ID:           p.ID,
			Title:        p.Title,
			Description:  p.Description,
			ThumbnailURL: p.ThumbnailURL,
			ItemCount:    p.ItemCount,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// eventsHandler streams bus events to the client as server-sent events until
// the client disconnects.
func (s *HTTPServer) eventsHandler(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
