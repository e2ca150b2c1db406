package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/tunesync/apitypes"
	"github.com/tunesync/tunesync/internal/events"
	"github.com/tunesync/tunesync/internal/orchestrator"
	"github.com/tunesync/tunesync/internal/server"
	"github.com/tunesync/tunesync/internal/state"
	"github.com/tunesync/tunesync/internal/store"
	mockpkg "github.com/tunesync/tunesync/internal/testing"
	"github.com/tunesync/tunesync/internal/youtube"
)

// testServer wires an HTTP server around a real store and orchestrator with
// mock provider, executor and library.
type testServer struct {
	server   *server.HTTPServer
	db       *store.Store
	state    *state.Container
	bus      *events.Bus
	provider *mockpkg.MockProvider
	executor *mockpkg.MockExecutor
	library  *mockpkg.MockLibrary
}

func newTestServer(t *testing.T, opts ...server.HTTPOption) *testServer {
	t.Helper()

	db, err := store.Open(t.TempDir() + "/tunesync.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := events.New()
	t.Cleanup(bus.Close)

	stateC := state.New()
	provider := mockpkg.NewMockProvider()
	executor := mockpkg.NewMockExecutor()
	library := mockpkg.NewMockLibrary()

	orch := orchestrator.New(provider, executor, library, db, stateC,
		orchestrator.WithAPIKey("test-key"),
		orchestrator.WithBus(bus),
	)
	t.Cleanup(orch.Stop)

	httpServer := server.NewHTTPServer(orch, db, stateC, bus,
		append([]server.HTTPOption{server.WithVersion("test")}, opts...)...)

	return &testServer{
		server:   httpServer,
		db:       db,
		state:    stateC,
		bus:      bus,
		provider: provider,
		executor: executor,
		library:  library,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, ts.state.IsIdle, 5*time.Second, 5*time.Millisecond)
}

// --- Health and State ---

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp apitypes.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestStateHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/state", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp apitypes.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(state.PhaseIdle), resp.Phase)
	assert.Empty(t, resp.ErrorKind)
}

// --- Playlist Endpoints ---

func TestPlaylistEndpoints(t *testing.T) {
	t.Run("AddExtractsPlaylistID", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/playlists", apitypes.AddPlaylistRequest{
			URL: "https://www.youtube.com/playlist?list=PLtest12345678",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp apitypes.Playlist
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotZero(t, resp.ID)
		assert.Equal(t, "PLtest12345678", resp.PlaylistID)
	})

	t.Run("AddEnrichesFromBrowser", func(t *testing.T) {
		browser := newStubBrowser()
		browser.infos["PLtest12345678"] = &youtube.PlaylistInfo{
			PlaylistID: "PLtest12345678",
			Title:      "Road Trip Mix",
			VideoCount: 42,
		}
		ts := newTestServer(t, server.WithBrowser(browser))

		rec := ts.request(t, http.MethodPost, "/api/playlists", apitypes.AddPlaylistRequest{
			URL: "https://www.youtube.com/playlist?list=PLtest12345678",
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var resp apitypes.Playlist
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Road Trip Mix", resp.Title)
		assert.Equal(t, 42, resp.VideoCount)
	})

	t.Run("AddRequiresURL", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/playlists", apitypes.AddPlaylistRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ListAndGet", func(t *testing.T) {
		ts := newTestServer(t)
		added, err := ts.db.Add(context.Background(), store.Playlist{
			Title: "Mix", URL: "https://www.youtube.com/playlist?list=PLabc123456",
		})
		require.NoError(t, err)

		rec := ts.request(t, http.MethodGet, "/api/playlists", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list []apitypes.Playlist
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, added.ID, list[0].ID)

		rec = ts.request(t, http.MethodGet, "/api/playlists/1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = ts.request(t, http.MethodGet, "/api/playlists/999", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = ts.request(t, http.MethodGet, "/api/playlists/bogus", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		ts := newTestServer(t)
		_, err := ts.db.Add(context.Background(), store.Playlist{
			Title: "Mix", URL: "https://www.youtube.com/playlist?list=PLabc123456",
		})
		require.NoError(t, err)

		rec := ts.request(t, http.MethodDelete, "/api/playlists/1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.request(t, http.MethodDelete, "/api/playlists/1", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// --- Sync and Report ---

func TestSyncHandler(t *testing.T) {
	t.Run("NoPlaylists", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/sync", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("RunsToCompletion", func(t *testing.T) {
		ts := newTestServer(t)
		_, err := ts.db.Add(context.Background(), store.Playlist{
			Title: "Mix", URL: "https://www.youtube.com/playlist?list=PLsync1234567",
		})
		require.NoError(t, err)

		ts.provider.SetPlaylist(
			&youtube.PlaylistInfo{PlaylistID: "PLsync1234567", Title: "Mix", VideoCount: 2},
			[]youtube.PlaylistItem{
				{VideoID: "aaaaaaaaaaa", Title: "First Song", Position: 0},
				{VideoID: "bbbbbbbbbbb", Title: "Second Song", Position: 1},
			},
		)

		rec := ts.request(t, http.MethodPost, "/api/sync", nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp apitypes.SyncResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.RunID)

		ts.waitIdle(t)

		rec = ts.request(t, http.MethodGet, "/api/report", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report apitypes.SyncReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, resp.RunID, report.RunID)
		assert.Equal(t, 2, report.Downloaded)
		assert.False(t, report.AlreadySynced)
	})
}

func TestReportHandlerNoRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelHandlerIdle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/sync/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// --- Downloads ---

func TestDownloadHandler(t *testing.T) {
	t.Run("Quick", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/download", apitypes.DownloadRequest{
			URL:   "https://youtu.be/dQw4w9WgXcQ",
			Quick: true,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp apitypes.DownloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.TaskID)

		require.Eventually(t, func() bool {
			return len(ts.executor.DownloadedURLs()) == 1
		}, 5*time.Second, 5*time.Millisecond)
	})

	t.Run("Standard", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/download", apitypes.DownloadRequest{
			URL: "https://youtu.be/dQw4w9WgXcQ",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		ts.waitIdle(t)
		assert.Len(t, ts.executor.DownloadedURLs(), 1)
	})

	t.Run("RequiresURL", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/download", apitypes.DownloadRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSelectionHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/download/selection", apitypes.SelectionRequest{
		URL:     "https://www.youtube.com/playlist?list=PLsel12345678",
		Indexes: []int{1, 3},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	ts.waitIdle(t)
	assert.Len(t, ts.executor.DownloadedURLs(), 2)
}

func TestMetadataHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/metadata", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/metadata?url=https://youtu.be/dQw4w9WgXcQ", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp apitypes.MetadataResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsPlaylist)
}

func TestUpdateHandler(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp apitypes.UpdateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2026.01.01", resp.Version)
}

// --- Tasks ---

func TestTaskEndpoints(t *testing.T) {
	t.Run("RunAndList", func(t *testing.T) {
		ts := newTestServer(t)
		ts.executor.OnExecuteTemplate = func(_ context.Context, _, _, _ string, onLine func(string)) error {
			onLine("hello")
			return nil
		}

		rec := ts.request(t, http.MethodPost, "/api/tasks", apitypes.RunTaskRequest{
			Template: "archive",
			Command:  "yt-dlp {url}",
			URL:      "https://youtu.be/dQw4w9WgXcQ",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var task apitypes.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
		assert.Equal(t, "archive", task.Template)

		require.Eventually(t, func() bool {
			rec := ts.request(t, http.MethodGet, "/api/tasks", nil)
			var list []apitypes.Task
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
			return len(list) == 1 && list[0].State == "done"
		}, 5*time.Second, 10*time.Millisecond)

		rec = ts.request(t, http.MethodDelete, "/api/tasks", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var cleared map[string]int
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cleared))
		assert.Equal(t, 1, cleared["removed"])
	})

	t.Run("RequiresFields", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/tasks", apitypes.RunTaskRequest{Template: "archive"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("CancelUnknown", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodPost, "/api/tasks/cancel", apitypes.CancelTaskRequest{ID: "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// --- Channel Browse ---

type stubBrowser struct {
	mu        sync.Mutex
	channels  map[string]string
	playlists map[string][]youtube.ChannelPlaylist
	infos     map[string]*youtube.PlaylistInfo
}

func newStubBrowser() *stubBrowser {
	return &stubBrowser{
		channels:  make(map[string]string),
		playlists: make(map[string][]youtube.ChannelPlaylist),
		infos:     make(map[string]*youtube.PlaylistInfo),
	}
}

func (s *stubBrowser) GetChannelID(_ context.Context, handle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.channels[handle]
	if !ok {
		return "", youtube.ErrNotFound
	}
	return id, nil
}

func (s *stubBrowser) GetChannelPlaylists(_ context.Context, channelID string) ([]youtube.ChannelPlaylist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlists[channelID], nil
}

func (s *stubBrowser) GetPlaylistInfo(_ context.Context, playlistID string) (*youtube.PlaylistInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[playlistID]
	if !ok {
		return nil, youtube.ErrNotFound
	}
	return info, nil
}

func TestChannelPlaylistsHandler(t *testing.T) {
	t.Run("NoBrowser", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.request(t, http.MethodGet, "/api/channels/somechannel/playlists", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("UnknownChannel", func(t *testing.T) {
		ts := newTestServer(t, server.WithBrowser(newStubBrowser()))

		rec := ts.request(t, http.MethodGet, "/api/channels/somechannel/playlists", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ListsPlaylists", func(t *testing.T) {
		browser := newStubBrowser()
		browser.channels["somechannel"] = "UCabc123"
		browser.playlists["UCabc123"] = []youtube.ChannelPlaylist{
			{ID: "PLchan1234567", Title: "Uploads Mix", ItemCount: 7},
		}
		ts := newTestServer(t, server.WithBrowser(browser))

		rec := ts.request(t, http.MethodGet, "/api/channels/somechannel/playlists", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var list []apitypes.ChannelPlaylist
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, "Uploads Mix", list[0].Title)
		assert.Equal(t, 7, list[0].ItemCount)
	})
}

// --- Events Stream ---

func TestEventsHandler(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.server.ServeHTTP(rec, req)
	}()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		return ts.bus.SubscriberCount() == 1
	}, 5*time.Second, 5*time.Millisecond)

	ts.bus.Publish(events.Event{Type: events.SyncStarted, Data: map[string]any{"run_id": "abc"}})

	require.Eventually(t, func() bool {
		cancel()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	body := rec.Body.String()
	assert.Contains(t, body, "event: sync.started")
	assert.Contains(t, body, `"run_id":"abc"`)
}
