// Package testing provides mock implementations for use in tests.
// This package should only be imported by test files (*_test.go).
package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/tunesync/tunesync/internal/reconcile"
	"github.com/tunesync/tunesync/internal/store"
	"github.com/tunesync/tunesync/internal/youtube"
	"github.com/tunesync/tunesync/internal/ytdlp"
)

// ErrNotFound is returned for lookups against missing entries.
var ErrNotFound = errors.New("not found")

// MockProvider is a mock playlist metadata provider. Populate Infos and
// Items by playlist ID, or set the On hooks for custom behavior.
type MockProvider struct {
	mu    sync.RWMutex
	Infos map[string]*youtube.PlaylistInfo
	Items map[string][]youtube.PlaylistItem

	OnGetPlaylistInfo  func(ctx context.Context, playlistID string) (*youtube.PlaylistInfo, error)
	OnGetPlaylistItems func(ctx context.Context, playlistID string) ([]youtube.PlaylistItem, error)
}

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Infos: make(map[string]*youtube.PlaylistInfo),
		Items: make(map[string][]youtube.PlaylistItem),
	}
}

// SetPlaylist registers a playlist's info and membership under one ID.
func (m *MockProvider) SetPlaylist(info *youtube.PlaylistInfo, items []youtube.PlaylistItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Infos[info.PlaylistID] = info
	m.Items[info.PlaylistID] = items
}

// GetPlaylistInfo returns the registered info for playlistID.
func (m *MockProvider) GetPlaylistInfo(ctx context.Context, playlistID string) (*youtube.PlaylistInfo, error) {
	if m.OnGetPlaylistInfo != nil {
		return m.OnGetPlaylistInfo(ctx, playlistID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.Infos[playlistID]
	if !ok {
		return nil, youtube.ErrNotFound
	}
	return info, nil
}

// GetPlaylistItems returns the registered membership for playlistID.
func (m *MockProvider) GetPlaylistItems(ctx context.Context, playlistID string) ([]youtube.PlaylistItem, error) {
	if m.OnGetPlaylistItems != nil {
		return m.OnGetPlaylistItems(ctx, playlistID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.Items[playlistID]
	if !ok {
		return nil, youtube.ErrNotFound
	}
	return items, nil
}

// MockExecutor is a mock downloader binary. By default every fetch returns
// a VideoInfo derived from the URL and every download succeeds.
type MockExecutor struct {
	mu         sync.Mutex
	Fetched    []string
	Downloaded []string
	Destroyed  []string
	templates  []string

	OnFetchInfo       func(ctx context.Context, url string, playlistIndex int) (*ytdlp.VideoInfo, error)
	OnFetchMetadata   func(ctx context.Context, url string) (*ytdlp.PlaylistMetadata, error)
	OnDownload        func(ctx context.Context, taskID, url string, opts ytdlp.Options) (*ytdlp.Result, error)
	OnExecuteTemplate func(ctx context.Context, taskID, template, url string, onLine func(string)) error
	OnUpdate          func(ctx context.Context) (string, error)
	OnDestroy         func(taskID string)
}

// NewMockExecutor creates a mock executor.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// FetchInfo records the call and delegates to OnFetchInfo when set.
func (m *MockExecutor) FetchInfo(ctx context.Context, url string, playlistIndex int, _ ytdlp.Options) (*ytdlp.VideoInfo, error) {
	m.mu.Lock()
	m.Fetched = append(m.Fetched, url)
	m.mu.Unlock()

	if m.OnFetchInfo != nil {
		return m.OnFetchInfo(ctx, url, playlistIndex)
	}
	return &ytdlp.VideoInfo{
		ID:         url,
		Title:      "title of " + url,
		WebpageURL: url,
	}, nil
}

// FetchMetadata delegates to OnFetchMetadata when set.
func (m *MockExecutor) FetchMetadata(ctx context.Context, url string, _ ytdlp.Options) (*ytdlp.PlaylistMetadata, error) {
	if m.OnFetchMetadata != nil {
		return m.OnFetchMetadata(ctx, url)
	}
	return &ytdlp.PlaylistMetadata{Type: "video", ID: url, WebpageURL: url}, nil
}

// Download records the call and delegates to OnDownload when set.
func (m *MockExecutor) Download(ctx context.Context, taskID, url string, opts ytdlp.Options) (*ytdlp.Result, error) {
	m.mu.Lock()
	m.Downloaded = append(m.Downloaded, url)
	m.mu.Unlock()

	if m.OnDownload != nil {
		return m.OnDownload(ctx, taskID, url, opts)
	}
	return &ytdlp.Result{FilePath: url + ".opus"}, nil
}

// ExecuteTemplate delegates to OnExecuteTemplate when set.
func (m *MockExecutor) ExecuteTemplate(ctx context.Context, taskID, template, url string, onLine func(string)) error {
	m.mu.Lock()
	m.templates = append(m.templates, template)
	m.mu.Unlock()

	if m.OnExecuteTemplate != nil {
		return m.OnExecuteTemplate(ctx, taskID, template, url, onLine)
	}
	return nil
}

// Update delegates to OnUpdate when set.
func (m *MockExecutor) Update(ctx context.Context) (string, error) {
	if m.OnUpdate != nil {
		return m.OnUpdate(ctx)
	}
	return "2026.01.01", nil
}

// DestroyByID records the kill request and invokes OnDestroy when set.
func (m *MockExecutor) DestroyByID(taskID string) bool {
	m.mu.Lock()
	m.Destroyed = append(m.Destroyed, taskID)
	m.mu.Unlock()

	if m.OnDestroy != nil {
		m.OnDestroy(taskID)
	}
	return true
}

// DestroyedIDs returns the task IDs destroyed so far, in order.
func (m *MockExecutor) DestroyedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Destroyed))
	copy(out, m.Destroyed)
	return out
}

// DownloadedURLs returns the URLs downloaded so far, in order.
func (m *MockExecutor) DownloadedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Downloaded))
	copy(out, m.Downloaded)
	return out
}

// MockLibrary is an in-memory library of local files.
type MockLibrary struct {
	mu      sync.Mutex
	Files   []reconcile.LocalFile
	Deleted []string
	Purged  int

	OnScan   func() ([]reconcile.LocalFile, error)
	OnDelete func(path string) error
}

// NewMockLibrary creates a library holding the given files.
func NewMockLibrary(files ...reconcile.LocalFile) *MockLibrary {
	return &MockLibrary{Files: files}
}

// Scan returns the configured files.
func (m *MockLibrary) Scan() ([]reconcile.LocalFile, error) {
	if m.OnScan != nil {
		return m.OnScan()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]reconcile.LocalFile, len(m.Files))
	copy(out, m.Files)
	return out, nil
}

// PurgeStaleMetadata returns the configured purge count.
func (m *MockLibrary) PurgeStaleMetadata() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Purged, nil
}

// Delete records the deletion and removes the file from the set.
func (m *MockLibrary) Delete(path string) error {
	if m.OnDelete != nil {
		return m.OnDelete(path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, path)
	for i, f := range m.Files {
		if f.Path == path {
			m.Files = append(m.Files[:i], m.Files[i+1:]...)
			break
		}
	}
	return nil
}

// DeletedPaths returns the paths deleted so far, in order.
func (m *MockLibrary) DeletedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Deleted))
	copy(out, m.Deleted)
	return out
}

// MockPlaylistStore is an in-memory playlist store.
type MockPlaylistStore struct {
	mu        sync.Mutex
	Playlists []store.Playlist
	Touched   []int64
	Updated   []store.Playlist
}

// NewMockPlaylistStore creates a store holding the given playlists.
func NewMockPlaylistStore(playlists ...store.Playlist) *MockPlaylistStore {
	return &MockPlaylistStore{Playlists: playlists}
}

// List returns the stored playlists.
func (m *MockPlaylistStore) List(_ context.Context) ([]store.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Playlist, len(m.Playlists))
	copy(out, m.Playlists)
	return out, nil
}

// Update records the update and applies it in place.
func (m *MockPlaylistStore) Update(_ context.Context, p store.Playlist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Updated = append(m.Updated, p)
	for i := range m.Playlists {
		if m.Playlists[i].ID == p.ID {
			m.Playlists[i] = p
			return nil
		}
	}
	return ErrNotFound
}

// TouchSynced records the stamp.
func (m *MockPlaylistStore) TouchSynced(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Touched = append(m.Touched, id)
	return nil
}

// MockNotifier records notifications.
type MockNotifier struct {
	mu         sync.Mutex
	ProgressN  int
	Finishes   []string
	Failures   []string
	Summaries  []string
	CancelAllN int
}

// NewMockNotifier creates a mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Progress(_, _ string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProgressN++
}

func (m *MockNotifier) Finished(_, title, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Finishes = append(m.Finishes, title)
}

func (m *MockNotifier) Failed(_, title string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures = append(m.Failures, title)
}

func (m *MockNotifier) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelAllN++
}

func (m *MockNotifier) Summary(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Summaries = append(m.Summaries, text)
}

// LastSummary returns the most recent summary, or "".
func (m *MockNotifier) LastSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Summaries) == 0 {
		return ""
	}
	return m.Summaries[len(m.Summaries)-1]
}

// FinishCount returns how many downloads finished.
func (m *MockNotifier) FinishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Finishes)
}

// FailureCount returns how many failures were reported.
func (m *MockNotifier) FailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Failures)
}

// CancelAllCount returns how many times CancelAll was called.
func (m *MockNotifier) CancelAllCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CancelAllN
}
