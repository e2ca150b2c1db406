// Package apitypes provides API response types for the tunesync HTTP API.
package apitypes

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Playlist represents a tracked playlist.
type Playlist struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	PlaylistID   string `json:"playlist_id,omitempty"`
	VideoCount   int    `json:"video_count"`
	ChannelTitle string `json:"channel_title,omitempty"`
	Description  string `json:"description,omitempty"`
	LastSynced   int64  `json:"last_synced"` // epoch ms, 0 = never
	DateAdded    int64  `json:"date_added"`  // epoch ms
}

// AddPlaylistRequest adds a playlist to track by URL.
type AddPlaylistRequest struct {
	URL string `json:"url"`
}

// SyncResponse acknowledges a started sync run.
type SyncResponse struct {
	RunID string `json:"run_id"`
}

// SyncReport is the aggregate outcome of a sync run.
type SyncReport struct {
	RunID         string `json:"run_id"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	Playlists     int    `json:"playlists"`
	RemoteCount   int    `json:"remote_count"`
	Downloaded    int    `json:"downloaded"`
	Deleted       int    `json:"deleted"`
	Failed        int    `json:"failed"`
	AlreadySynced bool   `json:"already_synced"`
	Cancelled     bool   `json:"cancelled"`
}

// State represents the download state machine snapshot.
type State struct {
	Phase       string   `json:"phase"`
	CurrentItem int      `json:"current_item,omitempty"`
	ItemCount   int      `json:"item_count,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	ErrorURL    string   `json:"error_url,omitempty"`
	ErrorReport string   `json:"error_report,omitempty"`
	Progress    Progress `json:"progress"`
}

// Progress represents per-item download progress.
type Progress struct {
	Title   string  `json:"title,omitempty"`
	Percent float64 `json:"percent"`
	Line    string  `json:"line,omitempty"`
	TaskID  string  `json:"task_id,omitempty"`
}

// DownloadRequest starts a one-off download.
type DownloadRequest struct {
	URL string `json:"url"`
	// Quick bypasses the state machine (share-target style download).
	Quick bool `json:"quick,omitempty"`
}

// DownloadResponse acknowledges a started download.
type DownloadResponse struct {
	TaskID string `json:"task_id"`
}

// SelectionRequest downloads specific 1-based items of a playlist URL.
type SelectionRequest struct {
	URL     string `json:"url"`
	Indexes []int  `json:"indexes"`
}

// MetadataResponse is a flat playlist probe result.
type MetadataResponse struct {
	IsPlaylist bool            `json:"is_playlist"`
	ID         string          `json:"id,omitempty"`
	Title      string          `json:"title,omitempty"`
	Uploader   string          `json:"uploader,omitempty"`
	Entries    []MetadataEntry `json:"entries,omitempty"`
}

// MetadataEntry is one entry in a probed playlist.
type MetadataEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Uploader string `json:"uploader,omitempty"`
}

// UpdateResponse reports the downloader version after a self-update.
type UpdateResponse struct {
	Version string `json:"version"`
}

// Task represents a custom command task.
type Task struct {
	ID         string `json:"id"`
	Template   string `json:"template"`
	Command    string `json:"command"`
	URL        string `json:"url"`
	State      string `json:"state"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// RunTaskRequest starts a custom command task.
type RunTaskRequest struct {
	Template string `json:"template"`
	Command  string `json:"command"`
	URL      string `json:"url"`
}

// CancelTaskRequest cancels a custom command task by ID.
type CancelTaskRequest struct {
	ID string `json:"id"`
}

// ChannelPlaylist represents one public playlist of a browsed channel.
type ChannelPlaylist struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	ItemCount    int    `json:"item_count"`
}
