// Package store persists tracked playlist entries in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite database driver

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a playlist entry does not exist.
var ErrNotFound = errors.New("playlist not found")

const schema = `
CREATE TABLE IF NOT EXISTS playlists (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	title         TEXT    NOT NULL,
	url           TEXT    NOT NULL UNIQUE,
	thumbnail_url TEXT    NOT NULL DEFAULT '',
	playlist_id   TEXT    NOT NULL DEFAULT '',
	video_count   INTEGER NOT NULL DEFAULT 0,
	channel_title TEXT    NOT NULL DEFAULT '',
	description   TEXT    NOT NULL DEFAULT '',
	last_synced   INTEGER NOT NULL DEFAULT 0,
	date_added    INTEGER NOT NULL DEFAULT 0
);
`

// Playlist is one tracked playlist entry. LastSynced and DateAdded are epoch
// milliseconds; LastSynced 0 means the playlist has never been synced.
type Playlist struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	PlaylistID   string `json:"playlist_id,omitempty"`
	VideoCount   int    `json:"video_count"`
	ChannelTitle string `json:"channel_title,omitempty"`
	Description  string `json:"description,omitempty"`
	LastSynced   int64  `json:"last_synced"`
	DateAdded    int64  `json:"date_added"`
}

// Store wraps the SQLite connection holding playlist entries.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if necessary) the playlist database at path.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const playlistColumns = `id, title, url, thumbnail_url, playlist_id,
	video_count, channel_title, description, last_synced, date_added`

func scanPlaylist(row interface{ Scan(...any) error }) (Playlist, error) {
	var p Playlist
	err := row.Scan(
		&p.ID, &p.Title, &p.URL, &p.ThumbnailURL, &p.PlaylistID,
		&p.VideoCount, &p.ChannelTitle, &p.Description, &p.LastSynced, &p.DateAdded,
	)
	return p, err
}

// List returns all tracked playlists ordered by date added.
func (s *Store) List(ctx context.Context) ([]Playlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playlistColumns+` FROM playlists ORDER BY date_added, id`)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var playlists []Playlist
	for rows.Next() {
		p, err := scanPlaylist(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// Get returns a playlist by ID.
func (s *Store) Get(ctx context.Context, id int64) (Playlist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+playlistColumns+` FROM playlists WHERE id = ?`, id)
	p, err := scanPlaylist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Playlist{}, ErrNotFound
	}
	if err != nil {
		return Playlist{}, fmt.Errorf("get playlist: %w", err)
	}
	return p, nil
}

// Add inserts a new playlist entry and returns it with its assigned ID.
// DateAdded defaults to now when unset.
func (s *Store) Add(ctx context.Context, p Playlist) (Playlist, error) {
	if p.DateAdded == 0 {
		p.DateAdded = time.Now().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO playlists (title, url, thumbnail_url, playlist_id,
			video_count, channel_title, description, last_synced, date_added)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.URL, p.ThumbnailURL, p.PlaylistID,
		p.VideoCount, p.ChannelTitle, p.Description, p.LastSynced, p.DateAdded,
	)
	if err != nil {
		return Playlist{}, fmt.Errorf("add playlist: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return Playlist{}, fmt.Errorf("add playlist: %w", err)
	}
	s.logger.Debug().Int64("id", p.ID).Str("url", p.URL).Msg("playlist added")
	return p, nil
}

// Update replaces the stored entry for p.ID.
func (s *Store) Update(ctx context.Context, p Playlist) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET title = ?, url = ?, thumbnail_url = ?,
			playlist_id = ?, video_count = ?, channel_title = ?,
			description = ?, last_synced = ?
		 WHERE id = ?`,
		p.Title, p.URL, p.ThumbnailURL, p.PlaylistID,
		p.VideoCount, p.ChannelTitle, p.Description, p.LastSynced,
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update playlist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update playlist: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a playlist entry.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete playlist: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchSynced stamps a playlist's last_synced to now.
func (s *Store) TouchSynced(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE playlists SET last_synced = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch playlist: %w", err)
	}
	return nil
}
