// Package library scans and mutates the on-disk music directory that sync
// runs reconcile against.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tunesync/tunesync/internal/reconcile"
)

// audioExtensions is the allow-list of file extensions treated as library
// tracks. Everything else in the directory is ignored by scans.
var audioExtensions = map[string]struct{}{
	".mp3":  {},
	".m4a":  {},
	".wav":  {},
	".aac":  {},
	".opus": {},
	".ogg":  {},
	".webm": {},
}

// staleMetadataPattern matches playlist-level metadata artifacts that yt-dlp
// leaves behind when a playlist thumbnail or info json lands next to the
// audio files.
var staleMetadataPattern = regexp.MustCompile(`\[PL[A-Za-z0-9_-]+\]\.(info\.json|jpg|jpeg|png|webp)`)

// Scanner reads the music directory.
type Scanner struct {
	dir    string
	logger zerolog.Logger
}

// Option is a functional option for configuring the scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a scanner over dir.
func NewScanner(dir string, opts ...Option) *Scanner {
	s := &Scanner{
		dir:    dir,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the scanned directory.
func (s *Scanner) Dir() string {
	return s.dir
}

// Scan lists the audio files in the directory, one entry per track, with
// the normalized name and any bracketed video ID precomputed for matching.
// A missing directory scans as empty rather than failing.
func (s *Scanner) Scan() ([]reconcile.LocalFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("library: scan %s: %w", s.dir, err)
	}

	var files []reconcile.LocalFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := audioExtensions[ext]; !ok {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		files = append(files, reconcile.LocalFile{
			Path:           filepath.Join(s.dir, name),
			Name:           name,
			NormalizedName: reconcile.NormalizeKey(base),
			BracketedID:    reconcile.ExtractBracketedID(name),
		})
	}
	s.logger.Debug().Int("count", len(files)).Str("dir", s.dir).Msg("scanned library")
	return files, nil
}

// PurgeStaleMetadata deletes leftover playlist metadata files (info jsons
// and thumbnails named after a playlist ID) and returns how many were
// removed. Deletion failures are logged and skipped.
func (s *Scanner) PurgeStaleMetadata() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("library: purge %s: %w", s.dir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !staleMetadataPattern.MatchString(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to purge metadata file")
			continue
		}
		s.logger.Debug().Str("file", entry.Name()).Msg("purged stale metadata")
		removed++
	}
	return removed, nil
}

// Delete removes a single library file.
func (s *Scanner) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("library: delete %s: %w", path, err)
	}
	s.logger.Info().Str("file", filepath.Base(path)).Msg("deleted track")
	return nil
}
