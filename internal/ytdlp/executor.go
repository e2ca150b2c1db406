// Package ytdlp wraps the yt-dlp binary for metadata extraction and audio
// downloads, with per-task process tracking so running downloads can be
// killed individually.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ErrCanceled reports that a download or fetch was stopped on request
// rather than failing on its own.
var ErrCanceled = errors.New("ytdlp: canceled")

var (
	progressPattern    = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)
	destinationPattern = regexp.MustCompile(`\[download\]\s+Destination:\s+(.+)`)
	mergePattern       = regexp.MustCompile(`\[Merger\]\s+Merging formats into\s+"(.+)"`)
	extractPattern     = regexp.MustCompile(`\[ExtractAudio\]\s+Destination:\s+(.+)`)
)

// VideoInfo is the subset of yt-dlp's info JSON the pipeline consumes.
type VideoInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Ext         string  `json:"ext"`
	WebpageURL  string  `json:"webpage_url"`
	Uploader    string  `json:"uploader"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	Description string  `json:"description"`
	Type        string  `json:"_type"`
}

// PlaylistMetadata is the result of a flat-playlist probe: either a playlist
// with entries or a single video.
type PlaylistMetadata struct {
	Type       string      `json:"_type"`
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Uploader   string      `json:"uploader"`
	WebpageURL string      `json:"webpage_url"`
	Entries    []VideoInfo `json:"entries"`
}

// IsPlaylist reports whether the probed URL resolved to a playlist.
func (m *PlaylistMetadata) IsPlaylist() bool {
	return m.Type == "playlist" || len(m.Entries) > 0
}

// Progress carries one parsed progress update from a running download.
type Progress struct {
	Percent     float64
	Line        string
	Destination string
}

// ProgressFunc receives progress updates during a download.
type ProgressFunc func(Progress)

// Options control a single download invocation.
type Options struct {
	OutputDir      string
	AudioFormat    string
	EmbedMetadata  bool
	EmbedThumbnail bool
	WriteInfoJSON  bool
	RateLimit      string
	SponsorBlock   bool
	CookiesPath    string
	ExtraArgs      []string
	PlaylistItems  string
	OutputTemplate string
	Progress       ProgressFunc
}

// Result describes a completed download.
type Result struct {
	FilePath string
	Info     VideoInfo
}

// Executor runs yt-dlp commands and tracks their processes by task ID.
type Executor struct {
	binary string
	logger zerolog.Logger

	mu        sync.Mutex
	processes map[string]*exec.Cmd
	killed    map[string]struct{}
}

// Option is a functional option for configuring the executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithBinary overrides the yt-dlp binary path.
func WithBinary(path string) Option {
	return func(e *Executor) {
		e.binary = path
	}
}

// NewExecutor creates an executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		binary:    "yt-dlp",
		logger:    zerolog.Nop(),
		processes: make(map[string]*exec.Cmd),
		killed:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckBinary verifies yt-dlp is available on PATH.
func (e *Executor) CheckBinary() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("ytdlp: %s not found on PATH: %w", e.binary, err)
	}
	return nil
}

// Version returns the installed yt-dlp version string.
func (e *Executor) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, e.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("ytdlp: version check: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Update upgrades the yt-dlp binary in place and returns the new version.
func (e *Executor) Update(ctx context.Context) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, "-U")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ErrCanceled
		}
		return "", fmt.Errorf("ytdlp: update: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return e.Version(ctx)
}

// FetchInfo extracts full metadata for a single video. When playlistIndex is
// positive the URL is treated as a playlist and only that item is probed.
func (e *Executor) FetchInfo(ctx context.Context, url string, playlistIndex int, opts Options) (*VideoInfo, error) {
	args := []string{"-J", "--no-warnings"}
	if playlistIndex > 0 {
		args = append(args, "--playlist-items", strconv.Itoa(playlistIndex))
	} else {
		args = append(args, "--no-playlist")
	}
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, url)

	out, err := e.runJSON(ctx, args)
	if err != nil {
		return nil, err
	}

	var info VideoInfo
	if playlistIndex > 0 {
		var meta PlaylistMetadata
		if err := json.Unmarshal(out, &meta); err != nil {
			return nil, fmt.Errorf("ytdlp: decode playlist info: %w", err)
		}
		if len(meta.Entries) == 0 {
			return nil, fmt.Errorf("ytdlp: playlist item %d not found in %s", playlistIndex, url)
		}
		info = meta.Entries[0]
	} else if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("ytdlp: decode video info: %w", err)
	}
	if info.Title == "" {
		return nil, fmt.Errorf("ytdlp: no metadata for %s", url)
	}
	return &info, nil
}

// FetchMetadata probes a URL with a flat-playlist extraction, returning
// either the playlist listing or the single video it resolves to.
func (e *Executor) FetchMetadata(ctx context.Context, url string, opts Options) (*PlaylistMetadata, error) {
	args := []string{"--flat-playlist", "-J", "--no-warnings"}
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, url)

	out, err := e.runJSON(ctx, args)
	if err != nil {
		return nil, err
	}
	var meta PlaylistMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("ytdlp: decode metadata: %w", err)
	}
	return &meta, nil
}

func (e *Executor) runJSON(ctx context.Context, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug().Strs("args", args).Msg("running yt-dlp probe")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("ytdlp: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ytdlp: empty output")
	}
	return stdout.Bytes(), nil
}

// buildDownloadArgs assembles the argument list for an audio download.
func buildDownloadArgs(url string, opts Options) []string {
	args := []string{
		"--newline",
		"--no-warnings",
		"-x",
	}
	format := opts.AudioFormat
	if format == "" {
		format = "best"
	}
	args = append(args, "--audio-format", format)
	if opts.PlaylistItems != "" {
		args = append(args, "--playlist-items", opts.PlaylistItems)
	} else {
		args = append(args, "--no-playlist")
	}
	if opts.OutputDir != "" {
		args = append(args, "-P", opts.OutputDir)
	}
	template := opts.OutputTemplate
	if template == "" {
		template = "%(title)s [%(id)s].%(ext)s"
	}
	args = append(args, "-o", template)
	if opts.EmbedMetadata {
		args = append(args, "--embed-metadata")
	}
	if opts.EmbedThumbnail {
		args = append(args, "--embed-thumbnail")
	}
	if opts.WriteInfoJSON {
		args = append(args, "--write-info-json")
	}
	if opts.RateLimit != "" {
		args = append(args, "--limit-rate", opts.RateLimit)
	}
	if opts.SponsorBlock {
		args = append(args, "--sponsorblock-remove", "music_offtopic")
	}
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, url)
}

// Download runs a yt-dlp audio download for url, registered under taskID so
// DestroyByID can kill it. Progress lines are parsed and forwarded to
// opts.Progress as they arrive.
func (e *Executor) Download(ctx context.Context, taskID, url string, opts Options) (*Result, error) {
	args := buildDownloadArgs(url, opts)
	cmd := exec.CommandContext(ctx, e.binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ytdlp: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.logger.Info().Str("task", taskID).Str("url", url).Msg("starting download")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ytdlp: start: %w", err)
	}
	e.register(taskID, cmd)
	defer e.unregister(taskID)

	destination := ""
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if d, ok := ParseDestination(line); ok {
			destination = d
		}
		if opts.Progress == nil {
			continue
		}
		if pct, ok := ParseProgress(line); ok {
			opts.Progress(Progress{Percent: pct, Line: line, Destination: destination})
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil || e.wasKilled(taskID) {
			return nil, ErrCanceled
		}
		return nil, fmt.Errorf("ytdlp: download failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return &Result{FilePath: destination}, nil
}

// ExecuteTemplate runs an arbitrary yt-dlp command template with URL
// substituted for any "{url}" placeholder, streaming output lines to onLine.
func (e *Executor) ExecuteTemplate(ctx context.Context, taskID, template, url string, onLine func(string)) error {
	fields := strings.Fields(template)
	args := make([]string, 0, len(fields)+1)
	replaced := false
	for _, f := range fields {
		if strings.Contains(f, "{url}") {
			f = strings.ReplaceAll(f, "{url}", url)
			replaced = true
		}
		args = append(args, f)
	}
	if !replaced {
		args = append(args, url)
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ytdlp: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	e.logger.Info().Str("task", taskID).Str("template", template).Msg("running command template")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ytdlp: start: %w", err)
	}
	e.register(taskID, cmd)
	defer e.unregister(taskID)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil || e.wasKilled(taskID) {
			return ErrCanceled
		}
		return fmt.Errorf("ytdlp: command failed: %w", err)
	}
	return nil
}

// DestroyByID kills the process registered under taskID, if any. The kill is
// recorded so the owning Download/ExecuteTemplate call reports ErrCanceled
// even when the process exits before its context is cancelled.
func (e *Executor) DestroyByID(taskID string) bool {
	e.mu.Lock()
	cmd, ok := e.processes[taskID]
	delete(e.processes, taskID)
	if ok {
		e.killed[taskID] = struct{}{}
	}
	e.mu.Unlock()

	if !ok || cmd.Process == nil {
		return false
	}
	if err := cmd.Process.Kill(); err != nil {
		e.logger.Warn().Err(err).Str("task", taskID).Msg("failed to kill process")
		return false
	}
	e.logger.Info().Str("task", taskID).Msg("killed process")
	return true
}

// RunningCount returns the number of registered processes.
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.processes)
}

func (e *Executor) register(taskID string, cmd *exec.Cmd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processes[taskID] = cmd
	// Task IDs can be reused across runs; a kill recorded for a prior run
	// must not taint this one.
	delete(e.killed, taskID)
}

func (e *Executor) unregister(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.processes, taskID)
}

// wasKilled consumes the kill marker for taskID.
func (e *Executor) wasKilled(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.killed[taskID]
	delete(e.killed, taskID)
	return ok
}

// ParseProgress extracts the percentage from a yt-dlp progress line.
func ParseProgress(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// ParseDestination extracts the output file path from yt-dlp's destination,
// merger and audio-extraction lines. The last match wins for a given run,
// which follows the final file after post-processing.
func ParseDestination(line string) (string, bool) {
	for _, p := range []*regexp.Regexp{extractPattern, mergePattern, destinationPattern} {
		if m := p.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}
