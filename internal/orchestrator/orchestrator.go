// Package orchestrator drives playlist sync runs and one-off downloads
// against the shared download state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/tunesync/tunesync/internal/events"
	"github.com/tunesync/tunesync/internal/notify"
	"github.com/tunesync/tunesync/internal/reconcile"
	"github.com/tunesync/tunesync/internal/state"
	"github.com/tunesync/tunesync/internal/store"
	"github.com/tunesync/tunesync/internal/tasks"
	"github.com/tunesync/tunesync/internal/youtube"
	"github.com/tunesync/tunesync/internal/ytdlp"
)

// Precondition errors returned before any state transition happens.
var (
	// ErrBusy indicates another top-level operation holds the state machine.
	ErrBusy = errors.New("orchestrator: another operation is running")
	// ErrNoPlaylists indicates there is nothing to sync.
	ErrNoPlaylists = errors.New("orchestrator: no playlists to sync")
	// ErrNoAPIKey indicates no YouTube API credential is configured.
	ErrNoAPIKey = errors.New("orchestrator: api key not configured")
)

const defaultShutdownTimeout = 10 * time.Second

// Provider fetches playlist metadata and membership from the remote API.
type Provider interface {
	GetPlaylistInfo(ctx context.Context, playlistID string) (*youtube.PlaylistInfo, error)
	GetPlaylistItems(ctx context.Context, playlistID string) ([]youtube.PlaylistItem, error)
}

// Executor runs the external downloader binary.
type Executor interface {
	FetchInfo(ctx context.Context, url string, playlistIndex int, opts ytdlp.Options) (*ytdlp.VideoInfo, error)
	FetchMetadata(ctx context.Context, url string, opts ytdlp.Options) (*ytdlp.PlaylistMetadata, error)
	Download(ctx context.Context, taskID, url string, opts ytdlp.Options) (*ytdlp.Result, error)
	ExecuteTemplate(ctx context.Context, taskID, template, url string, onLine func(string)) error
	Update(ctx context.Context) (string, error)
	DestroyByID(taskID string) bool
}

// Library reads and mutates the local audio directory.
type Library interface {
	Scan() ([]reconcile.LocalFile, error)
	PurgeStaleMetadata() (int, error)
	Delete(path string) error
}

// PlaylistStore persists tracked playlists.
type PlaylistStore interface {
	List(ctx context.Context) ([]store.Playlist, error)
	Update(ctx context.Context, p store.Playlist) error
	TouchSynced(ctx context.Context, id int64) error
}

// SyncReport is the aggregate outcome of one sync run.
type SyncReport struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Playlists     int       `json:"playlists"`
	RemoteCount   int       `json:"remote_count"`
	Downloaded    int       `json:"downloaded"`
	Deleted       int       `json:"deleted"`
	Failed        int       `json:"failed"`
	AlreadySynced bool      `json:"already_synced"`
	Cancelled     bool      `json:"cancelled"`
}

// Summary renders the one-line aggregate shown after a run.
func (r *SyncReport) Summary() string {
	switch {
	case r.Cancelled:
		return fmt.Sprintf("Sync cancelled: %d downloaded, %d deleted", r.Downloaded, r.Deleted)
	case r.AlreadySynced && r.Deleted == 0:
		return "Already synced"
	default:
		return fmt.Sprintf("Sync complete: %d downloaded, %d deleted, %d failed", r.Downloaded, r.Deleted, r.Failed)
	}
}

// Orchestrator owns sync runs, one-off downloads, custom command tasks and
// the downloader self-update, all serialized through the state container.
type Orchestrator struct {
	provider  Provider
	executor  Executor
	library   Library
	playlists PlaylistStore
	state     *state.Container
	bus       *events.Bus
	notifier  notify.Notifier
	registry  *tasks.Registry

	apiKey       string
	downloadOpts ytdlp.Options
	logger       zerolog.Logger

	mu            sync.Mutex
	cancelRun     context.CancelFunc
	currentTaskID string
	lastReport    *SyncReport

	wg sync.WaitGroup
}

// Option is a functional option for configuring the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithBus sets the event bus.
func WithBus(bus *events.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = bus
	}
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithAPIKey sets the YouTube API credential.
func WithAPIKey(key string) Option {
	return func(o *Orchestrator) {
		o.apiKey = key
	}
}

// WithDownloadOptions sets the base options applied to every download.
func WithDownloadOptions(opts ytdlp.Options) Option {
	return func(o *Orchestrator) {
		o.downloadOpts = opts
	}
}

// WithTaskRegistry sets the custom command task registry.
func WithTaskRegistry(r *tasks.Registry) Option {
	return func(o *Orchestrator) {
		o.registry = r
	}
}

// New creates an orchestrator.
func New(
	provider Provider,
	executor Executor,
	library Library,
	playlists PlaylistStore,
	st *state.Container,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		provider:  provider,
		executor:  executor,
		library:   library,
		playlists: playlists,
		state:     st,
		notifier:  notify.Nop{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = tasks.NewRegistry()
	}
	return o
}

// Stop cancels any in-flight run and waits for background work to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancelRun != nil {
		o.cancelRun()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Debug().Msg("all background work completed")
	case <-time.After(defaultShutdownTimeout):
		o.logger.Warn().Msg("timeout waiting for background work")
	}
}

// LastReport returns the report of the most recent completed run.
func (o *Orchestrator) LastReport() (SyncReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastReport == nil {
		return SyncReport{}, false
	}
	return *o.lastReport, true
}

func (o *Orchestrator) publish(eventType events.Type, subject any, data map[string]any) {
	if o.bus != nil {
		o.bus.Publish(events.Event{Type: eventType, Subject: subject, Data: data})
	}
}

// StartSync begins an asynchronous sync run over all stored playlists and
// returns its run ID. Precondition failures return a typed error without
// touching the state machine.
func (o *Orchestrator) StartSync(ctx context.Context) (string, error) {
	if o.apiKey == "" {
		return "", ErrNoAPIKey
	}
	entries, err := o.playlists.List(ctx)
	if err != nil {
		return "", fmt.Errorf("orchestrator: list playlists: %w", err)
	}
	if len(entries) == 0 {
		return "", ErrNoPlaylists
	}
	if !o.state.BeginPlaylist() {
		return "", ErrBusy
	}

	runID := ulid.Make().String()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()

	o.publish(events.SyncStarted, nil, map[string]any{
		"run_id":    runID,
		"playlists": len(entries),
	})
	o.logger.Info().Str("run", runID).Int("playlists", len(entries)).Msg("sync started")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.runSync(runCtx, runID, entries)
	}()
	return runID, nil
}

// runSync executes one full reconciliation run. It owns the state machine
// for the duration and always returns it to idle.
func (o *Orchestrator) runSync(ctx context.Context, runID string, entries []store.Playlist) {
	report := &SyncReport{
		RunID:     runID,
		StartedAt: time.Now(),
		Playlists: len(entries),
	}

	o.refreshMetadata(ctx, entries)
	refs, titles := o.collectMembership(ctx, entries)
	report.RemoteCount = len(refs)

	if n, err := o.library.PurgeStaleMetadata(); err != nil {
		o.logger.Warn().Err(err).Msg("metadata purge failed")
	} else if n > 0 {
		o.logger.Info().Int("count", n).Msg("purged stale metadata files")
	}

	files, err := o.library.Scan()
	if err != nil {
		o.logger.Error().Err(err).Msg("library scan failed, aborting run")
		o.finishRun(report)
		return
	}

	matched := reconcile.BuildMatchedSet(refs, files, titles)
	plan := reconcile.BuildPlan(refs, files, matched)
	o.publish(events.SyncPlanned, nil, map[string]any{
		"run_id":      runID,
		"remote":      len(refs),
		"local":       len(files),
		"to_delete":   len(plan.ToDelete),
		"to_download": len(plan.ToDownload),
	})
	o.logger.Info().
		Str("run", runID).
		Int("remote", len(refs)).
		Int("local", len(files)).
		Int("delete", len(plan.ToDelete)).
		Int("download", len(plan.ToDownload)).
		Msg("sync plan built")

	for _, file := range plan.ToDelete {
		if err := o.library.Delete(file.Path); err != nil {
			o.logger.Warn().Err(err).Str("file", file.Name).Msg("delete failed")
			continue
		}
		report.Deleted++
		o.publish(events.SyncFileDeleted, nil, map[string]any{
			"run_id": runID,
			"file":   file.Name,
		})
	}

	if len(plan.ToDownload) == 0 {
		report.AlreadySynced = true
		o.finishRun(report)
		return
	}

	total := len(plan.ToDownload)
	for i, ref := range plan.ToDownload {
		// Cancellation is observed here: an external state flip makes the
		// advance fail and the loop stops before the next item is fetched.
		if ctx.Err() != nil || !o.state.AdvancePlaylist(i+1, total) {
			report.Cancelled = true
			break
		}
		o.publish(events.SyncItemStarted, nil, map[string]any{
			"run_id": runID,
			"item":   i + 1,
			"total":  total,
			"video":  ref.VideoID,
		})
		if err := o.downloadItem(ctx, ref); err != nil {
			if errors.Is(err, ytdlp.ErrCanceled) {
				continue
			}
			report.Failed++
			o.logger.Warn().Err(err).Str("video", ref.VideoID).Msg("item failed")
			o.publish(events.SyncItemFailed, nil, map[string]any{
				"run_id": runID,
				"video":  ref.VideoID,
				"error":  err.Error(),
			})
			continue
		}
		report.Downloaded++
	}

	o.finishRun(report)
}

// downloadItem fetches one item's metadata and downloads it. Any failure is
// returned for per-item accounting; nothing here aborts the run.
func (o *Orchestrator) downloadItem(ctx context.Context, ref reconcile.RemoteRef) error {
	info, err := o.executor.FetchInfo(ctx, ref.PlaylistURL, ref.PlaylistIndex, o.downloadOpts)
	if err != nil {
		return fmt.Errorf("fetch info: %w", err)
	}

	taskID := uuid.NewString()
	opts := o.downloadOpts
	opts.Progress = o.progressFunc(taskID, info.Title)

	o.mu.Lock()
	o.currentTaskID = taskID
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.currentTaskID = ""
		o.mu.Unlock()
	}()

	o.state.AcquireProcess()
	defer o.state.ReleaseProcess()

	result, err := o.executor.Download(ctx, taskID, info.WebpageURL, opts)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	o.notifier.Finished(taskID, info.Title, result.FilePath)
	return nil
}

func (o *Orchestrator) progressFunc(taskID, title string) ytdlp.ProgressFunc {
	return func(p ytdlp.Progress) {
		o.state.SetProgress(state.Progress{
			Title:   title,
			Percent: p.Percent,
			Line:    p.Line,
			TaskID:  taskID,
		})
		o.notifier.Progress(taskID, title, p.Percent)
	}
}

// finishRun returns the state machine to idle, stores the report and
// collapses outstanding notifications into one summary.
func (o *Orchestrator) finishRun(report *SyncReport) {
	report.FinishedAt = time.Now()
	o.state.Finish()

	o.mu.Lock()
	o.lastReport = report
	o.cancelRun = nil
	o.mu.Unlock()

	o.notifier.CancelAll()
	o.notifier.Summary(report.Summary())

	eventType := events.SyncComplete
	if report.Cancelled {
		eventType = events.SyncCancelled
	}
	o.publish(eventType, nil, map[string]any{
		"run_id":     report.RunID,
		"downloaded": report.Downloaded,
		"deleted":    report.Deleted,
		"failed":     report.Failed,
	})
	o.logger.Info().
		Str("run", report.RunID).
		Int("downloaded", report.Downloaded).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Bool("cancelled", report.Cancelled).
		Msg("sync finished")
}

// refreshMetadata updates each stored playlist's cached title, thumbnail,
// count and channel from the remote API, stamping lastSynced per playlist
// on success. Failures are logged per playlist and never abort the run; a
// playlist that fails to refresh keeps its old stamp.
func (o *Orchestrator) refreshMetadata(ctx context.Context, entries []store.Playlist) {
	for i := range entries {
		p := &entries[i]
		playlistID := p.PlaylistID
		if playlistID == "" {
			playlistID = youtube.ExtractPlaylistID(p.URL)
		}
		if playlistID == "" {
			continue
		}
		info, err := o.provider.GetPlaylistInfo(ctx, playlistID)
		if err != nil {
			o.logger.Warn().Err(err).Str("playlist", p.Title).Msg("metadata refresh failed")
			continue
		}
		p.Title = info.Title
		p.PlaylistID = info.PlaylistID
		p.VideoCount = info.VideoCount
		p.ChannelTitle = info.ChannelTitle
		p.Description = info.Description
		if info.ThumbnailURL != "" {
			p.ThumbnailURL = info.ThumbnailURL
		}
		if err := o.playlists.Update(ctx, *p); err != nil {
			o.logger.Warn().Err(err).Str("playlist", p.Title).Msg("metadata persist failed")
			continue
		}
		if err := o.playlists.TouchSynced(ctx, p.ID); err != nil {
			o.logger.Warn().Err(err).Int64("playlist", p.ID).Msg("failed to stamp last sync")
		}
		o.publish(events.SyncPlaylistRefreshed, nil, map[string]any{
			"playlist": p.Title,
			"videos":   info.VideoCount,
		})
	}
}

// collectMembership builds the remote reference list and title index across
// all playlists. Entries whose URL carries no playlist ID are probed as
// single videos. A playlist that fails to fetch is skipped. Membership is
// keyed by video ID, so a video tracked in several playlists is collected
// once under its first occurrence.
func (o *Orchestrator) collectMembership(ctx context.Context, entries []store.Playlist) ([]reconcile.RemoteRef, reconcile.TitleIndex) {
	var refs []reconcile.RemoteRef
	seen := make(map[string]struct{})
	titles := make(reconcile.TitleIndex)

	add := func(ref reconcile.RemoteRef) {
		titles.Add(ref.Title, ref.VideoID)
		if _, ok := seen[ref.VideoID]; ok {
			return
		}
		seen[ref.VideoID] = struct{}{}
		refs = append(refs, ref)
	}

	for _, p := range entries {
		playlistID := p.PlaylistID
		if playlistID == "" {
			playlistID = youtube.ExtractPlaylistID(p.URL)
		}

		if playlistID == "" {
			info, err := o.executor.FetchInfo(ctx, p.URL, 0, o.downloadOpts)
			if err != nil {
				o.logger.Warn().Err(err).Str("url", p.URL).Msg("single video probe failed, skipping")
				continue
			}
			add(reconcile.RemoteRef{
				VideoID:     info.ID,
				Title:       info.Title,
				PlaylistURL: p.URL,
			})
			continue
		}

		items, err := o.provider.GetPlaylistItems(ctx, playlistID)
		if err != nil {
			o.logger.Warn().Err(err).Str("playlist", p.Title).Msg("membership fetch failed, skipping")
			continue
		}
		for i, item := range items {
			add(reconcile.RemoteRef{
				VideoID:       item.VideoID,
				Title:         item.Title,
				PlaylistURL:   p.URL,
				PlaylistIndex: i + 1,
			})
		}
	}
	return refs, titles
}

// Cancel stops the in-flight top-level operation. The state flips to idle
// immediately; the current item's process is killed best-effort.
func (o *Orchestrator) Cancel() bool {
	if o.state.IsIdle() {
		return false
	}

	o.mu.Lock()
	cancel := o.cancelRun
	taskID := o.currentTaskID
	o.mu.Unlock()

	o.state.Finish()
	// The run context must be cancelled before the process is killed, so the
	// in-flight download surfaces as the canceled kind rather than a failure.
	if cancel != nil {
		cancel()
	}
	if taskID != "" {
		o.executor.DestroyByID(taskID)
	}
	o.logger.Info().Msg("operation cancelled")
	return true
}

// GetInfoAndDownload fetches a single video's metadata then downloads it,
// walking the fetching_info -> downloading_video -> idle path. It returns
// the task ID once the fetch phase has been entered.
func (o *Orchestrator) GetInfoAndDownload(ctx context.Context, url string) (string, error) {
	if !o.state.Begin(state.PhaseFetchingInfo) {
		return "", ErrBusy
	}

	taskID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancelRun = cancel
	o.currentTaskID = taskID
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.clearCurrent()

		info, err := o.executor.FetchInfo(runCtx, url, 0, o.downloadOpts)
		if err != nil {
			if !errors.Is(err, ytdlp.ErrCanceled) {
				o.state.SetError(state.ErrorFetchInfo, url, err.Error())
				o.notifier.Failed(taskID, url, err)
			}
			o.state.Abort()
			return
		}

		o.state.MarkDownloadingVideo()
		o.publish(events.DownloadStarted, nil, map[string]any{
			"task_id": taskID,
			"title":   info.Title,
		})

		opts := o.downloadOpts
		opts.Progress = o.progressFunc(taskID, info.Title)
		o.state.AcquireProcess()
		result, err := o.executor.Download(runCtx, taskID, info.WebpageURL, opts)
		o.state.ReleaseProcess()
		if err != nil {
			if !errors.Is(err, ytdlp.ErrCanceled) {
				o.state.SetError(state.ErrorDownload, url, err.Error())
				o.notifier.Failed(taskID, info.Title, err)
			}
			o.state.Abort()
			return
		}

		o.notifier.Finished(taskID, info.Title, result.FilePath)
		o.state.Finish()
	}()
	return taskID, nil
}

// QuickDownload starts a download that bypasses the state machine entirely,
// holding only the keep-alive refcount. Multiple quick downloads may run
// concurrently with each other and with a sync run.
func (o *Orchestrator) QuickDownload(ctx context.Context, url string) string {
	taskID := uuid.NewString()
	o.state.AcquireQuick()

	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.state.ReleaseQuick()

		opts := o.downloadOpts
		opts.Progress = func(p ytdlp.Progress) {
			o.notifier.Progress(taskID, url, p.Percent)
		}
		result, err := o.executor.Download(runCtx, taskID, url, opts)
		if err != nil {
			if !errors.Is(err, ytdlp.ErrCanceled) {
				o.notifier.Failed(taskID, url, err)
			}
			return
		}
		o.notifier.Finished(taskID, url, result.FilePath)
	}()

	o.logger.Info().Str("task", taskID).Str("url", url).Msg("quick download started")
	return taskID
}

// DownloadPlaylistSelection downloads the given 1-based item indexes of a
// playlist URL, reusing the playlist batch loop and its cancellation
// semantics.
func (o *Orchestrator) DownloadPlaylistSelection(ctx context.Context, url string, indexes []int) error {
	if len(indexes) == 0 {
		return ErrNoPlaylists
	}
	if !o.state.BeginPlaylist() {
		return ErrBusy
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		report := &SyncReport{
			RunID:     ulid.Make().String(),
			StartedAt: time.Now(),
		}
		total := len(indexes)
		for i, idx := range indexes {
			if runCtx.Err() != nil || !o.state.AdvancePlaylist(i+1, total) {
				report.Cancelled = true
				break
			}
			ref := reconcile.RemoteRef{PlaylistURL: url, PlaylistIndex: idx}
			if err := o.downloadItem(runCtx, ref); err != nil {
				if errors.Is(err, ytdlp.ErrCanceled) {
					continue
				}
				report.Failed++
				o.logger.Warn().Err(err).Int("item", idx).Msg("item failed")
				continue
			}
			report.Downloaded++
		}

		report.FinishedAt = time.Now()
		o.state.Finish()
		o.mu.Lock()
		o.lastReport = report
		o.cancelRun = nil
		o.mu.Unlock()
		o.notifier.CancelAll()
		o.notifier.Summary(report.Summary())
	}()
	return nil
}

// FetchMetadata probes a URL, returning either a playlist listing for item
// selection or the single video it resolves to. It does not occupy the
// state machine.
func (o *Orchestrator) FetchMetadata(ctx context.Context, url string) (*ytdlp.PlaylistMetadata, error) {
	return o.executor.FetchMetadata(ctx, url, o.downloadOpts)
}

// Update runs the downloader self-update. Rejected while any other
// operation is active.
func (o *Orchestrator) Update(ctx context.Context) (string, error) {
	if !o.state.Begin(state.PhaseUpdating) {
		return "", ErrBusy
	}
	defer o.state.Finish()

	o.publish(events.UpdateStarted, nil, nil)
	version, err := o.executor.Update(ctx)
	if err != nil {
		return "", err
	}
	o.publish(events.UpdateComplete, nil, map[string]any{"version": version})
	o.logger.Info().Str("version", version).Msg("downloader updated")
	return version, nil
}

// RunCommandTemplate starts a custom command task against url. Tasks run
// outside the state machine, tracked in the registry under the template
// name and URL; re-running the same template and URL displaces the prior
// run and kills its process.
func (o *Orchestrator) RunCommandTemplate(ctx context.Context, template tasks.Template, url string) tasks.Task {
	task, displaced := o.registry.Start(template, url)
	if displaced {
		o.executor.DestroyByID(task.ID)
	}
	o.publish(events.TaskStarted, nil, map[string]any{"task_id": task.ID})

	runCtx := context.WithoutCancel(ctx)
	o.state.AcquireProcess()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.state.ReleaseProcess()

		onLine := func(line string) {
			if err := o.registry.AppendOutput(task, line); err != nil {
				return
			}
			o.publish(events.TaskOutput, nil, map[string]any{
				"task_id": task.ID,
				"line":    line,
			})
		}
		err := o.executor.ExecuteTemplate(runCtx, task.ID, template.Command, url, onLine)
		outcome := tasks.StateDone
		errMsg := ""
		switch {
		case errors.Is(err, ytdlp.ErrCanceled):
			outcome = tasks.StateCanceled
		case err != nil:
			outcome = tasks.StateFailed
			errMsg = err.Error()
		}
		if finished, ok := o.registry.Finish(task, outcome, errMsg); ok {
			o.publish(events.TaskFinished, nil, map[string]any{
				"task_id": finished.ID,
				"state":   string(finished.State),
			})
		}
	}()
	return task
}

// CancelTask kills a running custom command task.
func (o *Orchestrator) CancelTask(taskID string) error {
	o.executor.DestroyByID(taskID)
	return o.registry.Cancel(taskID)
}

// Tasks returns the custom command task registry.
func (o *Orchestrator) Tasks() *tasks.Registry {
	return o.registry
}

func (o *Orchestrator) clearCurrent() {
	o.mu.Lock()
	o.currentTaskID = ""
	o.cancelRun = nil
	o.mu.Unlock()
}
