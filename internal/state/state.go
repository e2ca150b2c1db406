// Package state holds the process-wide download state machine shared by the
// orchestrator and its observers.
package state

import (
	"sync"

	"github.com/rs/zerolog"
)

// Phase is the coarse download state.
type Phase string

const (
	// PhaseIdle indicates no top-level operation is running.
	PhaseIdle Phase = "idle"
	// PhaseFetchingInfo indicates metadata for a single video is being fetched.
	PhaseFetchingInfo Phase = "fetching_info"
	// PhaseDownloadingVideo indicates a single video download is in flight.
	PhaseDownloadingVideo Phase = "downloading_video"
	// PhaseDownloadingPlaylist indicates a playlist batch or sync run is in flight.
	PhaseDownloadingPlaylist Phase = "downloading_playlist"
	// PhaseUpdating indicates the downloader binary self-update is running.
	PhaseUpdating Phase = "updating"
)

// Status is the full state machine value. CurrentItem/ItemCount are only
// meaningful while Phase is PhaseDownloadingPlaylist.
type Status struct {
	Phase       Phase `json:"phase"`
	CurrentItem int   `json:"current_item,omitempty"`
	ItemCount   int   `json:"item_count,omitempty"`
}

// ErrorKind classifies the last surfaced failure.
type ErrorKind string

const (
	// ErrorNone indicates no pending error.
	ErrorNone ErrorKind = ""
	// ErrorFetchInfo indicates metadata fetching failed.
	ErrorFetchInfo ErrorKind = "fetch_info"
	// ErrorDownload indicates a download failed.
	ErrorDownload ErrorKind = "download"
)

// ErrorState is the last surfaced failure. Finish clears it; Abort keeps
// it so the failure stays visible while idle, until the next operation's
// Begin wipes it.
type ErrorState struct {
	Kind   ErrorKind `json:"kind"`
	URL    string    `json:"url,omitempty"`
	Report string    `json:"report,omitempty"`
}

// Progress is the transient per-item progress of the current operation.
type Progress struct {
	Title   string  `json:"title,omitempty"`
	Percent float64 `json:"percent"`
	Line    string  `json:"line,omitempty"`
	TaskID  string  `json:"task_id,omitempty"`
}

// Snapshot is a point-in-time view of the whole container.
type Snapshot struct {
	Status   Status     `json:"status"`
	Error    ErrorState `json:"error"`
	Progress Progress   `json:"progress"`
}

// Container is the single shared download state. Only top-level operation
// owners may transition it; transitions are compare-and-set under a mutex so
// at most one non-idle phase exists at a time.
type Container struct {
	mu       sync.RWMutex
	status   Status
	errState ErrorState
	progress Progress

	processCount int
	quickCount   int
	active       bool

	onChange  func(Status)
	onAcquire func()
	onRelease func()
	logger    zerolog.Logger
}

// Option is a functional option for configuring the container.
type Option func(*Container)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Container) {
		c.logger = logger
	}
}

// WithOnChange sets a callback invoked after every status transition.
// The callback runs outside the container lock.
func WithOnChange(fn func(Status)) Option {
	return func(c *Container) {
		c.onChange = fn
	}
}

// WithKeepAlive sets callbacks fired when the container becomes active
// (any non-idle phase, running process, or quick download) and when it
// returns to fully inactive. This is the reference-counted keep-process-alive
// hook: acquire fires on the 0-to-1 edge, release when the count returns to 0.
func WithKeepAlive(onAcquire, onRelease func()) Option {
	return func(c *Container) {
		c.onAcquire = onAcquire
		c.onRelease = onRelease
	}
}

// New creates an idle container.
func New(opts ...Option) *Container {
	c := &Container{
		status: Status{Phase: PhaseIdle},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the current status.
func (c *Container) Current() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsIdle reports whether no top-level operation holds the state.
func (c *Container) IsIdle() bool {
	return c.Current().Phase == PhaseIdle
}

// Err returns the pending error state.
func (c *Container) Err() ErrorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errState
}

// GetProgress returns the transient progress of the current operation.
func (c *Container) GetProgress() Progress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

// GetSnapshot returns a consistent snapshot of status, error and progress.
func (c *Container) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{Status: c.status, Error: c.errState, Progress: c.progress}
}

// Begin transitions idle -> phase, clearing any error a prior Abort left
// behind so it cannot leak into the new operation. It returns false without
// any state change when another top-level operation is active.
func (c *Container) Begin(phase Phase) bool {
	c.mu.Lock()
	if c.status.Phase != PhaseIdle {
		c.mu.Unlock()
		return false
	}
	c.status = Status{Phase: phase}
	c.errState = ErrorState{}
	c.logTransition()
	c.notifyLocked()
	return true
}

// BeginPlaylist transitions idle -> downloading_playlist{0,0}.
func (c *Container) BeginPlaylist() bool {
	return c.Begin(PhaseDownloadingPlaylist)
}

// AdvancePlaylist updates the playlist progress counters. It returns false
// when the phase is no longer downloading_playlist, which is how mid-run
// cancellation is observed by the orchestration loop.
func (c *Container) AdvancePlaylist(currentItem, itemCount int) bool {
	c.mu.Lock()
	if c.status.Phase != PhaseDownloadingPlaylist {
		c.mu.Unlock()
		return false
	}
	c.status.CurrentItem = currentItem
	c.status.ItemCount = itemCount
	c.notifyLocked()
	return true
}

// MarkDownloadingVideo moves fetching_info -> downloading_video. While a
// playlist batch is running the phase is left untouched, matching the
// single-item download path being reused inside batch loops.
func (c *Container) MarkDownloadingVideo() {
	c.mu.Lock()
	if c.status.Phase == PhaseDownloadingPlaylist {
		c.mu.Unlock()
		return
	}
	c.status = Status{Phase: PhaseDownloadingVideo}
	c.logTransition()
	c.notifyLocked()
}

// Finish returns to idle, clearing transient progress and any pending error
// so nothing stale leaks into the next operation. Finishing an already idle
// container is a no-op.
func (c *Container) Finish() {
	c.mu.Lock()
	if c.status.Phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.status = Status{Phase: PhaseIdle}
	c.errState = ErrorState{}
	c.progress = Progress{}
	c.logTransition()
	c.notifyLocked()
}

// Abort returns to idle after a fatal failure, keeping the error state
// readable until the next operation starts but resetting progress.
func (c *Container) Abort() {
	c.mu.Lock()
	if c.status.Phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.status = Status{Phase: PhaseIdle}
	c.progress = Progress{}
	c.logTransition()
	c.notifyLocked()
}

// SetError records a surfaced failure.
func (c *Container) SetError(kind ErrorKind, url, report string) {
	c.mu.Lock()
	c.errState = ErrorState{Kind: kind, URL: url, Report: report}
	c.mu.Unlock()
}

// ClearError resets the error state.
func (c *Container) ClearError() {
	c.mu.Lock()
	c.errState = ErrorState{}
	c.mu.Unlock()
}

// SetProgress updates the transient per-item progress.
func (c *Container) SetProgress(p Progress) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
}

// AcquireProcess increments the running external process count.
func (c *Container) AcquireProcess() {
	c.mu.Lock()
	c.processCount++
	c.notifyLocked()
}

// ReleaseProcess decrements the running external process count.
func (c *Container) ReleaseProcess() {
	c.mu.Lock()
	if c.processCount > 0 {
		c.processCount--
	}
	c.notifyLocked()
}

// AcquireQuick increments the quick-download count. Quick downloads run
// outside the state machine but still hold the keep-alive resource.
func (c *Container) AcquireQuick() {
	c.mu.Lock()
	c.quickCount++
	c.notifyLocked()
}

// ReleaseQuick decrements the quick-download count.
func (c *Container) ReleaseQuick() {
	c.mu.Lock()
	if c.quickCount > 0 {
		c.quickCount--
	}
	c.notifyLocked()
}

// ProcessCount returns the running external process count.
func (c *Container) ProcessCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.processCount
}

func (c *Container) logTransition() {
	c.logger.Debug().Str("phase", string(c.status.Phase)).Msg("state transition")
}

// notifyLocked recomputes the keep-alive edge and fires callbacks after
// releasing the lock. Callers must hold c.mu; it is released here.
func (c *Container) notifyLocked() {
	status := c.status
	wasActive := c.active
	nowActive := c.status.Phase != PhaseIdle || c.processCount > 0 || c.quickCount > 0
	c.active = nowActive

	onChange := c.onChange
	var edge func()
	switch {
	case !wasActive && nowActive:
		edge = c.onAcquire
	case wasActive && !nowActive:
		edge = c.onRelease
	}
	c.mu.Unlock()

	if onChange != nil {
		onChange(status)
	}
	if edge != nil {
		edge()
	}
}
