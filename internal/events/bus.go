// Package events provides an in-process event bus for decoupled communication
// between the orchestrator, the task registry and API observers.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type represents the type of event.
type Type string

// Event types for the playlist sync pipeline.
const (
	// SystemStarted indicates the daemon has started.
	SystemStarted Type = "system.started"

	// SyncStarted indicates a sync run began.
	SyncStarted Type = "sync.started"
	// SyncPlaylistRefreshed indicates one playlist's metadata was refreshed.
	SyncPlaylistRefreshed Type = "sync.playlist.refreshed"
	// SyncPlanned indicates the reconciliation plan was computed.
	SyncPlanned Type = "sync.planned"
	// SyncFileDeleted indicates a stale local file was removed.
	SyncFileDeleted Type = "sync.file.deleted"
	// SyncItemStarted indicates one plan item started downloading.
	SyncItemStarted Type = "sync.item.started"
	// SyncItemFailed indicates one plan item failed (run continues).
	SyncItemFailed Type = "sync.item.failed"
	// SyncComplete indicates the run finished with its aggregate report.
	SyncComplete Type = "sync.complete"
	// SyncCancelled indicates the run was cancelled mid-loop.
	SyncCancelled Type = "sync.cancelled"

	// DownloadStarted indicates a single-video download started.
	DownloadStarted Type = "download.started"
	// DownloadProgress indicates per-item download progress.
	DownloadProgress Type = "download.progress"
	// DownloadComplete indicates a single-video download finished.
	DownloadComplete Type = "download.complete"
	// DownloadFailed indicates a single-video download failed.
	DownloadFailed Type = "download.failed"

	// StateChanged indicates the download state machine transitioned.
	StateChanged Type = "state.changed"

	// TaskStarted indicates a custom command task was registered.
	TaskStarted Type = "task.started"
	// TaskOutput indicates a custom command task emitted an output line.
	TaskOutput Type = "task.output"
	// TaskFinished indicates a custom command task reached a terminal state.
	TaskFinished Type = "task.finished"

	// UpdateStarted indicates the downloader self-update began.
	UpdateStarted Type = "update.started"
	// UpdateComplete indicates the downloader self-update finished.
	UpdateComplete Type = "update.complete"

	// NotificationsCleared tells clients to drop outstanding per-download
	// notifications before a summary arrives.
	NotificationsCleared Type = "notifications.cleared"
	// SyncSummary carries the human-readable aggregate of a finished run.
	SyncSummary Type = "sync.summary"
)

// Event is one occurrence in the system. Subject carries the primary entity
// the event is about; Data holds additional event-specific values.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Subject   any            `json:"-"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription is a channel that receives events.
type Subscription <-chan Event

type subscriber struct {
	ch     chan Event
	types  map[Type]bool // nil means all events
	closed bool
}

// Bus is an in-process pub/sub event bus. Publishing never blocks: events
// for a subscriber with a full buffer are dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	bufferSize  int
	logger      zerolog.Logger
}

// Option is a functional option for configuring the bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithBufferSize sets the channel buffer size for new subscribers.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.bufferSize = size
	}
}

const defaultBufferSize = 128

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		bufferSize: defaultBufferSize,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe creates a subscription for the given event types, or for all
// events when none are given.
func (b *Bus) Subscribe(types ...Type) Subscription {
	sub := &subscriber{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == s {
			if !sub.closed {
				close(sub.ch)
				sub.closed = true
			}
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.closed {
			continue
		}
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn().
				Str("type", string(event.Type)).
				Msg("event dropped - subscriber buffer full")
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		if !sub.closed {
			close(sub.ch)
			sub.closed = true
		}
	}
	b.subscribers = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
