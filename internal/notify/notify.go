// Package notify abstracts user-facing download notifications so the
// orchestrator can report progress without knowing the delivery channel.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/tunesync/tunesync/internal/events"
)

// Notifier receives download lifecycle updates.
type Notifier interface {
	// Progress reports percent complete for a running download.
	Progress(taskID, title string, percent float64)
	// Finished reports a completed download and its output file.
	Finished(taskID, title, filePath string)
	// Failed reports a failed download.
	Failed(taskID, title string, err error)
	// CancelAll withdraws every outstanding notification, typically right
	// before a final summary is posted.
	CancelAll()
	// Summary posts an aggregate result after a sync run.
	Summary(text string)
}

// BusNotifier publishes notifications to the event bus for connected
// clients to render.
type BusNotifier struct {
	bus    *events.Bus
	logger zerolog.Logger
}

// Option is a functional option for configuring the notifier.
type Option func(*BusNotifier)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(n *BusNotifier) {
		n.logger = logger
	}
}

// NewBusNotifier creates a notifier backed by bus.
func NewBusNotifier(bus *events.Bus, opts ...Option) *BusNotifier {
	n := &BusNotifier{
		bus:    bus,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *BusNotifier) Progress(taskID, title string, percent float64) {
	n.bus.Publish(events.Event{Type: events.DownloadProgress, Data: map[string]any{
		"task_id": taskID,
		"title":   title,
		"percent": percent,
	}})
}

func (n *BusNotifier) Finished(taskID, title, filePath string) {
	n.logger.Info().Str("title", title).Str("file", filePath).Msg("download finished")
	n.bus.Publish(events.Event{Type: events.DownloadComplete, Data: map[string]any{
		"task_id": taskID,
		"title":   title,
		"file":    filePath,
	}})
}

func (n *BusNotifier) Failed(taskID, title string, err error) {
	n.logger.Warn().Err(err).Str("title", title).Msg("download failed")
	n.bus.Publish(events.Event{Type: events.DownloadFailed, Data: map[string]any{
		"task_id": taskID,
		"title":   title,
		"error":   err.Error(),
	}})
}

func (n *BusNotifier) CancelAll() {
	n.bus.Publish(events.Event{Type: events.NotificationsCleared})
}

func (n *BusNotifier) Summary(text string) {
	n.bus.Publish(events.Event{Type: events.SyncSummary, Data: map[string]any{
		"text": text,
	}})
}

// Nop is a Notifier that discards everything.
type Nop struct{}

func (Nop) Progress(string, string, float64) {}
func (Nop) Finished(string, string, string)  {}
func (Nop) Failed(string, string, error)     {}
func (Nop) CancelAll()                       {}
func (Nop) Summary(string)                   {}
