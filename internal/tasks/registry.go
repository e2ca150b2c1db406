// Package tasks tracks custom command runs so their output and outcome
// survive until explicitly cleared.
package tasks

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StateRunning  TaskState = "running"
	StateDone     TaskState = "done"
	StateFailed   TaskState = "failed"
	StateCanceled TaskState = "canceled"
)

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s != StateRunning
}

// Template is a named yt-dlp command template.
type Template struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// Task is one run of a command template against a URL. Values returned from
// the registry are copies; mutate through registry methods only. The
// unexported generation ties a copy to the run that produced it, so a run
// displaced by a newer Start can no longer write through the registry.
type Task struct {
	ID         string    `json:"id"`
	Template   Template  `json:"template"`
	URL        string    `json:"url"`
	State      TaskState `json:"state"`
	Output     string    `json:"output"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	gen uint64
}

// ErrNotFound reports an unknown task ID, or a write from a run that has
// been displaced.
var ErrNotFound = errors.New("tasks: not found")

// Key derives the registry key for a template name and URL. The same
// template against the same URL is one task at a time.
func Key(templateName, url string) string {
	return templateName + "_" + url
}

// Registry holds tasks keyed by template name and URL.
type Registry struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	gen   uint64
	tasks map[string]*Task
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger: zerolog.Nop(),
		tasks:  make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers a new running task, replacing any prior entry under the
// same key. When the prior entry was still running it is displaced, and the
// returned bool tells the caller to kill the orphaned process.
func (r *Registry) Start(template Template, url string) (Task, bool) {
	id := Key(template.Name, url)

	r.mu.Lock()
	defer r.mu.Unlock()

	displaced := false
	if existing, ok := r.tasks[id]; ok && !existing.State.Terminal() {
		displaced = true
	}
	r.gen++
	task := &Task{
		ID:        id,
		Template:  template,
		URL:       url,
		State:     StateRunning,
		StartedAt: time.Now(),
		gen:       r.gen,
	}
	r.tasks[id] = task
	r.logger.Info().Str("task", id).Bool("displaced", displaced).Msg("task started")
	return *task, displaced
}

// AppendOutput appends a line to the run's captured output. Output from a
// run displaced by a newer Start is dropped.
func (r *Registry) AppendOutput(t Task, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[t.ID]
	if !ok || task.gen != t.gen {
		return ErrNotFound
	}
	if task.Output != "" {
		task.Output += "\n"
	}
	task.Output += line
	return nil
}

// Finish records the outcome of t's run and returns the current task under
// the key. A run displaced by a newer Start returns false and writes
// nothing; a terminal state recorded earlier sticks.
func (r *Registry) Finish(t Task, state TaskState, errMsg string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[t.ID]
	if !ok || task.gen != t.gen {
		return Task{}, false
	}
	if task.State.Terminal() {
		return *task, true
	}
	task.State = state
	task.Error = errMsg
	task.FinishedAt = time.Now()
	r.logger.Info().Str("task", t.ID).Str("state", string(state)).Msg("task finished")
	return *task, true
}

// Cancel marks whatever currently runs under id canceled.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if task.State.Terminal() {
		return nil
	}
	task.State = StateCanceled
	task.FinishedAt = time.Now()
	r.logger.Info().Str("task", id).Msg("task canceled")
	return nil
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return *task, nil
}

// List returns copies of all tasks, running first, then by start time.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, *task)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].State == StateRunning) != (out[j].State == StateRunning) {
			return out[i].State == StateRunning
		}
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

// Running returns the IDs of tasks still in flight.
func (r *Registry) Running() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, task := range r.tasks {
		if !task.State.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clear drops all terminal tasks and returns how many were removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, task := range r.tasks {
		if task.State.Terminal() {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}
