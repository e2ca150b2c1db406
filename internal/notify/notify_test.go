package notify_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesync/tunesync/internal/events"
	"github.com/tunesync/tunesync/internal/notify"
)

func recv(t *testing.T, sub events.Subscription) events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestBusNotifierPublishes(t *testing.T) {
	bus := events.New()
	defer bus.Close()
	sub := bus.Subscribe()

	n := notify.NewBusNotifier(bus)

	n.Progress("task-1", "Song A", 42.5)
	ev := recv(t, sub)
	assert.Equal(t, events.DownloadProgress, ev.Type)
	assert.Equal(t, 42.5, ev.Data["percent"])

	n.Finished("task-1", "Song A", "/music/Song A.opus")
	ev = recv(t, sub)
	assert.Equal(t, events.DownloadComplete, ev.Type)
	assert.Equal(t, "/music/Song A.opus", ev.Data["file"])

	n.Failed("task-2", "Song B", errors.New("boom"))
	ev = recv(t, sub)
	assert.Equal(t, events.DownloadFailed, ev.Type)
	assert.Equal(t, "boom", ev.Data["error"])

	n.CancelAll()
	require.Equal(t, events.NotificationsCleared, recv(t, sub).Type)

	n.Summary("Sync complete: 3 downloaded, 1 deleted, 0 failed")
	ev = recv(t, sub)
	assert.Equal(t, events.SyncSummary, ev.Type)
	assert.Equal(t, "Sync complete: 3 downloaded, 1 deleted, 0 failed", ev.Data["text"])
}
