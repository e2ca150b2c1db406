package ytdlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    float64
		matched bool
	}{
		{
			name:    "mid download",
			line:    "[download]  45.2% of 3.52MiB at 1.21MiB/s ETA 00:02",
			want:    45.2,
			matched: true,
		},
		{
			name:    "complete",
			line:    "[download] 100% of 3.52MiB in 00:03",
			want:    100,
			matched: true,
		},
		{
			name:    "destination line",
			line:    "[download] Destination: Song Title [dQw4w9WgXcQ].webm",
			matched: false,
		},
		{
			name:    "unrelated line",
			line:    "[youtube] dQw4w9WgXcQ: Downloading webpage",
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pct, ok := ParseProgress(tt.line)
			assert.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.InDelta(t, tt.want, pct, 0.001)
			}
		})
	}
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			name: "download destination",
			line: "[download] Destination: Song Title [dQw4w9WgXcQ].webm",
			want: "Song Title [dQw4w9WgXcQ].webm",
		},
		{
			name: "audio extraction",
			line: "[ExtractAudio] Destination: Song Title [dQw4w9WgXcQ].opus",
			want: "Song Title [dQw4w9WgXcQ].opus",
		},
		{
			name: "merger",
			line: `[Merger] Merging formats into "Song Title [dQw4w9WgXcQ].mkv"`,
			want: "Song Title [dQw4w9WgXcQ].mkv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDestination(tt.line)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ParseDestination("[download]  45.2% of 3.52MiB")
	assert.False(t, ok)
}

func TestBuildDownloadArgs(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		args := buildDownloadArgs("https://youtu.be/abc", Options{})
		assert.Contains(t, args, "-x")
		assert.Contains(t, args, "--newline")
		assert.Contains(t, args, "--no-playlist")
		assert.Equal(t, "https://youtu.be/abc", args[len(args)-1])
	})

	t.Run("playlist item selection drops no-playlist", func(t *testing.T) {
		args := buildDownloadArgs("https://youtu.be/abc", Options{PlaylistItems: "3"})
		assert.NotContains(t, args, "--no-playlist")
		idx := indexOf(args, "--playlist-items")
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, "3", args[idx+1])
	})

	t.Run("full options", func(t *testing.T) {
		args := buildDownloadArgs("https://youtu.be/abc", Options{
			OutputDir:      "/music",
			AudioFormat:    "opus",
			EmbedMetadata:  true,
			EmbedThumbnail: true,
			RateLimit:      "2M",
			ExtraArgs:      []string{"--proxy", "socks5://localhost:9050"},
		})
		idx := indexOf(args, "--audio-format")
		require.GreaterOrEqual(t, idx, 0)
		assert.Equal(t, "opus", args[idx+1])
		assert.Contains(t, args, "--embed-metadata")
		assert.Contains(t, args, "--embed-thumbnail")
		assert.Contains(t, args, "--limit-rate")
		assert.Contains(t, args, "--proxy")
	})
}

func TestIsPlaylist(t *testing.T) {
	assert.True(t, (&PlaylistMetadata{Type: "playlist"}).IsPlaylist())
	assert.True(t, (&PlaylistMetadata{Entries: []VideoInfo{{ID: "a"}}}).IsPlaylist())
	assert.False(t, (&PlaylistMetadata{Type: "video"}).IsPlaylist())
}

func TestDestroyByIDUnknown(t *testing.T) {
	e := NewExecutor()
	assert.False(t, e.DestroyByID("nope"))
	assert.Equal(t, 0, e.RunningCount())
}

func indexOf(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}
