package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tunesync/tunesync/internal/config"
)

// loadConfigFromYAML creates a temp config file and loads it using Load().
// This ensures tests use the exact same config loading code as the application.
func loadConfigFromYAML(t *testing.T, content string) config.Config {
	t.Helper()

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configFile, []byte(content), 0o644)
	require.NoError(t, err, "failed to write temp config file")

	cfg, err := config.Load(config.LoadOptions{ConfigFile: configFile})
	require.NoError(t, err, "failed to load config")

	return cfg
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		check func(t *testing.T, cfg config.Config)
	}{
		{
			name: "empty config uses all defaults",
			yaml: "",
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "[::]:8551", cfg.Server.Listen)
				assert.Equal(t, "/music", cfg.Download.MusicDir)
				assert.Equal(t, "best", cfg.Download.AudioFormat)
				assert.Equal(t, "yt-dlp", cfg.Download.Binary)
				assert.Equal(t, "tunesync.db", cfg.Database.Path)
				assert.Equal(t, 10, cfg.YouTube.APIRate)
			},
		},
		{
			name: "server listen can be overridden",
			yaml: `
server:
  listen: "0.0.0.0:9000"
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
				// Other defaults still apply
				assert.Equal(t, "/music", cfg.Download.MusicDir)
			},
		},
		{
			name: "download section can be overridden",
			yaml: `
download:
  musicDir: /data/music
  audioFormat: opus
  embedMetadata: true
  rateLimit: 2M
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "/data/music", cfg.Download.MusicDir)
				assert.Equal(t, "opus", cfg.Download.AudioFormat)
				assert.True(t, cfg.Download.EmbedMetadata)
				assert.Equal(t, "2M", cfg.Download.RateLimit)
			},
		},
		{
			name: "api key from file",
			yaml: `
youtube:
  apiKey: AIzaTest
  apiRate: 5
`,
			check: func(t *testing.T, cfg config.Config) {
				assert.Equal(t, "AIzaTest", cfg.YouTube.APIKey)
				assert.Equal(t, 5, cfg.YouTube.APIRate)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfigFromYAML(t, tt.yaml)
			tt.check(t, cfg)
		})
	}
}

func TestConfigRoundTripFixture(t *testing.T) {
	fixture := map[string]any{
		"server": map[string]any{"listen": "127.0.0.1:8551"},
		"youtube": map[string]any{
			"apiKey":  "AIzaFixture",
			"apiRate": 3,
		},
		"download": map[string]any{
			"musicDir":       "/srv/music",
			"audioFormat":    "m4a",
			"embedThumbnail": true,
			"sponsorBlock":   true,
		},
		"database": map[string]any{"path": "/srv/tunesync.db"},
	}
	raw, err := yaml.Marshal(fixture)
	require.NoError(t, err)

	cfg := loadConfigFromYAML(t, string(raw))
	assert.Equal(t, "127.0.0.1:8551", cfg.Server.Listen)
	assert.Equal(t, "AIzaFixture", cfg.YouTube.APIKey)
	assert.Equal(t, 3, cfg.YouTube.APIRate)
	assert.Equal(t, "/srv/music", cfg.Download.MusicDir)
	assert.Equal(t, "m4a", cfg.Download.AudioFormat)
	assert.True(t, cfg.Download.EmbedThumbnail)
	assert.True(t, cfg.Download.SponsorBlock)
	assert.Equal(t, "/srv/tunesync.db", cfg.Database.Path)
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("TUNESYNC_YOUTUBE_APIKEY", "AIzaFromEnv")
	t.Setenv("TUNESYNC_SERVER_LISTEN", "127.0.0.1:9999")

	cfg := loadConfigFromYAML(t, "")
	assert.Equal(t, "AIzaFromEnv", cfg.YouTube.APIKey)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Listen)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "empty music dir rejected",
			yaml: `
download:
  musicDir: ""
`,
			wantErr: "download.musicDir is required",
		},
		{
			name: "non-positive api rate rejected",
			yaml: `
youtube:
  apiRate: 0
`,
			wantErr: "youtube.apiRate must be positive",
		},
		{
			name: "missing cookies file rejected",
			yaml: `
download:
  cookiesPath: /does/not/exist/cookies.txt
`,
			wantErr: "download.cookiesPath",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configFile := filepath.Join(tmpDir, "config.yaml")
			require.NoError(t, os.WriteFile(configFile, []byte(tt.yaml), 0o644))

			_, err := config.Load(config.LoadOptions{ConfigFile: configFile})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
