// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultListen       = "[::]:8551"
	DefaultMusicDir     = "/music"
	DefaultDatabasePath = "tunesync.db"
	DefaultAudioFormat  = "best"
	DefaultAPIRate      = 10
)

// Config is the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Download DownloadConfig `mapstructure:"download"`
	Database DatabaseConfig `mapstructure:"database"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// YouTubeConfig holds Data API configuration.
type YouTubeConfig struct {
	APIKey  string `mapstructure:"apiKey"`
	APIRate int    `mapstructure:"apiRate"` // requests per second against the Data API
}

// DownloadConfig holds downloader configuration.
type DownloadConfig struct {
	MusicDir       string `mapstructure:"musicDir"`
	AudioFormat    string `mapstructure:"audioFormat"`
	EmbedMetadata  bool   `mapstructure:"embedMetadata"`
	EmbedThumbnail bool   `mapstructure:"embedThumbnail"`
	RateLimit      string `mapstructure:"rateLimit"` // yt-dlp --limit-rate value, e.g. "2M"
	SponsorBlock   bool   `mapstructure:"sponsorBlock"`
	CookiesPath    string `mapstructure:"cookiesPath"`
	Binary         string `mapstructure:"binary"`
}

// DatabaseConfig holds sqlite configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly. Otherwise default
// locations are searched: $HOME, current directory, /config, for files named
// .tunesync.yaml, tunesync.yaml, or config.yaml.
//
// Environment variables with prefix TUNESYNC_ override config file values,
// e.g. TUNESYNC_YOUTUBE_APIKEY.
func Load(opts LoadOptions) (Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
		v.SetConfigType("yaml")
		v.SetConfigName(".tunesync")
		v.SetConfigName("tunesync")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("TUNESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("youtube.apiRate", DefaultAPIRate)
	v.SetDefault("download.musicDir", DefaultMusicDir)
	v.SetDefault("download.audioFormat", DefaultAudioFormat)
	v.SetDefault("download.binary", "yt-dlp")
	v.SetDefault("database.path", DefaultDatabasePath)

	// Read config file (ignore error if not found)
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if cfg.Download.MusicDir == "" {
		errs = append(errs, errors.New("download.musicDir is required"))
	}
	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if cfg.YouTube.APIRate <= 0 {
		errs = append(errs, fmt.Errorf("youtube.apiRate must be positive, got %d", cfg.YouTube.APIRate))
	}
	if cfg.Download.CookiesPath != "" {
		if _, err := os.Stat(cfg.Download.CookiesPath); err != nil {
			errs = append(errs, fmt.Errorf("download.cookiesPath: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
