package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-audio-downloader-bot/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Defaults used when the config file leaves a field unset.
const (
	DefaultConfigPath        = "config.toml"
	DefaultMaxFileSizeMB     = 50
	DefaultMaxSearchResults  = 5
	DefaultRateLimitSeconds  = 30
	DefaultSearchCacheTTLSec = 600
	DefaultSessionIdleMin    = 30
	DefaultApiTimeoutSec     = 60
	DefaultExtractor         = "yt-dlp"
	DefaultTranscoder        = "ffmpeg"
	DefaultAudioFormat       = "mp3"
	DefaultAudioQuality      = "192"
)

// ErrMissingToken is returned by Validate when no bot token is configured.
var ErrMissingToken = errors.New("bot token is not configured")

// Default returns a config with every default applied and DataDir set to the
// working directory.
func Default() models.Config {
	cfg := seeded()
	ApplyDefaults(&cfg)
	return cfg
}

// seeded holds the defaults of fields where an explicit 0 is meaningful. The
// file is decoded on top of it, so only keys the file defines replace them.
func seeded() models.Config {
	return models.Config{
		RateLimitSeconds:  DefaultRateLimitSeconds,
		SearchCacheTTLSec: DefaultSearchCacheTTLSec,
	}
}

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// and fills in defaults for anything the file leaves unset.
// A missing file is returned as an error alongside a usable default config so
// callers can decide whether to continue.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = DefaultConfigPath
	}
	cfg := seeded()
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		ApplyDefaults(&cfg)
		return cfg, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	ApplyDefaults(&cfg)
	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields. Paths are derived from DataDir.
// RateLimitSeconds and SearchCacheTTLSec are left alone at 0, which turns the
// cooldown or the cache off; negative values are treated the same way.
func ApplyDefaults(cfg *models.Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		cfg.DataDir = wd
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(cfg.DataDir, "downloads")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "bot_database.sqlite")
	}
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(cfg.DataDir, "search_cache")
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.DataDir, "library.bleve")
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = DefaultMaxSearchResults
	}
	if cfg.RateLimitSeconds < 0 {
		log.Warnf("RateLimitSeconds %d is negative, disabling the cooldown", cfg.RateLimitSeconds)
		cfg.RateLimitSeconds = 0
	}
	if cfg.SearchCacheTTLSec < 0 {
		cfg.SearchCacheTTLSec = 0
	}
	if cfg.FetchTimeoutSec < 0 {
		cfg.FetchTimeoutSec = 0
	}
	if cfg.SessionIdleMin <= 0 {
		cfg.SessionIdleMin = DefaultSessionIdleMin
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = DefaultApiTimeoutSec
	}
	if cfg.ExtractorPath == "" {
		cfg.ExtractorPath = DefaultExtractor
	}
	if cfg.TranscoderPath == "" {
		cfg.TranscoderPath = DefaultTranscoder
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = DefaultAudioFormat
	}
	if cfg.AudioQuality == "" {
		cfg.AudioQuality = DefaultAudioQuality
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// Validate checks the fields the bot cannot start without.
func Validate(cfg models.Config) error {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return ErrMissingToken
	}
	if cfg.AdminID == 0 {
		log.Warn("AdminID is not set; admin commands are disabled")
	}
	return nil
}

// MaxFileSizeBytes converts the configured cap to bytes.
func MaxFileSizeBytes(cfg models.Config) int64 {
	return int64(cfg.MaxFileSizeMB) * 1024 * 1024
}

// EnsureDirectories creates the data and download directories.
func EnsureDirectories(cfg models.Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WithDataDir moves cfg to a new data directory. Paths that were derived from
// the old directory follow it; paths set explicitly are kept.
func WithDataDir(cfg models.Config, dataDir string) models.Config {
	before := models.Config{DataDir: cfg.DataDir}
	ApplyDefaults(&before)
	after := models.Config{DataDir: dataDir}
	ApplyDefaults(&after)

	cfg.DataDir = dataDir
	if cfg.DownloadDir == "" || cfg.DownloadDir == before.DownloadDir {
		cfg.DownloadDir = after.DownloadDir
	}
	if cfg.DatabasePath == "" || cfg.DatabasePath == before.DatabasePath {
		cfg.DatabasePath = after.DatabasePath
	}
	if cfg.CachePath == "" || cfg.CachePath == before.CachePath {
		cfg.CachePath = after.CachePath
	}
	if cfg.IndexPath == "" || cfg.IndexPath == before.IndexPath {
		cfg.IndexPath = after.IndexPath
	}
	return cfg
}
