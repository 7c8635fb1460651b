package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go-audio-downloader-bot/index"
	"go-audio-downloader-bot/internal/bot"
	"go-audio-downloader-bot/internal/config"
	"go-audio-downloader-bot/internal/database"
	"go-audio-downloader-bot/internal/deps"
	"go-audio-downloader-bot/internal/downloader"
	"go-audio-downloader-bot/internal/extractor"
	"go-audio-downloader-bot/internal/models"
	"go-audio-downloader-bot/internal/ratelimit"
	"go-audio-downloader-bot/internal/session"
	"go-audio-downloader-bot/internal/telegram"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	lockFileName  = "bot.lock"
	pruneInterval = time.Minute
	// pollHeadroom is added to the API timeout so long polls are not cut short.
	pollHeadroom = 65 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot and serve Telegram updates until interrupted",
	RunE:  runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("show-config", false, "Print the effective configuration and exit")
	runCmd.Flags().Duration("shutdown-grace", 30*time.Second, "How long in-flight handlers may run after a shutdown signal")
}

func runBot(cmd *cobra.Command, args []string) error {
	if show, _ := cmd.Flags().GetBool("show-config"); show {
		return printConfig(cmd.OutOrStdout(), globalConfig)
	}
	grace, _ := cmd.Flags().GetDuration("shutdown-grace")

	if err := config.Validate(globalConfig); err != nil {
		return fmt.Errorf("%w (set BotToken in %s or %s)", err, cfgFile, envBotToken)
	}
	if err := config.EnsureDirectories(globalConfig); err != nil {
		return err
	}

	unlock, err := acquireInstanceLock()
	if err != nil {
		return err
	}
	defer unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := deps.Preflight(ctx, globalConfig); err != nil {
		return err
	}

	// A single instance owns the download directory, so every leftover is stale.
	if res, err := downloader.CleanStale(globalConfig.DownloadDir, 0, time.Now()); err != nil {
		log.WithError(err).Warn("Startup cleanup failed")
	} else if res.WorkDirsRemoved+res.PartialsRemoved > 0 {
		log.Infof("Startup cleanup removed %d work directories and %d partial files", res.WorkDirsRemoved, res.PartialsRemoved)
	}

	log.Infof("Opening database at: %s", globalConfig.DatabasePath)
	store, err := database.OpenStore(ctx, globalConfig.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing database.")
		if err := store.Close(); err != nil {
			log.Errorf("Error closing database: %v", err)
		}
	}()

	botDeps := bot.Deps{
		Store:    store,
		Limiter:  ratelimit.New(time.Duration(globalConfig.RateLimitSeconds) * time.Second),
		Sessions: session.NewRegistry(),
	}

	cache, err := database.OpenCache(globalConfig.CachePath)
	if err != nil {
		log.WithError(err).Warn("Search cache unavailable, continuing without it")
	} else {
		defer cache.Close()
		botDeps.Cache = cache
	}

	library, err := index.OpenLibrary(globalConfig.IndexPath)
	if err != nil {
		log.WithError(err).Warn("Library index unavailable, continuing without it")
	} else {
		defer library.Close()
		botDeps.Library = library
	}

	ext, err := extractor.New(globalConfig.ExtractorPath,
		extractor.WithTranscoder(globalConfig.TranscoderPath),
		extractor.WithAudio(globalConfig.AudioFormat, globalConfig.AudioQuality))
	if err != nil {
		return err
	}
	botDeps.Searcher = ext
	botDeps.Downloader = downloader.NewDownloader(ext, globalConfig.DownloadDir,
		config.MaxFileSizeBytes(globalConfig), time.Duration(globalConfig.FetchTimeoutSec)*time.Second)

	httpClient := &http.Client{
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec)*time.Second + pollHeadroom,
		Transport: globalHttpTransport,
	}
	client, err := telegram.New(globalConfig.BotToken, httpClient, log.IsLevelEnabled(log.TraceLevel))
	if err != nil {
		return err
	}
	botDeps.Messenger = client

	b := bot.New(botDeps, bot.Options{
		MaxResults:    globalConfig.MaxSearchResults,
		MaxFileSizeMB: globalConfig.MaxFileSizeMB,
		AdminID:       globalConfig.AdminID,
		CacheTTL:      time.Duration(globalConfig.SearchCacheTTLSec) * time.Second,
	})

	go pruneLoop(ctx, b, cache, globalConfig)

	log.Infof("Bot @%s started", client.Username())
	err = client.Run(ctx, b.Handle, grace)
	if errors.Is(err, context.Canceled) {
		log.Info("Shutdown complete")
		return nil
	}
	return err
}

// acquireInstanceLock takes the data directory lock so that only one process
// at a time owns the download directory and the library index.
func acquireInstanceLock() (func(), error) {
	if err := os.MkdirAll(globalConfig.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	lock := flock.New(filepath.Join(globalConfig.DataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return nil, errors.New("another bot instance is using this data directory; stop it first")
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			log.WithError(err).Warn("Failed to release instance lock")
		}
	}, nil
}

// pruneLoop periodically drops idle sessions, cooldown entries that have
// expired and stale cache entries.
func pruneLoop(ctx context.Context, b *bot.Bot, cache *database.Cache, cfg models.Config) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	idle := time.Duration(cfg.SessionIdleMin) * time.Minute
	ttl := time.Duration(cfg.SearchCacheTTLSec) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now()
		sessions := b.Sessions().Prune(idle)
		cooldowns := b.Limiter().Prune(now)
		if sessions+cooldowns > 0 {
			log.Debugf("Pruned %d idle sessions and %d expired cooldowns", sessions, cooldowns)
		}
		if cache != nil && ttl > 0 {
			if _, err := cache.PurgeExpired(ttl, now); err != nil {
				log.WithError(err).Warn("Failed to purge search cache")
			}
		}
	}
}

// printConfig writes the effective configuration as JSON with the token masked.
func printConfig(w io.Writer, cfg models.Config) error {
	if cfg.BotToken != "" {
		cfg.BotToken = "<redacted>"
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Fprintln(w, "--- Global Config Settings ---")
	fmt.Fprintln(w, string(data))
	return nil
}
