package cmd

import (
	"fmt"
	"time"

	"go-audio-downloader-bot/internal/database"
	"go-audio-downloader-bot/internal/downloader"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().Duration("older-than", time.Hour, "Only remove work directories and partial files older than this")
	cleanCmd.Flags().BoolP("cache", "c", false, "Also purge expired search cache entries")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftover work directories and partial files from the download directory",
	Long: `Removes per-download work directories and partial files (.part, .ytdl, .tmp)
left behind by an interrupted run. Refuses to run while the bot holds the data
directory lock. Optionally purges expired entries from the search cache.`,
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	purgeCache, _ := cmd.Flags().GetBool("cache")

	unlock, err := acquireInstanceLock()
	if err != nil {
		return err
	}
	defer unlock()

	log.Infof("Scanning %s for leftovers older than %s...", globalConfig.DownloadDir, olderThan)
	res, err := downloader.CleanStale(globalConfig.DownloadDir, olderThan, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d work directories and %d partial files.\n", res.WorkDirsRemoved, res.PartialsRemoved)
	if res.Failed > 0 {
		log.Warnf("Failed to remove %d entries", res.Failed)
	}

	if !purgeCache {
		return nil
	}
	cache, err := database.OpenCache(globalConfig.CachePath)
	if err != nil {
		return err
	}
	defer cache.Close()
	removed, err := cache.PurgeExpired(time.Duration(globalConfig.SearchCacheTTLSec)*time.Second, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired search cache entries.\n", removed)
	return nil
}
