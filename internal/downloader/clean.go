package downloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// CleanResult summarises a CleanStale run.
type CleanResult struct {
	WorkDirsRemoved int
	PartialsRemoved int
	Failed          int
}

// partialSuffixes are left behind by an interrupted extractor.
var partialSuffixes = []string{".part", ".ytdl", ".tmp", ".temp"}

// CleanStale removes attempt work directories and partial files under baseDir
// that were last modified before olderThan ago. Directories belonging to a
// running bot are younger than any sensible threshold.
func CleanStale(baseDir string, olderThan time.Duration, now time.Time) (CleanResult, error) {
	var res CleanResult

	info, err := os.Stat(baseDir)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrFileSystem, err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("%w: %s is not a directory", ErrFileSystem, baseDir)
	}
	cutoff := now.Add(-olderThan)

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return res, fmt.Errorf("%w: reading %s: %v", ErrFileSystem, baseDir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), attemptDirPrefix) {
			continue
		}
		entryInfo, err := entry.Info()
		if err != nil || entryInfo.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Errorf("Failed to remove work directory %q: %v", path, err)
			res.Failed++
			continue
		}
		log.Infof("Removed stale work directory: %s", path)
		res.WorkDirsRemoved++
	}

	walkErr := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() || info.ModTime().After(cutoff) {
			return nil
		}
		lowerName := strings.ToLower(info.Name())
		for _, suffix := range partialSuffixes {
			if !strings.HasSuffix(lowerName, suffix) {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Errorf("Failed to remove partial file %q: %v", path, err)
				res.Failed++
			} else {
				log.Infof("Removed partial file: %s", path)
				res.PartialsRemoved++
			}
			break
		}
		return nil
	})
	if walkErr != nil {
		return res, fmt.Errorf("%w: walking %s: %v", ErrFileSystem, baseDir, walkErr)
	}
	return res, nil
}
