package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-audio-downloader-bot/internal/extractor"
	"go-audio-downloader-bot/internal/helpers"
	"go-audio-downloader-bot/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrDownload   = errors.New("download failed")
	ErrTooLarge   = errors.New("artifact exceeds size limit")
	ErrFileSystem = errors.New("filesystem error") // Covers create, remove, rename
)

// attemptDirPrefix marks per-attempt work directories so stale ones can be
// recognised by the clean command.
const attemptDirPrefix = "attempt-"

// Fetcher turns a source URL into a local audio file inside outputDir.
type Fetcher interface {
	FetchAndTranscode(ctx context.Context, sourceURL, outputDir string, maxBytes int64) (string, error)
}

// Downloader runs one fetch per attempt in its own work directory.
type Downloader struct {
	fetcher  Fetcher
	baseDir  string
	maxBytes int64
	timeout  time.Duration
}

// Artifact is a produced audio file. Cleanup removes it together with its work
// directory and is safe to call more than once.
type Artifact struct {
	AttemptID string
	Path      string
	Size      int64
	WorkDir   string
}

// NewDownloader creates a new Downloader instance. A zero timeout leaves the
// fetch bounded only by the caller's context.
func NewDownloader(fetcher Fetcher, baseDir string, maxBytes int64, timeout time.Duration) *Downloader {
	return &Downloader{
		fetcher:  fetcher,
		baseDir:  baseDir,
		maxBytes: maxBytes,
		timeout:  timeout,
	}
}

// Download fetches item into a fresh work directory. On any error the work
// directory is already gone; on success the caller must call Cleanup.
// Cancellation of ctx is returned unwrapped.
func (d *Downloader) Download(ctx context.Context, item models.CandidateItem) (art *Artifact, err error) {
	attemptID := uuid.NewString()
	workDir := filepath.Join(d.baseDir, attemptDirPrefix+attemptID)
	logger := log.WithFields(log.Fields{"attempt": attemptID, "source": item.SourceID})

	if !helpers.CheckAndMakeDir(workDir) {
		return nil, fmt.Errorf("%w: %w: failed to create work directory %s", ErrDownload, ErrFileSystem, workDir)
	}
	defer func() {
		if err != nil {
			removeWorkDir(workDir)
		}
	}()

	fetchCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	logger.Infof("Fetching %s", item.SourceURL)
	started := time.Now()
	path, err := d.fetcher.FetchAndTranscode(fetchCtx, item.SourceURL, workDir, d.maxBytes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetch timed out after %s", ErrDownload, d.timeout)
		}
		if errors.Is(err, extractor.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w: %v", ErrDownload, ErrTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: stat %s: %v", ErrDownload, ErrFileSystem, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDownload, path)
	}
	if d.maxBytes > 0 && info.Size() > d.maxBytes {
		return nil, fmt.Errorf("%w: %w: %s > %s", ErrDownload, ErrTooLarge,
			helpers.BytesToSize(uint64(info.Size())), helpers.BytesToSize(uint64(d.maxBytes)))
	}

	finalPath := d.friendlyName(workDir, path, item)
	if finalPath != path {
		if renameErr := os.Rename(path, finalPath); renameErr != nil {
			logger.WithError(renameErr).Warnf("Could not rename %s, keeping extractor name", path)
			finalPath = path
		}
	}

	logger.Infof("Fetched %s (%s) in %s", filepath.Base(finalPath), helpers.BytesToSize(uint64(info.Size())), time.Since(started).Round(time.Millisecond))
	return &Artifact{AttemptID: attemptID, Path: finalPath, Size: info.Size(), WorkDir: workDir}, nil
}

// friendlyName gives the artifact a slug of its title so the recipient sees a
// readable file name.
func (d *Downloader) friendlyName(workDir, path string, item models.CandidateItem) string {
	slug := helpers.ConvertToSlug(item.Title)
	if slug == "" {
		return path
	}
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "_-.")
	}
	return filepath.Join(workDir, slug+filepath.Ext(path))
}

// Cleanup removes the artifact's work directory.
func (a *Artifact) Cleanup() {
	if a == nil || a.WorkDir == "" {
		return
	}
	removeWorkDir(a.WorkDir)
}

func removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.WithError(err).Warnf("Failed to remove work directory %s", dir)
		return
	}
	log.Debugf("Removed work directory %s", dir)
}
