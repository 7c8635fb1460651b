// Package extractor drives the yt-dlp binary to search for media and to fetch
// a chosen item as an audio file.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go-audio-downloader-bot/internal/models"

	log "github.com/sirupsen/logrus"
)

// Extractor errors
var (
	ErrExtractor       = errors.New("extractor failed")
	ErrMalformedOutput = errors.New("malformed extractor output")
	ErrTooLarge        = errors.New("artifact exceeds size limit")
	ErrNoArtifact      = errors.New("extractor produced no file")
)

const (
	defaultSearchLimit = 5
	outputTemplate     = "%(id)s.%(ext)s"
)

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithTranscoder sets the ffmpeg location passed to the extractor.
func WithTranscoder(path string) Option {
	return func(c *Client) { c.transcoder = strings.TrimSpace(path) }
}

// WithAudio overrides the target audio encoding.
func WithAudio(format, quality string) Option {
	return func(c *Client) {
		if format != "" {
			c.audioFormat = format
		}
		if quality != "" {
			c.audioQuality = quality
		}
	}
}

// Client wraps the yt-dlp CLI.
type Client struct {
	binary       string
	transcoder   string
	audioFormat  string
	audioQuality string
	exec         Executor
}

// New constructs a client for the given binary.
func New(binary string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("extractor binary required")
	}
	c := &Client{
		binary:       binary,
		audioFormat:  "mp3",
		audioQuality: "192",
		exec:         commandExecutor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AudioFormat returns the file extension of produced artifacts.
func (c *Client) AudioFormat() string { return c.audioFormat }

// IsURL reports whether the query is a direct http(s) link.
func IsURL(query string) bool {
	u, err := url.Parse(strings.TrimSpace(query))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Search returns up to limit candidates in the extractor's relevance order.
// A direct link resolves to at most one candidate. An empty result is not an error.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.CandidateItem, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var args []string
	if IsURL(query) {
		args = []string{"--dump-single-json", "--no-playlist", "--no-warnings", "--skip-download", query}
	} else {
		args = []string{"--dump-single-json", "--flat-playlist", "--no-warnings", "--skip-download",
			"ytsearch" + strconv.Itoa(limit) + ":" + query}
	}

	log.WithField("query", query).Debug("Running extractor search")
	out, err := c.exec.Run(ctx, c.binary, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: search: %v", ErrExtractor, err)
	}

	items, err := parseSearchOutput(out)
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// FetchAndTranscode downloads sourceURL into outputDir as audio and returns the
// produced file path. maxBytes is passed to the extractor; a non-positive value disables it.
func (c *Client) FetchAndTranscode(ctx context.Context, sourceURL, outputDir string, maxBytes int64) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("%w: empty source url", ErrExtractor)
	}
	if outputDir == "" {
		return "", errors.New("output directory required")
	}

	args := []string{
		"--no-playlist", "--no-warnings", "--no-color", "--no-overwrites", "--geo-bypass",
		"-f", "bestaudio/best",
		"-x", "--audio-format", c.audioFormat, "--audio-quality", c.audioQuality + "K",
		"--no-simulate", "--print", "after_move:filepath",
		"-o", filepath.Join(outputDir, outputTemplate),
	}
	if maxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(maxBytes, 10))
	}
	if c.transcoder != "" {
		args = append(args, "--ffmpeg-location", c.transcoder)
	}
	args = append(args, sourceURL)

	out, err := c.exec.Run(ctx, c.binary, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if isFileSizeAbort(err.Error()) {
			return "", fmt.Errorf("%w: %v", ErrTooLarge, err)
		}
		return "", fmt.Errorf("%w: fetch: %v", ErrExtractor, err)
	}

	if path := lastPrintedPath(out); path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
	}

	// Older extractor builds do not support --print after_move; fall back to
	// whatever landed in the output directory.
	matches, _ := filepath.Glob(filepath.Join(outputDir, "*."+c.audioFormat))
	if len(matches) > 0 {
		return matches[0], nil
	}
	if isFileSizeAbort(string(out)) {
		return "", ErrTooLarge
	}
	// With --print the extractor is quiet and a size skip exits 0 without
	// saying so; an empty output directory under a cap means the file was skipped.
	if maxBytes > 0 {
		return "", fmt.Errorf("%w: %w", ErrTooLarge, ErrNoArtifact)
	}
	return "", ErrNoArtifact
}

// Version returns the extractor's self-reported version.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.exec.Run(ctx, c.binary, []string{"--version"})
	if err != nil {
		return "", fmt.Errorf("%w: version: %v", ErrExtractor, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func lastPrintedPath(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "[") {
			return line
		}
	}
	return ""
}

func isFileSizeAbort(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "larger than max-filesize")
}
