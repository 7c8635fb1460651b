package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go-audio-downloader-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present", "exit 0")
	results := CheckBinaries([]Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary", Optional: true},
		{Name: "Unset", Command: "  "},
	})
	require.Len(t, results, 3)

	assert.True(t, results[0].Available)
	assert.Empty(t, results[0].Detail)

	assert.False(t, results[1].Available)
	assert.True(t, results[1].Optional)
	assert.Contains(t, results[1].Detail, "not found")
	assert.Equal(t, "clearly-not-present-binary", results[1].Command)

	assert.False(t, results[2].Available)
	assert.Equal(t, "command not configured", results[2].Detail)
}

func TestCheckVersion(t *testing.T) {
	dir := t.TempDir()
	ok := writeStub(t, dir, "tool", `echo "tool version 6.1"; echo "built with gcc"`)
	bad := writeStub(t, dir, "broken", "exit 3")

	res := CheckVersion(context.Background(), "Tool", ok, "-version")
	assert.True(t, res.Passed)
	assert.Equal(t, "tool version 6.1", res.Detail)

	res = CheckVersion(context.Background(), "Broken", bad, "-version")
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Detail)
}

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, CheckDirectoryAccess("data", dir).Passed)

	missing := CheckDirectoryAccess("data", filepath.Join(dir, "nope"))
	assert.False(t, missing.Passed)
	assert.Contains(t, missing.Detail, "does not exist")

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	notDir := CheckDirectoryAccess("data", file)
	assert.False(t, notDir.Passed)
	assert.Contains(t, notDir.Detail, "not a directory")
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	extractor := writeStub(t, dir, "yt-dlp", "exit 0")
	downloads := filepath.Join(dir, "downloads")
	require.NoError(t, os.MkdirAll(downloads, 0o755))

	cfg := models.Config{
		ExtractorPath:  extractor,
		TranscoderPath: "clearly-not-present-transcoder",
		DataDir:        dir,
		DownloadDir:    downloads,
	}
	assert.NoError(t, Preflight(context.Background(), cfg), "missing transcoder is only a warning")

	cfg.ExtractorPath = "clearly-not-present-extractor"
	err := Preflight(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Extractor")

	cfg.ExtractorPath = extractor
	cfg.DownloadDir = filepath.Join(dir, "missing")
	err = Preflight(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Download directory")
}
