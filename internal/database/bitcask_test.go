package database

import (
	"path/filepath"
	"testing"
	"time"

	"go-audio-downloader-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCachePutGetDelete(t *testing.T) {
	cache := openTestCache(t)

	require.NoError(t, cache.Put([]byte("k"), []byte("value")))

	got, err := cache.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, cache.Delete([]byte("k")))
	_, err = cache.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, cache.Delete([]byte("k")), ErrNotFound)
}

func TestCacheSearchTTL(t *testing.T) {
	cache := openTestCache(t)
	now := time.Unix(1_700_000_000, 0)
	items := []models.CandidateItem{
		{SourceID: "a", Title: "First", SourceURL: "https://example.com/a"},
		{SourceID: "b", Title: "Second", SourceURL: "https://example.com/b"},
	}

	require.NoError(t, cache.PutSearch("key1", "lofi beats", items, now))

	got, err := cache.GetSearch("key1", 10*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, items, got, "order is preserved")

	_, err = cache.GetSearch("key1", 10*time.Minute, now.Add(11*time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cache.Get([]byte(searchKeyPrefix + "key1"))
	assert.ErrorIs(t, err, ErrNotFound, "expired entry is removed")
}

func TestCachePurgeExpired(t *testing.T) {
	cache := openTestCache(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, cache.PutSearch("old", "old", nil, now.Add(-time.Hour)))
	require.NoError(t, cache.PutSearch("fresh", "fresh", nil, now))
	require.NoError(t, cache.Put([]byte("other"), []byte("kept")))

	removed, err := cache.PurgeExpired(10*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = cache.Get([]byte(searchKeyPrefix + "fresh"))
	assert.NoError(t, err)
	_, err = cache.Get([]byte("other"))
	assert.NoError(t, err)
}

func TestCompressionRoundTrip(t *testing.T) {
	raw := []byte("plain text value")
	compressed, err := compressGzip(raw, 1)
	require.NoError(t, err)
	assert.NotEqual(t, raw, compressed)

	out, err := decompressIfGzipped(compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	passthrough, err := decompressIfGzipped(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, passthrough)
}
