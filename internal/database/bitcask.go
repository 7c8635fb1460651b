package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go-audio-downloader-bot/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the cache.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip stream.
var gzipMagicBytes = []byte{0x1f, 0x8b}

const searchKeyPrefix = "search_"

// Cache wraps a bitcask store holding short-lived search results.
type Cache struct {
	db *bitcask.Bitcask
	sync.RWMutex
}

// cachedSearch is the stored value for one normalized query.
type cachedSearch struct {
	Query    string                 `json:"query"`
	StoredAt int64                  `json:"storedAt"`
	Items    []models.CandidateItem `json:"items"`
}

// OpenCache initializes and returns a Cache instance.
func OpenCache(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask cache at %s: %w", path, err)
	}
	log.Infof("Search cache opened at %s", path)
	return &Cache{db: dbInstance}, nil
}

// Close safely closes the cache.
func (c *Cache) Close() error {
	log.Info("Closing search cache...")
	c.Lock()
	defer c.Unlock()
	return c.db.Close()
}

// Get retrieves the value associated with a key, decompressing it if necessary.
func (c *Cache) Get(key []byte) ([]byte, error) {
	c.RLock()
	value, err := c.db.Get(key)
	c.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair.
func (c *Cache) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	c.Lock()
	err = c.db.Put(key, compressedValue)
	c.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key returns ErrNotFound.
func (c *Cache) Delete(key []byte) error {
	c.Lock()
	defer c.Unlock()
	if !c.db.Has(key) {
		return ErrNotFound
	}
	if err := c.db.Delete(key); err != nil {
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs with decompressed values.
func (c *Cache) Fold(fn func(key []byte, value []byte) error) error {
	c.RLock()
	defer c.RUnlock()

	return c.db.Fold(func(key []byte) error {
		rawValue, err := c.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}
		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}
		return fn(key, value)
	})
}

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		gReader, err := gzip.NewReader(bytes.NewReader(value))
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}
	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err = gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}

// --- Search result helpers ---

// GetSearch returns cached candidates for queryKey if they are younger than ttl.
// Expired entries are removed and reported as ErrNotFound.
func (c *Cache) GetSearch(queryKey string, ttl time.Duration, now time.Time) ([]models.CandidateItem, error) {
	key := []byte(searchKeyPrefix + queryKey)
	raw, err := c.Get(key)
	if err != nil {
		return nil, err
	}

	var entry cachedSearch
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.WithError(err).Warnf("Discarding unreadable cache entry %s", key)
		_ = c.Delete(key)
		return nil, ErrNotFound
	}
	if now.Sub(time.Unix(entry.StoredAt, 0)) > ttl {
		log.WithField("queryKey", queryKey).Debug("Cached search expired")
		if err := c.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warnf("Failed to delete expired cache entry %s", key)
		}
		return nil, ErrNotFound
	}
	return entry.Items, nil
}

// PutSearch stores candidates for queryKey.
func (c *Cache) PutSearch(queryKey, query string, items []models.CandidateItem, now time.Time) error {
	data, err := json.Marshal(cachedSearch{Query: query, StoredAt: now.Unix(), Items: items})
	if err != nil {
		return fmt.Errorf("error marshalling cached search: %w", err)
	}
	return c.Put([]byte(searchKeyPrefix+queryKey), data)
}

// PurgeExpired removes every search entry older than ttl and returns how many were removed.
func (c *Cache) PurgeExpired(ttl time.Duration, now time.Time) (int, error) {
	var stale [][]byte
	err := c.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), searchKeyPrefix) {
			return nil
		}
		var entry cachedSearch
		if err := json.Unmarshal(value, &entry); err != nil || now.Sub(time.Unix(entry.StoredAt, 0)) > ttl {
			stale = append(stale, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range stale {
		if err := c.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warnf("Failed to purge cache entry %s", key)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("Purged %d expired search cache entries", removed)
	}
	return removed, nil
}
