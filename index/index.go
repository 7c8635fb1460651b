package index

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go-audio-downloader-bot/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "library.bleve"

// Item is one delivered download as stored in the library index.
// All fields are indexed and searchable using their JSON tag names
// (e.g., query '+uploader:someone' or '+userId:42').
type Item struct {
	ID           string    `json:"id"`   // d_<record id>
	Type         string    `json:"type"` // Always "download" for now
	Title        string    `json:"title"`
	Uploader     string    `json:"uploader,omitempty"`
	SourceID     string    `json:"sourceId"`
	SourceURL    string    `json:"sourceUrl,omitempty"`
	UserID       string    `json:"userId"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	DurationSec  float64   `json:"durationSec,omitempty"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Hit is a single search result.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]interface{}
}

// ItemFromRecord builds the index document for a download record. item may be
// the zero value when only the record is known (e.g. when reindexing).
func ItemFromRecord(rec models.DownloadRecord, item models.CandidateItem) Item {
	title := rec.Title
	if title == "" {
		title = item.TitleOrDefault()
	}
	return Item{
		ID:           "d_" + strconv.FormatInt(rec.ID, 10),
		Type:         "download",
		Title:        title,
		Uploader:     item.Uploader,
		SourceID:     rec.SourceID,
		SourceURL:    item.SourceURL,
		UserID:       strconv.FormatInt(rec.UserID, 10),
		Fingerprint:  rec.Fingerprint,
		DurationSec:  item.Duration,
		DownloadedAt: rec.DownloadDate,
	}
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Infof("Opened existing index at: %s", indexPath)
	}
	return idx, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(idx bleve.Index, item Item) error {
	return idx.Index(item.ID, item)
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(idx bleve.Index, query string, limit int) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	if limit > 0 {
		searchRequest.Size = limit
	}
	searchRequest.Fields = []string{"*"} // Request all stored fields
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}

// Library is the download index used by the bot and the library command.
type Library struct {
	idx  bleve.Index
	path string
}

// OpenLibrary opens or creates the index at path.
func OpenLibrary(path string) (*Library, error) {
	idx, err := OpenOrCreateIndex(path)
	if err != nil {
		return nil, fmt.Errorf("open library index %s: %w", path, err)
	}
	return &Library{idx: idx, path: path}, nil
}

// IndexDownload adds a delivered download to the index.
func (l *Library) IndexDownload(rec models.DownloadRecord, item models.CandidateItem) error {
	doc := ItemFromRecord(rec, item)
	if err := IndexItem(l.idx, doc); err != nil {
		return fmt.Errorf("index %s: %w", doc.ID, err)
	}
	log.WithField("doc", doc.ID).Debug("Indexed download")
	return nil
}

// IndexBatch indexes many items in one batch.
func (l *Library) IndexBatch(items []Item) error {
	batch := l.idx.NewBatch()
	for _, item := range items {
		if err := batch.Index(item.ID, item); err != nil {
			return fmt.Errorf("batch index %s: %w", item.ID, err)
		}
	}
	return l.idx.Batch(batch)
}

// Search runs a query-string search and flattens the hits.
func (l *Library) Search(query string, limit int) ([]Hit, uint64, error) {
	res, err := SearchIndex(l.idx, query, limit)
	if err != nil {
		return nil, 0, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Fields: h.Fields})
	}
	return hits, res.Total, nil
}

// DocCount returns the number of indexed documents.
func (l *Library) DocCount() (uint64, error) {
	return l.idx.DocCount()
}

// Path returns the index directory.
func (l *Library) Path() string { return l.path }

// Close closes the index.
func (l *Library) Close() error {
	if l == nil || l.idx == nil {
		return nil
	}
	return l.idx.Close()
}
