package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"go-audio-downloader-bot/internal/models"
)

type infoJSON struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	WebpageURL string     `json:"webpage_url"`
	Uploader   string     `json:"uploader"`
	Channel    string     `json:"channel"`
	Duration   float64    `json:"duration"`
	Type       string     `json:"_type"`
	Entries    []infoJSON `json:"entries"`
}

// parseSearchOutput decodes a --dump-single-json document. Playlist-shaped
// documents yield their entries; a single video yields itself. Entries
// without an id or any usable URL are skipped.
func parseSearchOutput(out []byte) ([]models.CandidateItem, error) {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil, nil
	}

	var doc infoJSON
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	var raw []infoJSON
	if doc.Type == "playlist" || doc.Entries != nil {
		raw = doc.Entries
	} else {
		raw = []infoJSON{doc}
	}

	items := make([]models.CandidateItem, 0, len(raw))
	for _, entry := range raw {
		item, ok := entry.candidate()
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (e infoJSON) candidate() (models.CandidateItem, bool) {
	id := strings.TrimSpace(e.ID)
	link := strings.TrimSpace(e.WebpageURL)
	if link == "" {
		link = strings.TrimSpace(e.URL)
	}
	if link == "" && id != "" {
		link = "https://www.youtube.com/watch?v=" + id
	}
	if id == "" || link == "" {
		return models.CandidateItem{}, false
	}

	uploader := e.Uploader
	if uploader == "" {
		uploader = e.Channel
	}
	return models.CandidateItem{
		SourceID:  id,
		Title:     strings.TrimSpace(e.Title),
		SourceURL: link,
		Uploader:  uploader,
		Duration:  e.Duration,
	}, true
}
