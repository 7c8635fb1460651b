package models

import (
	"strings"
	"time"
)

type (
	Config struct {
		// Connection/Auth
		BotToken string `toml:"BotToken"`
		AdminID  int64  `toml:"AdminID"`

		// Paths
		DataDir      string `toml:"DataDir"`
		DownloadDir  string `toml:"DownloadDir"`
		DatabasePath string `toml:"DatabasePath"`
		CachePath    string `toml:"CachePath"` // Bitcask search cache directory
		IndexPath    string `toml:"IndexPath"` // Bleve library index directory

		// Limits
		MaxFileSizeMB     int `toml:"MaxFileSizeMB"`
		MaxSearchResults  int `toml:"MaxSearchResults"`
		RateLimitSeconds  int `toml:"RateLimitSeconds"`
		SearchCacheTTLSec int `toml:"SearchCacheTTLSec"`
		FetchTimeoutSec   int `toml:"FetchTimeoutSec"` // 0 means no cap beyond the extractor's own
		SessionIdleMin    int `toml:"SessionIdleMin"`

		// External tools
		ExtractorPath  string `toml:"ExtractorPath"`
		TranscoderPath string `toml:"TranscoderPath"`
		AudioFormat    string `toml:"AudioFormat"`
		AudioQuality   string `toml:"AudioQuality"`

		// Other
		ApiClientTimeoutSec int    `toml:"ApiClientTimeoutSec"`
		LogApiRequests      bool   `toml:"LogApiRequests"`
		LogLevel            string `toml:"LogLevel"`
		LogFormat           string `toml:"LogFormat"`
	}

	// ChatUser is the identity attached to every inbound event.
	ChatUser struct {
		ID        int64  `json:"id"`
		Username  string `json:"username,omitempty"`
		FirstName string `json:"firstName,omitempty"`
		LastName  string `json:"lastName,omitempty"`
	}

	// User is the persisted per-user row. LastDownloadDate is nil until the
	// first recorded download, which in practice is also when the row is created.
	User struct {
		ID               int64
		Username         string
		FirstName        string
		LastName         string
		JoinDate         time.Time
		TotalDownloads   int64
		LastDownloadDate *time.Time
	}

	// DownloadRecord is one completed, delivered download. Rows are never updated.
	DownloadRecord struct {
		ID           int64
		UserID       int64
		SourceID     string
		Title        string
		DownloadDate time.Time
		Fingerprint  string
	}

	// CandidateItem is a single search result offered to the user.
	CandidateItem struct {
		SourceID  string  `json:"id"`
		Title     string  `json:"title"`
		SourceURL string  `json:"url"`
		Uploader  string  `json:"uploader,omitempty"`
		Duration  float64 `json:"duration,omitempty"` // Seconds, zero when unknown
	}

	UserStats struct {
		TotalDownloads   int64
		LastDownloadDate *time.Time
		RecordCount      int64
		UniqueItems      int64
	}

	GlobalStats struct {
		Users       int64
		Downloads   int64
		UniqueItems int64
	}
)

// DisplayName returns the best human-readable name for the user.
func (u ChatUser) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	switch {
	case full != "":
		return full
	case u.Username != "":
		return "@" + u.Username
	default:
		return "unknown"
	}
}

// PerformerOrDefault returns the uploader, or a placeholder when the
// extractor did not report one.
func (c CandidateItem) PerformerOrDefault() string {
	if strings.TrimSpace(c.Uploader) == "" {
		return "Unknown"
	}
	return c.Uploader
}

// TitleOrDefault mirrors PerformerOrDefault for titles.
func (c CandidateItem) TitleOrDefault() string {
	if strings.TrimSpace(c.Title) == "" {
		return "Unknown Title"
	}
	return c.Title
}
