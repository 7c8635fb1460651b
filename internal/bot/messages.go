package bot

import (
	"fmt"
	"strings"
	"time"

	"go-audio-downloader-bot/internal/helpers"
	"go-audio-downloader-bot/internal/models"
	"go-audio-downloader-bot/internal/ratelimit"
	"go-audio-downloader-bot/internal/session"
)

// buttonTitleRunes is how much of a title fits on a result button.
const buttonTitleRunes = 50

const (
	msgWelcome = "👋 Hi %s!\n\nSend me a song name or a link and I will fetch the audio for you.\nPress 🔍 Search to begin."
	msgHelp    = "ℹ️ How it works:\n\n" +
		"1. Press 🔍 Search (or send /search)\n" +
		"2. Send a song name or a video link\n" +
		"3. Pick one of the results\n\n" +
		"Commands: /start /search /cancel /stats /help\n" +
		"Files larger than %d MB are not sent. One download every %d seconds."
	msgPromptQuery      = "🔎 Send me a song name or a link."
	msgHint             = "Press 🔍 Search or send /search to look for a song."
	msgSearching        = "🔍 Searching..."
	msgResults          = "🔍 Results. Pick one:"
	msgNoResults        = "❌ No results found."
	msgSearchFailed     = "❌ Search failed. Please try again later."
	msgInvalidSelection = "❌ Invalid selection. Please search again."
	msgRateLimited      = "⏳ Please wait %d seconds before your next download."
	msgDownloading      = "🔽 Downloading: %s"
	msgDownloaded       = "✅ Downloaded: %s"
	msgTooLarge         = "❌ The file is larger than %d MB and cannot be sent."
	msgDownloadFailed   = "❌ Download failed. Please try another result."
	msgDeliveryFailed   = "❌ Could not send the file. Please try again."
	msgCancelled        = "❌ Search cancelled."
	msgBusy             = "⏳ Still working on your previous request..."
	msgNoStats          = "📊 You have not downloaded anything yet."
	msgStatsFailed      = "❌ Statistics are unavailable right now."
	msgForbidden        = "⛔ This command is for the administrator only."
	msgInternal         = "❌ Something went wrong. Please start again with /start."
)

func menuKeyboard() *Keyboard {
	return &Keyboard{Rows: [][]Button{
		{{Label: "🔍 Search", Data: session.TokenSearch}},
		{{Label: "📊 Stats", Data: session.TokenStats}, {Label: "❓ Help", Data: session.TokenHelp}},
	}}
}

func cancelKeyboard() *Keyboard {
	return &Keyboard{Rows: [][]Button{{{Label: "🔙 Cancel", Data: session.TokenCancel}}}}
}

// resultsKeyboard renders one button per candidate. Only the label is
// truncated; the stored candidate keeps its full title.
func resultsKeyboard(generation uint64, items []models.CandidateItem) *Keyboard {
	rows := make([][]Button, 0, len(items)+1)
	for i, item := range items {
		label := fmt.Sprintf("%d. %s", i+1, helpers.TruncateTitle(item.TitleOrDefault(), buttonTitleRunes))
		if item.Duration > 0 {
			label += " (" + formatDuration(item.Duration) + ")"
		}
		rows = append(rows, []Button{{Label: label, Data: session.SelectionToken(generation, i)}})
	}
	rows = append(rows, []Button{{Label: "🔙 Cancel", Data: session.TokenCancel}})
	return &Keyboard{Rows: rows}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatUserStats(stats models.UserStats, cooldown time.Duration) string {
	var b strings.Builder
	b.WriteString("📊 Your statistics\n\n")
	fmt.Fprintf(&b, "Downloads: %d\n", stats.TotalDownloads)
	fmt.Fprintf(&b, "Unique songs: %d\n", stats.UniqueItems)
	if stats.LastDownloadDate != nil {
		fmt.Fprintf(&b, "Last download: %s\n", stats.LastDownloadDate.UTC().Format("2006-01-02 15:04 MST"))
	}
	if cooldown > 0 {
		wait := ratelimit.RateLimitError{RetryAfter: cooldown}
		fmt.Fprintf(&b, "Next download in %ds", wait.RetryAfterSeconds())
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatGlobalStats(stats models.GlobalStats, sessions int) string {
	return fmt.Sprintf("🛠 Bot statistics\n\nUsers: %d\nDownloads: %d\nUnique songs: %d\nActive sessions: %d",
		stats.Users, stats.Downloads, stats.UniqueItems, sessions)
}
