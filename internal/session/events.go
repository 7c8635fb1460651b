package session

import (
	"fmt"
	"strconv"
	"strings"

	"go-audio-downloader-bot/internal/models"
)

// EventKind tags an inbound event.
type EventKind int

const (
	EventStart EventKind = iota + 1
	EventSearchRequested
	EventCancel
	EventSearchSubmitted
	EventSelectionMade
	EventHelpRequested
	EventStatsRequested
	EventAdminStatsRequested
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventSearchRequested:
		return "search_requested"
	case EventCancel:
		return "cancel"
	case EventSearchSubmitted:
		return "search_submitted"
	case EventSelectionMade:
		return "selection_made"
	case EventHelpRequested:
		return "help_requested"
	case EventStatsRequested:
		return "stats_requested"
	case EventAdminStatsRequested:
		return "admin_stats_requested"
	default:
		return "unknown"
	}
}

// Event is one decoded user interaction. Text is set for EventSearchSubmitted;
// Generation and Index are set for EventSelectionMade.
type Event struct {
	Kind       EventKind
	User       models.ChatUser
	ChatID     int64
	Text       string
	Generation uint64
	Index      int
}

// Callback tokens carried by inline buttons.
const (
	TokenCancel = "cancel"
	TokenSearch = "search"
	TokenHelp   = "help"
	TokenStats  = "stats"

	selectionPrefix = "sel:"
)

// SelectionToken encodes a candidate pick against a specific candidate list.
func SelectionToken(generation uint64, index int) string {
	return fmt.Sprintf("%s%d:%d", selectionPrefix, generation, index)
}

// DecodeCallback turns a button token into an event. Anything unrecognised,
// including a malformed selection, becomes a selection with Index -1 so that it
// is rejected as an invalid selection rather than silently ignored.
func DecodeCallback(data string) Event {
	switch data {
	case TokenCancel:
		return Event{Kind: EventCancel}
	case TokenSearch:
		return Event{Kind: EventSearchRequested}
	case TokenHelp:
		return Event{Kind: EventHelpRequested}
	case TokenStats:
		return Event{Kind: EventStatsRequested}
	}

	invalid := Event{Kind: EventSelectionMade, Index: -1}
	rest, ok := strings.CutPrefix(data, selectionPrefix)
	if !ok {
		return invalid
	}
	genPart, idxPart, ok := strings.Cut(rest, ":")
	if !ok {
		return invalid
	}
	gen, err := strconv.ParseUint(genPart, 10, 64)
	if err != nil {
		return invalid
	}
	idx, err := strconv.Atoi(idxPart)
	if err != nil || idx < 0 {
		return invalid
	}
	return Event{Kind: EventSelectionMade, Generation: gen, Index: idx}
}

// DecodeCommand maps a slash command (without the leading slash or bot
// suffix) to an event kind.
func DecodeCommand(command string) (EventKind, bool) {
	switch strings.ToLower(command) {
	case "start", "menu":
		return EventStart, true
	case "search":
		return EventSearchRequested, true
	case "cancel":
		return EventCancel, true
	case "help":
		return EventHelpRequested, true
	case "stats":
		return EventStatsRequested, true
	case "admin", "adminstats":
		return EventAdminStatsRequested, true
	default:
		return 0, false
	}
}
