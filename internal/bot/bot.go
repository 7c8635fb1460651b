// Package bot routes user events through the session transition table and runs
// the search and download stages.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go-audio-downloader-bot/internal/downloader"
	"go-audio-downloader-bot/internal/helpers"
	"go-audio-downloader-bot/internal/models"
	"go-audio-downloader-bot/internal/ratelimit"
	"go-audio-downloader-bot/internal/session"

	log "github.com/sirupsen/logrus"
)

// cancelAcquireTimeout bounds how long a cancel waits for the interrupted
// operation to let go of the session.
const cancelAcquireTimeout = 30 * time.Second

// Button is one inline button. Data is a session callback token.
type Button struct {
	Label string
	Data  string
}

// Keyboard is a grid of inline buttons.
type Keyboard struct {
	Rows [][]Button
}

// Audio is an artifact ready to be sent.
type Audio struct {
	Path      string
	Title     string
	Performer string
	Duration  int
}

// Messenger delivers messages to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, keyboard *Keyboard) error
	SendAudio(ctx context.Context, chatID int64, audio Audio) error
}

// Searcher finds candidates for a query or a direct link.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.CandidateItem, error)
}

// Downloader produces an audio artifact for a candidate.
type Downloader interface {
	Download(ctx context.Context, item models.CandidateItem) (*downloader.Artifact, error)
}

// Store persists completed downloads.
type Store interface {
	UpsertUserAndRecordDownload(ctx context.Context, user models.ChatUser, item models.CandidateItem, fingerprint string, at time.Time) (models.DownloadRecord, error)
	GetUserStats(ctx context.Context, userID int64) (models.UserStats, error)
	GetGlobalStats(ctx context.Context) (models.GlobalStats, error)
}

// SearchCache keeps recent candidate lists.
type SearchCache interface {
	GetSearch(queryKey string, ttl time.Duration, now time.Time) ([]models.CandidateItem, error)
	PutSearch(queryKey, query string, items []models.CandidateItem, now time.Time) error
}

// Library indexes delivered downloads.
type Library interface {
	IndexDownload(rec models.DownloadRecord, item models.CandidateItem) error
}

// Deps are the collaborators of a Bot. Cache and Library are optional.
type Deps struct {
	Messenger  Messenger
	Searcher   Searcher
	Downloader Downloader
	Store      Store
	Cache      SearchCache
	Library    Library
	Limiter    *ratelimit.Limiter
	Sessions   *session.Registry
}

// Options tune the bot.
type Options struct {
	MaxResults    int
	MaxFileSizeMB int
	AdminID       int64
	CacheTTL      time.Duration

	// Now and Fingerprint are overridable for tests.
	Now         func() time.Time
	Fingerprint func(path string) (string, error)
}

// Bot handles user events.
type Bot struct {
	messenger  Messenger
	searcher   Searcher
	downloader Downloader
	store      Store
	cache      SearchCache
	library    Library
	limiter    *ratelimit.Limiter
	sessions   *session.Registry
	opts       Options
}

// New wires a Bot. Missing limiter and registry are created with defaults.
func New(deps Deps, opts Options) *Bot {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = helpers.FingerprintFile
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(30 * time.Second)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewRegistry()
	}
	return &Bot{
		messenger:  deps.Messenger,
		searcher:   deps.Searcher,
		downloader: deps.Downloader,
		store:      deps.Store,
		cache:      deps.Cache,
		library:    deps.Library,
		limiter:    deps.Limiter,
		sessions:   deps.Sessions,
		opts:       opts,
	}
}

// Sessions exposes the session registry.
func (b *Bot) Sessions() *session.Registry { return b.sessions }

// Limiter exposes the rate limiter.
func (b *Bot) Limiter() *ratelimit.Limiter { return b.limiter }

// Handle processes one event. It never panics and never returns an error:
// every failure ends up as a message to the user and a stage change.
func (b *Bot) Handle(ctx context.Context, ev session.Event) {
	logger := log.WithFields(log.Fields{"user": ev.User.ID, "event": ev.Kind.String()})

	var (
		s   *session.Session
		err error
	)
	if ev.Kind == session.EventCancel {
		b.sessions.Interrupt(ev.User.ID)
		acquireCtx, cancel := context.WithTimeout(ctx, cancelAcquireTimeout)
		s, err = b.sessions.Acquire(acquireCtx, ev.User.ID)
		cancel()
	} else {
		s, err = b.sessions.TryAcquire(ev.User.ID)
	}
	if err != nil {
		if errors.Is(err, session.ErrBusy) {
			b.say(ctx, ev.ChatID, msgBusy, nil)
			return
		}
		logger.WithError(err).Warn("Could not acquire session")
		return
	}
	defer b.sessions.Release(s)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Recovered from panic while handling event: %v\n%s", r, debug.Stack())
			s.Reset()
			b.say(ctx, ev.ChatID, msgInternal, nil)
		}
	}()

	tr := session.Lookup(s.Stage, ev.Kind)
	logger = logger.WithFields(log.Fields{"stage": s.Stage.String(), "action": tr.Action.String()})
	logger.Debug("Handling event")

	next := tr.OnSuccess
	if err := b.run(ctx, s, tr.Action, ev); err != nil {
		next = tr.OnFailure
		b.report(ctx, logger, ev, err)
	}
	s.Enter(next)
	logger.WithField("next", next.String()).Debug("Event handled")
}

func (b *Bot) run(ctx context.Context, s *session.Session, action session.Action, ev session.Event) error {
	switch action {
	case session.ActionShowMenu:
		return b.say(ctx, ev.ChatID, fmt.Sprintf(msgWelcome, ev.User.DisplayName()), menuKeyboard())
	case session.ActionPromptQuery:
		return b.say(ctx, ev.ChatID, msgPromptQuery, cancelKeyboard())
	case session.ActionHint:
		return b.say(ctx, ev.ChatID, msgHint, menuKeyboard())
	case session.ActionHelp:
		return b.say(ctx, ev.ChatID, fmt.Sprintf(msgHelp, b.opts.MaxFileSizeMB, int(b.limiter.Window().Seconds())), nil)
	case session.ActionCancel:
		return b.say(ctx, ev.ChatID, msgCancelled, menuKeyboard())
	case session.ActionStats:
		return b.userStats(ctx, ev)
	case session.ActionAdminStats:
		return b.adminStats(ctx, ev)
	case session.ActionRejectSelection:
		return ErrInvalidSelection
	case session.ActionSearch:
		return b.searchStage(ctx, s, ev)
	case session.ActionSelect:
		return b.selectionStage(ctx, s, ev)
	default:
		return fmt.Errorf("unhandled action %v", action)
	}
}

// report logs err as its category requires and tells the user.
func (b *Bot) report(ctx context.Context, logger *log.Entry, ev session.Event, err error) {
	var rle *ratelimit.RateLimitError
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("Operation cancelled")
	case errors.Is(err, ErrNoResults):
		b.say(ctx, ev.ChatID, msgNoResults, menuKeyboard())
	case errors.Is(err, ErrSearch):
		logger.WithError(err).Error("Search failed")
		b.say(ctx, ev.ChatID, msgSearchFailed, menuKeyboard())
	case errors.Is(err, ErrInvalidSelection):
		b.say(ctx, ev.ChatID, msgInvalidSelection, menuKeyboard())
	case errors.As(err, &rle):
		b.say(ctx, ev.ChatID, fmt.Sprintf(msgRateLimited, rle.RetryAfterSeconds()), menuKeyboard())
	case errors.Is(err, downloader.ErrTooLarge):
		logger.WithError(err).Warn("Artifact over size limit")
		b.say(ctx, ev.ChatID, fmt.Sprintf(msgTooLarge, b.opts.MaxFileSizeMB), menuKeyboard())
	case errors.Is(err, ErrDownload):
		logger.WithError(err).Error("Download failed")
		b.say(ctx, ev.ChatID, msgDownloadFailed, menuKeyboard())
	case errors.Is(err, ErrFingerprint):
		logger.WithError(err).Error("Fingerprinting failed")
		b.say(ctx, ev.ChatID, msgDownloadFailed, menuKeyboard())
	case errors.Is(err, ErrDelivery):
		logger.WithError(err).Error("Delivery failed")
		b.say(ctx, ev.ChatID, msgDeliveryFailed, menuKeyboard())
	case errors.Is(err, ErrForbidden):
		b.say(ctx, ev.ChatID, msgForbidden, nil)
	case errors.Is(err, ErrStorage):
		logger.WithError(err).Error("Storage error")
		b.say(ctx, ev.ChatID, msgStatsFailed, nil)
	default:
		logger.WithError(err).Error("Unexpected error")
		b.say(ctx, ev.ChatID, msgInternal, nil)
	}
}

// say sends a text message, logging rather than returning transport failures
// of purely informational messages.
func (b *Bot) say(ctx context.Context, chatID int64, text string, keyboard *Keyboard) error {
	if err := b.messenger.SendText(ctx, chatID, text, keyboard); err != nil {
		log.WithError(err).WithField("chat", chatID).Warn("Failed to send message")
	}
	return nil
}

func (b *Bot) userStats(ctx context.Context, ev session.Event) error {
	stats, err := b.store.GetUserStats(ctx, ev.User.ID)
	if errors.Is(err, ErrNoData) {
		return b.say(ctx, ev.ChatID, msgNoStats, nil)
	}
	if err != nil {
		return err
	}
	return b.say(ctx, ev.ChatID, formatUserStats(stats, b.cooldownLeft(ev.User.ID)), nil)
}

// cooldownLeft is how long the user still waits before the next download.
func (b *Bot) cooldownLeft(userID int64) time.Duration {
	last, ok := b.limiter.LastStart(userID)
	if !ok {
		return 0
	}
	return last.Add(b.limiter.Window()).Sub(b.opts.Now())
}

func (b *Bot) adminStats(ctx context.Context, ev session.Event) error {
	if b.opts.AdminID == 0 || ev.User.ID != b.opts.AdminID {
		return ErrForbidden
	}
	stats, err := b.store.GetGlobalStats(ctx)
	if err != nil {
		return err
	}
	return b.say(ctx, ev.ChatID, formatGlobalStats(stats, b.sessions.Len()), nil)
}
