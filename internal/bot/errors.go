package bot

import (
	"errors"

	"go-audio-downloader-bot/internal/database"
	"go-audio-downloader-bot/internal/downloader"
	"go-audio-downloader-bot/internal/helpers"
	"go-audio-downloader-bot/internal/ratelimit"
	"go-audio-downloader-bot/internal/session"
)

// Stage errors. They are translated into user messages by Handle and never
// propagate past it.
var (
	ErrNoResults        = errors.New("no results")
	ErrSearch           = errors.New("search failed")
	ErrInvalidSelection = errors.New("invalid selection")
	ErrDelivery         = errors.New("delivery failed")
	ErrForbidden        = errors.New("not allowed")

	// Re-exported so callers only need this package.
	ErrRateLimited = ratelimit.ErrRateLimited
	ErrDownload    = downloader.ErrDownload
	ErrStorage     = database.ErrStorage
	ErrNoData      = database.ErrNoData
	ErrFingerprint = helpers.ErrFingerprint
	ErrBusy        = session.ErrBusy
)

// RateLimitError carries the wait time of a denied download.
type RateLimitError = ratelimit.RateLimitError
