// Package telegram connects the bot to the Telegram Bot API: it delivers
// messages and audio, and turns polled updates into session events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-audio-downloader-bot/internal/bot"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const (
	maxSendAttempts = 3
	// maxRetryAfter caps how long a flood-wait reply may stall a handler.
	maxRetryAfter = 30 * time.Second
)

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client implements bot.Messenger on top of the Bot API.
type Client struct {
	api      botAPI
	username string
	sleep    func(ctx context.Context, d time.Duration) error
}

// New authenticates with token over httpClient. The Bot API library logs
// through logrus.
func New(token string, httpClient *http.Client, debug bool) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if err := tgbotapi.SetLogger(log.StandardLogger()); err != nil {
		log.WithError(err).Debug("Could not route Bot API logs through logrus")
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("connect to Telegram: %w", err)
	}
	api.Debug = debug
	log.Infof("Authorized as @%s", api.Self.UserName)
	c := newClient(api)
	c.username = api.Self.UserName
	return c, nil
}

func newClient(api botAPI) *Client {
	return &Client{api: api, sleep: sleepContext}
}

// Username is the bot's own handle, empty for clients built without a login.
func (c *Client) Username() string { return c.username }

// SendText sends a plain message with an optional inline keyboard.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, keyboard *bot.Keyboard) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup, ok := inlineMarkup(keyboard); ok {
		msg.ReplyMarkup = markup
	}
	return c.send(ctx, msg)
}

// SendAudio uploads a local audio file with its display metadata.
func (c *Client) SendAudio(ctx context.Context, chatID int64, audio bot.Audio) error {
	cfg := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(audio.Path))
	cfg.Title = audio.Title
	cfg.Performer = audio.Performer
	cfg.Duration = audio.Duration
	return c.send(ctx, cfg)
}

// AnswerCallback clears the loading indicator on a pressed button.
func (c *Client) AnswerCallback(callbackID, text string) error {
	if callbackID == "" {
		return nil
	}
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// send retries flood-wait replies, honouring the server's retry_after when it
// is short enough. Other failures are returned immediately.
func (c *Client) send(ctx context.Context, chattable tgbotapi.Chattable) error {
	var lastErr error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.api.Send(chattable)
		if err == nil {
			return nil
		}
		lastErr = err

		wait, retryable := retryAfter(err)
		if !retryable || attempt == maxSendAttempts-1 {
			break
		}
		log.WithError(err).Warnf("Rate limited by Telegram. Retrying (%d/%d) after %s...", attempt+1, maxSendAttempts, wait)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// retryAfter reports whether err is a 429 reply worth waiting for.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		return 0, false
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	if wait > maxRetryAfter {
		return 0, false
	}
	return wait, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// inlineMarkup converts a keyboard to Bot API markup. Empty keyboards yield
// no markup at all.
func inlineMarkup(keyboard *bot.Keyboard) (tgbotapi.InlineKeyboardMarkup, bool) {
	if keyboard == nil {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range keyboard.Rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
