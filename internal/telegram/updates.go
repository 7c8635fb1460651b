package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-audio-downloader-bot/internal/models"
	"go-audio-downloader-bot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

const pollTimeoutSec = 60

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev session.Event)

// inbound is a decoded update plus the callback to acknowledge, if any.
type inbound struct {
	event      session.Event
	callbackID string
}

// decodeUpdate maps an update to an event. Updates without a sender, edits,
// and non-text messages are dropped. Unknown commands are answered with help.
func decodeUpdate(update tgbotapi.Update) (inbound, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.From == nil {
			return inbound{}, false
		}
		ev := session.DecodeCallback(cq.Data)
		ev.User = chatUser(cq.From)
		ev.ChatID = cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.ChatID = cq.Message.Chat.ID
		}
		return inbound{event: ev, callbackID: cq.ID}, true

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || msg.Chat == nil {
			return inbound{}, false
		}
		ev := session.Event{User: chatUser(msg.From), ChatID: msg.Chat.ID}
		if msg.IsCommand() {
			kind, ok := session.DecodeCommand(msg.Command())
			if !ok {
				kind = session.EventHelpRequested
			}
			ev.Kind = kind
			return inbound{event: ev}, true
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return inbound{}, false
		}
		ev.Kind = session.EventSearchSubmitted
		ev.Text = text
		return inbound{event: ev}, true
	}
	return inbound{}, false
}

func chatUser(u *tgbotapi.User) models.ChatUser {
	return models.ChatUser{
		ID:        u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// Run long-polls for updates and hands each event to handle on its own
// goroutine; per-user ordering is left to the session registry. When ctx is
// cancelled polling stops and in-flight handlers get grace to finish before
// their context is cancelled too.
func (c *Client) Run(ctx context.Context, handle Handler, grace time.Duration) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSec
	updates := c.api.GetUpdatesChan(cfg)

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	var wg sync.WaitGroup
	log.Info("Polling for updates")

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case update, ok := <-updates:
			if !ok {
				log.Warn("Update channel closed")
				break poll
			}
			in, ok := decodeUpdate(update)
			if !ok {
				log.WithField("update", update.UpdateID).Debug("Ignoring update")
				continue
			}
			wg.Add(1)
			go func(in inbound) {
				defer wg.Done()
				if err := c.AnswerCallback(in.callbackID, ""); err != nil {
					log.WithError(err).Debug("Failed to answer callback query")
				}
				handle(handlerCtx, in.event)
			}(in)
		}
	}

	c.api.StopReceivingUpdates()
	log.Info("Stopped polling, waiting for in-flight handlers")

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		log.Warnf("Handlers still running after %s, cancelling them", grace)
		cancelHandlers()
		<-finished
	}
	return ctx.Err()
}
