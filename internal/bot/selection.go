package bot

import (
	"context"
	"fmt"

	"go-audio-downloader-bot/internal/session"

	log "github.com/sirupsen/logrus"
)

// selectionStage resolves the pick and runs the download pipeline:
// rate limit, fetch, fingerprint, deliver, persist. The artifact is removed on
// every exit path. Only a delivered download consumes the user's cooldown.
func (b *Bot) selectionStage(ctx context.Context, s *session.Session, ev session.Event) error {
	// Registered first so a cancel arriving at any point below interrupts it.
	opCtx, done := s.BeginOperation(ctx)
	defer done()

	item, ok := s.Candidate(ev.Generation, ev.Index)
	if !ok {
		return ErrInvalidSelection
	}

	reservation, err := b.limiter.Reserve(ev.User.ID, b.opts.Now())
	if err != nil {
		return err
	}
	delivered := false
	defer func() {
		if delivered {
			reservation.Commit()
		} else {
			reservation.Release()
		}
	}()

	logger := log.WithFields(log.Fields{"user": ev.User.ID, "source": item.SourceID})

	b.say(ctx, ev.ChatID, fmt.Sprintf(msgDownloading, item.TitleOrDefault()), nil)

	artifact, err := b.downloader.Download(opCtx, item)
	if err != nil {
		return err
	}
	defer artifact.Cleanup()

	fingerprint, err := b.opts.Fingerprint(artifact.Path)
	if err != nil {
		return err
	}
	if err := opCtx.Err(); err != nil {
		return err
	}

	audio := Audio{
		Path:      artifact.Path,
		Title:     item.TitleOrDefault(),
		Performer: item.PerformerOrDefault(),
		Duration:  int(item.Duration),
	}
	if err := b.messenger.SendAudio(opCtx, ev.ChatID, audio); err != nil {
		if ctxErr := opCtx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	delivered = true
	logger.WithField("fingerprint", fingerprint).Info("Audio delivered")

	// Delivery cannot be undone, so recording is best effort and ignores a
	// late cancel.
	persistCtx := context.WithoutCancel(ctx)
	record, err := b.store.UpsertUserAndRecordDownload(persistCtx, ev.User, item, fingerprint, b.opts.Now())
	if err != nil {
		logger.WithError(err).Error("Failed to record download")
	} else if b.library != nil {
		if err := b.library.IndexDownload(record, item); err != nil {
			logger.WithError(err).Warn("Failed to index download")
		}
	}

	return b.say(ctx, ev.ChatID, fmt.Sprintf(msgDownloaded, item.TitleOrDefault()), menuKeyboard())
}
