package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go-audio-downloader-bot/internal/database"
	"go-audio-downloader-bot/internal/extractor"
	"go-audio-downloader-bot/internal/helpers"
	"go-audio-downloader-bot/internal/models"
	"go-audio-downloader-bot/internal/session"

	log "github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCase = cases.Fold()

// normalizeQuery makes equivalent queries share a cache entry: NFC, case
// folded, whitespace collapsed. Links are kept verbatim apart from trimming
// since their paths and parameters are case sensitive.
func normalizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if extractor.IsURL(query) {
		return query
	}
	query = norm.NFC.String(query)
	query = foldCase.String(query)
	return strings.Join(strings.Fields(query), " ")
}

func searchCacheKey(normalized string, limit int) string {
	return helpers.HashKey(strconv.Itoa(limit) + "|" + normalized)
}

// search turns a query into at most limit candidates in the collaborator's
// order. An empty or unreadable result is ErrNoResults; any other collaborator
// failure is ErrSearch. Cancellation is returned as is.
func (b *Bot) search(ctx context.Context, query string, limit int) ([]models.CandidateItem, error) {
	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil, ErrNoResults
	}
	key := searchCacheKey(normalized, limit)
	useCache := b.cache != nil && b.opts.CacheTTL > 0

	if useCache {
		items, err := b.cache.GetSearch(key, b.opts.CacheTTL, b.opts.Now())
		switch {
		case err == nil && len(items) > 0:
			log.WithField("query", normalized).Debug("Search served from cache")
			return truncate(items, limit), nil
		case err != nil && !errors.Is(err, database.ErrNotFound):
			log.WithError(err).Warn("Search cache read failed")
		}
	}

	items, err := b.searcher.Search(ctx, strings.TrimSpace(query), limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, extractor.ErrMalformedOutput) {
			log.WithError(err).Debug("Extractor returned unreadable results")
			return nil, ErrNoResults
		}
		return nil, fmt.Errorf("%w: %v", ErrSearch, err)
	}

	items = usable(items)
	if len(items) == 0 {
		return nil, ErrNoResults
	}
	items = truncate(items, limit)

	if useCache {
		if err := b.cache.PutSearch(key, normalized, items, b.opts.Now()); err != nil {
			log.WithError(err).Warn("Search cache write failed")
		}
	}
	return items, nil
}

// usable drops entries that could never be fetched.
func usable(items []models.CandidateItem) []models.CandidateItem {
	out := make([]models.CandidateItem, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.SourceURL) == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func truncate(items []models.CandidateItem, limit int) []models.CandidateItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// searchStage runs a search for the submitted text and offers the results.
func (b *Bot) searchStage(ctx context.Context, s *session.Session, ev session.Event) error {
	opCtx, done := s.BeginOperation(ctx)
	defer done()

	b.say(ctx, ev.ChatID, msgSearching, nil)
	items, err := b.search(opCtx, ev.Text, b.opts.MaxResults)
	if err != nil {
		return err
	}

	generation := s.SetCandidates(items)
	log.WithFields(log.Fields{"user": ev.User.ID, "results": len(items), "generation": generation}).Info("Search completed")
	return b.say(ctx, ev.ChatID, msgResults, resultsKeyboard(generation, items))
}
