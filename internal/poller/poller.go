// Package poller checks RSS feeds and publishes their new entries.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postbot/internal/delivery"
	"postbot/internal/fetcher"
	"postbot/internal/filter"
	"postbot/internal/model"
	"postbot/internal/storage"
)

// Store is the persistence the poller needs.
type Store interface {
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	TouchFeed(ctx context.Context, id int64, checkedAt time.Time) error
	HasFeedItem(ctx context.Context, feedID int64, guid string) (bool, error)
	AddFeedItem(ctx context.Context, item *model.FeedItem) error
	MarkFeedItemPosted(ctx context.Context, id int64) error
}

// Deliverer fans content out to chats.
type Deliverer interface {
	FanOut(ctx context.Context, chats []string, c delivery.Content) model.Receipts
}

// Result summarises one feed check.
type Result struct {
	Entries   int
	Recorded  int
	Delivered int
}

// Poller checks feeds and delivers new entries to their target chats.
type Poller struct {
	store   Store
	fetcher *fetcher.Fetcher
	out     Deliverer
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Poller.
func New(store Store, f *fetcher.Fetcher, out Deliverer, log *slog.Logger) *Poller {
	return &Poller{
		store:   store,
		fetcher: f,
		out:     out,
		log:     log,
		now:     time.Now,
	}
}

// Check runs one check of a feed. A fetch or parse failure is returned and
// leaves the feed record untouched, so the next tick starts from the same state.
func (p *Poller) Check(ctx context.Context, feedID int64) (Result, error) {
	var res Result

	feed, err := p.store.GetFeed(ctx, feedID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.log.WarnContext(ctx, "feed gone, nothing to check", "feed_id", feedID)
			return res, nil
		}
		return res, fmt.Errorf("load feed %d: %w", feedID, err)
	}
	if !feed.IsActive {
		p.log.DebugContext(ctx, "feed paused", "feed_id", feedID)
		return res, nil
	}

	p.log.DebugContext(ctx, "checking feed", "feed_id", feed.ID, "url", feed.URL)

	parsed, err := p.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return res, fmt.Errorf("fetch feed %d: %w", feed.ID, err)
	}

	entries := fetcher.Entries(parsed)
	res.Entries = len(entries)

	if len(feed.ChatIDs) == 0 {
		p.log.InfoContext(ctx, "feed has no target chats", "feed_id", feed.ID)
	} else {
		for _, e := range entries {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			recorded, delivered := p.process(ctx, feed, e)
			if recorded {
				res.Recorded++
			}
			if delivered {
				res.Delivered++
			}
		}
	}

	if err := p.store.TouchFeed(ctx, feed.ID, p.now().UTC()); err != nil {
		return res, fmt.Errorf("update last check: %w", err)
	}

	if res.Recorded > 0 {
		p.log.InfoContext(ctx, "feed checked", "feed_id", feed.ID,
			"entries", res.Entries, "new", res.Recorded, "delivered", res.Delivered)
	}
	return res, nil
}

// process handles one entry and reports whether it was recorded in the
// ledger and whether it reached at least one chat.
func (p *Poller) process(ctx context.Context, feed *model.Feed, e fetcher.Entry) (bool, bool) {
	if !filter.Match(filter.Item{Title: e.Title, Summary: fetcher.PlainText(e.Summary)}, feed.Keywords) {
		return false, false
	}

	seen, err := p.store.HasFeedItem(ctx, feed.ID, e.GUID)
	if err != nil {
		p.log.ErrorContext(ctx, "check ledger", "feed_id", feed.ID, "guid", e.GUID, "error", err)
		return false, false
	}
	if seen {
		return false, false
	}

	item := model.FeedItem{
		FeedID:      feed.ID,
		GUID:        e.GUID,
		Title:       e.Title,
		Link:        e.Link,
		Description: fetcher.Excerpt(e.Summary, fetcher.ExcerptLength),
		PublishedAt: e.Published,
	}
	if err := p.store.AddFeedItem(ctx, &item); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			p.log.ErrorContext(ctx, "record item", "feed_id", feed.ID, "guid", e.GUID, "error", err)
		}
		return false, false
	}

	receipts := p.deliver(ctx, feed.ChatIDs, e)
	if len(receipts) == 0 {
		p.log.WarnContext(ctx, "entry not delivered", "feed_id", feed.ID, "guid", e.GUID)
		return true, false
	}

	if err := p.store.MarkFeedItemPosted(ctx, item.ID); err != nil {
		p.log.ErrorContext(ctx, "mark item posted", "feed_id", feed.ID, "guid", e.GUID, "error", err)
	}
	return true, true
}

// deliver sends an entry with its image when it has one. Chats that refuse
// the image get the text alone.
func (p *Poller) deliver(ctx context.Context, chats []string, e fetcher.Entry) model.Receipts {
	text := fetcher.Render(e)
	if e.ImageURL == "" {
		return p.out.FanOut(ctx, chats, delivery.Content{Text: text})
	}

	receipts := p.out.FanOut(ctx, chats, delivery.Content{
		Text:  text,
		Media: []model.MediaRef{{Type: model.MediaPhoto, Ref: e.ImageURL}},
	})

	var missing []string
	for _, c := range chats {
		if _, ok := receipts[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return receipts
	}

	p.log.DebugContext(ctx, "retrying without image", "image", e.ImageURL, "chats", len(missing))
	for c, ids := range p.out.FanOut(ctx, missing, delivery.Content{Text: text}) {
		receipts[c] = ids
	}
	return receipts
}
