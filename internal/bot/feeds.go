package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postbot/internal/model"
	"postbot/internal/schedule"
	"postbot/internal/storage"
)

const (
	cmdFeedRemove = "rss_remove"
	cmdFeedCheck  = "rss_check"
)

// ownFeed loads a feed owned by userID, replying when there is none.
func (b *Bot) ownFeed(ctx context.Context, chatID, userID, id int64) (*model.Feed, bool) {
	feed, err := b.store.GetFeed(ctx, id)
	if err != nil || feed.UserID != userID {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("load feed", "feed_id", id, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Feed #%d not found.", id))
		return nil, false
	}
	return feed, true
}

func (b *Bot) handleFeedAdd(ctx context.Context, chatID, userID int64, args string) {
	fa, err := ParseFeedCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if fa.Minutes == 0 {
		fa.Minutes = b.cfg.RSSDefaultFreq
	}
	if err := schedule.ValidateFrequency(fa.Minutes, b.planner.MinFrequency()); err != nil {
		b.reply(chatID, err.Error())
		return
	}

	chats, err := b.dir.CanPublish(ctx, userID, fa.Chats)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Cannot publish to %v", err))
		return
	}

	parsed, err := b.fetcher.Fetch(ctx, fa.URL)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch feed: %v", err))
		return
	}
	title := parsed.Title
	if title == "" {
		title = fa.URL
	}

	f := &model.Feed{
		UserID:           userID,
		URL:              fa.URL,
		ChatIDs:          chats,
		FrequencyMinutes: fa.Minutes,
		Keywords:         fa.Keywords,
		IsActive:         true,
	}
	if err := b.planner.AddFeed(ctx, f); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			b.reply(chatID, "You already follow this feed.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to save feed: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Feed added!\n#%d %s (every %d min)\nURL: %s\nPosting to: %s",
		f.ID, title, f.FrequencyMinutes, f.URL, strings.Join(f.ChatIDs, ", ")))
}

func (b *Bot) handleFeedList(ctx context.Context, chatID, userID int64) {
	feeds, err := b.store.ListFeeds(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(feeds) == 0 {
		b.reply(chatID, FormatFeedList(feeds, b.now()))
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(feeds))
	for _, f := range feeds {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Check #%d", f.ID), fmt.Sprintf("%s:%d", cmdFeedCheck, f.ID)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Remove #%d", f.ID), fmt.Sprintf("%s:%d", cbFeedRemoveConfirm, f.ID)),
		))
	}
	b.replyWithKeyboard(chatID, FormatFeedList(feeds, b.now()), tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleFeedRemove(ctx context.Context, chatID, userID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rss_remove <id>")
		return
	}
	feed, ok := b.ownFeed(ctx, chatID, userID, id)
	if !ok {
		return
	}
	if err := b.planner.RemoveFeed(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting feed: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed #%d %s deleted.", id, feed.URL))
}

func (b *Bot) handleFeedFrequency(ctx context.Context, chatID, userID int64, args string) {
	id, mins, err := ParseFrequencyArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if _, ok := b.ownFeed(ctx, chatID, userID, id); !ok {
		return
	}
	if err := b.planner.SetFeedFrequency(ctx, id, mins); err != nil {
		var verr *schedule.ValidationError
		if errors.As(err, &verr) {
			b.reply(chatID, verr.Error())
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed #%d frequency set to %d min.", id, mins))
}

func (b *Bot) handleFeedActive(ctx context.Context, chatID, userID int64, args string, active bool) {
	usage, done := "Usage: /rss_pause <id>", "paused"
	if active {
		usage, done = "Usage: /rss_resume <id>", "resumed"
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, usage)
		return
	}
	if _, ok := b.ownFeed(ctx, chatID, userID, id); !ok {
		return
	}
	if err := b.planner.SetFeedActive(ctx, id, active); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Feed #%d %s.", id, done))
}

func (b *Bot) handleFeedCheck(ctx context.Context, chatID, userID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rss_check <id>")
		return
	}
	feed, ok := b.ownFeed(ctx, chatID, userID, id)
	if !ok {
		return
	}
	if !feed.IsActive {
		b.reply(chatID, fmt.Sprintf("Feed #%d is paused. Use /rss_resume %d first.", id, id))
		return
	}

	res, err := b.planner.CheckFeed(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to check feed: %v", err))
		return
	}
	b.reply(chatID, FormatCheckResult(feed, res))
}
