package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postbot/internal/delivery"
	"postbot/internal/model"
	"postbot/internal/planner"
	"postbot/internal/schedule"
	"postbot/internal/storage"
)

const (
	cmdCancel = "cancel"
	maxMedia  = 10
)

// ownPost loads a post owned by userID, replying when there is none.
func (b *Bot) ownPost(ctx context.Context, chatID, userID, id int64) (*model.Post, bool) {
	post, err := b.store.GetPost(ctx, id)
	if err != nil || post.UserID != userID {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("load post", "post_id", id, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Post #%d not found.", id))
		return nil, false
	}
	return post, true
}

func (b *Bot) handlePost(ctx context.Context, chatID, userID int64, args string) {
	pa, err := ParsePostCommand(args, b.cfg.Location(), b.now())
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	chats, err := b.dir.CanPublish(ctx, userID, pa.Chats)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Cannot publish to %v", err))
		return
	}

	post := &model.Post{UserID: userID, ChatIDs: chats, Text: pa.Text}
	if err := b.store.CreatePost(ctx, post); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save post: %v", err))
		return
	}
	if err := b.planner.SchedulePost(ctx, post, pa.Schedule); err != nil {
		var verr *schedule.ValidationError
		if errors.As(err, &verr) {
			b.reply(chatID, verr.Error())
			return
		}
		b.log.Error("schedule post", "post_id", post.ID, "error", err)
		b.reply(chatID, fmt.Sprintf("Post #%d saved as draft, scheduling failed: %v", post.ID, err))
		return
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", fmt.Sprintf("%s:%d", cbPostCancel, post.ID)),
	))
	b.replyWithKeyboard(chatID, fmt.Sprintf("Post #%d scheduled: %s\nAdd media with /attach %d.",
		post.ID, FormatWhen(post, b.cfg.Location(), b.now()), post.ID), kb)
}

func (b *Bot) handleAttach(ctx context.Context, chatID, userID int64, args string, replyTo *tgbotapi.Message) {
	id, media, err := ParseAttachArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if media == nil {
		m, ok := MediaFromMessage(replyTo)
		if !ok {
			b.reply(chatID, "Reply to a photo, video or document, or pass the media type and file ID.")
			return
		}
		media = &m
	}

	post, ok := b.ownPost(ctx, chatID, userID, id)
	if !ok {
		return
	}
	if post.Status != model.StatusDraft && !post.Publishable() {
		b.reply(chatID, fmt.Sprintf("Post #%d can no longer be edited.", id))
		return
	}
	if len(post.Media) >= maxMedia {
		b.reply(chatID, fmt.Sprintf("Post #%d already has %d media, the maximum.", id, maxMedia))
		return
	}

	post.Media = append(post.Media, *media)
	if err := delivery.ValidateMedia(post.Media); err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid media: %v", err))
		return
	}
	if err := b.store.UpdatePost(ctx, post); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Attached %s to post #%d (%d media).", media.Type, id, len(post.Media)))
}

func (b *Bot) handleAutodelete(ctx context.Context, chatID, userID int64, args string) {
	id, delay, err := ParseAutodeleteArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	post, ok := b.ownPost(ctx, chatID, userID, id)
	if !ok {
		return
	}

	post.DeleteAfterSeconds = int(delay / time.Second)
	if err := b.store.UpdatePost(ctx, post); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	if delay == 0 {
		if err := b.planner.RemoveJob(ctx, planner.DeleteJobID(id)); err != nil {
			b.log.Error("remove delete job", "post_id", id, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Auto-delete disabled for post #%d.", id))
		return
	}

	// Messages already out get their delete job now.
	if post.Status == model.StatusSent && post.HasReceipts() && post.SentAt != nil {
		at := post.SentAt.Add(delay)
		if now := b.now(); at.Before(now) {
			at = now
		}
		if err := b.planner.SchedulePostDeletion(ctx, id, at); err != nil {
			b.reply(chatID, fmt.Sprintf("Error: %v", err))
			return
		}
	}
	b.reply(chatID, fmt.Sprintf("Post #%d will be deleted %s after sending.", id, formatDelay(post.DeleteAfterSeconds)))
}

func (b *Bot) handlePosts(ctx context.Context, chatID, userID int64) {
	posts, err := b.store.ListPosts(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatPostList(posts, b.cfg.Location(), b.now()))
}

func (b *Bot) handleCancel(ctx context.Context, chatID, userID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /cancel <post_id>")
		return
	}
	if _, ok := b.ownPost(ctx, chatID, userID, id); !ok {
		return
	}
	if err := b.planner.CancelPost(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Post #%d cancelled and moved back to drafts.", id))
}

func (b *Bot) handleDeletePost(ctx context.Context, chatID, userID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delpost <post_id>")
		return
	}
	if _, ok := b.ownPost(ctx, chatID, userID, id); !ok {
		return
	}
	if err := b.planner.DeletePost(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting post: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Post #%d deleted.", id))
}
