package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbFeedRemoveConfirm = "rss_remove_confirm"
	cbPostCancel        = "post_cancel"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	// answerCallbackQuery returns a bool, not a Message, so it goes through Request.
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, idStr, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", userID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdFeedCheck:
		b.handleFeedCheck(ctx, chatID, userID, idStr)
	case cbFeedRemoveConfirm:
		feed, ok := b.ownFeed(ctx, chatID, userID, id)
		if !ok {
			return
		}
		kb := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("%s:%d", cmdFeedRemove, id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop:0"),
			),
		)
		b.replyWithKeyboard(chatID, fmt.Sprintf("Delete feed #%d %s? Its history is removed too.", id, feed.URL), kb)
	case cmdFeedRemove:
		b.handleFeedRemove(ctx, chatID, userID, idStr)
	case cbPostCancel:
		b.handleCancel(ctx, chatID, userID, idStr)
	}
}
