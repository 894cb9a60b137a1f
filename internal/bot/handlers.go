package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"postbot/internal/directory"
	"postbot/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Post Scheduler Bot!

Schedule posts to your channels, delete them automatically, and forward RSS feeds.

Quick start:
1. Add the bot to your channel as an administrator
2. /addchannel @channel — register the channel
3. /post @channel 2026-12-24 18:00 | Hello! — schedule a post
4. /rss_add <url> @channel — forward a feed

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Channels:
/channels — list your channels
/addchannel <@channel|id> — register a channel you administer
/invite <channel_id> [editor|owner] — create an invite code
/join <code> — join a channel with an invite code

Posts:
/post <chats> <when> | <text> — schedule a post
   when: now | 2026-12-24 18:00 | daily 09:00 | weekly mon,fri 09:00 | monthly 15 09:00 | yearly 25.12 10:00
/attach <post_id> [photo|video|document <file_id|url>] — add media (or reply to a media message)
/autodelete <post_id> <30m|2h|1d|off> — delete messages after a delay
/posts — list your posts
/cancel <post_id> — unschedule a post
/delpost <post_id> — delete a post

RSS:
/rss_add <url> <chats> [minutes] [keyword, ...] — subscribe chats to a feed
/rss_list — show your feeds
/rss_remove <id> — delete a feed
/rss_freq <id> <minutes> — set check frequency
/rss_pause <id> — pause checking
/rss_resume <id> — resume checking
/rss_check <id> — check now

Chats are comma-separated @usernames or numeric IDs.`)
}

func (b *Bot) handleChannels(ctx context.Context, chatID, userID int64) {
	projects, err := b.dir.Projects(ctx, userID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatProjects(projects))
}

func (b *Bot) handleAddChannel(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /addchannel <@channel|id>")
		return
	}

	p, err := b.dir.Register(ctx, userID, strings.Fields(args)[0])
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrNotAdmin):
			b.reply(chatID, "You must be an administrator of that chat.")
		case errors.Is(err, directory.ErrBadChatRef):
			b.reply(chatID, err.Error())
		default:
			b.log.Warn("register channel", "user_id", userID, "args", args, "error", err)
			b.reply(chatID, fmt.Sprintf("Failed to add channel: %v", err))
		}
		return
	}
	b.reply(chatID, fmt.Sprintf("Channel #%d %s (%s) registered. Your role: %s.", p.ID, p.Title, p.ChatRef, p.Role))
}

func (b *Bot) handleInvite(ctx context.Context, chatID, userID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 || len(parts) > 2 {
		b.reply(chatID, "Usage: /invite <channel_id> [editor|owner]")
		return
	}
	projectID, err := ParseIDArg(parts[0])
	if err != nil {
		b.reply(chatID, "Usage: /invite <channel_id> [editor|owner]")
		return
	}
	role := model.RoleEditor
	if len(parts) == 2 {
		role = model.Role(strings.ToLower(parts[1]))
	}

	inv, err := b.dir.CreateInvite(ctx, userID, projectID, role)
	if err != nil {
		if errors.Is(err, directory.ErrForbidden) {
			b.reply(chatID, fmt.Sprintf("Only owners of channel #%d can invite.", projectID))
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to create invite: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Invite for channel #%d as %s. Share this command, it works once:\n/join %s", projectID, inv.Role, inv.Code))
}

func (b *Bot) handleJoin(ctx context.Context, chatID, userID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /join <code>")
		return
	}
	p, err := b.dir.UseInvite(ctx, args, userID)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidInvite) {
			b.reply(chatID, "This invite code is invalid or was already used.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Failed to join: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("You joined channel #%d %s as %s.", p.ID, p.Title, p.Role))
}
