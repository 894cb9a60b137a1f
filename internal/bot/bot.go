// Package bot implements the Telegram command surface for scheduling posts,
// managing channels, and subscribing channels to RSS feeds.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postbot/internal/config"
	"postbot/internal/directory"
	"postbot/internal/fetcher"
	"postbot/internal/model"
	"postbot/internal/planner"
)

// API is the part of the Telegram Bot API the command loop needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the persistence the bot reads and edits directly.
type Store interface {
	CreatePost(ctx context.Context, p *model.Post) error
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	ListPosts(ctx context.Context, userID int64) ([]model.Post, error)
	UpdatePost(ctx context.Context, p *model.Post) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context, userID int64) ([]model.Feed, error)
}

// Bot handles user commands.
type Bot struct {
	api     API
	store   Store
	planner *planner.Planner
	dir     *directory.Directory
	fetcher *fetcher.Fetcher
	cfg     *config.Config
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Bot.
func New(api API, store Store, p *planner.Planner, dir *directory.Directory, f *fetcher.Fetcher, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		store:   store,
		planner: p,
		dir:     dir,
		fetcher: f,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.From == nil {
			return
		}
		if !b.cfg.IsUserAllowed(cb.From.ID) {
			b.reply(cb.Message.Chat.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	userID := msg.From.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "user_id", userID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "channels":
		b.handleChannels(ctx, chatID, userID)
	case "addchannel":
		b.handleAddChannel(ctx, chatID, userID, args)
	case "invite":
		b.handleInvite(ctx, chatID, userID, args)
	case "join":
		b.handleJoin(ctx, chatID, userID, args)
	case "post":
		b.handlePost(ctx, chatID, userID, args)
	case "attach":
		b.handleAttach(ctx, chatID, userID, args, msg.ReplyToMessage)
	case "autodelete":
		b.handleAutodelete(ctx, chatID, userID, args)
	case "posts":
		b.handlePosts(ctx, chatID, userID)
	case cmdCancel:
		b.handleCancel(ctx, chatID, userID, args)
	case "delpost":
		b.handleDeletePost(ctx, chatID, userID, args)
	case "rss_add":
		b.handleFeedAdd(ctx, chatID, userID, args)
	case "rss_list":
		b.handleFeedList(ctx, chatID, userID)
	case cmdFeedRemove:
		b.handleFeedRemove(ctx, chatID, userID, args)
	case "rss_freq":
		b.handleFeedFrequency(ctx, chatID, userID, args)
	case "rss_pause":
		b.handleFeedActive(ctx, chatID, userID, args, false)
	case "rss_resume":
		b.handleFeedActive(ctx, chatID, userID, args, true)
	case cmdFeedCheck:
		b.handleFeedCheck(ctx, chatID, userID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
