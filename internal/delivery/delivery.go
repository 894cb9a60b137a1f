// Package delivery sends content to Telegram chats and retracts it.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"

	"postbot/internal/model"
)

// CaptionLimit is the longest caption, in characters, Telegram accepts on media.
const CaptionLimit = 1024

// ErrBadMedia reports a media reference that cannot be sent.
var ErrBadMedia = errors.New("unsupported media")

// API is the subset of the Telegram client used for delivery.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Content is what gets delivered to a chat: optional text and media.
type Content struct {
	Text           string
	Media          []model.MediaRef
	DisablePreview bool
}

// Service delivers content and retracts delivered messages.
type Service struct {
	api        API
	log        *slog.Logger
	maxRetries uint64
	maxWait    time.Duration
	pause      time.Duration
}

// New creates a Service. Sends rejected with a rate limit are retried up to
// maxRetries times, waiting as long as Telegram asks.
func New(api API, log *slog.Logger, maxRetries uint64) *Service {
	return &Service{
		api:        api,
		log:        log,
		maxRetries: maxRetries,
		maxWait:    time.Minute,
		pause:      50 * time.Millisecond,
	}
}

// ValidateMedia checks that every media reference is sendable.
func ValidateMedia(media []model.MediaRef) error {
	for i, m := range media {
		switch m.Type {
		case model.MediaPhoto, model.MediaVideo, model.MediaDocument:
		default:
			return fmt.Errorf("item %d type %q: %w", i+1, m.Type, ErrBadMedia)
		}
		if strings.TrimSpace(m.Ref) == "" {
			return fmt.Errorf("item %d has no file: %w", i+1, ErrBadMedia)
		}
	}
	return nil
}

// Deliver sends c to one chat and returns the IDs of the delivered messages.
// Any failure yields an empty result; the error is logged.
func (s *Service) Deliver(ctx context.Context, chat string, c Content) []int {
	t, err := parseTarget(chat)
	if err != nil {
		s.log.WarnContext(ctx, "skip chat", "chat", chat, "error", err)
		return nil
	}
	if err := ValidateMedia(c.Media); err != nil {
		s.log.WarnContext(ctx, "skip chat", "chat", chat, "error", err)
		return nil
	}

	ids, err := s.deliver(ctx, t, c)
	if err != nil {
		s.log.ErrorContext(ctx, "deliver", "chat", chat, "error", err)
		return nil
	}
	return ids
}

func (s *Service) deliver(ctx context.Context, t target, c Content) ([]int, error) {
	switch len(c.Media) {
	case 0:
		id, err := s.sendText(ctx, t, c.Text, c.DisablePreview)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	case 1:
		var ids []int
		caption := c.Text
		if utf8.RuneCountInString(caption) > CaptionLimit {
			id, err := s.sendText(ctx, t, caption, c.DisablePreview)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
			caption = ""
		}
		id, err := s.sendMedia(ctx, t, c.Media[0], caption)
		if err != nil {
			// Keep the already delivered text so it can still be retracted.
			if len(ids) > 0 {
				s.log.ErrorContext(ctx, "send media", "chat", t.String(), "error", err)
				return ids, nil
			}
			return nil, err
		}
		return append(ids, id), nil
	default:
		var ids []int
		caption := c.Text
		if utf8.RuneCountInString(caption) > CaptionLimit {
			id, err := s.sendText(ctx, t, caption, c.DisablePreview)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
			caption = ""
		}
		groupIDs, err := s.sendGroup(ctx, t, c.Media, caption)
		if err != nil {
			if len(ids) > 0 {
				s.log.ErrorContext(ctx, "send media group", "chat", t.String(), "error", err)
				return ids, nil
			}
			return nil, err
		}
		return append(ids, groupIDs...), nil
	}
}

// FanOut delivers c to every chat in order. A failure on one chat does not
// stop the others. The result holds only chats that received something.
func (s *Service) FanOut(ctx context.Context, chats []string, c Content) model.Receipts {
	receipts := make(model.Receipts)
	for i, chat := range chats {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && !sleep(ctx, s.pause) {
			break
		}
		if ids := s.Deliver(ctx, chat, c); len(ids) > 0 {
			receipts[chat] = ids
		}
	}
	return receipts
}

// RetractReport is the outcome of retracting messages in one chat.
type RetractReport struct {
	Chat     string
	Resolved []int
	Failed   map[int]error
}

// OK reports whether every message was deleted or already gone.
func (r RetractReport) OK() bool {
	return len(r.Failed) == 0
}

// Retract deletes the given messages from chat. Messages that are already
// gone count as resolved.
func (s *Service) Retract(ctx context.Context, chat string, ids []int) RetractReport {
	report := RetractReport{Chat: chat, Failed: make(map[int]error)}

	t, err := parseTarget(chat)
	if err != nil {
		for _, id := range ids {
			report.Failed[id] = err
		}
		return report
	}

	for _, id := range ids {
		cfg := tgbotapi.NewDeleteMessage(t.id, id)
		cfg.ChannelUsername = t.username

		err := s.withRetry(ctx, func() error {
			_, err := s.api.Request(cfg)
			return err
		})
		switch {
		case err == nil, isMessageGone(err):
			report.Resolved = append(report.Resolved, id)
		default:
			s.log.WarnContext(ctx, "delete message", "chat", chat, "message_id", id, "error", err)
			report.Failed[id] = err
		}
	}
	return report
}

func (s *Service) sendText(ctx context.Context, t target, text string, noPreview bool) (int, error) {
	msg := tgbotapi.NewMessage(t.id, text)
	msg.ChannelUsername = t.username
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = noPreview

	var sent tgbotapi.Message
	err := s.withRetry(ctx, func() error {
		var err error
		sent, err = s.api.Send(msg)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}
	return sent.MessageID, nil
}

func (s *Service) sendMedia(ctx context.Context, t target, m model.MediaRef, caption string) (int, error) {
	var cfg tgbotapi.Chattable
	file := requestFile(m.Ref)

	switch m.Type {
	case model.MediaVideo:
		v := tgbotapi.NewVideo(t.id, file)
		v.ChannelUsername = t.username
		v.Caption = caption
		v.ParseMode = tgbotapi.ModeHTML
		cfg = v
	case model.MediaDocument:
		d := tgbotapi.NewDocument(t.id, file)
		d.ChannelUsername = t.username
		d.Caption = caption
		d.ParseMode = tgbotapi.ModeHTML
		cfg = d
	default:
		p := tgbotapi.NewPhoto(t.id, file)
		p.ChannelUsername = t.username
		p.Caption = caption
		p.ParseMode = tgbotapi.ModeHTML
		cfg = p
	}

	var sent tgbotapi.Message
	err := s.withRetry(ctx, func() error {
		var err error
		sent, err = s.api.Send(cfg)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("send %s: %w", m.Type, err)
	}
	return sent.MessageID, nil
}

func (s *Service) sendGroup(ctx context.Context, t target, media []model.MediaRef, caption string) ([]int, error) {
	items := make([]interface{}, 0, len(media))
	for i, m := range media {
		c := ""
		if i == 0 {
			c = caption
		}
		items = append(items, inputMedia(m, c))
	}
	cfg := tgbotapi.NewMediaGroup(t.id, items)
	cfg.ChannelUsername = t.username

	var sent []tgbotapi.Message
	err := s.withRetry(ctx, func() error {
		var err error
		sent, err = s.api.SendMediaGroup(cfg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("send media group: %w", err)
	}

	ids := make([]int, 0, len(sent))
	for _, m := range sent {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

func inputMedia(m model.MediaRef, caption string) interface{} {
	file := requestFile(m.Ref)
	mode := ""
	if caption != "" {
		mode = tgbotapi.ModeHTML
	}

	switch m.Type {
	case model.MediaVideo:
		v := tgbotapi.NewInputMediaVideo(file)
		v.Caption = caption
		v.ParseMode = mode
		return v
	case model.MediaDocument:
		d := tgbotapi.NewInputMediaDocument(file)
		d.Caption = caption
		d.ParseMode = mode
		return d
	default:
		p := tgbotapi.NewInputMediaPhoto(file)
		p.Caption = caption
		p.ParseMode = mode
		return p
	}
}

// requestFile turns a stored reference into something Telegram can fetch:
// http(s) URLs are passed through, anything else is a file ID.
func requestFile(ref string) tgbotapi.RequestFileData {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return tgbotapi.FileURL(ref)
	}
	return tgbotapi.FileID(ref)
}

// withRetry runs op, retrying when Telegram answers with a rate limit.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	var wait time.Duration
	b := retry.WithMaxRetries(s.maxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
		return wait, false
	}))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op()
		if d, ok := retryAfter(err); ok {
			wait = min(d, s.maxWait)
			s.log.WarnContext(ctx, "rate limited", "retry_after", d)
			return retry.RetryableError(err)
		}
		return err
	})
}

func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != 429 {
		return 0, false
	}
	return time.Duration(apiErr.RetryAfter) * time.Second, true
}

func isMessageGone(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "message to delete not found") ||
		strings.Contains(msg, "message not found") ||
		strings.Contains(msg, "message_id_invalid")
}

// target is a parsed chat reference: a numeric ID or an @username.
type target struct {
	id       int64
	username string
}

func (t target) String() string {
	if t.username != "" {
		return t.username
	}
	return strconv.FormatInt(t.id, 10)
}

func parseTarget(chat string) (target, error) {
	chat = strings.TrimSpace(chat)
	if strings.HasPrefix(chat, "@") && len(chat) > 1 {
		return target{username: chat}, nil
	}
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil || id == 0 {
		return target{}, fmt.Errorf("malformed chat %q", chat)
	}
	return target{id: id}, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
