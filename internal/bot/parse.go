package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postbot/internal/filter"
	"postbot/internal/model"
	"postbot/internal/planner"
	"postbot/internal/schedule"
)

// PostArgs holds the parsed arguments of /post.
type PostArgs struct {
	Chats    []string
	Schedule planner.Schedule
	Text     string
}

// ParsePostCommand parses arguments for /post.
// Format: <chats> <when> | <text>
//
// <chats> is a comma-separated list of @usernames or numeric chat IDs. <when>
// is "now", a date like 2006-01-02 15:04 in loc, or a recurrence such as
// "weekly mon,fri 09:30".
func ParsePostCommand(args string, loc *time.Location, now time.Time) (PostArgs, error) {
	head, text, ok := strings.Cut(args, "|")
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return PostArgs{}, errors.New("usage: /post <chats> <when> | <text>")
	}

	fields := strings.Fields(head)
	if len(fields) < 2 {
		return PostArgs{}, errors.New("usage: /post <chats> <when> | <text>")
	}

	chats := ParseChats(fields[0])
	if len(chats) == 0 {
		return PostArgs{}, errors.New("at least one chat is required")
	}

	s, err := parseWhen(strings.Join(fields[1:], " "), loc, now)
	if err != nil {
		return PostArgs{}, err
	}
	return PostArgs{Chats: chats, Schedule: s, Text: text}, nil
}

func parseWhen(when string, loc *time.Location, now time.Time) (planner.Schedule, error) {
	if strings.EqualFold(when, "now") {
		return planner.Schedule{RunAt: now}, nil
	}

	first := strings.ToLower(strings.Fields(when)[0])
	switch model.RecurrenceKind(first) {
	case model.RecurDaily, model.RecurWeekly, model.RecurMonthly, model.RecurYearly:
		rec, err := schedule.ParseRecurrence(when)
		if err != nil {
			return planner.Schedule{}, err
		}
		return planner.Schedule{Recurrence: &rec}, nil
	}

	at, err := schedule.ParseRunAt(when, loc)
	if err != nil {
		return planner.Schedule{}, err
	}
	if !at.After(now) {
		return planner.Schedule{}, fmt.Errorf("%s is in the past", at.Format("2006-01-02 15:04"))
	}
	return planner.Schedule{RunAt: at}, nil
}

// ParseChats splits a comma-separated chat list, dropping empty entries.
func ParseChats(s string) []string {
	var chats []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			chats = append(chats, c)
		}
	}
	return chats
}

// FeedArgs holds the parsed arguments of /rss_add.
type FeedArgs struct {
	URL      string
	Chats    []string
	Minutes  int
	Keywords []string
}

// ParseFeedCommand parses arguments for /rss_add.
// Format: <url> <chats> [minutes] [keyword, keyword...]
// Minutes is zero when not given.
func ParseFeedCommand(args string) (FeedArgs, error) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return FeedArgs{}, errors.New("usage: /rss_add <url> <chats> [minutes] [keywords]")
	}

	url := fields[0]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return FeedArgs{}, fmt.Errorf("invalid feed URL %q", url)
	}

	fa := FeedArgs{URL: url, Chats: ParseChats(fields[1])}
	if len(fa.Chats) == 0 {
		return FeedArgs{}, errors.New("at least one chat is required")
	}

	rest := fields[2:]
	if len(rest) > 0 {
		if mins, err := strconv.Atoi(rest[0]); err == nil {
			if mins < 1 {
				return FeedArgs{}, errors.New("frequency must be a positive number of minutes")
			}
			fa.Minutes = mins
			rest = rest[1:]
		}
	}
	fa.Keywords = filter.ParseKeywords(strings.Join(rest, " "))
	return fa, nil
}

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, errors.New("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseFrequencyArgs extracts a feed ID and a frequency in minutes.
func ParseFrequencyArgs(args string) (int64, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, 0, errors.New("usage: /rss_freq <id> <minutes>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid feed ID %q", parts[0])
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < 1 {
		return 0, 0, errors.New("frequency must be a positive number of minutes")
	}
	return id, mins, nil
}

// ParseAttachArgs parses arguments for /attach.
// Format: <post_id> [photo|video|document <file_id|url>]
// The media reference is nil when only the post ID is given, in which case
// the command must reply to a message carrying the media.
func ParseAttachArgs(args string) (int64, *model.MediaRef, error) {
	parts := strings.Fields(args)
	if len(parts) != 1 && len(parts) != 3 {
		return 0, nil, errors.New("usage: /attach <post_id> [photo|video|document <file_id|url>]")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid post ID %q", parts[0])
	}
	if len(parts) == 1 {
		return id, nil, nil
	}

	m := model.MediaRef{Type: model.MediaType(strings.ToLower(parts[1])), Ref: parts[2]}
	switch m.Type {
	case model.MediaPhoto, model.MediaVideo, model.MediaDocument:
	default:
		return 0, nil, fmt.Errorf("invalid media type %q, use: photo, video, document", parts[1])
	}
	return id, &m, nil
}

// MediaFromMessage returns the media attached to a message, preferring the
// largest photo size.
func MediaFromMessage(msg *tgbotapi.Message) (model.MediaRef, bool) {
	switch {
	case msg == nil:
		return model.MediaRef{}, false
	case len(msg.Photo) > 0:
		return model.MediaRef{Type: model.MediaPhoto, Ref: msg.Photo[len(msg.Photo)-1].FileID}, true
	case msg.Video != nil:
		return model.MediaRef{Type: model.MediaVideo, Ref: msg.Video.FileID}, true
	case msg.Document != nil:
		return model.MediaRef{Type: model.MediaDocument, Ref: msg.Document.FileID}, true
	}
	return model.MediaRef{}, false
}

// ParseAutodeleteArgs parses arguments for /autodelete.
// Format: <post_id> <delay|off>, where delay is a Go duration such as 90m or
// 1h30m, or a whole number of days such as 2d.
func ParseAutodeleteArgs(args string) (int64, time.Duration, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return 0, 0, errors.New("usage: /autodelete <post_id> <delay|off>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid post ID %q", parts[0])
	}

	raw := strings.ToLower(parts[1])
	if raw == "off" || raw == "0" {
		return id, 0, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			return 0, 0, fmt.Errorf("invalid delay %q", parts[1])
		}
		return id, time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < time.Second {
		return 0, 0, fmt.Errorf("invalid delay %q, use e.g. 30m, 2h or 1d", parts[1])
	}
	return id, d, nil
}
