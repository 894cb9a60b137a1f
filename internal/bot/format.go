package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"postbot/internal/model"
	"postbot/internal/poller"
	"postbot/internal/schedule"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatWhen describes when a post is published.
func FormatWhen(p *model.Post, loc *time.Location, now time.Time) string {
	switch {
	case p.ScheduleKind == model.ScheduleRecurring && p.Recurrence != nil:
		return schedule.Describe(*p.Recurrence)
	case p.RunAt != nil:
		return fmt.Sprintf("%s (%s)", p.RunAt.In(loc).Format("2006-01-02 15:04"), relative(*p.RunAt, now))
	}
	return "not scheduled"
}

// FormatPostList formats a user's posts for display.
func FormatPostList(posts []model.Post, loc *time.Location, now time.Time) string {
	if len(posts) == 0 {
		return "You have no posts yet. Use /post to schedule one."
	}
	var b strings.Builder
	b.WriteString("Your posts:\n")
	for i := range posts {
		p := &posts[i]
		fmt.Fprintf(&b, "\n#%d [%s] %s\n", p.ID, p.Status, strings.Join(p.ChatIDs, ", "))
		fmt.Fprintf(&b, "   %s\n", FormatWhen(p, loc, now))
		if p.SentAt != nil {
			fmt.Fprintf(&b, "   last sent %s\n", relative(*p.SentAt, now))
		}
		if p.DeleteAfterSeconds > 0 {
			fmt.Fprintf(&b, "   auto-delete after %s\n", formatDelay(p.DeleteAfterSeconds))
		}
		if n := len(p.Media); n > 0 {
			fmt.Fprintf(&b, "   %d media\n", n)
		}
		fmt.Fprintf(&b, "   %s\n", preview(p.Text, 60))
	}
	return b.String()
}

func formatDelay(seconds int) string {
	d := time.Duration(seconds) * time.Second
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	return d.String()
}

func preview(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// FormatFeedList formats a list of feeds for display.
func FormatFeedList(feeds []model.Feed, now time.Time) string {
	if len(feeds) == 0 {
		return "You have no feeds yet. Use /rss_add <url> <chats> to add one."
	}
	var b strings.Builder
	b.WriteString("Your feeds:\n")
	for _, f := range feeds {
		status := statusActive
		if !f.IsActive {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n#%d %s  (every %d min) [%s]\n", f.ID, f.URL, f.FrequencyMinutes, status)
		fmt.Fprintf(&b, "   to %s\n", strings.Join(f.ChatIDs, ", "))
		if len(f.Keywords) > 0 {
			fmt.Fprintf(&b, "   keywords: %s\n", strings.Join(f.Keywords, ", "))
		}
		if f.LastCheckedAt != nil {
			fmt.Fprintf(&b, "   checked %s\n", relative(*f.LastCheckedAt, now))
		} else {
			b.WriteString("   not checked yet\n")
		}
	}
	return b.String()
}

// FormatCheckResult summarises a manual feed check.
func FormatCheckResult(f *model.Feed, res poller.Result) string {
	if res.Recorded == 0 {
		return fmt.Sprintf("No new matching items in #%d (%d in feed).", f.ID, res.Entries)
	}
	return fmt.Sprintf("Found %d new item(s) in #%d, delivered %d.", res.Recorded, f.ID, res.Delivered)
}

// FormatProjects formats the channels a user can publish to.
func FormatProjects(projects []model.Project) string {
	if len(projects) == 0 {
		return "You have no channels yet. Add the bot as an administrator, then use /addchannel @channel."
	}
	var b strings.Builder
	b.WriteString("Your channels:\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "\n#%d %s (%s) [%s]", p.ID, p.Title, p.ChatRef, p.Role)
	}
	return b.String()
}
