package bot

import (
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"postbot/internal/model"
	"postbot/internal/planner"
)

func TestParsePostCommand(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		args    string
		want    PostArgs
		wantErr string
	}{
		{
			name: "one time",
			args: "@news,-1001 2026-12-24 18:00 | Merry Christmas!",
			want: PostArgs{
				Chats:    []string{"@news", "-1001"},
				Schedule: planner.Schedule{RunAt: time.Date(2026, 12, 24, 18, 0, 0, 0, loc)},
				Text:     "Merry Christmas!",
			},
		},
		{
			name: "now",
			args: "@news now | hi",
			want: PostArgs{Chats: []string{"@news"}, Schedule: planner.Schedule{RunAt: now}, Text: "hi"},
		},
		{
			name: "weekly",
			args: "@news weekly mon,fri 09:30 | digest | with pipes",
			want: PostArgs{
				Chats: []string{"@news"},
				Schedule: planner.Schedule{Recurrence: &model.Recurrence{
					Kind: model.RecurWeekly, Time: "09:30", DaysOfWeek: []string{"mon", "fri"},
				}},
				Text: "digest | with pipes",
			},
		},
		{name: "missing text", args: "@news now", wantErr: "usage"},
		{name: "empty text", args: "@news now |  ", wantErr: "usage"},
		{name: "missing when", args: "@news | hi", wantErr: "usage"},
		{name: "no chats", args: ", now | hi", wantErr: "chat"},
		{name: "past", args: "@news 2020-01-01 10:00 | hi", wantErr: "in the past"},
		{name: "bad recurrence", args: "@news monthly 40 09:00 | hi", wantErr: "day_of_month"},
		{name: "garbage date", args: "@news tomorrow | hi", wantErr: "run_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePostCommand(tt.args, loc, now)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParsePostCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFeedCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    FeedArgs
		wantErr bool
	}{
		{
			name: "url and chats",
			args: "https://example.com/rss @a,@b",
			want: FeedArgs{URL: "https://example.com/rss", Chats: []string{"@a", "@b"}},
		},
		{
			name: "with minutes and keywords",
			args: "https://example.com/rss @a 15 Go, Kubernetes, go",
			want: FeedArgs{URL: "https://example.com/rss", Chats: []string{"@a"}, Minutes: 15, Keywords: []string{"go", "kubernetes"}},
		},
		{
			name: "keywords without minutes",
			args: "https://example.com/rss @a helm",
			want: FeedArgs{URL: "https://example.com/rss", Chats: []string{"@a"}, Keywords: []string{"helm"}},
		},
		{name: "missing chats", args: "https://example.com/rss", wantErr: true},
		{name: "not a url", args: "example.com @a", wantErr: true},
		{name: "zero minutes", args: "https://example.com/rss @a 0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeedCommand(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseFeedCommand() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		args    string
		want    int64
		wantErr bool
	}{
		{args: "42", want: 42},
		{args: "  7 extra", want: 7},
		{args: "", wantErr: true},
		{args: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseIDArg() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFrequencyArgs(t *testing.T) {
	id, mins, err := ParseFrequencyArgs("3 45")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 3 || mins != 45 {
		t.Errorf("got (%d, %d), want (3, 45)", id, mins)
	}
	for _, args := range []string{"3", "x 45", "3 -1", "3 soon"} {
		if _, _, err := ParseFrequencyArgs(args); err == nil {
			t.Errorf("ParseFrequencyArgs(%q): expected error", args)
		}
	}
}

func TestParseAttachArgs(t *testing.T) {
	id, m, err := ParseAttachArgs("5 Photo https://example.com/a.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 5 {
		t.Errorf("id = %d, want 5", id)
	}
	if diff := cmp.Diff(&model.MediaRef{Type: model.MediaPhoto, Ref: "https://example.com/a.jpg"}, m); diff != "" {
		t.Errorf("media mismatch (-want +got):\n%s", diff)
	}

	id, m, err = ParseAttachArgs("6")
	if err != nil || id != 6 || m != nil {
		t.Errorf("ParseAttachArgs(\"6\") = %d, %v, %v", id, m, err)
	}

	for _, args := range []string{"", "5 photo", "x photo abc", "5 sticker abc"} {
		if _, _, err := ParseAttachArgs(args); err == nil {
			t.Errorf("ParseAttachArgs(%q): expected error", args)
		}
	}
}

func TestMediaFromMessage(t *testing.T) {
	tests := []struct {
		name   string
		msg    *tgbotapi.Message
		want   model.MediaRef
		wantOK bool
	}{
		{name: "nil", msg: nil},
		{name: "text", msg: &tgbotapi.Message{Text: "hi"}},
		{
			name:   "largest photo",
			msg:    &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}}},
			want:   model.MediaRef{Type: model.MediaPhoto, Ref: "big"},
			wantOK: true,
		},
		{
			name:   "video",
			msg:    &tgbotapi.Message{Video: &tgbotapi.Video{FileID: "vid"}},
			want:   model.MediaRef{Type: model.MediaVideo, Ref: "vid"},
			wantOK: true,
		},
		{
			name:   "document",
			msg:    &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "doc"}},
			want:   model.MediaRef{Type: model.MediaDocument, Ref: "doc"},
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MediaFromMessage(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MediaFromMessage() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAutodeleteArgs(t *testing.T) {
	tests := []struct {
		args    string
		want    time.Duration
		wantErr bool
	}{
		{args: "1 30m", want: 30 * time.Minute},
		{args: "1 1h30m", want: 90 * time.Minute},
		{args: "1 2d", want: 48 * time.Hour},
		{args: "1 off", want: 0},
		{args: "1 0", want: 0},
		{args: "1", wantErr: true},
		{args: "1 soon", wantErr: true},
		{args: "1 0d", wantErr: true},
		{args: "1 500ms", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			id, got, err := ParseAutodeleteArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != 1 || got != tt.want {
				t.Errorf("got (%d, %s), want (1, %s)", id, got, tt.want)
			}
		})
	}
}
