package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"postbot/internal/logger"
	"postbot/internal/model"
)

type mockAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	groups   []tgbotapi.MediaGroupConfig
	deleted  []tgbotapi.DeleteMessageConfig
	failSend func(c tgbotapi.Chattable) error
	failDel  func(cfg tgbotapi.DeleteMessageConfig) error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend != nil {
		if err := m.failSend(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	m.sent = append(m.sent, c)
	m.nextID++
	return tgbotapi.Message{MessageID: m.nextID}, nil
}

func (m *mockAPI) SendMediaGroup(cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend != nil {
		if err := m.failSend(cfg); err != nil {
			return nil, err
		}
	}
	m.groups = append(m.groups, cfg)
	msgs := make([]tgbotapi.Message, 0, len(cfg.Media))
	for range cfg.Media {
		m.nextID++
		msgs = append(msgs, tgbotapi.Message{MessageID: m.nextID})
	}
	return msgs, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := c.(tgbotapi.DeleteMessageConfig)
	if !ok {
		return &tgbotapi.APIResponse{Ok: true}, nil
	}
	if m.failDel != nil {
		if err := m.failDel(cfg); err != nil {
			return nil, err
		}
	}
	m.deleted = append(m.deleted, cfg)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestService(api API) *Service {
	s := New(api, logger.Discard(), 2)
	s.maxWait = 0
	s.pause = 0
	return s
}

func photos(n int) []model.MediaRef {
	media := make([]model.MediaRef, n)
	for i := range media {
		media[i] = model.MediaRef{Type: model.MediaPhoto, Ref: "file-" + string(rune('a'+i))}
	}
	return media
}

func TestDeliverText(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		chat         string
		wantChatID   int64
		wantUsername string
	}{
		{name: "numeric chat", chat: "-100123", wantChatID: -100123},
		{name: "channel username", chat: "@mychannel", wantUsername: "@mychannel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			s := newTestService(api)

			ids := s.Deliver(ctx, tt.chat, Content{Text: "<b>hi</b>"})
			if diff := cmp.Diff([]int{1}, ids); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}

			msg, ok := api.sent[0].(tgbotapi.MessageConfig)
			if !ok {
				t.Fatalf("sent %T, want MessageConfig", api.sent[0])
			}
			if msg.ChatID != tt.wantChatID || msg.ChannelUsername != tt.wantUsername {
				t.Errorf("target = (%d, %q), want (%d, %q)", msg.ChatID, msg.ChannelUsername, tt.wantChatID, tt.wantUsername)
			}
			if msg.ParseMode != tgbotapi.ModeHTML {
				t.Errorf("parse mode = %q, want HTML", msg.ParseMode)
			}
		})
	}
}

func TestDeliverSingleMedia(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		text        string
		wantSends   int
		wantCaption string
	}{
		{name: "short caption", text: "caption", wantSends: 1, wantCaption: "caption"},
		{name: "caption over limit", text: strings.Repeat("x", CaptionLimit+1), wantSends: 2, wantCaption: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			s := newTestService(api)

			ids := s.Deliver(ctx, "42", Content{Text: tt.text, Media: photos(1)})
			if len(ids) != tt.wantSends {
				t.Fatalf("got %d ids, want %d", len(ids), tt.wantSends)
			}

			photo, ok := api.sent[len(api.sent)-1].(tgbotapi.PhotoConfig)
			if !ok {
				t.Fatalf("last send %T, want PhotoConfig", api.sent[len(api.sent)-1])
			}
			if photo.Caption != tt.wantCaption {
				t.Errorf("caption = %q, want %q", photo.Caption, tt.wantCaption)
			}
		})
	}
}

func TestDeliverMediaGroupWithLongText(t *testing.T) {
	ctx := context.Background()
	api := &mockAPI{}
	s := newTestService(api)

	text := strings.Repeat("é", 1100)
	ids := s.Deliver(ctx, "42", Content{Text: text, Media: photos(5)})

	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.Text != text {
		t.Fatalf("first send = %#v, want plain text message", api.sent[0])
	}
	if len(api.groups) != 1 || len(api.groups[0].Media) != 5 {
		t.Fatalf("groups = %d, want one group of 5", len(api.groups))
	}
	for i, item := range api.groups[0].Media {
		p, ok := item.(tgbotapi.InputMediaPhoto)
		if !ok {
			t.Fatalf("item %d is %T", i, item)
		}
		if p.Caption != "" {
			t.Errorf("item %d caption = %q, want empty", i, p.Caption)
		}
	}
}

func TestDeliverMediaGroupCaptionOnFirstItem(t *testing.T) {
	ctx := context.Background()
	api := &mockAPI{}
	s := newTestService(api)

	media := []model.MediaRef{
		{Type: model.MediaPhoto, Ref: "https://example.com/a.jpg"},
		{Type: model.MediaVideo, Ref: "vid"},
	}
	ids := s.Deliver(ctx, "@chan", Content{Text: "short", Media: media})
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
	if len(api.sent) != 0 {
		t.Errorf("unexpected plain sends: %d", len(api.sent))
	}

	group := api.groups[0]
	if group.ChannelUsername != "@chan" {
		t.Errorf("group username = %q", group.ChannelUsername)
	}
	first := group.Media[0].(tgbotapi.InputMediaPhoto)
	if first.Caption != "short" {
		t.Errorf("first caption = %q, want %q", first.Caption, "short")
	}
	if _, ok := first.Media.(tgbotapi.FileURL); !ok {
		t.Errorf("first media is %T, want FileURL", first.Media)
	}
	second := group.Media[1].(tgbotapi.InputMediaVideo)
	if second.Caption != "" {
		t.Errorf("second caption = %q, want empty", second.Caption)
	}
	if _, ok := second.Media.(tgbotapi.FileID); !ok {
		t.Errorf("second media is %T, want FileID", second.Media)
	}
}

func TestDeliverFailuresYieldEmptyResult(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		chat    string
		content Content
		fail    error
	}{
		{name: "malformed chat", chat: "not a chat", content: Content{Text: "x"}},
		{name: "bad media", chat: "1", content: Content{Media: []model.MediaRef{{Type: "sticker", Ref: "x"}}}},
		{name: "forbidden", chat: "1", content: Content{Text: "x"}, fail: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot is not a member"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{}
			if tt.fail != nil {
				api.failSend = func(tgbotapi.Chattable) error { return tt.fail }
			}
			s := newTestService(api)

			if ids := s.Deliver(ctx, tt.chat, tt.content); len(ids) != 0 {
				t.Errorf("ids = %v, want empty", ids)
			}
		})
	}
}

func TestDeliverRetriesRateLimit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		failures int
		wantIDs  []int
	}{
		{name: "recovers", failures: 2, wantIDs: []int{1}},
		{name: "gives up", failures: 3, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			api := &mockAPI{failSend: func(tgbotapi.Chattable) error {
				calls++
				if calls <= tt.failures {
					return &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 1}}
				}
				return nil
			}}
			s := newTestService(api)

			ids := s.Deliver(ctx, "1", Content{Text: "x"})
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFanOutIsIndependentPerChat(t *testing.T) {
	ctx := context.Background()
	api := &mockAPI{failSend: func(c tgbotapi.Chattable) error {
		if msg, ok := c.(tgbotapi.MessageConfig); ok && msg.ChatID == 2 {
			return &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
		}
		return nil
	}}
	s := newTestService(api)

	got := s.FanOut(ctx, []string{"1", "2", "bogus", "@three"}, Content{Text: "hello"})
	want := model.Receipts{"1": {1}, "@three": {2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("receipts mismatch (-want +got):\n%s", diff)
	}
}

func TestRetract(t *testing.T) {
	ctx := context.Background()

	gone := &tgbotapi.Error{Code: 400, Message: "Bad Request: message to delete not found"}
	tooOld := &tgbotapi.Error{Code: 400, Message: "Bad Request: message can't be deleted"}

	tests := []struct {
		name         string
		chat         string
		ids          []int
		fail         map[int]error
		wantResolved []int
		wantFailed   []int
		wantOK       bool
	}{
		{name: "all deleted", chat: "1", ids: []int{10, 11}, wantResolved: []int{10, 11}, wantOK: true},
		{name: "already gone counts", chat: "1", ids: []int{10, 11}, fail: map[int]error{11: gone}, wantResolved: []int{10, 11}, wantOK: true},
		{name: "too old fails", chat: "@c", ids: []int{10, 11}, fail: map[int]error{10: tooOld}, wantResolved: []int{11}, wantFailed: []int{10}},
		{name: "malformed chat", chat: "", ids: []int{5}, wantFailed: []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{failDel: func(cfg tgbotapi.DeleteMessageConfig) error {
				return tt.fail[cfg.MessageID]
			}}
			s := newTestService(api)

			report := s.Retract(ctx, tt.chat, tt.ids)
			if diff := cmp.Diff(tt.wantResolved, report.Resolved); diff != "" {
				t.Errorf("resolved mismatch (-want +got):\n%s", diff)
			}
			var failed []int
			for _, id := range tt.ids {
				if _, ok := report.Failed[id]; ok {
					failed = append(failed, id)
				}
			}
			if diff := cmp.Diff(tt.wantFailed, failed); diff != "" {
				t.Errorf("failed mismatch (-want +got):\n%s", diff)
			}
			if report.OK() != tt.wantOK {
				t.Errorf("OK() = %v, want %v", report.OK(), tt.wantOK)
			}
		})
	}
}

func TestValidateMedia(t *testing.T) {
	tests := []struct {
		name    string
		media   []model.MediaRef
		wantErr bool
	}{
		{name: "none", media: nil},
		{name: "mixed", media: []model.MediaRef{{Type: model.MediaPhoto, Ref: "a"}, {Type: model.MediaDocument, Ref: "b"}}},
		{name: "unknown type", media: []model.MediaRef{{Type: "gif", Ref: "a"}}, wantErr: true},
		{name: "empty ref", media: []model.MediaRef{{Type: model.MediaVideo, Ref: " "}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMedia(tt.media)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBadMedia) {
				t.Errorf("err = %v, want ErrBadMedia", err)
			}
		})
	}
}
