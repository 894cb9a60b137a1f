package directory

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"postbot/internal/logger"
	"postbot/internal/model"
	"postbot/internal/storage"
)

type mockAPI struct {
	chats    map[string]tgbotapi.Chat
	statuses map[int64]string // user ID -> chat member status
	getChat  int
}

func (m *mockAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	m.getChat++
	for _, c := range m.chats {
		if cfg.SuperGroupUsername != "" && c.UserName != "" && strings.EqualFold("@"+c.UserName, cfg.SuperGroupUsername) {
			return c, nil
		}
		if cfg.SuperGroupUsername == "" && c.ID == cfg.ChatID {
			return c, nil
		}
	}
	return tgbotapi.Chat{}, &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
}

func (m *mockAPI) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	status, ok := m.statuses[cfg.UserID]
	if !ok {
		status = "left"
	}
	return tgbotapi.ChatMember{Status: status}, nil
}

func newTestDirectory(t *testing.T) (*Directory, *mockAPI) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{
		chats: map[string]tgbotapi.Chat{
			"@DevNews": {ID: -1001, Type: "channel", Title: "Dev News", UserName: "DevNews"},
			"private":  {ID: -1002, Type: "supergroup", Title: "Team"},
		},
		statuses: map[int64]string{
			1: "creator",
			2: "administrator",
			3: "member",
		},
	}
	d, err := New(api, store, 16, logger.Discard())
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return d, api
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	d, api := newTestDirectory(t)

	p, err := d.Register(ctx, 1, "@DevNews")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	want := &model.Project{ID: 1, ChatRef: "@devnews", Title: "Dev News", Role: model.RoleOwner}
	if diff := cmp.Diff(want, p, cmpopts.IgnoreFields(model.Project{}, "CreatedAt")); diff != "" {
		t.Errorf("project mismatch (-want +got):\n%s", diff)
	}

	// Registering again by numeric ID resolves to the same project.
	again, err := d.Register(ctx, 1, "-1001")
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if again.ID != p.ID {
		t.Errorf("second register created project %d, want %d", again.ID, p.ID)
	}

	// Another administrator joins as owner.
	other, err := d.Register(ctx, 2, "@devnews")
	if err != nil {
		t.Fatalf("register by admin: %v", err)
	}
	if other.ID != p.ID || other.Role != model.RoleOwner {
		t.Errorf("admin got project %d role %s", other.ID, other.Role)
	}

	if _, err := d.Register(ctx, 3, "@DevNews"); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("plain member: got %v, want ErrNotAdmin", err)
	}
	if _, err := d.Register(ctx, 1, "news"); !errors.Is(err, ErrBadChatRef) {
		t.Errorf("bad ref: got %v, want ErrBadChatRef", err)
	}

	// Usernames are cached case-insensitively; the numeric ID is its own key.
	if api.getChat != 2 {
		t.Errorf("GetChat called %d times, want 2", api.getChat)
	}
}

func TestRoleAndCanPublish(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	if _, err := d.Register(ctx, 1, "@DevNews"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := d.Register(ctx, 1, "-1002"); err != nil {
		t.Fatalf("register: %v", err)
	}

	role, err := d.Role(ctx, 1, "@devnews")
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != model.RoleOwner {
		t.Errorf("role = %s, want owner", role)
	}
	if _, err := d.Role(ctx, 3, "@devnews"); !errors.Is(err, ErrNoAccess) {
		t.Errorf("stranger: got %v, want ErrNoAccess", err)
	}

	refs, err := d.CanPublish(ctx, 1, []string{"@DevNews", "-1002", "-1001"})
	if err != nil {
		t.Fatalf("can publish: %v", err)
	}
	if diff := cmp.Diff([]string{"@devnews", "-1002"}, refs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}

	if _, err := d.CanPublish(ctx, 3, []string{"@DevNews"}); !errors.Is(err, ErrNoAccess) {
		t.Errorf("stranger publish: got %v, want ErrNoAccess", err)
	}

	projects, err := d.Projects(ctx, 1)
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("got %d projects, want 2", len(projects))
	}
}

func TestInvites(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDirectory(t)

	p, err := d.Register(ctx, 1, "@DevNews")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := d.CreateInvite(ctx, 3, p.ID, model.RoleEditor); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member invite: got %v, want ErrForbidden", err)
	}

	inv, err := d.CreateInvite(ctx, 1, p.ID, model.RoleEditor)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if len(inv.Code) != 32 {
		t.Errorf("code %q has length %d, want 32", inv.Code, len(inv.Code))
	}

	joined, err := d.UseInvite(ctx, inv.Code, 3)
	if err != nil {
		t.Fatalf("use invite: %v", err)
	}
	if joined.ID != p.ID || joined.Role != model.RoleEditor {
		t.Errorf("joined project %d as %s", joined.ID, joined.Role)
	}
	if _, err := d.UseInvite(ctx, inv.Code, 4); !errors.Is(err, ErrInvalidInvite) {
		t.Errorf("reuse: got %v, want ErrInvalidInvite", err)
	}
	if _, err := d.UseInvite(ctx, "nope", 4); !errors.Is(err, ErrInvalidInvite) {
		t.Errorf("unknown code: got %v, want ErrInvalidInvite", err)
	}

	// Editors cannot invite.
	if _, err := d.CreateInvite(ctx, 3, p.ID, model.RoleEditor); !errors.Is(err, ErrForbidden) {
		t.Errorf("editor invite: got %v, want ErrForbidden", err)
	}

	// An existing member spends the code without changing role.
	owner, err := d.CreateInvite(ctx, 1, p.ID, model.RoleEditor)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	self, err := d.UseInvite(ctx, owner.Code, 1)
	if err != nil {
		t.Fatalf("use own invite: %v", err)
	}
	if self.Role != model.RoleOwner {
		t.Errorf("owner role changed to %s", self.Role)
	}
	if _, err := d.UseInvite(ctx, owner.Code, 4); !errors.Is(err, ErrInvalidInvite) {
		t.Errorf("spent code: got %v, want ErrInvalidInvite", err)
	}
}
