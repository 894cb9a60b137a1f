package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"postbot/internal/model"
)

func TestProjectMembership(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	p := model.Project{ChatRef: "-100555", Title: "News"}
	if err := s.CreateProject(ctx, &p, 10); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.ID == 0 || p.Role != model.RoleOwner {
		t.Fatalf("created project = %+v", p)
	}

	dup := model.Project{ChatRef: "-100555", Title: "Again"}
	if err := s.CreateProject(ctx, &dup, 11); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate project error = %v, want ErrConflict", err)
	}

	if err := s.AddMember(ctx, p.ID, 20, model.RoleEditor); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.AddMember(ctx, p.ID, 20, model.RoleEditor); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate member error = %v, want ErrConflict", err)
	}

	tests := []struct {
		name    string
		userID  int64
		want    model.Role
		wantErr error
	}{
		{name: "owner", userID: 10, want: model.RoleOwner},
		{name: "editor", userID: 20, want: model.RoleEditor},
		{name: "stranger", userID: 30, wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.MemberRole(ctx, p.ID, tt.userID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("role = %q, want %q", got, tt.want)
			}
		})
	}

	byChat, err := s.GetProjectByChat(ctx, "-100555")
	if err != nil {
		t.Fatalf("get by chat: %v", err)
	}
	if byChat.ID != p.ID || byChat.Title != "News" {
		t.Errorf("GetProjectByChat = %+v", byChat)
	}

	listed, err := s.ListProjects(ctx, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []model.Project{{ID: p.ID, ChatRef: "-100555", Title: "News", Role: model.RoleEditor}}
	if diff := cmp.Diff(want, listed, cmpopts.IgnoreFields(model.Project{}, "CreatedAt")); diff != "" {
		t.Errorf("ListProjects mismatch (-want +got):\n%s", diff)
	}
}

func TestInviteSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	p := model.Project{ChatRef: "@chan", Title: "Chan"}
	if err := s.CreateProject(ctx, &p, 1); err != nil {
		t.Fatalf("create project: %v", err)
	}

	inv := model.Invite{Code: "abc123", ProjectID: p.ID, Role: model.RoleEditor}
	if err := s.CreateInvite(ctx, &inv); err != nil {
		t.Fatalf("create invite: %v", err)
	}

	got, err := s.GetInvite(ctx, "abc123")
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	if diff := cmp.Diff(inv, *got, cmpopts.IgnoreFields(model.Invite{}, "CreatedAt")); diff != "" {
		t.Errorf("GetInvite mismatch (-want +got):\n%s", diff)
	}

	if err := s.MarkInviteUsed(ctx, "abc123"); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if err := s.MarkInviteUsed(ctx, "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second use error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetInvite(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing invite error = %v, want ErrNotFound", err)
	}
}
