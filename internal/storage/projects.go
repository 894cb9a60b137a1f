package storage

import (
	"context"
	"fmt"
	"time"

	"postbot/internal/model"
)

type projectRow struct {
	ID        int64  `db:"id"`
	ChatRef   string `db:"chat_ref"`
	Title     string `db:"title"`
	Role      string `db:"role"`
	CreatedAt string `db:"created_at"`
}

func (r projectRow) model() model.Project {
	return model.Project{
		ID:        r.ID,
		ChatRef:   r.ChatRef,
		Title:     r.Title,
		Role:      model.Role(r.Role),
		CreatedAt: parseTime(r.CreatedAt),
	}
}

type inviteRow struct {
	Code      string `db:"code"`
	ProjectID int64  `db:"project_id"`
	Role      string `db:"role"`
	Used      bool   `db:"used"`
	CreatedAt string `db:"created_at"`
}

// CreateProject inserts a project and records ownerID as its owner in one
// transaction. A project for the same chat reference yields ErrConflict.
func (s *SQLite) CreateProject(ctx context.Context, p *model.Project, ownerID int64) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO projects (chat_ref, title, created_at) VALUES (?, ?, ?)`,
		p.ChatRef, p.Title, formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("project %s: %w", p.ChatRef, ErrConflict)
		}
		return fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`,
		id, ownerID, string(model.RoleOwner),
	); err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	p.ID = id
	p.Role = model.RoleOwner
	p.CreatedAt = now
	return nil
}

// GetProject returns a project by ID.
func (s *SQLite) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, chat_ref, title, '' AS role, created_at FROM projects WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "project")
	}
	p := row.model()
	return &p, nil
}

// GetProjectByChat returns the project bound to chatRef.
func (s *SQLite) GetProjectByChat(ctx context.Context, chatRef string) (*model.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, chat_ref, title, '' AS role, created_at FROM projects WHERE chat_ref = ?`, chatRef)
	if err != nil {
		return nil, notFound(err, "project")
	}
	p := row.model()
	return &p, nil
}

// ListProjects returns the projects userID is a member of, with the user's role.
func (s *SQLite) ListProjects(ctx context.Context, userID int64) ([]model.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT p.id, p.chat_ref, p.title, m.role, p.created_at
		FROM projects p
		JOIN project_members m ON m.project_id = p.id
		WHERE m.user_id = ?
		ORDER BY p.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	projects := make([]model.Project, 0, len(rows))
	for _, r := range rows {
		projects = append(projects, r.model())
	}
	return projects, nil
}

// MemberRole returns userID's role in a project, or ErrNotFound.
func (s *SQLite) MemberRole(ctx context.Context, projectID, userID int64) (model.Role, error) {
	var role string
	err := s.db.GetContext(ctx, &role,
		`SELECT role FROM project_members WHERE project_id = ? AND user_id = ?`, projectID, userID)
	if err != nil {
		return "", notFound(err, "member")
	}
	return model.Role(role), nil
}

// AddMember grants userID a role in a project. Existing members yield ErrConflict.
func (s *SQLite) AddMember(ctx context.Context, projectID, userID int64, role model.Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, role) VALUES (?, ?, ?)`,
		projectID, userID, string(role),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("member %d: %w", userID, ErrConflict)
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// CreateInvite stores a new invite code.
func (s *SQLite) CreateInvite(ctx context.Context, inv *model.Invite) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invites (code, project_id, role, used, created_at) VALUES (?, ?, ?, 0, ?)`,
		inv.Code, inv.ProjectID, string(inv.Role), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("invite: %w", ErrConflict)
		}
		return fmt.Errorf("insert invite: %w", err)
	}
	inv.Used = false
	inv.CreatedAt = now
	return nil
}

// GetInvite returns an invite by code.
func (s *SQLite) GetInvite(ctx context.Context, code string) (*model.Invite, error) {
	var row inviteRow
	err := s.db.GetContext(ctx, &row,
		`SELECT code, project_id, role, used, created_at FROM invites WHERE code = ?`, code)
	if err != nil {
		return nil, notFound(err, "invite")
	}
	return &model.Invite{
		Code:      row.Code,
		ProjectID: row.ProjectID,
		Role:      model.Role(row.Role),
		Used:      row.Used,
		CreatedAt: parseTime(row.CreatedAt),
	}, nil
}

// MarkInviteUsed flags an unused invite as used. An unknown or already used
// code yields ErrNotFound.
func (s *SQLite) MarkInviteUsed(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invites SET used = 1 WHERE code = ? AND used = 0`, code)
	if err != nil {
		return fmt.Errorf("mark invite used: %w", err)
	}
	return expectRow(res, "invite")
}
