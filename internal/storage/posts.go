package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"postbot/internal/model"
)

type postRow struct {
	ID                 int64          `db:"id"`
	UserID             int64          `db:"user_id"`
	ChatIDs            string         `db:"chat_ids"`
	ScheduleKind       string         `db:"schedule_kind"`
	Recurrence         sql.NullString `db:"recurrence"`
	RunAt              sql.NullString `db:"run_at"`
	Text               string         `db:"text"`
	Media              string         `db:"media"`
	DeleteAfterSeconds int            `db:"delete_after_seconds"`
	Status             string         `db:"status"`
	Receipts           string         `db:"receipts"`
	SentAt             sql.NullString `db:"sent_at"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

func newPostRow(p *model.Post) (postRow, error) {
	chats := p.ChatIDs
	if chats == nil {
		chats = []string{}
	}
	chatJSON, err := encodeJSON(chats)
	if err != nil {
		return postRow{}, err
	}
	media := p.Media
	if media == nil {
		media = []model.MediaRef{}
	}
	mediaJSON, err := encodeJSON(media)
	if err != nil {
		return postRow{}, err
	}
	receipts := p.Receipts
	if receipts == nil {
		receipts = model.Receipts{}
	}
	receiptsJSON, err := encodeJSON(receipts)
	if err != nil {
		return postRow{}, err
	}

	var recurrence sql.NullString
	if p.Recurrence != nil {
		s, err := encodeJSON(p.Recurrence)
		if err != nil {
			return postRow{}, err
		}
		recurrence = sql.NullString{String: s, Valid: true}
	}

	return postRow{
		ID:                 p.ID,
		UserID:             p.UserID,
		ChatIDs:            chatJSON,
		ScheduleKind:       string(p.ScheduleKind),
		Recurrence:         recurrence,
		RunAt:              nullTime(p.RunAt),
		Text:               p.Text,
		Media:              mediaJSON,
		DeleteAfterSeconds: p.DeleteAfterSeconds,
		Status:             string(p.Status),
		Receipts:           receiptsJSON,
		SentAt:             nullTime(p.SentAt),
		CreatedAt:          formatTime(p.CreatedAt),
		UpdatedAt:          formatTime(p.UpdatedAt),
	}, nil
}

func (r postRow) model() (model.Post, error) {
	p := model.Post{
		ID:                 r.ID,
		UserID:             r.UserID,
		ScheduleKind:       model.ScheduleKind(r.ScheduleKind),
		RunAt:              timePtr(r.RunAt),
		Text:               r.Text,
		DeleteAfterSeconds: r.DeleteAfterSeconds,
		Status:             model.PostStatus(r.Status),
		SentAt:             timePtr(r.SentAt),
		CreatedAt:          parseTime(r.CreatedAt),
		UpdatedAt:          parseTime(r.UpdatedAt),
	}
	if err := decodeJSON(r.ChatIDs, &p.ChatIDs); err != nil {
		return p, fmt.Errorf("post %d chat_ids: %w", r.ID, err)
	}
	if err := decodeJSON(r.Media, &p.Media); err != nil {
		return p, fmt.Errorf("post %d media: %w", r.ID, err)
	}
	if err := decodeJSON(r.Receipts, &p.Receipts); err != nil {
		return p, fmt.Errorf("post %d receipts: %w", r.ID, err)
	}
	if r.Recurrence.Valid && r.Recurrence.String != "" {
		var rec model.Recurrence
		if err := decodeJSON(r.Recurrence.String, &rec); err != nil {
			return p, fmt.Errorf("post %d recurrence: %w", r.ID, err)
		}
		p.Recurrence = &rec
	}
	return p, nil
}

// CreatePost inserts a new post and sets its ID and timestamps.
func (s *SQLite) CreatePost(ctx context.Context, p *model.Post) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.StatusDraft
	}

	row, err := newPostRow(p)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO posts (user_id, chat_ids, schedule_kind, recurrence, run_at, text, media,
			delete_after_seconds, status, receipts, sent_at, created_at, updated_at)
		VALUES (:user_id, :chat_ids, :schedule_kind, :recurrence, :run_at, :text, :media,
			:delete_after_seconds, :status, :receipts, :sent_at, :created_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPost returns a post by ID.
func (s *SQLite) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	var row postRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM posts WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "post")
	}
	p, err := row.model()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts returns all posts owned by userID, newest first.
func (s *SQLite) ListPosts(ctx context.Context, userID int64) ([]model.Post, error) {
	var rows []postRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM posts WHERE user_id = ? ORDER BY id DESC`, userID); err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return postsFromRows(rows)
}

// PostIDsByStatus returns the IDs of every post whose status is one of
// statuses. Rows are not decoded, so a post with a damaged column is still
// listed and fails only when it is loaded.
func (s *SQLite) PostIDsByStatus(ctx context.Context, statuses ...model.PostStatus) ([]int64, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}

	query, args, err := sq.Select("id").
		From("posts").
		Where(sq.Eq{"status": values}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list posts by status: %w", err)
	}
	return ids, nil
}

func postsFromRows(rows []postRow) ([]model.Post, error) {
	posts := make([]model.Post, 0, len(rows))
	for _, r := range rows {
		p, err := r.model()
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// UpdatePost rewrites every mutable column of an existing post.
func (s *SQLite) UpdatePost(ctx context.Context, p *model.Post) error {
	p.UpdatedAt = time.Now().UTC()
	row, err := newPostRow(p)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE posts SET chat_ids = :chat_ids, schedule_kind = :schedule_kind,
			recurrence = :recurrence, run_at = :run_at, text = :text, media = :media,
			delete_after_seconds = :delete_after_seconds, status = :status,
			receipts = :receipts, sent_at = :sent_at, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return expectRow(res, "post")
}

// UpdatePostStatus sets only the status column.
func (s *SQLite) UpdatePostStatus(ctx context.Context, id int64, status model.PostStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	return expectRow(res, "post")
}

// DeletePost removes a post record.
func (s *SQLite) DeletePost(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return expectRow(res, "post")
}
