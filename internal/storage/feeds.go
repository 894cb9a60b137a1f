package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"postbot/internal/model"
)

type feedRow struct {
	ID               int64          `db:"id"`
	UserID           int64          `db:"user_id"`
	URL              string         `db:"url"`
	ChatIDs          string         `db:"chat_ids"`
	FrequencyMinutes int            `db:"frequency_minutes"`
	Keywords         string         `db:"keywords"`
	LastCheckedAt    sql.NullString `db:"last_checked_at"`
	IsActive         bool           `db:"is_active"`
	CreatedAt        string         `db:"created_at"`
}

func (r feedRow) model() (model.Feed, error) {
	f := model.Feed{
		ID:               r.ID,
		UserID:           r.UserID,
		URL:              r.URL,
		FrequencyMinutes: r.FrequencyMinutes,
		LastCheckedAt:    timePtr(r.LastCheckedAt),
		IsActive:         r.IsActive,
		CreatedAt:        parseTime(r.CreatedAt),
	}
	if err := decodeJSON(r.ChatIDs, &f.ChatIDs); err != nil {
		return f, fmt.Errorf("feed %d chat_ids: %w", r.ID, err)
	}
	if err := decodeJSON(r.Keywords, &f.Keywords); err != nil {
		return f, fmt.Errorf("feed %d keywords: %w", r.ID, err)
	}
	return f, nil
}

func feedColumns(f *model.Feed) (chats, keywords string, err error) {
	c := f.ChatIDs
	if c == nil {
		c = []string{}
	}
	k := f.Keywords
	if k == nil {
		k = []string{}
	}
	if chats, err = encodeJSON(c); err != nil {
		return "", "", err
	}
	if keywords, err = encodeJSON(k); err != nil {
		return "", "", err
	}
	return chats, keywords, nil
}

// CreateFeed inserts a new feed. The same URL twice for one user yields ErrConflict.
func (s *SQLite) CreateFeed(ctx context.Context, f *model.Feed) error {
	chats, keywords, err := feedColumns(f)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rss_feeds (user_id, url, chat_ids, frequency_minutes, keywords, last_checked_at, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.URL, chats, f.FrequencyMinutes, keywords, nullTime(f.LastCheckedAt),
		boolToInt(f.IsActive), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed %s: %w", f.URL, ErrConflict)
		}
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	f.CreatedAt = now
	return nil
}

// GetFeed returns a feed by ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	var row feedRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM rss_feeds WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "feed")
	}
	f, err := row.model()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFeeds returns all feeds owned by userID.
func (s *SQLite) ListFeeds(ctx context.Context, userID int64) ([]model.Feed, error) {
	var rows []feedRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM rss_feeds WHERE user_id = ? ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feedsFromRows(rows)
}

// ActiveFeedIDs returns the IDs of all feeds with is_active set.
func (s *SQLite) ActiveFeedIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM rss_feeds WHERE is_active = 1 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list active feeds: %w", err)
	}
	return ids, nil
}

func feedsFromRows(rows []feedRow) ([]model.Feed, error) {
	feeds := make([]model.Feed, 0, len(rows))
	for _, r := range rows {
		f, err := r.model()
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// UpdateFeed updates an existing feed.
func (s *SQLite) UpdateFeed(ctx context.Context, f *model.Feed) error {
	chats, keywords, err := feedColumns(f)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rss_feeds SET url = ?, chat_ids = ?, frequency_minutes = ?, keywords = ?,
			last_checked_at = ?, is_active = ?
		WHERE id = ?`,
		f.URL, chats, f.FrequencyMinutes, keywords, nullTime(f.LastCheckedAt),
		boolToInt(f.IsActive), f.ID,
	)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	return expectRow(res, "feed")
}

// TouchFeed sets the last-checked time of a feed.
func (s *SQLite) TouchFeed(ctx context.Context, id int64, checkedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rss_feeds SET last_checked_at = ? WHERE id = ?`, formatTime(checkedAt), id)
	if err != nil {
		return fmt.Errorf("touch feed: %w", err)
	}
	return expectRow(res, "feed")
}

// DeleteFeed removes a feed and its ledger entries.
func (s *SQLite) DeleteFeed(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rss_items WHERE feed_id = ?`, id); err != nil {
		return fmt.Errorf("delete feed items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM rss_feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if err := expectRow(res, "feed"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
