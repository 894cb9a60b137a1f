package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"postbot/internal/model"
)

type itemRow struct {
	ID          int64          `db:"id"`
	FeedID      int64          `db:"feed_id"`
	GUID        string         `db:"guid"`
	Title       string         `db:"title"`
	Link        string         `db:"link"`
	Description string         `db:"description"`
	PublishedAt sql.NullString `db:"published_at"`
	IsPosted    bool           `db:"is_posted"`
	CreatedAt   string         `db:"created_at"`
}

// HasFeedItem reports whether the ledger already holds guid for feedID.
func (s *SQLite) HasFeedItem(ctx context.Context, feedID int64, guid string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM rss_items WHERE feed_id = ? AND guid = ?)`, feedID, guid)
	if err != nil {
		return false, fmt.Errorf("check feed item: %w", err)
	}
	return exists, nil
}

// AddFeedItem records an item in the ledger. A duplicate (feed, guid) pair
// yields ErrConflict.
func (s *SQLite) AddFeedItem(ctx context.Context, item *model.FeedItem) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rss_items (feed_id, guid, title, link, description, published_at, is_posted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.FeedID, item.GUID, item.Title, item.Link, item.Description,
		nullTime(item.PublishedAt), boolToInt(item.IsPosted), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed item %s: %w", item.GUID, ErrConflict)
		}
		return fmt.Errorf("insert feed item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	item.ID = id
	item.CreatedAt = now
	return nil
}

// MarkFeedItemPosted sets is_posted on a ledger entry.
func (s *SQLite) MarkFeedItemPosted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rss_items SET is_posted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark feed item posted: %w", err)
	}
	return expectRow(res, "feed item")
}

// ListFeedItems returns the ledger of a feed in insertion order.
func (s *SQLite) ListFeedItems(ctx context.Context, feedID int64) ([]model.FeedItem, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM rss_items WHERE feed_id = ? ORDER BY id`, feedID); err != nil {
		return nil, fmt.Errorf("list feed items: %w", err)
	}

	items := make([]model.FeedItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, model.FeedItem{
			ID:          r.ID,
			FeedID:      r.FeedID,
			GUID:        r.GUID,
			Title:       r.Title,
			Link:        r.Link,
			Description: r.Description,
			PublishedAt: timePtr(r.PublishedAt),
			IsPosted:    r.IsPosted,
			CreatedAt:   parseTime(r.CreatedAt),
		})
	}
	return items, nil
}
