// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"postbot/internal/model"
)

// Sentinel errors returned by every Storage implementation.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateProject(ctx context.Context, p *model.Project, ownerID int64) error
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	GetProjectByChat(ctx context.Context, chatRef string) (*model.Project, error)
	ListProjects(ctx context.Context, userID int64) ([]model.Project, error)
	MemberRole(ctx context.Context, projectID, userID int64) (model.Role, error)
	AddMember(ctx context.Context, projectID, userID int64, role model.Role) error
	CreateInvite(ctx context.Context, inv *model.Invite) error
	GetInvite(ctx context.Context, code string) (*model.Invite, error)
	MarkInviteUsed(ctx context.Context, code string) error

	CreatePost(ctx context.Context, p *model.Post) error
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	ListPosts(ctx context.Context, userID int64) ([]model.Post, error)
	PostIDsByStatus(ctx context.Context, statuses ...model.PostStatus) ([]int64, error)
	UpdatePost(ctx context.Context, p *model.Post) error
	UpdatePostStatus(ctx context.Context, id int64, status model.PostStatus) error
	DeletePost(ctx context.Context, id int64) error

	CreateFeed(ctx context.Context, f *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context, userID int64) ([]model.Feed, error)
	ActiveFeedIDs(ctx context.Context) ([]int64, error)
	UpdateFeed(ctx context.Context, f *model.Feed) error
	TouchFeed(ctx context.Context, id int64, checkedAt time.Time) error
	DeleteFeed(ctx context.Context, id int64) error

	HasFeedItem(ctx context.Context, feedID int64, guid string) (bool, error)
	AddFeedItem(ctx context.Context, item *model.FeedItem) error
	MarkFeedItemPosted(ctx context.Context, id int64) error
	ListFeedItems(ctx context.Context, feedID int64) ([]model.FeedItem, error)

	UpsertJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	ListDueJobs(ctx context.Context, now time.Time) ([]model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)

	Close() error
}
