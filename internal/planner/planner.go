// Package planner ties posts and feeds to scheduled jobs: it creates and
// replaces their jobs, runs the publish and delete job bodies, and restores
// missing jobs at startup.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postbot/internal/delivery"
	"postbot/internal/model"
	"postbot/internal/poller"
	"postbot/internal/schedule"
	"postbot/internal/scheduler"
)

// Job kinds.
const (
	KindPublish = "post_publish"
	KindDelete  = "post_delete"
	KindPoll    = "rss_check"
)

// PublishJobID returns the job ID of a post's publish job.
func PublishJobID(postID int64) string { return fmt.Sprintf("%s_%d", KindPublish, postID) }

// DeleteJobID returns the job ID of a post's auto-delete job.
func DeleteJobID(postID int64) string { return fmt.Sprintf("%s_%d", KindDelete, postID) }

// PollJobID returns the job ID of a feed's poll job.
func PollJobID(feedID int64) string { return fmt.Sprintf("%s_%d", KindPoll, feedID) }

// Store is the persistence the planner needs.
type Store interface {
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	UpdatePost(ctx context.Context, p *model.Post) error
	UpdatePostStatus(ctx context.Context, id int64, status model.PostStatus) error
	DeletePost(ctx context.Context, id int64) error
	PostIDsByStatus(ctx context.Context, statuses ...model.PostStatus) ([]int64, error)

	CreateFeed(ctx context.Context, f *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	UpdateFeed(ctx context.Context, f *model.Feed) error
	DeleteFeed(ctx context.Context, id int64) error
	ActiveFeedIDs(ctx context.Context) ([]int64, error)
}

// Jobs is the job scheduler.
type Jobs interface {
	Add(ctx context.Context, id, kind string, refID int64, trigger model.Trigger) (*model.Job, error)
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Job, error)
	Handle(kind string, h scheduler.Handler)
	Sequence(kinds ...string)
}

// Deliverer sends and retracts messages.
type Deliverer interface {
	FanOut(ctx context.Context, chats []string, c delivery.Content) model.Receipts
	Retract(ctx context.Context, chat string, ids []int) delivery.RetractReport
}

// FeedChecker runs one check of a feed.
type FeedChecker interface {
	Check(ctx context.Context, feedID int64) (poller.Result, error)
}

// Schedule is when a post is published: either once at RunAt or on a
// recurrence. Naive marks a RunAt that carried no zone information.
type Schedule struct {
	RunAt      time.Time
	Naive      bool
	Recurrence *model.Recurrence
}

// Planner schedules posts and feeds and runs their jobs.
type Planner struct {
	store   Store
	jobs    Jobs
	out     Deliverer
	feeds   FeedChecker
	loc     *time.Location
	minFreq int
	log     *slog.Logger
	now     func() time.Time

	posts postLocks
}

// New creates a Planner. minFreq is the smallest allowed feed polling
// frequency in minutes; naive times are read in loc.
func New(store Store, jobs Jobs, out Deliverer, feeds FeedChecker, loc *time.Location, minFreq int, log *slog.Logger) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	return &Planner{
		store:   store,
		jobs:    jobs,
		out:     out,
		feeds:   feeds,
		loc:     loc,
		minFreq: minFreq,
		log:     log,
		now:     time.Now,
	}
}

// Register installs the publish, delete and poll job bodies. A post's delete
// job runs before its publish job when both are due in the same pass, so the
// previous occurrence is retracted before the next one is sent.
func (p *Planner) Register() {
	p.jobs.Sequence(KindDelete, KindPublish)
	p.jobs.Handle(KindPublish, p.Publish)
	p.jobs.Handle(KindDelete, p.Delete)
	p.jobs.Handle(KindPoll, func(ctx context.Context, feedID int64) error {
		_, err := p.feeds.Check(ctx, feedID)
		return err
	})
}

// MinFrequency returns the smallest allowed feed polling frequency in minutes.
func (p *Planner) MinFrequency() int {
	return p.minFreq
}

func (p *Planner) trigger(s Schedule) (model.Trigger, error) {
	hasTime := !s.RunAt.IsZero()
	switch {
	case hasTime && s.Recurrence != nil:
		return model.Trigger{}, &schedule.ValidationError{Field: "schedule", Reason: "set either a run time or a recurrence, not both"}
	case s.Recurrence != nil:
		return schedule.RecurringTrigger(*s.Recurrence)
	case hasTime:
		return schedule.OneTimeTrigger(s.RunAt, s.Naive, p.loc), nil
	default:
		return model.Trigger{}, &schedule.ValidationError{Field: "schedule", Reason: "a run time or a recurrence is required"}
	}
}

// SchedulePostPublication creates or replaces the publish job of a post.
func (p *Planner) SchedulePostPublication(ctx context.Context, postID int64, s Schedule) error {
	t, err := p.trigger(s)
	if err != nil {
		return err
	}
	if _, err := p.jobs.Add(ctx, PublishJobID(postID), KindPublish, postID, t); err != nil {
		return fmt.Errorf("schedule publication of post %d: %w", postID, err)
	}
	return nil
}

// SchedulePostDeletion creates or replaces the one-shot delete job of a post.
func (p *Planner) SchedulePostDeletion(ctx context.Context, postID int64, at time.Time) error {
	t := model.Trigger{Kind: model.TriggerDate, RunAt: at}
	if _, err := p.jobs.Add(ctx, DeleteJobID(postID), KindDelete, postID, t); err != nil {
		return fmt.Errorf("schedule deletion of post %d: %w", postID, err)
	}
	return nil
}

// ScheduleFeedPoll creates or replaces the interval poll job of a feed.
// Frequencies below the configured minimum are rejected.
func (p *Planner) ScheduleFeedPoll(ctx context.Context, feedID int64, minutes int) error {
	t, err := schedule.IntervalTrigger(minutes, p.minFreq)
	if err != nil {
		return err
	}
	if _, err := p.jobs.Add(ctx, PollJobID(feedID), KindPoll, feedID, t); err != nil {
		return fmt.Errorf("schedule poll of feed %d: %w", feedID, err)
	}
	return nil
}

// RemoveJob removes a job. A job that does not exist is not an error.
func (p *Planner) RemoveJob(ctx context.Context, id string) error {
	if err := p.jobs.Remove(ctx, id); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
		return err
	}
	return nil
}

// SchedulePost sets a post's schedule, marks it scheduled and creates its
// publish job. On failure the post is returned to draft.
func (p *Planner) SchedulePost(ctx context.Context, post *model.Post, s Schedule) error {
	if _, err := p.trigger(s); err != nil {
		return err
	}

	if s.Recurrence != nil {
		rec := *s.Recurrence
		post.ScheduleKind = model.ScheduleRecurring
		post.Recurrence = &rec
		post.RunAt = nil
	} else {
		at := schedule.Localize(s.RunAt, s.Naive, p.loc).UTC()
		post.ScheduleKind = model.ScheduleOneTime
		post.RunAt = &at
		post.Recurrence = nil
	}
	post.Status = model.StatusScheduled
	if err := p.store.UpdatePost(ctx, post); err != nil {
		return fmt.Errorf("save post %d: %w", post.ID, err)
	}

	if err := p.SchedulePostPublication(ctx, post.ID, s); err != nil {
		post.Status = model.StatusDraft
		if uerr := p.store.UpdatePostStatus(ctx, post.ID, model.StatusDraft); uerr != nil {
			p.log.ErrorContext(ctx, "revert post to draft", "post_id", post.ID, "error", uerr)
		}
		return err
	}
	return nil
}

// CancelPost removes a post's pending jobs and returns it to draft.
func (p *Planner) CancelPost(ctx context.Context, postID int64) error {
	for _, id := range []string{PublishJobID(postID), DeleteJobID(postID)} {
		if err := p.RemoveJob(ctx, id); err != nil {
			return fmt.Errorf("remove job %s: %w", id, err)
		}
	}
	if err := p.store.UpdatePostStatus(ctx, postID, model.StatusDraft); err != nil {
		return fmt.Errorf("cancel post %d: %w", postID, err)
	}
	return nil
}

// DeletePost removes a post's jobs and then the post itself.
func (p *Planner) DeletePost(ctx context.Context, postID int64) error {
	for _, id := range []string{PublishJobID(postID), DeleteJobID(postID)} {
		if err := p.RemoveJob(ctx, id); err != nil {
			return fmt.Errorf("remove job %s: %w", id, err)
		}
	}
	if err := p.store.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("delete post %d: %w", postID, err)
	}
	return nil
}

// AddFeed validates and stores a feed and schedules its poll job.
func (p *Planner) AddFeed(ctx context.Context, f *model.Feed) error {
	if err := schedule.ValidateFrequency(f.FrequencyMinutes, p.minFreq); err != nil {
		return err
	}
	if err := p.store.CreateFeed(ctx, f); err != nil {
		return fmt.Errorf("create feed: %w", err)
	}
	if !f.IsActive {
		return nil
	}
	if err := p.ScheduleFeedPoll(ctx, f.ID, f.FrequencyMinutes); err != nil {
		if derr := p.store.DeleteFeed(ctx, f.ID); derr != nil {
			p.log.ErrorContext(ctx, "roll back feed", "feed_id", f.ID, "error", derr)
		}
		return err
	}
	return nil
}

// SetFeedFrequency changes a feed's polling frequency and reschedules it.
func (p *Planner) SetFeedFrequency(ctx context.Context, feedID int64, minutes int) error {
	if err := schedule.ValidateFrequency(minutes, p.minFreq); err != nil {
		return err
	}
	f, err := p.store.GetFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("load feed %d: %w", feedID, err)
	}
	f.FrequencyMinutes = minutes
	if err := p.store.UpdateFeed(ctx, f); err != nil {
		return fmt.Errorf("save feed %d: %w", feedID, err)
	}
	if !f.IsActive {
		return nil
	}
	return p.ScheduleFeedPoll(ctx, feedID, minutes)
}

// SetFeedActive pauses or resumes a feed, removing or recreating its poll job.
func (p *Planner) SetFeedActive(ctx context.Context, feedID int64, active bool) error {
	f, err := p.store.GetFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("load feed %d: %w", feedID, err)
	}
	f.IsActive = active
	if err := p.store.UpdateFeed(ctx, f); err != nil {
		return fmt.Errorf("save feed %d: %w", feedID, err)
	}
	if !active {
		return p.RemoveJob(ctx, PollJobID(feedID))
	}
	return p.ScheduleFeedPoll(ctx, feedID, f.FrequencyMinutes)
}

// RemoveFeed removes a feed's poll job and then the feed with its ledger.
func (p *Planner) RemoveFeed(ctx context.Context, feedID int64) error {
	if err := p.RemoveJob(ctx, PollJobID(feedID)); err != nil {
		return fmt.Errorf("remove poll job: %w", err)
	}
	if err := p.store.DeleteFeed(ctx, feedID); err != nil {
		return fmt.Errorf("delete feed %d: %w", feedID, err)
	}
	return nil
}

// CheckFeed runs a feed check right away, outside its schedule.
func (p *Planner) CheckFeed(ctx context.Context, feedID int64) (poller.Result, error) {
	return p.feeds.Check(ctx, feedID)
}
