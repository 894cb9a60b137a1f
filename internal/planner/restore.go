package planner

import (
	"context"
	"fmt"
	"time"

	"postbot/internal/model"
)

// RestoreReport counts what a startup restore did.
type RestoreReport struct {
	Publications int
	Deletions    int
	Feeds        int
	Failed       int
}

// Restore recreates jobs missing from the job store for posts still waiting
// to be published, posts with messages awaiting auto-deletion, and active
// feeds. One-time posts whose run time has passed are scheduled for now and
// fire on the next runner pass. A record that fails is logged and skipped.
func (p *Planner) Restore(ctx context.Context) (RestoreReport, error) {
	var report RestoreReport

	postIDs, err := p.store.PostIDsByStatus(ctx,
		model.StatusScheduled, model.StatusPendingReschedule,
		model.StatusSent, model.StatusSendingFailed,
		model.StatusDeleted, model.StatusDeletionFailed,
		model.StatusDeletionSkipped, model.StatusDeletionError,
	)
	if err != nil {
		return report, fmt.Errorf("list posts: %w", err)
	}

	for _, id := range postIDs {
		post, err := p.store.GetPost(ctx, id)
		if err != nil {
			report.Failed++
			p.log.ErrorContext(ctx, "load post for restore", "post_id", id, "error", err)
			continue
		}

		if post.Publishable() {
			restored, err := p.restorePublication(ctx, post)
			switch {
			case err != nil:
				report.Failed++
				p.log.ErrorContext(ctx, "restore publication", "post_id", post.ID, "error", err)
			case restored:
				report.Publications++
			}
		}

		restored, err := p.restoreDeletion(ctx, post)
		switch {
		case err != nil:
			report.Failed++
			p.log.ErrorContext(ctx, "restore deletion", "post_id", post.ID, "error", err)
		case restored:
			report.Deletions++
		}
	}

	feedIDs, err := p.store.ActiveFeedIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list feeds: %w", err)
	}
	for _, id := range feedIDs {
		if err := p.restoreFeed(ctx, id, &report); err != nil {
			report.Failed++
			p.log.ErrorContext(ctx, "restore feed poll", "feed_id", id, "error", err)
		}
	}

	p.log.InfoContext(ctx, "jobs restored",
		"publications", report.Publications,
		"deletions", report.Deletions,
		"feeds", report.Feeds,
		"failed", report.Failed)
	return report, nil
}

func (p *Planner) restoreFeed(ctx context.Context, feedID int64, report *RestoreReport) error {
	missing, err := p.jobMissing(ctx, PollJobID(feedID))
	if err != nil || !missing {
		return err
	}
	f, err := p.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if err := p.ScheduleFeedPoll(ctx, f.ID, f.FrequencyMinutes); err != nil {
		return err
	}
	report.Feeds++
	return nil
}

func (p *Planner) restorePublication(ctx context.Context, post *model.Post) (bool, error) {
	missing, err := p.jobMissing(ctx, PublishJobID(post.ID))
	if err != nil || !missing {
		return false, err
	}

	var s Schedule
	switch {
	case post.ScheduleKind == model.ScheduleRecurring && post.Recurrence != nil:
		s.Recurrence = post.Recurrence
	case post.RunAt != nil:
		s.RunAt = *post.RunAt
		if now := p.now(); s.RunAt.Before(now) {
			s.RunAt = now
		}
	default:
		return false, fmt.Errorf("post %d has no schedule", post.ID)
	}

	if err := p.SchedulePostPublication(ctx, post.ID, s); err != nil {
		return false, err
	}
	if post.Status == model.StatusPendingReschedule {
		if err := p.setStatus(ctx, post.ID, model.StatusScheduled); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (p *Planner) restoreDeletion(ctx context.Context, post *model.Post) (bool, error) {
	switch post.Status {
	case model.StatusSent, model.StatusDeletionFailed, model.StatusDeletionError:
	default:
		return false, nil
	}
	if post.DeleteAfterSeconds <= 0 || !post.HasReceipts() {
		return false, nil
	}
	missing, err := p.jobMissing(ctx, DeleteJobID(post.ID))
	if err != nil || !missing {
		return false, err
	}

	now := p.now()
	delay := time.Duration(post.DeleteAfterSeconds) * time.Second
	at := now.Add(delay)
	if post.SentAt != nil {
		at = post.SentAt.Add(delay)
	}
	if at.Before(now) {
		at = now
	}
	if err := p.SchedulePostDeletion(ctx, post.ID, at); err != nil {
		return false, err
	}
	return true, nil
}
