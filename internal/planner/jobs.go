package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"postbot/internal/delivery"
	"postbot/internal/model"
	"postbot/internal/scheduler"
	"postbot/internal/storage"
)

// Publish is the body of a post_publish job. It delivers a publishable post
// to all its chats, records the receipts and chains the auto-delete job.
func (p *Planner) Publish(ctx context.Context, postID int64) (err error) {
	defer p.posts.lock(postID)()

	post, err := p.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.log.WarnContext(ctx, "post gone, nothing to publish", "post_id", postID)
			return nil
		}
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	if !post.Publishable() {
		p.log.InfoContext(ctx, "post not publishable, skipping", "post_id", postID, "status", post.Status)
		return nil
	}

	// settled is set once this run records an outcome; a later failure must
	// not overwrite it.
	settled := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish post %d: panic: %v", postID, r)
		}
		if err != nil && !settled {
			p.markPublishError(ctx, postID)
		}
	}()

	outcome := func(status model.PostStatus) error {
		if err := p.setStatus(ctx, postID, status); err != nil {
			return err
		}
		settled = true
		return nil
	}

	if len(post.ChatIDs) == 0 {
		p.log.WarnContext(ctx, "post has no target chats", "post_id", postID)
		return outcome(model.StatusNoChats)
	}
	if verr := delivery.ValidateMedia(post.Media); verr != nil {
		p.log.WarnContext(ctx, "post media unusable", "post_id", postID, "error", verr)
		return outcome(model.StatusMediaError)
	}

	receipts := p.out.FanOut(ctx, post.ChatIDs, delivery.Content{Text: post.Text, Media: post.Media})
	if len(receipts) == 0 {
		p.log.WarnContext(ctx, "post not delivered to any chat", "post_id", postID, "chats", len(post.ChatIDs))
		return outcome(model.StatusSendingFailed)
	}

	// Messages of an earlier occurrence still waiting for their delete job are
	// kept so that job retracts them too.
	if post.ScheduleKind == model.ScheduleRecurring && post.HasReceipts() && p.hasJob(ctx, DeleteJobID(postID)) {
		for chat, ids := range post.Receipts {
			receipts[chat] = append(append([]int(nil), ids...), receipts[chat]...)
		}
	}

	sentAt := p.now().UTC().Truncate(time.Second)
	post.Receipts = receipts
	post.SentAt = &sentAt
	post.Status = model.StatusSent
	if err := p.store.UpdatePost(ctx, post); err != nil {
		return fmt.Errorf("save post %d: %w", postID, err)
	}
	settled = true

	p.log.InfoContext(ctx, "post sent", "post_id", postID, "chats", len(receipts), "of", len(post.ChatIDs))

	if post.DeleteAfterSeconds > 0 {
		at := sentAt.Add(time.Duration(post.DeleteAfterSeconds) * time.Second)
		if derr := p.SchedulePostDeletion(ctx, postID, at); derr != nil {
			p.log.ErrorContext(ctx, "schedule deletion", "post_id", postID, "error", derr)
		}
	}
	return nil
}

func (p *Planner) markPublishError(ctx context.Context, postID int64) {
	if err := p.store.UpdatePostStatus(ctx, postID, model.StatusError); err != nil {
		p.log.ErrorContext(ctx, "mark post error", "post_id", postID, "error", err)
	}
}

// Delete is the body of a post_delete job. It retracts every recorded
// message of the post.
func (p *Planner) Delete(ctx context.Context, postID int64) (err error) {
	defer p.posts.lock(postID)()

	post, err := p.store.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.log.WarnContext(ctx, "post gone, nothing to delete", "post_id", postID)
			return nil
		}
		return fmt.Errorf("load post %d: %w", postID, err)
	}
	if post.Status == model.StatusDeleted {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delete post %d: panic: %v", postID, r)
		}
		if err != nil {
			if uerr := p.store.UpdatePostStatus(ctx, postID, model.StatusDeletionError); uerr != nil {
				p.log.ErrorContext(ctx, "mark deletion error", "post_id", postID, "error", uerr)
			}
		}
	}()

	if !post.HasReceipts() {
		return p.setStatus(ctx, postID, model.StatusDeletionSkipped)
	}

	chats := make([]string, 0, len(post.Receipts))
	for chat := range post.Receipts {
		chats = append(chats, chat)
	}
	sort.Strings(chats)

	remaining := make(model.Receipts)
	for _, chat := range chats {
		ids := post.Receipts[chat]
		if len(ids) == 0 {
			continue
		}
		report := p.out.Retract(ctx, chat, ids)
		if report.OK() {
			continue
		}
		for _, id := range ids {
			if _, failed := report.Failed[id]; failed {
				remaining[chat] = append(remaining[chat], id)
			}
		}
	}

	post.Receipts = remaining
	post.Status = model.StatusDeleted
	if len(remaining) > 0 {
		post.Status = model.StatusDeletionFailed
		p.log.WarnContext(ctx, "some messages not deleted", "post_id", postID, "chats", len(remaining))
	}
	if err := p.store.UpdatePost(ctx, post); err != nil {
		return fmt.Errorf("save post %d: %w", postID, err)
	}
	return nil
}

func (p *Planner) setStatus(ctx context.Context, postID int64, status model.PostStatus) error {
	if err := p.store.UpdatePostStatus(ctx, postID, status); err != nil {
		return fmt.Errorf("set post %d %s: %w", postID, status, err)
	}
	return nil
}

func (p *Planner) hasJob(ctx context.Context, id string) bool {
	_, err := p.jobs.Get(ctx, id)
	return err == nil
}

// jobMissing reports whether a job is absent from the scheduler. Lookup
// failures other than absence are returned.
func (p *Planner) jobMissing(ctx context.Context, id string) (bool, error) {
	_, err := p.jobs.Get(ctx, id)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, scheduler.ErrJobNotFound):
		return true, nil
	default:
		return false, err
	}
}
