// Package scheduler runs persisted, time-triggered jobs.
//
// Jobs live in the scheduled_jobs table, so they survive restarts. Each job
// has a unique ID; adding a job with an existing ID replaces it. A runner pass
// claims every due job, advances or removes it, and then runs the handlers
// concurrently. The runner loop does not wait for a pass to finish before the
// next tick; a job still running is not claimed again until it returns.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/logger"
	"postbot/internal/model"
	"postbot/internal/storage"
)

// ErrJobNotFound is returned by Remove and Get for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Handler is the body of a job kind. refID identifies the record the job
// acts on.
type Handler func(ctx context.Context, refID int64) error

// Store is the persistence the scheduler needs.
type Store interface {
	UpsertJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error
	ListDueJobs(ctx context.Context, now time.Time) ([]model.Job, error)
	ListJobs(ctx context.Context) ([]model.Job, error)
}

// Scheduler dispatches due jobs to registered handlers.
type Scheduler struct {
	store Store
	loc   *time.Location
	log   *slog.Logger
	tick  time.Duration
	grace time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	rank     map[string]int
	running  map[string]bool

	inflight sync.WaitGroup
}

// New creates a Scheduler. Cron triggers are evaluated in loc; recurring jobs
// that are late by more than grace are skipped to their next occurrence.
func New(store Store, loc *time.Location, log *slog.Logger, tick, grace time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &Scheduler{
		store:    store,
		loc:      loc,
		log:      log,
		tick:     tick,
		grace:    grace,
		now:      time.Now,
		handlers: make(map[string]Handler),
		rank:     make(map[string]int),
		running:  make(map[string]bool),
	}
}

// Location returns the zone cron triggers are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Handle registers the handler for a job kind, replacing any previous one.
func (s *Scheduler) Handle(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Sequence declares job kinds that act on the same record. Due jobs of these
// kinds sharing a ref ID run one after another in the given order instead of
// concurrently.
func (s *Scheduler) Sequence(kinds ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range kinds {
		s.rank[k] = i + 1
	}
}

func (s *Scheduler) handler(kind string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}

// Add stores a job, replacing any job with the same ID, and returns it with
// its first fire time computed.
func (s *Scheduler) Add(ctx context.Context, id, kind string, refID int64, trigger model.Trigger) (*model.Job, error) {
	now := s.now()
	next, err := s.firstRun(trigger, now)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}

	job := &model.Job{
		ID:        id,
		Kind:      kind,
		RefID:     refID,
		Trigger:   trigger,
		NextRunAt: next.UTC(),
	}
	if err := s.store.UpsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("store job %s: %w", id, err)
	}

	s.log.Debug("job scheduled", "job_id", id, "kind", kind, "next_run_at", job.NextRunAt)
	return job, nil
}

// Remove deletes a job. Unknown IDs yield ErrJobNotFound.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", id, ErrJobNotFound)
		}
		return fmt.Errorf("remove job %s: %w", id, err)
	}
	return nil
}

// Get returns a job by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// Jobs returns every stored job.
func (s *Scheduler) Jobs(ctx context.Context) ([]model.Job, error) {
	return s.store.ListJobs(ctx)
}

// Run starts the runner loop, blocking until ctx is cancelled and every
// started handler has returned.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.inflight.Wait()

	s.start(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.start(ctx)
		}
	}
}

// RunDue runs a single pass: every job due now is claimed and its handler
// started in its own goroutine. It returns the number of handlers run after
// all of them have finished.
func (s *Scheduler) RunDue(ctx context.Context) int {
	n, wg := s.start(ctx)
	wg.Wait()
	return n
}

type claimed struct {
	job model.Job
	h   Handler
}

type batch struct {
	key  string
	runs []claimed
}

// start claims the due jobs and launches their handlers without waiting.
// Jobs of sequenced kinds that share a ref ID go into one batch, and none of
// them is claimed while an earlier batch for that ref ID is still running.
func (s *Scheduler) start(ctx context.Context) (int, *sync.WaitGroup) {
	wg := new(sync.WaitGroup)
	now := s.now()
	due, err := s.store.ListDueJobs(ctx, now)
	if err != nil {
		s.log.Error("list due jobs", "error", err)
		return 0, wg
	}

	var batches []*batch
	grouped := make(map[string]*batch)
	fired := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		key := s.runKey(job)
		if s.isRunning(key) {
			continue
		}
		if !s.claim(ctx, job, now) {
			continue
		}
		h, ok := s.handler(job.Kind)
		if !ok {
			s.log.Warn("no handler for job", "job_id", job.ID, "kind", job.Kind)
			continue
		}

		fired++
		b, ok := grouped[key]
		if !ok {
			b = &batch{key: key}
			grouped[key] = b
			batches = append(batches, b)
		}
		b.runs = append(b.runs, claimed{job: job, h: h})
	}

	for _, b := range batches {
		sort.SliceStable(b.runs, func(i, j int) bool {
			return s.rankOf(b.runs[i].job.Kind) < s.rankOf(b.runs[j].job.Kind)
		})
		s.markRunning(b.key, true)
		wg.Add(1)
		s.inflight.Add(1)
		go func(b *batch) {
			defer s.inflight.Done()
			defer wg.Done()
			defer s.markRunning(b.key, false)
			for _, r := range b.runs {
				s.execute(ctx, r.job, r.h)
			}
		}(b)
	}
	return fired, wg
}

func (s *Scheduler) rankOf(kind string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rank[kind]
}

// runKey identifies what a job's handler works on: the ref ID for sequenced
// kinds, the job itself otherwise.
func (s *Scheduler) runKey(job model.Job) string {
	if s.rankOf(job.Kind) > 0 {
		return fmt.Sprintf("ref:%d", job.RefID)
	}
	return "job:" + job.ID
}

func (s *Scheduler) isRunning(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running[key]
}

func (s *Scheduler) markRunning(key string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.running[key] = true
	} else {
		delete(s.running, key)
	}
}

// claim removes a due one-shot job or advances a recurring one, and reports
// whether its handler should run in this pass.
func (s *Scheduler) claim(ctx context.Context, job model.Job, now time.Time) bool {
	if job.Trigger.Kind == model.TriggerDate {
		if err := s.store.DeleteJob(ctx, job.ID); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.log.Error("claim job", "job_id", job.ID, "error", err)
			}
			return false
		}
		if late := now.Sub(job.NextRunAt); late > s.grace && s.grace > 0 {
			s.log.Warn("running late job", "job_id", job.ID, "late", late.Round(time.Second))
		}
		return true
	}

	next, err := s.nextRun(job.Trigger, now)
	if err != nil {
		s.log.Error("compute next run", "job_id", job.ID, "error", err)
		return false
	}
	late := now.Sub(job.NextRunAt)

	job.NextRunAt = next.UTC()
	if err := s.store.UpsertJob(ctx, &job); err != nil {
		s.log.Error("advance job", "job_id", job.ID, "error", err)
		return false
	}

	if s.grace > 0 && late > s.grace {
		s.log.Warn("skipping missed run", "job_id", job.ID, "late", late.Round(time.Second), "next_run_at", job.NextRunAt)
		return false
	}
	return true
}

func (s *Scheduler) execute(ctx context.Context, job model.Job, h Handler) {
	ctx = logger.With(ctx, slog.String("job_id", job.ID), slog.String("job_kind", job.Kind))

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "job panicked", "panic", r)
		}
	}()

	start := time.Now()
	if err := h(ctx, job.RefID); err != nil {
		s.log.ErrorContext(ctx, "job failed", "error", err)
		return
	}
	s.log.DebugContext(ctx, "job done", "took", time.Since(start).Round(time.Millisecond))
}

func (s *Scheduler) firstRun(t model.Trigger, now time.Time) (time.Time, error) {
	if t.Kind == model.TriggerDate {
		if t.RunAt.IsZero() {
			return time.Time{}, errors.New("date trigger without run time")
		}
		return t.RunAt, nil
	}
	return s.nextRun(t, now)
}

// nextRun returns the first fire time of a recurring trigger strictly after now.
func (s *Scheduler) nextRun(t model.Trigger, now time.Time) (time.Time, error) {
	switch t.Kind {
	case model.TriggerCron:
		sched, err := cron.ParseStandard(t.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q: %w", t.Cron, err)
		}
		next := sched.Next(now.In(s.loc))
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron %q never fires", t.Cron)
		}
		return next, nil
	case model.TriggerInterval:
		if t.Interval <= 0 {
			return time.Time{}, fmt.Errorf("interval must be positive, got %s", t.Interval)
		}
		return now.Add(t.Interval), nil
	default:
		return time.Time{}, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}
