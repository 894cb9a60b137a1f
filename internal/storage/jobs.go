package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"postbot/internal/model"
)

type jobRow struct {
	ID              string         `db:"id"`
	Kind            string         `db:"kind"`
	RefID           int64          `db:"ref_id"`
	TriggerKind     string         `db:"trigger_kind"`
	RunAt           sql.NullString `db:"run_at"`
	CronExpr        string         `db:"cron_expr"`
	IntervalSeconds int64          `db:"interval_seconds"`
	NextRunAt       string         `db:"next_run_at"`
	CreatedAt       string         `db:"created_at"`
}

func (r jobRow) model() model.Job {
	j := model.Job{
		ID:    r.ID,
		Kind:  r.Kind,
		RefID: r.RefID,
		Trigger: model.Trigger{
			Kind:     model.TriggerKind(r.TriggerKind),
			Cron:     r.CronExpr,
			Interval: time.Duration(r.IntervalSeconds) * time.Second,
		},
		NextRunAt: parseTime(r.NextRunAt),
		CreatedAt: parseTime(r.CreatedAt),
	}
	if t := timePtr(r.RunAt); t != nil {
		j.Trigger.RunAt = *t
	}
	return j
}

// UpsertJob stores a job, replacing any job with the same ID. The original
// creation time of a replaced job is kept.
func (s *SQLite) UpsertJob(ctx context.Context, job *model.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	var runAt sql.NullString
	if job.Trigger.Kind == model.TriggerDate {
		runAt = nullTime(&job.Trigger.RunAt)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, kind, ref_id, trigger_kind, run_at, cron_expr, interval_seconds, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			ref_id = excluded.ref_id,
			trigger_kind = excluded.trigger_kind,
			run_at = excluded.run_at,
			cron_expr = excluded.cron_expr,
			interval_seconds = excluded.interval_seconds,
			next_run_at = excluded.next_run_at`,
		job.ID, job.Kind, job.RefID, string(job.Trigger.Kind), runAt, job.Trigger.Cron,
		int64(job.Trigger.Interval/time.Second), formatTime(job.NextRunAt), formatTime(job.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob returns a job by ID.
func (s *SQLite) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM scheduled_jobs WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "job")
	}
	j := row.model()
	return &j, nil
}

// DeleteJob removes a job by ID, returning ErrNotFound when absent.
func (s *SQLite) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return expectRow(res, "job")
}

// ListDueJobs returns jobs whose next run time is at or before now.
func (s *SQLite) ListDueJobs(ctx context.Context, now time.Time) ([]model.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM scheduled_jobs WHERE next_run_at <= ? ORDER BY next_run_at, id`,
		formatTime(now)); err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	return jobsFromRows(rows), nil
}

// ListJobs returns every stored job ordered by next run time.
func (s *SQLite) ListJobs(ctx context.Context) ([]model.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM scheduled_jobs ORDER BY next_run_at, id`); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobsFromRows(rows), nil
}

func jobsFromRows(rows []jobRow) []model.Job {
	jobs := make([]model.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.model())
	}
	return jobs
}
