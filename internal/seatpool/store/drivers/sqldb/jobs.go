package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/idx"
)

type jobsRepo struct {
	scope
}

const jobColumns = `id, job_type, status, payload_json, actor, attempts, max_attempts, visible_until,
    lease_owner, lease_token, success_count, failed_count, last_error, created_at, updated_at, finished_at`

func (r *jobsRepo) EnqueueJob(ctx context.Context, j domain.Job, now time.Time) (domain.Job, error) {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = r.cfg.JobMaxAttempts
	}
	if len(j.Payload) == 0 {
		return domain.Job{}, fmt.Errorf("sqldb: job %q has no payload", j.Type)
	}

	row := r.c.QueryRowContext(ctx, r.rebind(`INSERT INTO batch_jobs
    (job_type, status, payload_json, actor, attempts, max_attempts, created_at, updated_at)
VALUES (?, 'pending', ?, ?, 0, ?, ?, ?)
RETURNING id`),
		string(j.Type), string(j.Payload), j.Actor, j.MaxAttempts, toMillis(now), toMillis(now))
	if err := row.Scan(&j.ID); err != nil {
		return domain.Job{}, mapWriteErr(err)
	}
	return r.GetJob(ctx, j.ID)
}

func (r *jobsRepo) GetJob(ctx context.Context, id int64) (domain.Job, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+jobColumns+` FROM batch_jobs WHERE id = ?`), id)
	return scanJob(row)
}

func (r *jobsRepo) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.c.QueryContext(ctx, r.rebind(`SELECT `+jobColumns+` FROM batch_jobs
ORDER BY id DESC
LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobsRepo) LeaseJob(ctx context.Context, owner string, now time.Time) (domain.Job, error) {
	if _, err := r.ReclaimExpiredLeases(ctx, now); err != nil {
		return domain.Job{}, fmt.Errorf("reclaim expired leases: %w", err)
	}

	jobID, err := r.jobLocker.lease(ctx, r.scope, jobLease{
		owner:        owner,
		token:        idx.New().String(),
		visibleUntil: now.Add(r.cfg.JobVisibilityTimeout()),
		now:          now,
	})
	if err != nil {
		return domain.Job{}, err
	}
	return r.GetJob(ctx, jobID)
}

func (r *jobsRepo) HeartbeatJob(ctx context.Context, id int64, leaseToken string, now time.Time) (time.Time, error) {
	visibleUntil := now.Add(r.cfg.JobVisibilityTimeout())
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE batch_jobs
SET visible_until = ?, updated_at = ?
WHERE id = ? AND status = 'running' AND lease_token = ?`), toMillis(visibleUntil), toMillis(now), id, leaseToken)
	if err := requireRow(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return time.Time{}, store.ErrLeaseLost
		}
		return time.Time{}, err
	}
	return fromMillis(toMillis(visibleUntil)), nil
}

func (r *jobsRepo) CompleteJob(ctx context.Context, id int64, leaseToken string, outcome domain.JobOutcome, now time.Time) (domain.Job, error) {
	var attempts, maxAttempts int
	err := r.c.QueryRowContext(ctx, r.rebind(`SELECT attempts, max_attempts FROM batch_jobs
WHERE id = ? AND status = 'running' AND lease_token = ?`), id, leaseToken).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Job{}, store.ErrLeaseLost
	}
	if err != nil {
		return domain.Job{}, err
	}

	attempts++
	next := domain.NextJobStatus(attempts, maxAttempts, outcome)

	var finishedAt sql.NullInt64
	if next.Terminal() {
		finishedAt = sql.NullInt64{Int64: toMillis(now), Valid: true}
	}

	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE batch_jobs
SET status = ?, attempts = ?, success_count = ?, failed_count = ?, last_error = ?,
    visible_until = NULL, lease_owner = '', lease_token = '', updated_at = ?, finished_at = ?
WHERE id = ? AND status = 'running' AND lease_token = ?`),
		string(next), attempts, outcome.SuccessCount, outcome.FailedCount, outcome.LastError,
		toMillis(now), finishedAt, id, leaseToken)
	if err := requireRow(res, err); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Job{}, store.ErrLeaseLost
		}
		return domain.Job{}, err
	}
	return r.GetJob(ctx, id)
}

func (r *jobsRepo) ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE batch_jobs
SET status = 'pending', visible_until = NULL, lease_owner = '', lease_token = '', updated_at = ?
WHERE status = 'running' AND visible_until < ?`), toMillis(now), toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(row scanner) (domain.Job, error) {
	var (
		j            domain.Job
		jobType      string
		status       string
		payload      string
		visibleUntil sql.NullInt64
		created      int64
		updated      int64
		finished     sql.NullInt64
	)
	err := row.Scan(&j.ID, &jobType, &status, &payload, &j.Actor, &j.Attempts, &j.MaxAttempts,
		&visibleUntil, &j.LeaseOwner, &j.LeaseToken, &j.SuccessCount, &j.FailedCount, &j.LastError,
		&created, &updated, &finished)
	if err != nil {
		return domain.Job{}, mapNotFound(err)
	}
	j.Type = domain.JobType(jobType)
	j.Status = domain.JobStatus(status)
	j.Payload = []byte(payload)
	j.VisibleUntil = mapNullTimePtr(visibleUntil)
	j.CreatedAt = fromMillis(created)
	j.UpdatedAt = fromMillis(updated)
	j.FinishedAt = mapNullTimePtr(finished)
	return j, nil
}
