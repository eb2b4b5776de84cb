package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
)

// SeatLocker hands out one free seat under concurrency. The implementation
// is picked once per Store from the backend's capabilities.
type SeatLocker interface {
	claim(ctx context.Context, sc scope, req seatClaim) (int64, error)
}

// JobLocker hands out one leasable job under concurrency.
type JobLocker interface {
	lease(ctx context.Context, sc scope, req jobLease) (int64, error)
}

type seatClaim struct {
	accountID int64
	teamID    int64
	email     string
	heldUntil time.Time
	token     string
	now       time.Time
}

type jobLease struct {
	owner        string
	token        string
	visibleUntil time.Time
	now          time.Time
}

const (
	selectFreeSeatSQL = `SELECT id FROM seats
WHERE mother_id = ? AND status = 'free'
ORDER BY slot_index ASC
LIMIT 1`

	claimSeatSQL = `UPDATE seats
SET status = 'held', held_until = ?, team_id = ?, email = ?, claim_token = ?,
    invite_request_id = NULL, invite_id = NULL, member_id = NULL, updated_at = ?
WHERE id = ? AND status = 'free'`

	// A job is leasable when pending, or running with an elapsed lease.
	selectLeasableJobSQL = `SELECT id FROM batch_jobs
WHERE status = 'pending' OR (status = 'running' AND visible_until < ?)
ORDER BY created_at ASC, id ASC
LIMIT 1`

	leaseJobSQL = `UPDATE batch_jobs
SET status = 'running', visible_until = ?, lease_owner = ?, lease_token = ?, updated_at = ?
WHERE id = ? AND (status = 'pending' OR (status = 'running' AND visible_until < ?))`
)

// skipLockedSeatLocker locks the candidate row and skips rows other claimers
// hold, so concurrent claims never wait on each other.
type skipLockedSeatLocker struct{}

func (skipLockedSeatLocker) claim(ctx context.Context, sc scope, req seatClaim) (int64, error) {
	var seatID int64
	err := inTx(ctx, sc.c, func(q conn) error {
		err := q.QueryRowContext(ctx, sc.rebind(selectFreeSeatSQL+"\nFOR UPDATE SKIP LOCKED"), req.accountID).Scan(&seatID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNoSeatAvailable
		}
		if err != nil {
			return err
		}

		res, err := q.ExecContext(ctx, sc.rebind(claimSeatSQL),
			toMillis(req.heldUntil), req.teamID, req.email, req.token, toMillis(req.now), seatID)
		if err != nil {
			return mapWriteErr(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return store.ErrNoSeatAvailable
		}
		return nil
	})
	return seatID, err
}

// casSeatLocker reads a candidate without locking and claims it with a
// conditional update. Losing the race means another claim succeeded, so a
// bounded number of retries is enough.
type casSeatLocker struct {
	attempts int
}

func (l casSeatLocker) claim(ctx context.Context, sc scope, req seatClaim) (int64, error) {
	for attempt := 0; attempt < l.attempts; attempt++ {
		var seatID int64
		err := sc.c.QueryRowContext(ctx, sc.rebind(selectFreeSeatSQL), req.accountID).Scan(&seatID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNoSeatAvailable
		}
		if err != nil {
			return 0, err
		}

		res, err := sc.c.ExecContext(ctx, sc.rebind(claimSeatSQL),
			toMillis(req.heldUntil), req.teamID, req.email, req.token, toMillis(req.now), seatID)
		if err != nil {
			return 0, mapWriteErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return seatID, nil
		}
	}
	return 0, store.ErrNoSeatAvailable
}

type skipLockedJobLocker struct{}

func (skipLockedJobLocker) lease(ctx context.Context, sc scope, req jobLease) (int64, error) {
	var jobID int64
	err := inTx(ctx, sc.c, func(q conn) error {
		now := toMillis(req.now)
		err := q.QueryRowContext(ctx, sc.rebind(selectLeasableJobSQL+"\nFOR UPDATE SKIP LOCKED"), now).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}

		res, err := q.ExecContext(ctx, sc.rebind(leaseJobSQL),
			toMillis(req.visibleUntil), req.owner, req.token, now, jobID, now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return store.ErrNotFound
		}
		return nil
	})
	return jobID, err
}

type casJobLocker struct {
	attempts int
}

func (l casJobLocker) lease(ctx context.Context, sc scope, req jobLease) (int64, error) {
	now := toMillis(req.now)
	for attempt := 0; attempt < l.attempts; attempt++ {
		var jobID int64
		err := sc.c.QueryRowContext(ctx, sc.rebind(selectLeasableJobSQL), now).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		if err != nil {
			return 0, err
		}

		res, err := sc.c.ExecContext(ctx, sc.rebind(leaseJobSQL),
			toMillis(req.visibleUntil), req.owner, req.token, now, jobID, now)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return jobID, nil
		}
	}
	return 0, store.ErrNotFound
}
