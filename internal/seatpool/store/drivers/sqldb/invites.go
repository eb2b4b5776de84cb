package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
)

type invitesRepo struct {
	scope
}

const inviteColumns = `id, mother_id, team_id, email, code, status, error_code, error_msg, attempt_count,
    last_attempt_at, invite_id, member_id, created_at, updated_at`

// AbandonedCode marks pending requests the sweeper gave up on.
const AbandonedCode = "abandoned"

func (r *invitesRepo) CreateInviteRequest(ctx context.Context, ir domain.InviteRequest, now time.Time) (domain.InviteRequest, error) {
	ir.Email = domain.NormalizeEmail(ir.Email)
	ir.Status = domain.InvitePending

	row := r.c.QueryRowContext(ctx, r.rebind(`INSERT INTO invite_requests
    (mother_id, team_id, email, code, status, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', ?, ?)
RETURNING id`),
		ir.AccountID, ir.TeamID, ir.Email, ir.Code, toMillis(now), toMillis(now))
	if err := row.Scan(&ir.ID); err != nil {
		return domain.InviteRequest{}, mapWriteErr(err)
	}

	ir.CreatedAt = fromMillis(toMillis(now))
	ir.UpdatedAt = ir.CreatedAt
	return ir, nil
}

func (r *invitesRepo) GetInviteRequest(ctx context.Context, id int64) (domain.InviteRequest, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+inviteColumns+` FROM invite_requests WHERE id = ?`), id)
	return scanInvite(row)
}

// MarkInviteSent never moves an accepted or cancelled request back to sent.
func (r *invitesRepo) MarkInviteSent(ctx context.Context, id int64, providerInviteID string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE invite_requests
SET status = CASE WHEN status IN ('pending', 'sent', 'failed') THEN 'sent' ELSE status END,
    invite_id = ?, error_code = '', error_msg = '',
    attempt_count = attempt_count + 1, last_attempt_at = ?, updated_at = ?
WHERE id = ?`), providerInviteID, toMillis(now), toMillis(now), id)
	return requireRow(res, err)
}

func (r *invitesRepo) MarkInviteFailed(ctx context.Context, id int64, code, msg string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE invite_requests
SET status = 'failed', error_code = ?, error_msg = ?,
    attempt_count = attempt_count + 1, last_attempt_at = ?, updated_at = ?
WHERE id = ?`), code, msg, toMillis(now), toMillis(now), id)
	return requireRow(res, err)
}

func (r *invitesRepo) RecordInviteAttempt(ctx context.Context, id int64, code, msg string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE invite_requests
SET error_code = ?, error_msg = ?,
    attempt_count = attempt_count + 1, last_attempt_at = ?, updated_at = ?
WHERE id = ?`), code, msg, toMillis(now), toMillis(now), id)
	return requireRow(res, err)
}

func (r *invitesRepo) MarkInviteAccepted(ctx context.Context, id int64, memberID string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE invite_requests
SET status = 'accepted', member_id = ?, updated_at = ?
WHERE id = ?`), memberID, toMillis(now), id)
	return requireRow(res, err)
}

func (r *invitesRepo) MarkInviteCancelled(ctx context.Context, id int64, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE invite_requests
SET status = 'cancelled', updated_at = ?
WHERE id = ?`), toMillis(now), id)
	return requireRow(res, err)
}

func (r *invitesRepo) ListSentInvites(ctx context.Context, teamID int64) ([]domain.InviteRequest, error) {
	rows, err := r.c.QueryContext(ctx, r.rebind(`SELECT `+inviteColumns+` FROM invite_requests
WHERE team_id = ? AND status = 'sent'
ORDER BY id ASC`), teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InviteRequest
	for rows.Next() {
		ir, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ir)
	}
	return out, rows.Err()
}

func (r *invitesRepo) LatestInviteFor(ctx context.Context, teamID int64, email string) (domain.InviteRequest, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+inviteColumns+` FROM invite_requests
WHERE team_id = ? AND email = ?
ORDER BY id DESC
LIMIT 1`), teamID, domain.NormalizeEmail(email))
	return scanInvite(row)
}

func (r *invitesRepo) AbandonPendingInvites(ctx context.Context, before, now time.Time) (int64, error) {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE invite_requests
SET status = 'failed', error_code = ?, error_msg = 'no provider outcome was recorded', updated_at = ?
WHERE status = 'pending' AND created_at < ?`), AbandonedCode, toMillis(now), toMillis(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanInvite(row scanner) (domain.InviteRequest, error) {
	var (
		ir          domain.InviteRequest
		status      string
		lastAttempt sql.NullInt64
		created     int64
		updated     int64
	)
	err := row.Scan(&ir.ID, &ir.AccountID, &ir.TeamID, &ir.Email, &ir.Code, &status, &ir.ErrorCode,
		&ir.ErrorMsg, &ir.AttemptCount, &lastAttempt, &ir.InviteID, &ir.MemberID, &created, &updated)
	if err != nil {
		return domain.InviteRequest{}, mapNotFound(err)
	}
	ir.Status = domain.InviteStatus(status)
	ir.LastAttemptAt = mapNullTimePtr(lastAttempt)
	ir.CreatedAt = fromMillis(created)
	ir.UpdatedAt = fromMillis(updated)
	return ir, nil
}
