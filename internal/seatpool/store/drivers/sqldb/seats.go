package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/idx"
)

type seatsRepo struct {
	scope
}

const seatColumns = `id, mother_id, slot_index, status, held_until, team_id, email, invite_request_id, invite_id, member_id, claim_token, updated_at`

func (r *seatsRepo) ClaimSeat(ctx context.Context, accountID, teamID int64, email string, now time.Time) (domain.Seat, error) {
	seatID, err := r.seatLocker.claim(ctx, r.scope, seatClaim{
		accountID: accountID,
		teamID:    teamID,
		email:     domain.NormalizeEmail(email),
		heldUntil: now.Add(r.cfg.SeatHoldTTL()),
		token:     idx.New().String(),
		now:       now,
	})
	if err != nil {
		return domain.Seat{}, err
	}
	return r.GetSeat(ctx, seatID)
}

func (r *seatsRepo) ReleaseSeat(ctx context.Context, seatID int64, claimToken string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE seats
SET status = 'free', held_until = NULL, team_id = NULL, email = NULL,
    invite_request_id = NULL, invite_id = NULL, member_id = NULL, claim_token = '', updated_at = ?
WHERE id = ? AND status <> 'free' AND claim_token = ?`), toMillis(now), seatID, claimToken)
	if err := requireRow(res, err); !errors.Is(err, store.ErrNotFound) {
		return err
	}

	seat, err := r.GetSeat(ctx, seatID)
	if err != nil {
		return err
	}
	if seat.Status == domain.SeatFree {
		return nil
	}
	// Swept and claimed again by someone else.
	return store.ErrSeatNotHeld
}

func (r *seatsRepo) ConvertSeatToUsed(ctx context.Context, seatID int64, claimToken string, inviteRequestID int64, providerInviteID string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE seats
SET status = 'used', held_until = NULL, invite_request_id = COALESCE(?, invite_request_id),
    invite_id = ?, updated_at = ?
WHERE id = ? AND status = 'held' AND claim_token = ?`),
		nullID(inviteRequestID), nullString(providerInviteID), toMillis(now), seatID, claimToken)
	if err := requireRow(res, err); !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if _, err := r.GetSeat(ctx, seatID); err != nil {
		return err
	}
	return store.ErrSeatNotHeld
}

func (r *seatsRepo) AttachInviteRequest(ctx context.Context, seatID, inviteRequestID int64) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE seats SET invite_request_id = ?
WHERE id = ? AND status <> 'free'`), inviteRequestID, seatID)
	return requireRow(res, err)
}

func (r *seatsRepo) GetSeat(ctx context.Context, id int64) (domain.Seat, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+seatColumns+` FROM seats WHERE id = ?`), id)
	return scanSeat(row)
}

func (r *seatsRepo) FindActiveSeat(ctx context.Context, teamID int64, email string) (domain.Seat, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+seatColumns+` FROM seats
WHERE team_id = ? AND email = ? AND status IN ('held', 'used')`), teamID, domain.NormalizeEmail(email))
	return scanSeat(row)
}

func (r *seatsRepo) CountFreeSeats(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := r.c.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM seats
WHERE mother_id = ? AND status = 'free'`), accountID).Scan(&n)
	return n, err
}

func (r *seatsRepo) ListAccountSeats(ctx context.Context, accountID int64) ([]domain.Seat, error) {
	rows, err := r.c.QueryContext(ctx, r.rebind(`SELECT `+seatColumns+` FROM seats
WHERE mother_id = ?
ORDER BY slot_index ASC`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *seatsRepo) UpdateSeatInvite(ctx context.Context, seatID int64, providerInviteID string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE seats SET invite_id = ?, updated_at = ?
WHERE id = ? AND status <> 'free'`), nullString(providerInviteID), toMillis(now), seatID)
	return requireRow(res, err)
}

func (r *seatsRepo) SetSeatMember(ctx context.Context, seatID int64, memberID string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE seats SET member_id = ?, updated_at = ?
WHERE id = ? AND status <> 'free'`), nullString(memberID), toMillis(now), seatID)
	return requireRow(res, err)
}

func (r *seatsRepo) ReleaseExpiredSeats(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE seats
SET status = 'free', held_until = NULL, team_id = NULL, email = NULL,
    invite_request_id = NULL, invite_id = NULL, member_id = NULL, claim_token = '', updated_at = ?
WHERE status = 'held' AND held_until < ?`), toMillis(now), toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *seatsRepo) DeleteAccountSeats(ctx context.Context, accountID int64) (int64, error) {
	res, err := r.c.ExecContext(ctx, r.rebind(`DELETE FROM seats WHERE mother_id = ?`), accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSeat(row scanner) (domain.Seat, error) {
	var (
		s               domain.Seat
		status          string
		heldUntil       sql.NullInt64
		teamID          sql.NullInt64
		email           sql.NullString
		inviteRequestID sql.NullInt64
		inviteID        sql.NullString
		memberID        sql.NullString
		updated         int64
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.SlotIndex, &status, &heldUntil, &teamID, &email,
		&inviteRequestID, &inviteID, &memberID, &s.ClaimToken, &updated)
	if err != nil {
		return domain.Seat{}, mapNotFound(err)
	}
	s.Status = domain.SeatStatus(status)
	s.HeldUntil = mapNullTimePtr(heldUntil)
	s.TeamID = mapNullInt(teamID)
	s.Email = mapNullString(email)
	s.InviteRequestID = mapNullInt(inviteRequestID)
	s.InviteID = mapNullString(inviteID)
	s.MemberID = mapNullString(memberID)
	s.UpdatedAt = fromMillis(updated)
	return s, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
