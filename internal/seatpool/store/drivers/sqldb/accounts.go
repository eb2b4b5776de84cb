package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
)

type accountsRepo struct {
	scope
}

const accountColumns = `id, name, status, seat_limit, token_sealed, token_expires_at, invalid_reason, created_at, updated_at`

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account, now time.Time) (domain.Account, error) {
	if a.SeatLimit <= 0 {
		return domain.Account{}, fmt.Errorf("sqldb: seat limit must be positive, got %d", a.SeatLimit)
	}
	if a.Status == "" {
		a.Status = domain.AccountActive
	}

	sealed, err := r.sealToken(a.Token)
	if err != nil {
		return domain.Account{}, err
	}

	err = inTx(ctx, r.c, func(q conn) error {
		row := q.QueryRowContext(ctx, r.rebind(`INSERT INTO accounts
    (name, status, seat_limit, token_sealed, token_expires_at, invalid_reason, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`),
			a.Name, string(a.Status), a.SeatLimit, sealed, mapOptionalTime(a.TokenExpiresAt),
			a.InvalidReason, toMillis(now), toMillis(now))
		if err := row.Scan(&a.ID); err != nil {
			return mapWriteErr(err)
		}

		for slot := 1; slot <= a.SeatLimit; slot++ {
			_, err := q.ExecContext(ctx, r.rebind(`INSERT INTO seats (mother_id, slot_index, status, updated_at)
VALUES (?, ?, 'free', ?)`), a.ID, slot, toMillis(now))
			if err != nil {
				return mapWriteErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	a.CreatedAt = fromMillis(toMillis(now))
	a.UpdatedAt = a.CreatedAt
	return a, nil
}

func (r *accountsRepo) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id)
	return r.scanAccount(row)
}

func (r *accountsRepo) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE status = 'active'
ORDER BY created_at ASC, id ASC`)
}

func (r *accountsRepo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC, id ASC`)
}

func (r *accountsRepo) ListExpiredAccounts(ctx context.Context, now time.Time) ([]domain.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE status = 'active' AND token_expires_at IS NOT NULL AND token_expires_at <= ?
ORDER BY created_at ASC, id ASC`, toMillis(now))
}

func (r *accountsRepo) MarkAccountInvalid(ctx context.Context, id int64, reason string, now time.Time) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE accounts
SET status = 'invalid', invalid_reason = ?, updated_at = ?
WHERE id = ? AND status = 'active'`), reason, toMillis(now), id)
	if err := requireRow(res, err); !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Nothing changed: either the account is gone or it is already
	// inactive, which is fine.
	_, err = r.GetAccount(ctx, id)
	return err
}

func (r *accountsRepo) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus, now time.Time) error {
	query := `UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`
	if status == domain.AccountActive {
		query = `UPDATE accounts SET status = ?, invalid_reason = '', updated_at = ? WHERE id = ?`
	}
	res, err := r.c.ExecContext(ctx, r.rebind(query), string(status), toMillis(now), id)
	return requireRow(res, err)
}

func (r *accountsRepo) DeleteAccount(ctx context.Context, id int64) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`DELETE FROM accounts WHERE id = ?`), id)
	return requireRow(res, err)
}

func (r *accountsRepo) list(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := r.c.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *accountsRepo) scanAccount(row scanner) (domain.Account, error) {
	var (
		a         domain.Account
		status    string
		sealed    []byte
		expiresAt sql.NullInt64
		created   int64
		updated   int64
	)
	err := row.Scan(&a.ID, &a.Name, &status, &a.SeatLimit, &sealed, &expiresAt,
		&a.InvalidReason, &created, &updated)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	token, err := r.openToken(sealed)
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqldb: open token of account %d: %w", a.ID, err)
	}

	a.Status = domain.AccountStatus(status)
	a.Token = token
	a.TokenExpiresAt = mapNullTimePtr(expiresAt)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func (r *accountsRepo) sealToken(token string) ([]byte, error) {
	if r.sealer == nil {
		return []byte(token), nil
	}
	return r.sealer.Seal([]byte(token))
}

func (r *accountsRepo) openToken(sealed []byte) (string, error) {
	if r.sealer == nil {
		return string(sealed), nil
	}
	plain, err := r.sealer.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
