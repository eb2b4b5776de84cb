package sqldb

import (
	"context"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
)

type teamsRepo struct {
	scope
}

const teamColumns = `id, account_id, external_id, name, enabled, is_default, created_at`

func (r *teamsRepo) CreateTeam(ctx context.Context, t domain.Team, now time.Time) (domain.Team, error) {
	err := inTx(ctx, r.c, func(q conn) error {
		if t.IsDefault {
			_, err := q.ExecContext(ctx, r.rebind(`UPDATE teams SET is_default = 0 WHERE account_id = ?`), t.AccountID)
			if err != nil {
				return err
			}
		}

		row := q.QueryRowContext(ctx, r.rebind(`INSERT INTO teams
    (account_id, external_id, name, enabled, is_default, created_at)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id`),
			t.AccountID, t.ExternalID, t.Name, boolToInt(t.Enabled), boolToInt(t.IsDefault), toMillis(now))
		return mapWriteErr(row.Scan(&t.ID))
	})
	if err != nil {
		return domain.Team{}, err
	}

	t.CreatedAt = fromMillis(toMillis(now))
	return t, nil
}

func (r *teamsRepo) GetTeam(ctx context.Context, id int64) (domain.Team, error) {
	row := r.c.QueryRowContext(ctx, r.rebind(`SELECT `+teamColumns+` FROM teams WHERE id = ?`), id)
	return scanTeam(row)
}

func (r *teamsRepo) ListEnabledTeams(ctx context.Context, accountID int64) ([]domain.Team, error) {
	rows, err := r.c.QueryContext(ctx, r.rebind(`SELECT `+teamColumns+` FROM teams
WHERE account_id = ? AND enabled = 1
ORDER BY is_default DESC, id ASC`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *teamsRepo) SetTeamEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE teams SET enabled = ? WHERE id = ?`), boolToInt(enabled), id)
	return requireRow(res, err)
}

func (r *teamsRepo) DisableAccountTeams(ctx context.Context, accountID int64) (int64, error) {
	res, err := r.c.ExecContext(ctx, r.rebind(`UPDATE teams SET enabled = 0 WHERE account_id = ? AND enabled = 1`), accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTeam(row scanner) (domain.Team, error) {
	var (
		t                  domain.Team
		enabled, isDefault int
		created            int64
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.ExternalID, &t.Name, &enabled, &isDefault, &created); err != nil {
		return domain.Team{}, mapNotFound(err)
	}
	t.Enabled = enabled != 0
	t.IsDefault = isDefault != 0
	t.CreatedAt = fromMillis(created)
	return t, nil
}
