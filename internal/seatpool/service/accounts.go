package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/cryptox"
	"github.com/aussiebroadwan/seatpool/pkg/jwtx"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

type TeamInput struct {
	ExternalID string
	Name       string
	Default    bool
}

// AccountInput describes an account to register. TokenExpiresAt is read from
// the token's exp claim when left nil.
type AccountInput struct {
	Name           string
	Token          string
	SeatLimit      int
	TokenExpiresAt *time.Time
	Teams          []TeamInput
}

// AccountSummary is an account with its seat usage.
type AccountSummary struct {
	Account   domain.Account
	FreeSeats int
	Teams     []domain.Team
}

type AccountService struct {
	Store store.Store
	Now   func() time.Time
}

func NewAccountService(st store.Store) *AccountService {
	return &AccountService{Store: st, Now: time.Now}
}

// RegisterAccount creates the account, its seats and its teams in one
// transaction. With no team marked default the first one becomes default.
func (s *AccountService) RegisterAccount(ctx context.Context, in AccountInput) (domain.Account, []domain.Team, error) {
	l := slogx.FromContext(ctx)
	now := s.now()

	// 1. Validate input
	in.Name = strings.TrimSpace(in.Name)
	in.Token = strings.TrimSpace(in.Token)
	if in.Name == "" || in.Token == "" || in.SeatLimit <= 0 || len(in.Teams) == 0 {
		return domain.Account{}, nil, fmt.Errorf("%w: name, token, seat limit and at least one team are required", ErrInvalidAccount)
	}

	in.Teams = slices.Clone(in.Teams)
	defaults := 0
	for _, t := range in.Teams {
		if strings.TrimSpace(t.ExternalID) == "" {
			return domain.Account{}, nil, fmt.Errorf("%w: team external id is required", ErrInvalidAccount)
		}
		if t.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return domain.Account{}, nil, fmt.Errorf("%w: at most one default team", ErrInvalidAccount)
	}
	if defaults == 0 {
		in.Teams[0].Default = true
	}

	// 2. Work out the token expiry
	expiresAt := in.TokenExpiresAt
	if expiresAt == nil {
		exp, err := jwtx.TokenExpiry(in.Token)
		switch {
		case err == nil:
			expiresAt = &exp
		case errors.Is(err, jwtx.ErrNoExpiry):
			l.Debug("account token has no exp claim")
		default:
			l.Debug("account token is not a JWT, expiry unknown", slog.Any("error", err))
		}
	}
	if expiresAt != nil && !now.Before(*expiresAt) {
		return domain.Account{}, nil, fmt.Errorf("%w: token expired at %s", ErrInvalidAccount, expiresAt.Format(time.RFC3339))
	}

	// 3. Create account, seats and teams together
	var (
		account domain.Account
		teams   []domain.Team
	)
	err := s.Store.WithTx(ctx, func(tx store.Store) error {
		var err error
		account, err = tx.Accounts().CreateAccount(ctx, domain.Account{
			Name:           in.Name,
			Status:         domain.AccountActive,
			SeatLimit:      in.SeatLimit,
			Token:          in.Token,
			TokenExpiresAt: expiresAt,
		}, now)
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		for _, t := range in.Teams {
			team, err := tx.Teams().CreateTeam(ctx, domain.Team{
				AccountID:  account.ID,
				ExternalID: strings.TrimSpace(t.ExternalID),
				Name:       t.Name,
				Enabled:    true,
				IsDefault:  t.Default,
			}, now)
			if err != nil {
				return fmt.Errorf("create team %q: %w", t.ExternalID, err)
			}
			teams = append(teams, team)
		}
		return nil
	})
	if err != nil {
		l.Error("failed to register account", slog.String("name", in.Name), slog.Any("error", err))
		return domain.Account{}, nil, err
	}

	l.Info("account registered",
		slog.Int64("account_id", account.ID),
		slog.String("name", account.Name),
		slog.Int("seat_limit", account.SeatLimit),
		slog.String("token_fingerprint", cryptox.FingerprintToken(in.Token)),
	)
	return account, teams, nil
}

// DisableAccount takes the account out of rotation. Existing seats stay.
func (s *AccountService) DisableAccount(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, domain.AccountDisabled)
}

// ActivateAccount puts an invalid or disabled account back into rotation,
// for example after its token was replaced out of band.
func (s *AccountService) ActivateAccount(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, domain.AccountActive)
}

// DeleteAccount removes the account with its seats and teams. Invite requests
// in the ledger keep their weak reference.
func (s *AccountService) DeleteAccount(ctx context.Context, id int64) error {
	if err := s.Store.Accounts().DeleteAccount(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidAccount
		}
		return err
	}
	slogx.FromContext(ctx).Info("account deleted", slog.Int64("account_id", id))
	return nil
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	accounts, err := s.Store.Accounts().ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		free, err := s.Store.Seats().CountFreeSeats(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		teams, err := s.Store.Teams().ListEnabledTeams(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, AccountSummary{Account: a, FreeSeats: free, Teams: teams})
	}
	return out, nil
}

func (s *AccountService) setStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	if err := s.Store.Accounts().SetAccountStatus(ctx, id, status, s.now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidAccount
		}
		return err
	}
	slogx.FromContext(ctx).Info("account status changed",
		slog.Int64("account_id", id),
		slog.String("status", string(status)),
	)
	return nil
}

func (s *AccountService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
