package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

// InviteOrchestrator seats an email into a team on some account and drives
// the provider invite for it.
//
// Seats live in Store and invite requests in Ledger. The two may be separate
// databases, so every cross-store step is a best-effort write followed by a
// compensating write on failure.
type InviteOrchestrator struct {
	Store    store.Store
	Ledger   store.Ledger
	Provider provider.Gateway
	Settings settings.Settings
	Now      func() time.Time
}

func NewInviteOrchestrator(st store.Store, ledger store.Ledger, gw provider.Gateway, cfg settings.Settings) *InviteOrchestrator {
	if ledger == nil {
		ledger = st
	}
	return &InviteOrchestrator{
		Store:    st,
		Ledger:   ledger,
		Provider: gw,
		Settings: cfg.Normalize(),
		Now:      time.Now,
	}
}

// InviteResult is what Invite reports back. Message is safe to show to the
// person who asked for the invite.
type InviteResult struct {
	OK              bool
	Message         string
	InviteRequestID int64
	AccountID       int64
	TeamID          int64
	Duplicate       bool
}

type inviteTarget struct {
	account domain.Account
	team    domain.Team
}

// Invite seats email on the oldest active account with room and sends the
// provider invite. A retryable or auth failure moves on to another account
// while the switch budget lasts.
//
// The error is nil on success, ErrNoSeatAvailable when nothing qualifies, and
// wraps ErrInviteFailed when the provider refused. Store failures are
// returned as they are.
func (o *InviteOrchestrator) Invite(ctx context.Context, email, code string) (InviteResult, error) {
	log := slogx.FromContext(ctx)

	// 1. Validate the address.
	email = domain.NormalizeEmail(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return InviteResult{Message: MessageInvalidEmail}, ErrInvalidEmail
	}

	// 2. An existing seat for this email counts as success.
	if res, ok, err := o.findDuplicate(ctx, email); err != nil {
		return InviteResult{Message: MessageInviteFailed}, err
	} else if ok {
		log.Debug("invite is a duplicate",
			slog.Int64("account_id", res.AccountID),
			slog.Int64("team_id", res.TeamID),
		)
		return res, nil
	}

	excluded := map[int64]bool{}
	budget := o.Settings.InviteSwitchBudget

	var (
		lastRes InviteResult
		lastErr error
	)
	for {
		// 3. Pick the account and team.
		target, err := o.selectTarget(ctx, excluded)
		if errors.Is(err, ErrNoSeatAvailable) {
			if lastErr != nil {
				return lastRes, lastErr
			}
			log.Info("no seat available for invite")
			return InviteResult{Message: MessageNoSeats}, ErrNoSeatAvailable
		}
		if err != nil {
			return InviteResult{Message: MessageInviteFailed}, err
		}

		// 4. Claim a seat. Losing the race costs one account switch.
		seat, err := o.Store.Seats().ClaimSeat(ctx, target.account.ID, target.team.ID, email, o.now())
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			// A concurrent invite for the same email won.
			if res, ok, derr := o.findDuplicate(ctx, email); derr == nil && ok {
				return res, nil
			}
			return InviteResult{OK: true, Message: MessageAlreadyInvited, AccountID: target.account.ID, TeamID: target.team.ID, Duplicate: true}, nil
		case errors.Is(err, store.ErrNoSeatAvailable):
			excluded[target.account.ID] = true
			if budget <= 0 {
				if lastErr != nil {
					return lastRes, lastErr
				}
				return InviteResult{Message: MessageNoSeats}, ErrNoSeatAvailable
			}
			budget--
			log.Debug("seat claim lost, switching account",
				slog.Int64("account_id", target.account.ID),
				slog.Int("switch_budget_left", budget),
			)
			continue
		case err != nil:
			return InviteResult{Message: MessageInviteFailed}, fmt.Errorf("claim seat: %w", err)
		}

		// 5-7. Record, call the provider, settle the seat.
		res, failover, err := o.attempt(ctx, target, seat, email, code)
		if !failover {
			return res, err
		}

		excluded[target.account.ID] = true
		lastRes, lastErr = res, err
		if budget <= 0 {
			return res, err
		}
		budget--
		log.Info("invite failed over to another account",
			slog.Int64("account_id", target.account.ID),
			slog.Int("switch_budget_left", budget),
		)
	}
}

// attempt runs one provider invite on a claimed seat. failover reports
// whether another account should be tried.
func (o *InviteOrchestrator) attempt(ctx context.Context, target inviteTarget, seat domain.Seat, email, code string) (res InviteResult, failover bool, err error) {
	log := slogx.FromContext(ctx).With(
		slog.Int64("account_id", target.account.ID),
		slog.Int64("team_id", target.team.ID),
		slog.Int64("seat_id", seat.ID),
	)

	res = InviteResult{
		Message:   MessageInviteFailed,
		AccountID: target.account.ID,
		TeamID:    target.team.ID,
	}

	// The request must exist before the provider is called so a crash leaves
	// a pending row behind instead of a silent hold.
	ir, err := o.Ledger.InviteRequests().CreateInviteRequest(ctx, domain.InviteRequest{
		AccountID: target.account.ID,
		TeamID:    target.team.ID,
		Email:     email,
		Code:      code,
	}, o.now())
	if err != nil {
		log.Error("failed to create invite request", slog.Any("error", err))
		o.releaseSeat(ctx, seat)
		return res, false, fmt.Errorf("create invite request: %w", err)
	}
	res.InviteRequestID = ir.ID
	log = log.With(slog.Int64("invite_request_id", ir.ID))

	if err := o.Store.Seats().AttachInviteRequest(ctx, seat.ID, ir.ID); err != nil {
		log.Warn("failed to link seat to invite request", slog.Any("error", err))
	}

	invite, perr := o.Provider.SendInvite(ctx, target.account.Token, target.team.ExternalID, email, false)
	now := o.now()

	if perr == nil {
		if err := o.Ledger.InviteRequests().MarkInviteSent(ctx, ir.ID, invite.ID, now); err != nil {
			log.Error("failed to mark invite sent", slog.Any("error", err))
		}
		if err := o.Store.Seats().ConvertSeatToUsed(ctx, seat.ID, seat.ClaimToken, ir.ID, invite.ID, now); err != nil {
			// The hold expired during the provider call and the seat may
			// belong to someone else by now. The invite went out anyway and
			// the request stays sent.
			log.Warn("failed to convert seat to used", slog.Any("error", err))
		}
		log.Info("invite sent", slog.String("provider_invite_id", invite.ID))

		res.OK = true
		res.Message = MessageInviteSent
		return res, false, nil
	}

	o.releaseSeat(ctx, seat)

	class := provider.Classify(perr)
	if err := o.Ledger.InviteRequests().MarkInviteFailed(ctx, ir.ID, provider.ErrorCode(perr), perr.Error(), now); err != nil {
		log.Error("failed to mark invite failed", slog.Any("error", err))
	}
	log.Warn("provider rejected invite",
		slog.String("class", class.String()),
		slog.Any("error", perr),
	)

	err = fmt.Errorf("%w: %w", ErrInviteFailed, perr)
	switch class {
	case provider.ClassAuth:
		if ierr := o.Store.Accounts().MarkAccountInvalid(ctx, target.account.ID, domain.InvalidReasonAuth, now); ierr != nil {
			log.Error("failed to invalidate account", slog.Any("error", ierr))
		}
		return res, true, err
	case provider.ClassRetryable:
		return res, true, err
	default:
		return res, false, err
	}
}

// selectTarget returns the oldest active account with a free seat and an
// enabled team, default team first. Accounts whose token expired are
// invalidated on the way without costing switch budget.
func (o *InviteOrchestrator) selectTarget(ctx context.Context, excluded map[int64]bool) (inviteTarget, error) {
	log := slogx.FromContext(ctx)

	accounts, err := o.Store.Accounts().ListActiveAccounts(ctx)
	if err != nil {
		return inviteTarget{}, fmt.Errorf("list accounts: %w", err)
	}

	for _, account := range accounts {
		if excluded[account.ID] {
			continue
		}

		now := o.now()
		if account.TokenExpired(now) {
			if err := expireAccount(ctx, o.Store, account.ID, now); err != nil {
				return inviteTarget{}, fmt.Errorf("invalidate expired account: %w", err)
			}
			log.Info("account token expired, marked invalid", slog.Int64("account_id", account.ID))
			excluded[account.ID] = true
			continue
		}

		free, err := o.Store.Seats().CountFreeSeats(ctx, account.ID)
		if err != nil {
			return inviteTarget{}, fmt.Errorf("count free seats: %w", err)
		}
		if free == 0 {
			continue
		}

		teams, err := o.Store.Teams().ListEnabledTeams(ctx, account.ID)
		if err != nil {
			return inviteTarget{}, fmt.Errorf("list teams: %w", err)
		}
		if len(teams) == 0 {
			continue
		}

		return inviteTarget{account: account, team: teams[0]}, nil
	}
	return inviteTarget{}, ErrNoSeatAvailable
}

// findDuplicate looks for a held or used seat for email on any enabled team
// of an active account.
func (o *InviteOrchestrator) findDuplicate(ctx context.Context, email string) (InviteResult, bool, error) {
	accounts, err := o.Store.Accounts().ListActiveAccounts(ctx)
	if err != nil {
		return InviteResult{}, false, fmt.Errorf("list accounts: %w", err)
	}

	for _, account := range accounts {
		teams, err := o.Store.Teams().ListEnabledTeams(ctx, account.ID)
		if err != nil {
			return InviteResult{}, false, fmt.Errorf("list teams: %w", err)
		}
		for _, team := range teams {
			seat, err := o.Store.Seats().FindActiveSeat(ctx, team.ID, email)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return InviteResult{}, false, fmt.Errorf("find seat: %w", err)
			}

			if seat.InviteRequestID != 0 {
				o.recordAttempt(ctx, seat.InviteRequestID, "", "")
			}
			return InviteResult{
				OK:              true,
				Message:         MessageAlreadyInvited,
				InviteRequestID: seat.InviteRequestID,
				AccountID:       account.ID,
				TeamID:          team.ID,
				Duplicate:       true,
			}, true, nil
		}
	}
	return InviteResult{}, false, nil
}

func (o *InviteOrchestrator) releaseSeat(ctx context.Context, seat domain.Seat) {
	err := o.Store.Seats().ReleaseSeat(ctx, seat.ID, seat.ClaimToken, o.now())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSeatNotHeld):
		slogx.FromContext(ctx).Debug("seat changed hands, not releasing", slog.Int64("seat_id", seat.ID))
	default:
		// The sweeper frees the hold once it expires.
		slogx.FromContext(ctx).Error("failed to release seat",
			slog.Int64("seat_id", seat.ID),
			slog.Any("error", err),
		)
	}
}

// recordAttempt bumps the attempt counters of an existing request. The
// ledger row is a weak reference and may be gone.
func (o *InviteOrchestrator) recordAttempt(ctx context.Context, inviteRequestID int64, code, msg string) {
	err := o.Ledger.InviteRequests().RecordInviteAttempt(ctx, inviteRequestID, code, msg, o.now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slogx.FromContext(ctx).Warn("failed to record invite attempt",
			slog.Int64("invite_request_id", inviteRequestID),
			slog.Any("error", err),
		)
	}
}

func (o *InviteOrchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
