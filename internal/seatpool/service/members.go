package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

type seatContext struct {
	seat    domain.Seat
	team    domain.Team
	account domain.Account
}

// Resend asks the provider to send the invite for an active seat again.
// Only the invite ids change; the seat keeps its state.
func (o *InviteOrchestrator) Resend(ctx context.Context, teamID int64, email string) error {
	sc, err := o.locate(ctx, teamID, email)
	if err != nil {
		return err
	}
	log := sc.logger(ctx)

	invite, err := o.Provider.SendInvite(ctx, sc.account.Token, sc.team.ExternalID, sc.seat.Email, true)
	if err != nil {
		o.providerFailed(ctx, sc, err)
		return fmt.Errorf("%w: %w", ErrInviteFailed, err)
	}

	now := o.now()
	if err := o.Store.Seats().UpdateSeatInvite(ctx, sc.seat.ID, invite.ID, now); err != nil {
		return fmt.Errorf("update seat invite: %w", err)
	}
	if sc.seat.InviteRequestID != 0 {
		err := o.Ledger.InviteRequests().MarkInviteSent(ctx, sc.seat.InviteRequestID, invite.ID, now)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("failed to mark invite sent", slog.Any("error", err))
		}
	}

	log.Info("invite resent", slog.String("provider_invite_id", invite.ID))
	return nil
}

// Cancel withdraws the pending provider invite and frees the seat.
func (o *InviteOrchestrator) Cancel(ctx context.Context, teamID int64, email string) error {
	sc, err := o.locate(ctx, teamID, email)
	if err != nil {
		return err
	}

	if sc.seat.InviteID != "" {
		err := o.Provider.CancelInvite(ctx, sc.account.Token, sc.team.ExternalID, sc.seat.InviteID)
		if err != nil && !provider.IsNotFound(err) {
			o.providerFailed(ctx, sc, err)
			return fmt.Errorf("cancel invite: %w", err)
		}
	}

	o.settleRemoved(ctx, sc)
	sc.logger(ctx).Info("invite cancelled")
	return nil
}

// Remove takes the member out of the team, or withdraws the invite when it
// was never accepted, and frees the seat.
func (o *InviteOrchestrator) Remove(ctx context.Context, teamID int64, email string) error {
	sc, err := o.locate(ctx, teamID, email)
	if err != nil {
		return err
	}
	log := sc.logger(ctx)

	memberID := sc.seat.MemberID
	if memberID == "" {
		member, found, err := provider.FindMember(ctx, o.Provider, sc.account.Token, sc.team.ExternalID, sc.seat.Email)
		if err != nil {
			o.providerFailed(ctx, sc, err)
			return fmt.Errorf("find member: %w", err)
		}
		if found {
			memberID = member.ID
		}
	}

	switch {
	case memberID != "":
		err = o.Provider.DeleteMember(ctx, sc.account.Token, sc.team.ExternalID, memberID)
	case sc.seat.InviteID != "":
		err = o.Provider.CancelInvite(ctx, sc.account.Token, sc.team.ExternalID, sc.seat.InviteID)
	}
	if err != nil && !provider.IsNotFound(err) {
		o.providerFailed(ctx, sc, err)
		return fmt.Errorf("remove member: %w", err)
	}

	o.settleRemoved(ctx, sc)
	log.Info("member removed", slog.String("member_id", memberID))
	return nil
}

// locate finds the active seat for (team, email) and the account that owns
// it.
func (o *InviteOrchestrator) locate(ctx context.Context, teamID int64, email string) (seatContext, error) {
	seat, err := o.Store.Seats().FindActiveSeat(ctx, teamID, domain.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return seatContext{}, ErrSeatNotFound
	}
	if err != nil {
		return seatContext{}, fmt.Errorf("find seat: %w", err)
	}

	team, err := o.Store.Teams().GetTeam(ctx, seat.TeamID)
	if err != nil {
		return seatContext{}, fmt.Errorf("get team: %w", err)
	}
	account, err := o.Store.Accounts().GetAccount(ctx, team.AccountID)
	if err != nil {
		return seatContext{}, fmt.Errorf("get account: %w", err)
	}
	if account.Status != domain.AccountActive {
		return seatContext{}, ErrAccountUnavailable
	}
	return seatContext{seat: seat, team: team, account: account}, nil
}

// providerFailed records the failure on the request and invalidates the
// account on 401/403.
func (o *InviteOrchestrator) providerFailed(ctx context.Context, sc seatContext, err error) {
	log := sc.logger(ctx)
	class := provider.Classify(err)
	log.Warn("provider call failed", slog.String("class", class.String()), slog.Any("error", err))

	if sc.seat.InviteRequestID != 0 {
		o.recordAttempt(ctx, sc.seat.InviteRequestID, provider.ErrorCode(err), err.Error())
	}
	if class == provider.ClassAuth {
		if ierr := o.Store.Accounts().MarkAccountInvalid(ctx, sc.account.ID, domain.InvalidReasonAuth, o.now()); ierr != nil {
			log.Error("failed to invalidate account", slog.Any("error", ierr))
		}
	}
}

// settleRemoved frees the seat and closes the request after a successful
// cancel or removal.
func (o *InviteOrchestrator) settleRemoved(ctx context.Context, sc seatContext) {
	o.releaseSeat(ctx, sc.seat)
	if sc.seat.InviteRequestID == 0 {
		return
	}
	err := o.Ledger.InviteRequests().MarkInviteCancelled(ctx, sc.seat.InviteRequestID, o.now())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		sc.logger(ctx).Error("failed to mark invite cancelled", slog.Any("error", err))
	}
}

func (sc seatContext) logger(ctx context.Context) *slog.Logger {
	return slogx.FromContext(ctx).With(
		slog.Int64("account_id", sc.account.ID),
		slog.Int64("team_id", sc.team.ID),
		slog.Int64("seat_id", sc.seat.ID),
	)
}
