package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

// Reconciler marks sent invites accepted once the invitee shows up in the
// provider's member list.
type Reconciler struct {
	Store    store.Store
	Ledger   store.Ledger
	Provider provider.Gateway
	Now      func() time.Time
}

func NewReconciler(st store.Store, ledger store.Ledger, gw provider.Gateway) *Reconciler {
	if ledger == nil {
		ledger = st
	}
	return &Reconciler{Store: st, Ledger: ledger, Provider: gw, Now: time.Now}
}

// SyncAccount reconciles every enabled team of the account and returns how
// many invites moved to accepted. Inactive accounts are skipped.
func (r *Reconciler) SyncAccount(ctx context.Context, accountID int64) (int, error) {
	log := slogx.FromContext(ctx).With(slog.Int64("account_id", accountID))

	account, err := r.Store.Accounts().GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrInvalidAccount
		}
		return 0, err
	}
	if account.Status != domain.AccountActive {
		log.Debug("skipping inactive account", slog.String("status", string(account.Status)))
		return 0, nil
	}

	teams, err := r.Store.Teams().ListEnabledTeams(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("list teams: %w", err)
	}

	accepted := 0
	for _, team := range teams {
		n, err := r.syncTeam(ctx, account, team)
		accepted += n
		if err != nil {
			if provider.Classify(err) == provider.ClassAuth {
				if ierr := r.Store.Accounts().MarkAccountInvalid(ctx, account.ID, domain.InvalidReasonAuth, r.now()); ierr != nil {
					log.Error("failed to invalidate account", slog.Any("error", ierr))
				}
			}
			return accepted, fmt.Errorf("sync team %d: %w", team.ID, err)
		}
	}

	log.Debug("account reconciled", slog.Int("accepted", accepted))
	return accepted, nil
}

func (r *Reconciler) syncTeam(ctx context.Context, account domain.Account, team domain.Team) (int, error) {
	sent, err := r.Ledger.InviteRequests().ListSentInvites(ctx, team.ID)
	if err != nil {
		return 0, fmt.Errorf("list sent invites: %w", err)
	}
	if len(sent) == 0 {
		return 0, nil
	}

	members, err := provider.ListAllMembers(ctx, r.Provider, account.Token, team.ExternalID)
	if err != nil {
		return 0, err
	}
	byEmail := make(map[string]provider.Member, len(members))
	for _, m := range members {
		byEmail[domain.NormalizeEmail(m.Email)] = m
	}

	accepted := 0
	for _, ir := range sent {
		member, ok := byEmail[ir.Email]
		if !ok {
			continue
		}

		now := r.now()
		if err := r.Ledger.InviteRequests().MarkInviteAccepted(ctx, ir.ID, member.ID, now); err != nil {
			return accepted, fmt.Errorf("mark invite accepted: %w", err)
		}
		accepted++

		seat, err := r.Store.Seats().FindActiveSeat(ctx, team.ID, ir.Email)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return accepted, fmt.Errorf("find seat: %w", err)
		}
		if err := r.Store.Seats().SetSeatMember(ctx, seat.ID, member.ID, now); err != nil {
			return accepted, fmt.Errorf("set seat member: %w", err)
		}
	}
	return accepted, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
