package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
)

// SweepReport counts what one maintenance pass changed.
type SweepReport struct {
	SeatsReleased    int64
	LeasesReclaimed  int64
	AccountsExpired  int
	InvitesAbandoned int64
	InvitesAccepted  int
}

// MaintenanceSweeper periodically repairs state left behind by crashed
// workers and expired credentials.
type MaintenanceSweeper struct {
	Store      store.Store
	Ledger     store.Ledger
	Reconciler *Reconciler
	Settings   settings.Settings
	Logger     *slog.Logger
	Now        func() time.Time

	mu     sync.Mutex
	stopCh chan struct{} // nil while stopped
	doneCh chan struct{}
}

// NewMaintenanceSweeper creates a sweeper. reconciler may be nil to skip the
// accepted-invite pass.
func NewMaintenanceSweeper(st store.Store, ledger store.Ledger, reconciler *Reconciler, cfg settings.Settings, logger *slog.Logger) *MaintenanceSweeper {
	if ledger == nil {
		ledger = st
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceSweeper{
		Store:      st,
		Ledger:     ledger,
		Reconciler: reconciler,
		Settings:   cfg.Normalize(),
		Logger:     logger,
		Now:        time.Now,
	}
}

// Start runs a pass immediately and then every maintenance interval until
// Stop is called. Starting a running sweeper is a no-op; a stopped sweeper
// can be started again.
func (s *MaintenanceSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
	s.Logger.Info("maintenance sweeper started", slog.Duration("interval", s.Settings.MaintenanceInterval()))
}

// Stop blocks until an in-flight pass has finished. Stopping a sweeper that
// is not running is a no-op.
func (s *MaintenanceSweeper) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}

	close(stopCh)
	<-doneCh
	s.Logger.Info("maintenance sweeper stopped")
}

func (s *MaintenanceSweeper) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.Settings.MaintenanceInterval())
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(slogx.WithContext(context.Background(), s.Logger))
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	_, _ = s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		case <-stopCh:
			return
		}
	}
}

// RunOnce runs every sweep once. Each sweep is independent: a failure is
// logged and the remaining sweeps still run. The joined errors are returned.
func (s *MaintenanceSweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	log := s.Logger
	log.Debug("starting maintenance pass")

	var (
		report SweepReport
		errs   []error
		err    error
	)

	if report.SeatsReleased, err = s.ReclaimStaleSeats(ctx); err != nil {
		log.Error("failed to release stale seats", slog.Any("error", err))
		errs = append(errs, err)
	}
	if report.LeasesReclaimed, err = s.ReclaimStaleLeases(ctx); err != nil {
		log.Error("failed to reclaim stale leases", slog.Any("error", err))
		errs = append(errs, err)
	}
	if report.AccountsExpired, err = s.ExpireAccounts(ctx); err != nil {
		log.Error("failed to expire accounts", slog.Any("error", err))
		errs = append(errs, err)
	}
	if report.InvitesAbandoned, err = s.AbandonStaleInvites(ctx); err != nil {
		log.Error("failed to abandon stale invites", slog.Any("error", err))
		errs = append(errs, err)
	}
	if report.InvitesAccepted, err = s.Reconcile(ctx); err != nil {
		log.Error("failed to reconcile accounts", slog.Any("error", err))
		errs = append(errs, err)
	}

	log.Info("maintenance pass completed",
		slog.Int64("seats_released", report.SeatsReleased),
		slog.Int64("leases_reclaimed", report.LeasesReclaimed),
		slog.Int("accounts_expired", report.AccountsExpired),
		slog.Int64("invites_abandoned", report.InvitesAbandoned),
		slog.Int("invites_accepted", report.InvitesAccepted),
	)
	return report, errors.Join(errs...)
}

// ReclaimStaleSeats frees held seats whose hold expired.
func (s *MaintenanceSweeper) ReclaimStaleSeats(ctx context.Context) (int64, error) {
	return s.Store.Seats().ReleaseExpiredSeats(ctx, s.now())
}

// ReclaimStaleLeases returns running jobs with an expired lease to pending.
func (s *MaintenanceSweeper) ReclaimStaleLeases(ctx context.Context) (int64, error) {
	return s.Store.Jobs().ReclaimExpiredLeases(ctx, s.now())
}

// ExpireAccounts invalidates active accounts whose token expired, disables
// their teams and drops their seats.
func (s *MaintenanceSweeper) ExpireAccounts(ctx context.Context) (int, error) {
	now := s.now()
	accounts, err := s.Store.Accounts().ListExpiredAccounts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired accounts: %w", err)
	}

	expired := 0
	var errs []error
	for _, a := range accounts {
		if err := expireAccount(ctx, s.Store, a.ID, now); err != nil {
			errs = append(errs, fmt.Errorf("expire account %d: %w", a.ID, err))
			continue
		}
		expired++
		s.Logger.Info("account token expired",
			slog.Int64("account_id", a.ID),
			slog.String("name", a.Name),
		)
	}
	return expired, errors.Join(errs...)
}

// expireAccount invalidates the account for an expired token, disables its
// teams and drops its seats in one transaction.
func expireAccount(ctx context.Context, st store.Store, accountID int64, now time.Time) error {
	return st.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Accounts().MarkAccountInvalid(ctx, accountID, domain.InvalidReasonTokenExpired, now); err != nil {
			return err
		}
		if _, err := tx.Teams().DisableAccountTeams(ctx, accountID); err != nil {
			return err
		}
		_, err := tx.Seats().DeleteAccountSeats(ctx, accountID)
		return err
	})
}

// AbandonStaleInvites fails pending invite requests older than the seat hold
// TTL. Their seat hold has lapsed, so no worker will finish them.
func (s *MaintenanceSweeper) AbandonStaleInvites(ctx context.Context) (int64, error) {
	now := s.now()
	return s.Ledger.InviteRequests().AbandonPendingInvites(ctx, now.Add(-s.Settings.SeatHoldTTL()), now)
}

// Reconcile syncs every active account and returns how many invites moved to
// accepted.
func (s *MaintenanceSweeper) Reconcile(ctx context.Context) (int, error) {
	if s.Reconciler == nil {
		return 0, nil
	}

	accounts, err := s.Store.Accounts().ListActiveAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active accounts: %w", err)
	}

	accepted := 0
	var errs []error
	for _, a := range accounts {
		n, err := s.Reconciler.SyncAccount(ctx, a.ID)
		accepted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", a.ID, err))
		}
	}
	return accepted, errors.Join(errs...)
}

func (s *MaintenanceSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
