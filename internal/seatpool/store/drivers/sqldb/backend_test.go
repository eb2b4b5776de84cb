package sqldb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/stretchr/testify/require"
)

// runBackendSuite runs the behaviour every backend and locking strategy must
// share.
func runBackendSuite(t *testing.T, open opener, opts Options) {
	cfg := settings.Default()

	t.Run("claims lowest free slot", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 3)

		first, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "A@Example.com", t0)
		require.NoError(t, err)
		require.Equal(t, 1, first.SlotIndex)
		require.Equal(t, domain.SeatHeld, first.Status)
		require.Equal(t, "a@example.com", first.Email)
		require.Equal(t, team.ID, first.TeamID)
		require.NotNil(t, first.HeldUntil)
		require.Equal(t, t0.Add(cfg.SeatHoldTTL()), *first.HeldUntil)

		second, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "b@example.com", t0)
		require.NoError(t, err)
		require.Equal(t, 2, second.SlotIndex)

		require.NoError(t, s.Seats().ReleaseSeat(ctx, first.ID, first.ClaimToken, t0))

		third, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "c@example.com", t0)
		require.NoError(t, err)
		require.Equal(t, 1, third.SlotIndex)

		free, err := s.Seats().CountFreeSeats(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, 1, free)
	})

	t.Run("claim on a full account reports no seat", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 1)

		_, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "a@example.com", t0)
		require.NoError(t, err)

		_, err = s.Seats().ClaimSeat(ctx, a.ID, team.ID, "b@example.com", t0)
		require.ErrorIs(t, err, store.ErrNoSeatAvailable)
	})

	t.Run("second seat for the same team and email is rejected", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 2)

		_, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "a@example.com", t0)
		require.NoError(t, err)

		_, err = s.Seats().ClaimSeat(ctx, a.ID, team.ID, "A@example.com", t0)
		require.ErrorIs(t, err, store.ErrAlreadyExists)

		free, err := s.Seats().CountFreeSeats(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, 1, free)
	})

	t.Run("release clears the seat and is idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 1)

		seat, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "a@example.com", t0)
		require.NoError(t, err)
		require.NoError(t, s.Seats().AttachInviteRequest(ctx, seat.ID, 42))
		require.NoError(t, s.Seats().ConvertSeatToUsed(ctx, seat.ID, seat.ClaimToken, 0, "inv-1", t0))

		require.NoError(t, s.Seats().ReleaseSeat(ctx, seat.ID, seat.ClaimToken, t0))
		require.NoError(t, s.Seats().ReleaseSeat(ctx, seat.ID, seat.ClaimToken, t0))

		got, err := s.Seats().GetSeat(ctx, seat.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SeatFree, got.Status)
		require.Zero(t, got.TeamID)
		require.Empty(t, got.Email)
		require.Zero(t, got.InviteRequestID)
		require.Empty(t, got.InviteID)
		require.Nil(t, got.HeldUntil)
		require.Empty(t, got.ClaimToken)

		require.ErrorIs(t, s.Seats().ReleaseSeat(ctx, 9999, "", t0), store.ErrNotFound)
	})

	t.Run("convert only moves held seats", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 2)

		seat, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "a@example.com", t0)
		require.NoError(t, err)
		require.NoError(t, s.Seats().AttachInviteRequest(ctx, seat.ID, 7))

		require.NoError(t, s.Seats().ConvertSeatToUsed(ctx, seat.ID, seat.ClaimToken, 0, "inv-1", t0))
		got, err := s.Seats().GetSeat(ctx, seat.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SeatUsed, got.Status)
		require.Equal(t, int64(7), got.InviteRequestID)
		require.Equal(t, "inv-1", got.InviteID)
		require.Nil(t, got.HeldUntil)

		require.ErrorIs(t, s.Seats().ConvertSeatToUsed(ctx, seat.ID, seat.ClaimToken, 7, "inv-1", t0), store.ErrSeatNotHeld)

		seats, err := s.Seats().ListAccountSeats(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, seats, 2)
		require.ErrorIs(t, s.Seats().ConvertSeatToUsed(ctx, seats[1].ID, "", 7, "inv-2", t0), store.ErrSeatNotHeld)

		require.ErrorIs(t, s.Seats().ConvertSeatToUsed(ctx, 9999, "", 7, "inv-2", t0), store.ErrNotFound)
	})

	t.Run("late writes from a swept hold leave the next holder alone", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 1)
		swept := t0.Add(cfg.SeatHoldTTL() + time.Second)

		first, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "a@example.com", t0)
		require.NoError(t, err)
		require.NotEmpty(t, first.ClaimToken)

		n, err := s.Seats().ReleaseExpiredSeats(ctx, swept)
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		second, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "b@example.com", swept)
		require.NoError(t, err)
		require.Equal(t, first.ID, second.ID)
		require.NotEqual(t, first.ClaimToken, second.ClaimToken)

		err = s.Seats().ConvertSeatToUsed(ctx, first.ID, first.ClaimToken, 1, "inv-a", swept)
		require.ErrorIs(t, err, store.ErrSeatNotHeld)
		err = s.Seats().ReleaseSeat(ctx, first.ID, first.ClaimToken, swept)
		require.ErrorIs(t, err, store.ErrSeatNotHeld)

		got, err := s.Seats().GetSeat(ctx, second.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SeatHeld, got.Status)
		require.Equal(t, "b@example.com", got.Email)
		require.Empty(t, got.InviteID)
		require.Equal(t, second.ClaimToken, got.ClaimToken)

		// The rightful holder still settles its seat.
		require.NoError(t, s.Seats().ConvertSeatToUsed(ctx, second.ID, second.ClaimToken, 2, "inv-b", swept))
		require.ErrorIs(t, s.Seats().ReleaseSeat(ctx, second.ID, first.ClaimToken, swept), store.ErrSeatNotHeld)
		require.NoError(t, s.Seats().ReleaseSeat(ctx, second.ID, second.ClaimToken, swept))
	})

	t.Run("expired holds are released, used seats are kept", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 3)

		held, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "a@example.com", t0)
		require.NoError(t, err)
		used, err := s.Seats().ClaimSeat(ctx, a.ID, team.ID, "b@example.com", t0)
		require.NoError(t, err)
		require.NoError(t, s.Seats().ConvertSeatToUsed(ctx, used.ID, used.ClaimToken, 1, "inv-1", t0))

		n, err := s.Seats().ReleaseExpiredSeats(ctx, t0.Add(cfg.SeatHoldTTL()/2))
		require.NoError(t, err)
		require.Zero(t, n)

		n, err = s.Seats().ReleaseExpiredSeats(ctx, t0.Add(cfg.SeatHoldTTL()+time.Second))
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		got, err := s.Seats().GetSeat(ctx, held.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SeatFree, got.Status)

		got, err = s.Seats().GetSeat(ctx, used.ID)
		require.NoError(t, err)
		require.Equal(t, domain.SeatUsed, got.Status)

		_, err = s.Seats().FindActiveSeat(ctx, team.ID, "a@example.com")
		require.ErrorIs(t, err, store.ErrNotFound)
		active, err := s.Seats().FindActiveSeat(ctx, team.ID, "B@example.com")
		require.NoError(t, err)
		require.Equal(t, used.ID, active.ID)
	})

	t.Run("concurrent claims never share a seat", func(t *testing.T) {
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 3)

		const claimers = 10
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			slots = map[int]string{}
			errs  []error
		)
		for i := range claimers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				email := fmt.Sprintf("user%d@example.com", i)
				seat, err := s.Seats().ClaimSeat(context.Background(), a.ID, team.ID, email, t0)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					slots[seat.SlotIndex] = email
				case !errors.Is(err, store.ErrNoSeatAvailable):
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		require.Len(t, slots, 3)
		for slot := 1; slot <= 3; slot++ {
			require.Contains(t, slots, slot)
		}

		free, err := s.Seats().CountFreeSeats(context.Background(), a.ID)
		require.NoError(t, err)
		require.Zero(t, free)
	})

	t.Run("lease hands out the oldest job once", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		first := mustEnqueue(t, s, 0, t0)
		second := mustEnqueue(t, s, 0, t0.Add(time.Second))
		require.Equal(t, cfg.JobMaxAttempts, first.MaxAttempts)
		require.Equal(t, domain.JobPending, first.Status)

		now := t0.Add(2 * time.Second)
		leased, err := s.Jobs().LeaseJob(ctx, "worker-a", now)
		require.NoError(t, err)
		require.Equal(t, first.ID, leased.ID)
		require.Equal(t, domain.JobRunning, leased.Status)
		require.Equal(t, "worker-a", leased.LeaseOwner)
		require.NotEmpty(t, leased.LeaseToken)
		require.NotNil(t, leased.VisibleUntil)
		require.Equal(t, now.Add(cfg.JobVisibilityTimeout()), *leased.VisibleUntil)

		next, err := s.Jobs().LeaseJob(ctx, "worker-b", now)
		require.NoError(t, err)
		require.Equal(t, second.ID, next.ID)

		_, err = s.Jobs().LeaseJob(ctx, "worker-c", now)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("complete and heartbeat require the current lease", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		mustEnqueue(t, s, 0, t0)

		leased, err := s.Jobs().LeaseJob(ctx, "worker-a", t0)
		require.NoError(t, err)

		_, err = s.Jobs().HeartbeatJob(ctx, leased.ID, "not-the-token", t0)
		require.ErrorIs(t, err, store.ErrLeaseLost)

		later := t0.Add(time.Minute)
		until, err := s.Jobs().HeartbeatJob(ctx, leased.ID, leased.LeaseToken, later)
		require.NoError(t, err)
		require.Equal(t, later.Add(cfg.JobVisibilityTimeout()), until)

		done, err := s.Jobs().CompleteJob(ctx, leased.ID, leased.LeaseToken, domain.JobOutcome{SuccessCount: 1}, later)
		require.NoError(t, err)
		require.Equal(t, domain.JobSucceeded, done.Status)
		require.Equal(t, 1, done.Attempts)
		require.Equal(t, 1, done.SuccessCount)
		require.NotNil(t, done.FinishedAt)
		require.Empty(t, done.LeaseToken)
		require.Nil(t, done.VisibleUntil)

		_, err = s.Jobs().CompleteJob(ctx, leased.ID, leased.LeaseToken, domain.JobOutcome{}, later)
		require.ErrorIs(t, err, store.ErrLeaseLost)
		_, err = s.Jobs().HeartbeatJob(ctx, leased.ID, leased.LeaseToken, later)
		require.ErrorIs(t, err, store.ErrLeaseLost)
	})

	t.Run("expired lease is taken over by another worker", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		job := mustEnqueue(t, s, 0, t0)

		a, err := s.Jobs().LeaseJob(ctx, "worker-a", t0)
		require.NoError(t, err)

		_, err = s.Jobs().LeaseJob(ctx, "worker-b", t0.Add(cfg.JobVisibilityTimeout()/2))
		require.ErrorIs(t, err, store.ErrNotFound)

		expired := t0.Add(cfg.JobVisibilityTimeout() + time.Second)
		b, err := s.Jobs().LeaseJob(ctx, "worker-b", expired)
		require.NoError(t, err)
		require.Equal(t, job.ID, b.ID)
		require.Equal(t, "worker-b", b.LeaseOwner)
		require.NotEqual(t, a.LeaseToken, b.LeaseToken)
		require.Zero(t, b.Attempts)

		_, err = s.Jobs().HeartbeatJob(ctx, a.ID, a.LeaseToken, expired)
		require.ErrorIs(t, err, store.ErrLeaseLost)
		_, err = s.Jobs().CompleteJob(ctx, a.ID, a.LeaseToken, domain.JobOutcome{SuccessCount: 1}, expired)
		require.ErrorIs(t, err, store.ErrLeaseLost)

		done, err := s.Jobs().CompleteJob(ctx, b.ID, b.LeaseToken, domain.JobOutcome{SuccessCount: 1}, expired)
		require.NoError(t, err)
		require.Equal(t, domain.JobSucceeded, done.Status)
		require.Equal(t, 1, done.Attempts)
	})

	t.Run("reclaim puts expired leases back to pending", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		job := mustEnqueue(t, s, 0, t0)

		_, err := s.Jobs().LeaseJob(ctx, "worker-a", t0)
		require.NoError(t, err)

		n, err := s.Jobs().ReclaimExpiredLeases(ctx, t0.Add(cfg.JobVisibilityTimeout()+time.Second))
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		got, err := s.Jobs().GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, domain.JobPending, got.Status)
		require.Empty(t, got.LeaseOwner)
		require.Empty(t, got.LeaseToken)
		require.Zero(t, got.Attempts)
	})

	t.Run("failed passes retry until attempts run out", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		job := mustEnqueue(t, s, 2, t0)

		l1, err := s.Jobs().LeaseJob(ctx, "worker-a", t0)
		require.NoError(t, err)
		after1, err := s.Jobs().CompleteJob(ctx, l1.ID, l1.LeaseToken, domain.JobOutcome{FailedCount: 1, LastError: "boom"}, t0)
		require.NoError(t, err)
		require.Equal(t, domain.JobPending, after1.Status)
		require.Equal(t, 1, after1.Attempts)
		require.Nil(t, after1.FinishedAt)

		l2, err := s.Jobs().LeaseJob(ctx, "worker-a", t0)
		require.NoError(t, err)
		require.Equal(t, job.ID, l2.ID)
		after2, err := s.Jobs().CompleteJob(ctx, l2.ID, l2.LeaseToken, domain.JobOutcome{FailedCount: 1, LastError: "boom"}, t0)
		require.NoError(t, err)
		require.Equal(t, domain.JobSucceeded, after2.Status)
		require.Equal(t, 2, after2.Attempts)
		require.Equal(t, 1, after2.FailedCount)
		require.Equal(t, "boom", after2.LastError)
		require.NotNil(t, after2.FinishedAt)

		_, err = s.Jobs().LeaseJob(ctx, "worker-a", t0)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("crashed passes end failed", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		mustEnqueue(t, s, 2, t0)

		for i := range 2 {
			l, err := s.Jobs().LeaseJob(ctx, "worker-a", t0)
			require.NoError(t, err)
			got, err := s.Jobs().CompleteJob(ctx, l.ID, l.LeaseToken, domain.JobOutcome{Crashed: true, LastError: "panic"}, t0)
			require.NoError(t, err)
			if i == 0 {
				require.Equal(t, domain.JobPending, got.Status)
			} else {
				require.Equal(t, domain.JobFailed, got.Status)
				require.Equal(t, 2, got.Attempts)
			}
		}
	})

	t.Run("concurrent leases are exclusive", func(t *testing.T) {
		s := open(t, cfg, opts)
		const jobs = 5
		for i := range jobs {
			mustEnqueue(t, s, 0, t0.Add(time.Duration(i)*time.Millisecond))
		}

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			leased = map[int64]string{}
			errs   []error
		)
		for i := range 2 * jobs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				owner := fmt.Sprintf("worker-%d", i)
				j, err := s.Jobs().LeaseJob(context.Background(), owner, t0.Add(time.Second))

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					if prev, dup := leased[j.ID]; dup {
						errs = append(errs, fmt.Errorf("job %d leased by %s and %s", j.ID, prev, owner))
					}
					leased[j.ID] = owner
				case !errors.Is(err, store.ErrNotFound):
					errs = append(errs, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		require.Len(t, leased, jobs)
	})

	t.Run("accounts", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)

		expires := t0.Add(time.Hour)
		a, err := s.Accounts().CreateAccount(ctx, domain.Account{
			Name:           "alpha",
			SeatLimit:      2,
			Token:          "secret-token",
			TokenExpiresAt: &expires,
		}, t0)
		require.NoError(t, err)
		require.Equal(t, domain.AccountActive, a.Status)

		got, err := s.Accounts().GetAccount(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "secret-token", got.Token)
		require.Equal(t, expires, *got.TokenExpiresAt)

		seats, err := s.Seats().ListAccountSeats(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, seats, 2)
		require.Equal(t, 1, seats[0].SlotIndex)
		require.Equal(t, 2, seats[1].SlotIndex)

		b, _ := mustAccount(t, s, "beta", 1)

		expired, err := s.Accounts().ListExpiredAccounts(ctx, expires)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, a.ID, expired[0].ID)

		require.NoError(t, s.Accounts().MarkAccountInvalid(ctx, a.ID, domain.InvalidReasonAuth, t0))
		require.NoError(t, s.Accounts().MarkAccountInvalid(ctx, a.ID, domain.InvalidReasonTokenExpired, t0))
		got, err = s.Accounts().GetAccount(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, domain.AccountInvalid, got.Status)
		require.Equal(t, domain.InvalidReasonAuth, got.InvalidReason)
		require.ErrorIs(t, s.Accounts().MarkAccountInvalid(ctx, 9999, domain.InvalidReasonAuth, t0), store.ErrNotFound)

		active, err := s.Accounts().ListActiveAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, b.ID, active[0].ID)

		require.NoError(t, s.Accounts().SetAccountStatus(ctx, a.ID, domain.AccountActive, t0))
		got, err = s.Accounts().GetAccount(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, domain.AccountActive, got.Status)
		require.Empty(t, got.InvalidReason)

		_, err = s.Accounts().CreateAccount(ctx, domain.Account{Name: "zero", SeatLimit: 0, Token: "x"}, t0)
		require.Error(t, err)
	})

	t.Run("deleting an account cascades to seats and teams", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, team := mustAccount(t, s, "alpha", 2)

		require.NoError(t, s.Accounts().DeleteAccount(ctx, a.ID))

		_, err := s.Teams().GetTeam(ctx, team.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		seats, err := s.Seats().ListAccountSeats(ctx, a.ID)
		require.NoError(t, err)
		require.Empty(t, seats)
		require.ErrorIs(t, s.Accounts().DeleteAccount(ctx, a.ID), store.ErrNotFound)
	})

	t.Run("teams", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		a, first := mustAccount(t, s, "alpha", 1)

		second, err := s.Teams().CreateTeam(ctx, domain.Team{AccountID: a.ID, ExternalID: "second", Enabled: true}, t0)
		require.NoError(t, err)
		third, err := s.Teams().CreateTeam(ctx, domain.Team{AccountID: a.ID, ExternalID: "third", Enabled: true, IsDefault: true}, t0)
		require.NoError(t, err)

		_, err = s.Teams().CreateTeam(ctx, domain.Team{AccountID: a.ID, ExternalID: "second", Enabled: true}, t0)
		require.ErrorIs(t, err, store.ErrAlreadyExists)

		teams, err := s.Teams().ListEnabledTeams(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, teams, 3)
		require.Equal(t, third.ID, teams[0].ID)
		require.True(t, teams[0].IsDefault)
		require.Equal(t, first.ID, teams[1].ID)
		require.False(t, teams[1].IsDefault)
		require.Equal(t, second.ID, teams[2].ID)

		require.NoError(t, s.Teams().SetTeamEnabled(ctx, second.ID, false))
		n, err := s.Teams().DisableAccountTeams(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, int64(2), n)

		teams, err = s.Teams().ListEnabledTeams(ctx, a.ID)
		require.NoError(t, err)
		require.Empty(t, teams)
	})

	t.Run("invite requests", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)
		invites := s.InviteRequests()

		ir, err := invites.CreateInviteRequest(ctx, domain.InviteRequest{
			AccountID: 1, TeamID: 10, Email: " Ann@Example.com ", Code: "promo",
		}, t0)
		require.NoError(t, err)
		require.Equal(t, domain.InvitePending, ir.Status)
		require.Equal(t, "ann@example.com", ir.Email)

		require.NoError(t, invites.RecordInviteAttempt(ctx, ir.ID, "http_429", "slow down", t0))
		require.NoError(t, invites.MarkInviteSent(ctx, ir.ID, "inv-1", t0.Add(time.Second)))

		got, err := invites.GetInviteRequest(ctx, ir.ID)
		require.NoError(t, err)
		require.Equal(t, domain.InviteSent, got.Status)
		require.Equal(t, "inv-1", got.InviteID)
		require.Equal(t, 2, got.AttemptCount)
		require.Empty(t, got.ErrorCode)
		require.Equal(t, t0.Add(time.Second), *got.LastAttemptAt)

		sent, err := invites.ListSentInvites(ctx, 10)
		require.NoError(t, err)
		require.Len(t, sent, 1)

		require.NoError(t, invites.MarkInviteAccepted(ctx, ir.ID, "member-1", t0))
		latest, err := invites.LatestInviteFor(ctx, 10, "ann@example.com")
		require.NoError(t, err)
		require.Equal(t, domain.InviteAccepted, latest.Status)
		require.Equal(t, "member-1", latest.MemberID)

		require.NoError(t, invites.MarkInviteSent(ctx, ir.ID, "inv-2", t0.Add(2*time.Second)))
		got, err = invites.GetInviteRequest(ctx, ir.ID)
		require.NoError(t, err)
		require.Equal(t, domain.InviteAccepted, got.Status)
		require.Equal(t, "inv-2", got.InviteID)
		require.Equal(t, 3, got.AttemptCount)

		stale, err := invites.CreateInviteRequest(ctx, domain.InviteRequest{AccountID: 1, TeamID: 10, Email: "bob@example.com"}, t0)
		require.NoError(t, err)
		fresh, err := invites.CreateInviteRequest(ctx, domain.InviteRequest{AccountID: 1, TeamID: 10, Email: "cat@example.com"}, t0.Add(time.Minute))
		require.NoError(t, err)

		n, err := invites.AbandonPendingInvites(ctx, t0.Add(30*time.Second), t0.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		got, err = invites.GetInviteRequest(ctx, stale.ID)
		require.NoError(t, err)
		require.Equal(t, domain.InviteFailed, got.Status)
		require.Equal(t, AbandonedCode, got.ErrorCode)

		got, err = invites.GetInviteRequest(ctx, fresh.ID)
		require.NoError(t, err)
		require.Equal(t, domain.InvitePending, got.Status)

		require.NoError(t, invites.MarkInviteCancelled(ctx, fresh.ID, t0))
		require.ErrorIs(t, invites.MarkInviteFailed(ctx, 9999, "x", "y", t0), store.ErrNotFound)
	})

	t.Run("transactions roll back on error", func(t *testing.T) {
		ctx := context.Background()
		s := open(t, cfg, opts)

		err := s.WithTx(ctx, func(tx store.Store) error {
			_, err := tx.Accounts().CreateAccount(ctx, domain.Account{Name: "gone", SeatLimit: 1, Token: "x"}, t0)
			require.NoError(t, err)
			return errors.New("abort")
		})
		require.EqualError(t, err, "abort")

		accounts, err := s.Accounts().ListAccounts(ctx)
		require.NoError(t, err)
		require.Empty(t, accounts)

		err = s.WithTx(ctx, func(tx store.Store) error {
			_, err := tx.Accounts().CreateAccount(ctx, domain.Account{Name: "kept", SeatLimit: 1, Token: "x"}, t0)
			return err
		})
		require.NoError(t, err)

		accounts, err = s.Accounts().ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 1)
	})
}
