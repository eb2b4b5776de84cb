package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/provider/providertest"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store/drivers/sqldb"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var (
	errUnauthorized = &provider.Error{Status: 401, Code: "unauthorized", Message: "token revoked"}
	errUnavailable  = &provider.Error{Status: 503, Code: "unavailable", Message: "try later"}
	errBadRequest   = &provider.Error{Status: 400, Code: "invalid_email", Message: "domain blocked"}
)

var errLedgerDown = errors.New("ledger unavailable")

// failingLedger refuses to record new invite requests.
type failingLedger struct {
	store.Ledger
}

func (l failingLedger) InviteRequests() store.InviteRequests {
	return failingInvites{l.Ledger.InviteRequests()}
}

type failingInvites struct {
	store.InviteRequests
}

func (failingInvites) CreateInviteRequest(context.Context, domain.InviteRequest, time.Time) (domain.InviteRequest, error) {
	return domain.InviteRequest{}, errLedgerDown
}

// clock is a settable time source shared by every service in a fixture.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *sqldb.Store
	gw    *providertest.Gateway
	clock *clock
	cfg   settings.Settings

	orch       *InviteOrchestrator
	reconciler *Reconciler
	accounts   *AccountService
	jobs       *JobService
	runner     *JobRunner
	sweeper    *MaintenanceSweeper
}

func newFixture(t *testing.T, cfg settings.Settings) *fixture {
	t.Helper()
	cfg = cfg.Normalize()

	st, err := sqldb.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "pool.db"), cfg, sqldb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	f := &fixture{
		store: st,
		gw:    providertest.New(),
		clock: &clock{now: t0},
		cfg:   cfg,
	}

	f.orch = NewInviteOrchestrator(st, nil, f.gw, cfg)
	f.orch.Now = f.clock.Now

	f.reconciler = NewReconciler(st, nil, f.gw)
	f.reconciler.Now = f.clock.Now

	f.accounts = NewAccountService(st)
	f.accounts.Now = f.clock.Now

	f.jobs = NewJobService(st)
	f.jobs.Now = f.clock.Now

	f.runner = NewJobRunner(st, nil, f.orch, f.reconciler, cfg, slogx.Discard())
	f.runner.Now = f.clock.Now
	f.runner.HeartbeatInterval = time.Hour

	f.sweeper = NewMaintenanceSweeper(st, nil, f.reconciler, cfg, slogx.Discard())
	f.sweeper.Now = f.clock.Now

	return f
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, settings.Default())
}

// addAccount registers an account with one default team. Its provider token
// is "token-<name>" and its team's external id "team-<name>".
func (f *fixture) addAccount(t *testing.T, name string, seats int) (domain.Account, domain.Team) {
	t.Helper()

	account, teams, err := f.accounts.RegisterAccount(context.Background(), AccountInput{
		Name:      name,
		Token:     "token-" + name,
		SeatLimit: seats,
		Teams:     []TeamInput{{ExternalID: "team-" + name, Name: name}},
	})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	return account, teams[0]
}

func (f *fixture) account(t *testing.T, id int64) domain.Account {
	t.Helper()
	a, err := f.store.Accounts().GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (f *fixture) inviteRequest(t *testing.T, id int64) domain.InviteRequest {
	t.Helper()
	ir, err := f.store.InviteRequests().GetInviteRequest(context.Background(), id)
	require.NoError(t, err)
	return ir
}

func (f *fixture) seatFor(t *testing.T, teamID int64, email string) domain.Seat {
	t.Helper()
	seat, err := f.store.Seats().FindActiveSeat(context.Background(), teamID, email)
	require.NoError(t, err)
	return seat
}

func (f *fixture) freeSeats(t *testing.T, accountID int64) int {
	t.Helper()
	n, err := f.store.Seats().CountFreeSeats(context.Background(), accountID)
	require.NoError(t, err)
	return n
}

func (f *fixture) job(t *testing.T, id int64) domain.Job {
	t.Helper()
	j, err := f.store.Jobs().GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}
