package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrNoSeatAvailable means a claim found no free seat, or lost every race
	// it was allowed to retry.
	ErrNoSeatAvailable = errors.New("store: no seat available")

	// ErrSeatNotHeld means a held-only transition was attempted on a seat
	// that is free or already used.
	ErrSeatNotHeld = errors.New("store: seat not held")

	// ErrLeaseLost means the job is no longer leased under the caller's lease
	// token: it expired and was reclaimed, or it was already completed.
	ErrLeaseLost = errors.New("store: job lease lost")
)

// Store is the root data access interface. Drivers implement it and expose
// sub-repositories so call sites stay small and testable.
//
// Seats, accounts, teams and jobs form the pool. InviteRequests form the
// ledger, which may be a different physical database: nothing here spans the
// two in one transaction.
type Store interface {
	Accounts() Accounts
	Teams() Teams
	Seats() Seats
	InviteRequests() InviteRequests
	Jobs() Jobs

	ApplyMigrations() error

	// SupportsSkipLocked reports which locking strategy the driver picked for
	// seat claims and job leases.
	SupportsSkipLocked() bool

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Ledger is the part of a Store that holds invite requests.
type Ledger interface {
	InviteRequests() InviteRequests
	Ping(ctx context.Context) error
}

type Accounts interface {
	// CreateAccount inserts the account and one free seat per slot
	// (1..SeatLimit).
	CreateAccount(ctx context.Context, a domain.Account, now time.Time) (domain.Account, error)

	GetAccount(ctx context.Context, id int64) (domain.Account, error)

	// ListActiveAccounts returns active accounts, oldest first, so one account
	// is filled completely before the next is touched.
	ListActiveAccounts(ctx context.Context) ([]domain.Account, error)

	ListAccounts(ctx context.Context) ([]domain.Account, error)

	// MarkAccountInvalid moves an active account to invalid. Invalid is
	// sticky; nothing moves an account back automatically.
	MarkAccountInvalid(ctx context.Context, id int64, reason string, now time.Time) error

	SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus, now time.Time) error

	// ListExpiredAccounts returns active accounts whose token expired at or
	// before now.
	ListExpiredAccounts(ctx context.Context, now time.Time) ([]domain.Account, error)

	// DeleteAccount removes the account; seats and teams cascade.
	DeleteAccount(ctx context.Context, id int64) error
}

type Teams interface {
	// CreateTeam inserts a team. Creating a default team clears the default
	// flag on the account's other teams.
	CreateTeam(ctx context.Context, t domain.Team, now time.Time) (domain.Team, error)

	GetTeam(ctx context.Context, id int64) (domain.Team, error)

	// ListEnabledTeams returns the account's enabled teams, default first,
	// then by id.
	ListEnabledTeams(ctx context.Context, accountID int64) ([]domain.Team, error)

	SetTeamEnabled(ctx context.Context, id int64, enabled bool) error

	DisableAccountTeams(ctx context.Context, accountID int64) (int64, error)
}

type Seats interface {
	// ClaimSeat atomically takes the lowest free slot of the account, marks
	// it held until now+hold TTL and stamps it with team and email. It never
	// waits for a seat: it returns ErrNoSeatAvailable instead. A concurrent
	// seat for the same (team, email) surfaces as ErrAlreadyExists.
	ClaimSeat(ctx context.Context, accountID, teamID int64, email string, now time.Time) (domain.Seat, error)

	// ReleaseSeat frees the seat and clears team, email, invite and member.
	// Releasing a free seat is a no-op. A seat now held under another claim
	// token is left alone and returns ErrSeatNotHeld.
	ReleaseSeat(ctx context.Context, seatID int64, claimToken string, now time.Time) error

	// ConvertSeatToUsed moves a seat held under claimToken to used. Any other
	// starting state returns ErrSeatNotHeld.
	ConvertSeatToUsed(ctx context.Context, seatID int64, claimToken string, inviteRequestID int64, providerInviteID string, now time.Time) error

	AttachInviteRequest(ctx context.Context, seatID, inviteRequestID int64) error

	GetSeat(ctx context.Context, id int64) (domain.Seat, error)

	// FindActiveSeat returns the held or used seat for (team, email).
	FindActiveSeat(ctx context.Context, teamID int64, email string) (domain.Seat, error)

	CountFreeSeats(ctx context.Context, accountID int64) (int, error)

	ListAccountSeats(ctx context.Context, accountID int64) ([]domain.Seat, error)

	UpdateSeatInvite(ctx context.Context, seatID int64, providerInviteID string, now time.Time) error

	SetSeatMember(ctx context.Context, seatID int64, memberID string, now time.Time) error

	// ReleaseExpiredSeats frees every held seat whose hold ended before now.
	ReleaseExpiredSeats(ctx context.Context, now time.Time) (int64, error)

	DeleteAccountSeats(ctx context.Context, accountID int64) (int64, error)
}

type InviteRequests interface {
	// CreateInviteRequest inserts a pending request.
	CreateInviteRequest(ctx context.Context, r domain.InviteRequest, now time.Time) (domain.InviteRequest, error)

	GetInviteRequest(ctx context.Context, id int64) (domain.InviteRequest, error)

	// MarkInviteSent, MarkInviteFailed and RecordInviteAttempt bump
	// attempt_count and last_attempt_at. MarkInviteSent leaves accepted and
	// cancelled requests in their state.
	MarkInviteSent(ctx context.Context, id int64, providerInviteID string, now time.Time) error
	MarkInviteFailed(ctx context.Context, id int64, code, msg string, now time.Time) error
	RecordInviteAttempt(ctx context.Context, id int64, code, msg string, now time.Time) error

	MarkInviteAccepted(ctx context.Context, id int64, memberID string, now time.Time) error
	MarkInviteCancelled(ctx context.Context, id int64, now time.Time) error

	// ListSentInvites returns sent requests of a team, oldest first.
	ListSentInvites(ctx context.Context, teamID int64) ([]domain.InviteRequest, error)

	// LatestInviteFor returns the most recent request for (team, email).
	LatestInviteFor(ctx context.Context, teamID int64, email string) (domain.InviteRequest, error)

	// AbandonPendingInvites fails pending requests created before the cutoff.
	AbandonPendingInvites(ctx context.Context, before, now time.Time) (int64, error)
}

type Jobs interface {
	// EnqueueJob inserts a pending job. MaxAttempts of zero takes the
	// configured default.
	EnqueueJob(ctx context.Context, j domain.Job, now time.Time) (domain.Job, error)

	GetJob(ctx context.Context, id int64) (domain.Job, error)

	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// LeaseJob reclaims expired leases, then hands the oldest pending job to
	// owner with a fresh lease token and visibility deadline. Returns
	// ErrNotFound when there is nothing to do.
	LeaseJob(ctx context.Context, owner string, now time.Time) (domain.Job, error)

	// HeartbeatJob pushes the visibility deadline out again.
	HeartbeatJob(ctx context.Context, id int64, leaseToken string, now time.Time) (time.Time, error)

	// CompleteJob records a finished pass and moves the job per
	// domain.NextJobStatus.
	CompleteJob(ctx context.Context, id int64, leaseToken string, outcome domain.JobOutcome, now time.Time) (domain.Job, error)

	// ReclaimExpiredLeases puts running jobs whose lease ended back to
	// pending without touching attempts.
	ReclaimExpiredLeases(ctx context.Context, now time.Time) (int64, error)
}
