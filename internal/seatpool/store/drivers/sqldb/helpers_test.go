package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/domain"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/stretchr/testify/require"
)

// t0 is the fixed clock every backend test starts from.
var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type opener func(t *testing.T, cfg settings.Settings, opts Options) *Store

func openSQLite(t *testing.T, cfg settings.Settings, opts Options) *Store {
	t.Helper()

	s, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "pool.db"), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func mustAccount(t *testing.T, s *Store, name string, seats int) (domain.Account, domain.Team) {
	t.Helper()
	ctx := context.Background()

	a, err := s.Accounts().CreateAccount(ctx, domain.Account{
		Name:      name,
		SeatLimit: seats,
		Token:     "token-" + name,
	}, t0)
	require.NoError(t, err)

	team, err := s.Teams().CreateTeam(ctx, domain.Team{
		AccountID:  a.ID,
		ExternalID: "team-" + name,
		Name:       name,
		Enabled:    true,
		IsDefault:  true,
	}, t0)
	require.NoError(t, err)

	return a, team
}

func mustEnqueue(t *testing.T, s *Store, maxAttempts int, at time.Time) domain.Job {
	t.Helper()

	payload, err := domain.EncodeJobSpec(domain.InviteUsers{Emails: []string{"a@example.com"}})
	require.NoError(t, err)

	j, err := s.Jobs().EnqueueJob(context.Background(), domain.Job{
		Type:        domain.JobUsersInvite,
		Payload:     payload,
		Actor:       "test",
		MaxAttempts: maxAttempts,
	}, at)
	require.NoError(t, err)
	return j
}
