package seatpool_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/app"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

/*
 * End-to-end helpers: a throwaway postgres container, a fake provider API
 * served over HTTP, and a fully wired application talking to both.
 */

var dbSeq atomic.Int64

// setupPostgres starts postgres and returns a function that creates a fresh
// database and returns its DSN.
func setupPostgres(t *testing.T) func() string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping end-to-end tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "seatpool",
				"POSTGRES_PASSWORD": "seatpool",
				"POSTGRES_DB":       "seatpool",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := func(db string) string {
		return fmt.Sprintf("postgres://seatpool:seatpool@%s:%s/%s?sslmode=disable", host, port.Port(), db)
	}

	admin, err := sql.Open("pgx", dsn("seatpool"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	return func() string {
		name := fmt.Sprintf("e2e_%d", dbSeq.Add(1))
		_, err := admin.ExecContext(ctx, "CREATE DATABASE "+name)
		require.NoError(t, err)
		return dsn(name)
	}
}

// fakeProvider serves the subset of the provider API the gateway uses.
type fakeProvider struct {
	mu      sync.Mutex
	seq     int
	tokens  map[string]string            // team -> accepted bearer token
	invites map[string]map[string]string // team -> email -> invite id
	members map[string]map[string]string // team -> email -> member id
	sends   int
}

func newFakeProvider(t *testing.T) (*fakeProvider, string) {
	t.Helper()
	p := &fakeProvider{
		tokens:  map[string]string{},
		invites: map[string]map[string]string{},
		members: map[string]map[string]string{},
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv.URL
}

func (p *fakeProvider) addTeam(team, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[team] = token
	p.invites[team] = map[string]string{}
	p.members[team] = map[string]string{}
}

// accept turns a pending invite into a member.
func (p *fakeProvider) accept(team, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.invites[team], email)
	p.seq++
	p.members[team][email] = "member-" + strconv.Itoa(p.seq)
}

func (p *fakeProvider) pending(team string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.invites[team])
}

func (p *fakeProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "teams" {
		http.NotFound(w, r)
		return
	}
	team := parts[1]

	p.mu.Lock()
	defer p.mu.Unlock()

	token, ok := p.tokens[team]
	if !ok {
		writeError(w, http.StatusNotFound, "team_not_found")
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+token {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch {
	case r.Method == http.MethodPost && parts[2] == "invites":
		var body struct {
			EmailAddresses []string `json:"email_addresses"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.EmailAddresses) != 1 {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		email := body.EmailAddresses[0]
		id, ok := p.invites[team][email]
		if !ok {
			p.seq++
			id = "invite-" + strconv.Itoa(p.seq)
			p.invites[team][email] = id
		}
		p.sends++
		writeJSON(w, map[string]any{
			"account_invites": []map[string]string{{"id": id, "email_address": email}},
		})

	case r.Method == http.MethodDelete && parts[2] == "invites" && len(parts) == 4:
		for email, id := range p.invites[team] {
			if id == parts[3] {
				delete(p.invites[team], email)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		writeError(w, http.StatusNotFound, "invite_not_found")

	case r.Method == http.MethodDelete && parts[2] == "users" && len(parts) == 4:
		for email, id := range p.members[team] {
			if id == parts[3] {
				delete(p.members[team], email)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		writeError(w, http.StatusNotFound, "member_not_found")

	case r.Method == http.MethodGet && parts[2] == "users":
		items := make([]map[string]string, 0, len(p.members[team]))
		for email, id := range p.members[team] {
			items = append(items, map[string]string{"id": id, "email": email, "role": "standard-user"})
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset > len(items) {
			offset = len(items)
		}
		writeJSON(w, map[string]any{"items": items[offset:], "total": len(items)})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": code}})
}

// startApp builds an application on fresh pool and ledger databases.
func startApp(t *testing.T, newDB func() string, providerURL string) *app.Application {
	t.Helper()
	cfg := app.Config{
		DatabaseDriver:        "postgres",
		DatabaseURL:           newDB(),
		LedgerDatabaseURL:     newDB(),
		ProviderBaseURL:       providerURL,
		ProviderTimeout:       5 * time.Second,
		ProviderRatePerSecond: 1000,
		ProviderBurst:         100,
		WorkerConcurrency:     4,
		WorkerPollInterval:    20 * time.Millisecond,
		ShutdownGracePeriod:   time.Second,
		Settings:              settings.Default(),
	}

	application, err := app.New(context.Background(), cfg, app.WithLogger(slogx.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })
	return application
}

// runWorker runs the worker until the test ends.
func runWorker(t *testing.T, application *app.Application) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.RunWorker(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("worker did not stop")
		}
	})
}
