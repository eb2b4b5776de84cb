// Package sqldb implements store.Store over database/sql for sqlite
// (modernc.org/sqlite) and postgres (pgx stdlib).
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/settings"
	"github.com/aussiebroadwan/seatpool/internal/seatpool/store"
	"github.com/aussiebroadwan/seatpool/pkg/cryptox"
	"github.com/aussiebroadwan/seatpool/pkg/slogx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every pooled connection. Transactions take the
// write lock up front so two writers never deadlock on a lock upgrade.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

type Options struct {
	// ForceCAS selects the compare-and-set lockers even when the backend
	// supports SKIP LOCKED.
	ForceCAS bool

	// Sealer encrypts account tokens at rest. Nil stores them as given.
	Sealer *cryptox.Sealer

	Logger *slog.Logger
}

type Store struct {
	scope
	db         *sql.DB
	skipLocked bool
	log        *slog.Logger
}

// scope is everything a repository needs. The same repositories run against
// the pool or an open transaction depending on c.
type scope struct {
	c          conn
	dialect    Dialect
	cfg        settings.Settings
	sealer     *cryptox.Sealer
	seatLocker SeatLocker
	jobLocker  JobLocker
}

// Open connects to the named driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string, cfg settings.Settings, opts Options) (*Store, error) {
	switch Dialect(driver) {
	case DialectSQLite:
		return OpenSQLite(ctx, dsn, cfg, opts)
	case DialectPostgres, "pgx":
		return OpenPostgres(ctx, dsn, cfg, opts)
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}
}

// OpenSQLite opens a sqlite database at path. Connection pragmas are added
// unless path already carries a query string.
func OpenSQLite(ctx context.Context, path string, cfg settings.Settings, opts Options) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Every connection to :memory: is its own database.
	if strings.HasPrefix(path, ":memory:") || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	s, err := New(ctx, db, DialectSQLite, cfg, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func OpenPostgres(ctx context.Context, dsn string, cfg settings.Settings, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	s, err := New(ctx, db, DialectPostgres, cfg, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. It checks the backend once and fixes the
// locking strategy for the lifetime of the Store.
func New(ctx context.Context, db *sql.DB, dialect Dialect, cfg settings.Settings, opts Options) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqldb: ping: %w", err)
	}

	skipLocked, err := dialect.detectSkipLocked(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("sqldb: detect locking support: %w", err)
	}
	if opts.ForceCAS {
		skipLocked = false
	}

	log := opts.Logger
	if log == nil {
		log = slogx.Discard()
	}

	cfg = cfg.Normalize()
	s := &Store{
		scope: scope{
			c:       db,
			dialect: dialect,
			cfg:     cfg,
			sealer:  opts.Sealer,
		},
		db:         db,
		skipLocked: skipLocked,
		log:        log,
	}
	if skipLocked {
		s.seatLocker = skipLockedSeatLocker{}
		s.jobLocker = skipLockedJobLocker{}
	} else {
		s.seatLocker = casSeatLocker{attempts: cfg.SeatClaimRetryAttempts}
		s.jobLocker = casJobLocker{attempts: cfg.JobLeaseRetryAttempts}
	}

	log.Debug("store opened",
		slog.String("dialect", string(dialect)),
		slog.Bool("skip_locked", skipLocked),
	)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) SupportsSkipLocked() bool { return s.skipLocked }

func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the underlying pool for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx executes fn within a transaction, automatically handling
// commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	txScope := s.scope
	txScope.c = tx
	if err := fn(&txStore{scope: txScope, parent: s}); err != nil {
		return err
	}
	return tx.Commit()
}

func (sc scope) Accounts() store.Accounts             { return &accountsRepo{scope: sc} }
func (sc scope) Teams() store.Teams                   { return &teamsRepo{scope: sc} }
func (sc scope) Seats() store.Seats                   { return &seatsRepo{scope: sc} }
func (sc scope) InviteRequests() store.InviteRequests { return &invitesRepo{scope: sc} }
func (sc scope) Jobs() store.Jobs                     { return &jobsRepo{scope: sc} }

func (sc scope) rebind(query string) string { return sc.dialect.rebind(query) }

// txStore is a Store bound to an open transaction.
type txStore struct {
	scope
	parent *Store
}

func (t *txStore) ApplyMigrations() error {
	return errors.New("sqldb: migrations cannot run inside a transaction")
}

func (t *txStore) SupportsSkipLocked() bool { return t.parent.skipLocked }

// WithTx on a transaction runs fn in the same transaction.
func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

func (t *txStore) Close() error { return nil } // the outer Store owns the pool

// Ping is a no-op; the connection is held by the transaction.
func (t *txStore) Ping(ctx context.Context) error { return nil }

// conn is satisfied by *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction unless c already is one.
func inTx(ctx context.Context, c conn, fn func(q conn) error) error {
	db, ok := c.(*sql.DB)
	if !ok {
		return fn(c)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", store.ErrAlreadyExists, err)
	}
	return err
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func mapOptionalTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func mapNullTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapNullInt(n sql.NullInt64) int64 {
	if n.Valid {
		return n.Int64
	}
	return 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
