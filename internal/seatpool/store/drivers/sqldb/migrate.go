package sqldb

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/aussiebroadwan/seatpool/internal/seatpool/store/drivers/sqldb/migrations"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations applies any pending migrations from the schema embedded for
// the store's dialect.
func (s *Store) ApplyMigrations() error {
	instance, err := s.migrator()
	if err != nil {
		return err
	}

	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateDown rolls back every migration. Used by the migrate command.
func (s *Store) MigrateDown() error {
	instance, err := s.migrator()
	if err != nil {
		return err
	}

	err = instance.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func (s *Store) MigrationVersion() (uint, bool, error) {
	instance, err := s.migrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := instance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) migrator() (*migrate.Migrate, error) {
	var (
		driver database.Driver
		files  fs.FS
		dir    string
		err    error
	)
	switch s.dialect {
	case DialectSQLite:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
		files, dir = migrations.SQLite, "sqlite"
	case DialectPostgres:
		driver, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
		files, dir = migrations.Postgres, "postgres"
	default:
		return nil, fmt.Errorf("sqldb: no migrations for dialect %q", s.dialect)
	}
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(files, dir)
	if err != nil {
		return nil, err
	}

	return migrate.NewWithInstance("iofs", source, string(s.dialect), driver)
}
