package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// schemaMigrator is the part of *migrate.Migrate the ledger uses.
type schemaMigrator interface {
	Up() error
	Version() (version uint, dirty bool, err error)
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "snakeplane_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// Migrate brings the ledger schema up to date and returns its version.
func Migrate(db *sql.DB) (uint, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, err
	}
	return upgrade(m)
}

// ForceVersion marks the ledger schema as clean at version without running
// any migration. It is the way out of a dirty schema once the database has
// been repaired by hand.
func ForceVersion(db *sql.DB, version int) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force ledger schema to version %d: %w", version, err)
	}
	return nil
}

func upgrade(m schemaMigrator) (uint, error) {
	err := m.Up()
	var dirty migrate.ErrDirty
	switch {
	case errors.As(err, &dirty):
		return 0, fmt.Errorf("ledger schema is dirty at version %d after an interrupted migration; "+
			"repair the database, then run `snakeplane migrate --force %d`", dirty.Version, dirty.Version)
	case err != nil && !errors.Is(err, migrate.ErrNoChange):
		return 0, fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger schema version: %w", err)
	}
	return version, nil
}
