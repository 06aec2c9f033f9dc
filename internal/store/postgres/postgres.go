// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"snakeplane/internal/store"
)

// Store provides PostgreSQL-backed implementations of all repositories.
type Store struct {
	db      *sql.DB
	version uint
}

// Open connects to PostgreSQL without touching the schema.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// New connects to PostgreSQL and runs pending migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	version, err := Migrate(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, version: version}, nil
}

// SchemaVersion returns the ledger schema version New migrated to.
func (s *Store) SchemaVersion() uint {
	return s.version
}

// NewWithDB wraps an open connection pool without running migrations.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}

var _ store.Ledger = (*Store)(nil)
