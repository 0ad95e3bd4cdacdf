// Package pg implements the Persistence Contract (spec §4.J) over
// PostgreSQL: executions, playbooks, triggers, webhooks, approvals,
// SLA policies, and audit events. Modeled on the teacher's
// pkg/database/client.go shape (pooled *sql.DB plus embedded migrations
// applied at boot) but hand-written over database/sql instead of the
// teacher's ent ORM, since generating correct ent code requires running
// `go generate` (see SPEC_FULL.md "Dropped teacher dependencies").
package pg

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/cyberguard/soar-engine/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps a pooled Postgres connection and implements every
// repository interface the engine, ingestion pipeline, and HTTP API
// depend on (webhookauth.Lookup, approval.Store, sla.PolicyResolver, and
// the engine-internal ExecutionRepo).
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using cfg, configures the connection pool,
// and applies pending migrations before returning. Mirrors the teacher's
// database.NewClient.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sql.DB without running migrations,
// used by unit tests that inject a sqlmock connection.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable, backing a health
// endpoint the way database.Health does for the teacher.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func runMigrations(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Only close the source driver: m.Close() would also close db, which the
	// caller still owns (mirrors the teacher's comment in database/client.go).
	return sourceDriver.Close()
}
